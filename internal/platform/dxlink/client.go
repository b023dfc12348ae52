// Package dxlink implements the dxLink market-data streaming protocol: the
// handshake state machine, the compact feed decoder, and channel/keepalive
// management for one persistent connection.
package dxlink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/optionloop/tastybot/internal/domain"
)

// EventSink receives decoded market events in wire order.
type EventSink interface {
	Publish(ev domain.MarketEvent)
}

// Client drives the dxLink protocol over one Transport at a time. The client
// survives transport loss: subscriptions are retained and replayed on the
// next session, and the supervising feed worker decides when to redial.
type Client struct {
	sink   EventSink
	logger *slog.Logger

	mu             sync.Mutex
	state          ConnState
	transport      Transport
	token          string
	channelCounter int
	feedChannel    int

	// Subscriptions retained across reconnects.
	equities []string
	options  []string
}

// NewClient creates a Client publishing decoded events to sink.
func NewClient(sink EventSink, logger *slog.Logger) *Client {
	return &Client{
		sink:   sink,
		logger: logger.With(slog.String("component", "dxlink")),
		state:  StateDisconnected,
	}
}

// State returns the current handshake state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether a transport is attached.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport != nil
}

// FeedChannel returns the channel id allocated by the server for feed data.
func (c *Client) FeedChannel() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.feedChannel
}

// RunSession drives one connection session: it sends SETUP, processes frames
// until the transport fails or ctx is cancelled, and leaves the client
// Disconnected on return. The caller owns reconnect policy.
func (c *Client) RunSession(ctx context.Context, tr Transport, token string) error {
	c.mu.Lock()
	c.transport = tr
	c.token = token
	c.state = StateConnecting
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.state = StateDisconnected
		c.transport = nil
		c.mu.Unlock()
	}()

	// Unblock the read loop when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = tr.Close()
		case <-done:
		}
	}()

	c.mu.Lock()
	err := c.send(setupFrame{
		Type:                   "SETUP",
		Channel:                0,
		Version:                protocolVersion,
		KeepaliveTimeout:       keepaliveTimeoutSec,
		AcceptKeepaliveTimeout: keepaliveTimeoutSec,
	})
	if err == nil {
		c.state = StateAuthPending
	}
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("dxlink: send setup: %w", err)
	}

	for {
		data, err := tr.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("dxlink: read: %v: %w", err, domain.ErrWSDisconnect)
		}
		c.handleFrame(data)
	}
}

// SubscribeEquities adds equity symbols to the Quote subscription. If the
// feed is ready the addition is sent immediately; otherwise it is flushed
// when FEED_CONFIG arrives.
func (c *Client) SubscribeEquities(symbols []string) {
	c.addSubscriptions(&c.equities, symbols, equityItems)
}

// SubscribeOptions adds option streamer symbols to the Quote and Greeks
// subscriptions, with the same deferred-flush behavior as SubscribeEquities.
func (c *Client) SubscribeOptions(symbols []string) {
	c.addSubscriptions(&c.options, symbols, optionItems)
}

func (c *Client) addSubscriptions(list *[]string, symbols []string, items func([]string) []SubscriptionItem) {
	c.mu.Lock()
	defer c.mu.Unlock()

	known := make(map[string]struct{}, len(*list))
	for _, s := range *list {
		known[s] = struct{}{}
	}
	var added []string
	for _, s := range symbols {
		if _, ok := known[s]; ok {
			continue
		}
		known[s] = struct{}{}
		*list = append(*list, s)
		added = append(added, s)
	}

	if c.state == StateFeedReady && len(added) > 0 {
		c.sendSubscription(items(added))
	}
}

// SendKeepalive sends a KEEPALIVE frame on channel 0.
func (c *Client) SendKeepalive() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.transport == nil {
		return domain.ErrNotConnected
	}
	return c.send(keepaliveFrame{Type: "KEEPALIVE", Channel: 0})
}

// handleFrame advances the handshake state machine for one server frame and
// publishes any decoded feed events.
func (c *Client) handleFrame(raw []byte) {
	var f inboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		c.logger.Warn("invalid frame dropped", slog.String("error", err.Error()))
		return
	}

	var events []domain.MarketEvent

	c.mu.Lock()
	switch f.Type {
	case "AUTH_STATE":
		switch f.State {
		case "UNAUTHORIZED":
			if err := c.send(authFrame{Type: "AUTH", Channel: 0, Token: c.token}); err != nil {
				c.logger.Warn("auth send failed", slog.String("error", err.Error()))
			}
		case "AUTHORIZED":
			c.state = StateAuthorized
			c.logger.Info("stream authorized")
			req := channelRequestFrame{
				Type:       "CHANNEL_REQUEST",
				Channel:    c.nextChannel(),
				Service:    "FEED",
				Parameters: channelParameters{Contract: "AUTO"},
			}
			if err := c.send(req); err != nil {
				c.logger.Warn("channel request send failed", slog.String("error", err.Error()))
			}
		}

	case "CHANNEL_OPENED":
		c.feedChannel = f.Channel
		c.state = StateChannelOpen
		c.logger.Info("feed channel opened", slog.Int("channel", c.feedChannel))
		setup := feedSetupFrame{
			Type:                    "FEED_SETUP",
			Channel:                 c.feedChannel,
			AcceptAggregationPeriod: feedAggregationPeriod,
			AcceptDataFormat:        "COMPACT",
			AcceptEventFields:       acceptEventFields(),
		}
		if err := c.send(setup); err != nil {
			c.logger.Warn("feed setup send failed", slog.String("error", err.Error()))
		}

	case "FEED_CONFIG":
		c.state = StateFeedReady
		c.logger.Info("feed ready", slog.Int("channel", c.feedChannel))
		// Replay retained subscriptions, incremental adds only.
		if len(c.equities) > 0 {
			c.sendSubscription(equityItems(c.equities))
		}
		if len(c.options) > 0 {
			c.sendSubscription(optionItems(c.options))
		}

	case "FEED_DATA":
		if f.Channel == c.feedChannel {
			events = DecodeFeedData(f.Data, time.Now(), c.logger)
		}

	case "KEEPALIVE":
		// Server keepalive; nothing to do.

	default:
		c.logger.Debug("unhandled frame", slog.String("type", f.Type))
	}
	c.mu.Unlock()

	for _, ev := range events {
		c.sink.Publish(ev)
	}
}

// nextChannel allocates the next logical channel id. Caller must hold c.mu.
func (c *Client) nextChannel() int {
	c.channelCounter++
	return c.channelCounter
}

// sendSubscription sends an incremental FEED_SUBSCRIPTION on the feed
// channel. Caller must hold c.mu.
func (c *Client) sendSubscription(items []SubscriptionItem) {
	frame := feedSubscriptionFrame{
		Type:    "FEED_SUBSCRIPTION",
		Channel: c.feedChannel,
		Reset:   false,
		Add:     items,
	}
	if err := c.send(frame); err != nil {
		c.logger.Warn("subscription send failed", slog.String("error", err.Error()))
	}
}

// send marshals and writes a frame. Caller must hold c.mu.
func (c *Client) send(v any) error {
	if c.transport == nil {
		return domain.ErrNotConnected
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return c.transport.WriteMessage(data)
}

func equityItems(symbols []string) []SubscriptionItem {
	items := make([]SubscriptionItem, 0, len(symbols))
	for _, s := range symbols {
		items = append(items, SubscriptionItem{Type: "Quote", Symbol: s})
	}
	return items
}

func optionItems(symbols []string) []SubscriptionItem {
	items := make([]SubscriptionItem, 0, 2*len(symbols))
	for _, s := range symbols {
		items = append(items, SubscriptionItem{Type: "Quote", Symbol: s})
	}
	for _, s := range symbols {
		items = append(items, SubscriptionItem{Type: "Greeks", Symbol: s})
	}
	return items
}

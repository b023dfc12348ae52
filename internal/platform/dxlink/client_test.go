package dxlink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optionloop/tastybot/internal/domain"
)

// fakeTransport scripts server frames through a channel and records every
// client write.
type fakeTransport struct {
	in chan []byte

	mu     sync.Mutex
	writes [][]byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case msg := <-f.in:
		return msg, nil
	case <-f.closed:
		return nil, errors.New("transport closed")
	}
}

func (f *fakeTransport) WriteMessage(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.writes = append(f.writes, cp)
	return nil
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) sent() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.writes))
	for _, w := range f.writes {
		var m map[string]any
		if err := json.Unmarshal(w, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

type captureSink struct {
	mu     sync.Mutex
	events []domain.MarketEvent
}

func (s *captureSink) Publish(ev domain.MarketEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *captureSink) all() []domain.MarketEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.MarketEvent(nil), s.events...)
}

func frame(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}

func runSession(t *testing.T, c *Client, tr *fakeTransport, token string) chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		done <- c.RunSession(context.Background(), tr, token)
	}()
	return done
}

func waitSession(t *testing.T, done chan error) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
	}
}

func TestHandshakeSequence(t *testing.T) {
	sink := &captureSink{}
	c := NewClient(sink, testLogger())
	c.SubscribeEquities([]string{"SPX"})

	tr := newFakeTransport()
	done := runSession(t, c, tr, "stream-token")

	tr.in <- frame(map[string]any{"type": "AUTH_STATE", "state": "UNAUTHORIZED"})
	tr.in <- frame(map[string]any{"type": "AUTH_STATE", "state": "AUTHORIZED"})
	tr.in <- frame(map[string]any{"type": "CHANNEL_OPENED", "channel": 3})
	tr.in <- frame(map[string]any{"type": "FEED_CONFIG", "channel": 3})
	tr.in <- frame(map[string]any{
		"type":    "FEED_DATA",
		"channel": 3,
		"data":    []any{"Quote", "SPX", 5999.5, 6000.5, 10, 12},
	})

	// Let the read loop drain before tearing down.
	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, time.Second, 5*time.Millisecond)
	tr.Close()
	waitSession(t, done)

	sent := tr.sent()
	require.Len(t, sent, 5)

	assert.Equal(t, "SETUP", sent[0]["type"])
	assert.Equal(t, float64(0), sent[0]["channel"])

	assert.Equal(t, "AUTH", sent[1]["type"])
	assert.Equal(t, "stream-token", sent[1]["token"])

	assert.Equal(t, "CHANNEL_REQUEST", sent[2]["type"])
	assert.Equal(t, "FEED", sent[2]["service"])

	assert.Equal(t, "FEED_SETUP", sent[3]["type"])
	assert.Equal(t, float64(3), sent[3]["channel"])
	assert.Equal(t, "COMPACT", sent[3]["acceptDataFormat"])

	assert.Equal(t, "FEED_SUBSCRIPTION", sent[4]["type"])
	assert.Equal(t, float64(3), sent[4]["channel"])
	assert.Equal(t, false, sent[4]["reset"])

	assert.Equal(t, 3, c.FeedChannel())
	assert.Equal(t, StateDisconnected, c.State())

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, "SPX", events[0].EventSymbol())
}

func TestReconnectReplaysSubscriptions(t *testing.T) {
	sink := &captureSink{}
	c := NewClient(sink, testLogger())
	c.SubscribeEquities([]string{"SPX"})
	c.SubscribeOptions([]string{".SPXW240105C5900"})

	handshake := func(tr *fakeTransport) {
		tr.in <- frame(map[string]any{"type": "AUTH_STATE", "state": "UNAUTHORIZED"})
		tr.in <- frame(map[string]any{"type": "AUTH_STATE", "state": "AUTHORIZED"})
		tr.in <- frame(map[string]any{"type": "CHANNEL_OPENED", "channel": 1})
		tr.in <- frame(map[string]any{"type": "FEED_CONFIG", "channel": 1})
	}

	subscriptionFrames := func(tr *fakeTransport) []map[string]any {
		var subs []map[string]any
		for _, m := range tr.sent() {
			if m["type"] == "FEED_SUBSCRIPTION" {
				subs = append(subs, m)
			}
		}
		return subs
	}

	// First session.
	tr1 := newFakeTransport()
	done := runSession(t, c, tr1, "token-1")
	handshake(tr1)
	require.Eventually(t, func() bool { return c.State() == StateFeedReady }, time.Second, 5*time.Millisecond)
	tr1.Close()
	waitSession(t, done)

	// Second session after transport loss: both retained subscription lists
	// replayed as incremental adds.
	tr2 := newFakeTransport()
	done = runSession(t, c, tr2, "token-2")
	handshake(tr2)
	require.Eventually(t, func() bool { return c.State() == StateFeedReady }, time.Second, 5*time.Millisecond)
	tr2.Close()
	waitSession(t, done)

	subs := subscriptionFrames(tr2)
	require.Len(t, subs, 2, "equity and option lists replayed once each")
	for _, sub := range subs {
		assert.Equal(t, false, sub["reset"])
		assert.NotEmpty(t, sub["add"])
	}
}

func TestSubscribeWhileFeedReadySendsIncrementalAdd(t *testing.T) {
	sink := &captureSink{}
	c := NewClient(sink, testLogger())

	tr := newFakeTransport()
	done := runSession(t, c, tr, "token")

	tr.in <- frame(map[string]any{"type": "AUTH_STATE", "state": "AUTHORIZED"})
	tr.in <- frame(map[string]any{"type": "CHANNEL_OPENED", "channel": 5})
	tr.in <- frame(map[string]any{"type": "FEED_CONFIG", "channel": 5})
	require.Eventually(t, func() bool { return c.State() == StateFeedReady }, time.Second, 5*time.Millisecond)

	c.SubscribeOptions([]string{".SPXW240105P5800"})
	// Duplicate adds are deduplicated and not resent.
	c.SubscribeOptions([]string{".SPXW240105P5800"})

	tr.Close()
	waitSession(t, done)

	var subs []map[string]any
	for _, m := range tr.sent() {
		if m["type"] == "FEED_SUBSCRIPTION" {
			subs = append(subs, m)
		}
	}
	require.Len(t, subs, 1)
	assert.Equal(t, float64(5), subs[0]["channel"])

	add, ok := subs[0]["add"].([]any)
	require.True(t, ok)
	// One Quote item and one Greeks item for the single option symbol.
	assert.Len(t, add, 2)
}

func TestTransportLossReportsDisconnect(t *testing.T) {
	c := NewClient(&captureSink{}, testLogger())
	tr := newFakeTransport()
	done := runSession(t, c, tr, "token")

	tr.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, domain.ErrWSDisconnect)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
	}
}

func TestSendKeepaliveRequiresTransport(t *testing.T) {
	c := NewClient(&captureSink{}, testLogger())
	err := c.SendKeepalive()
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestFeedDataOnWrongChannelIgnored(t *testing.T) {
	sink := &captureSink{}
	c := NewClient(sink, testLogger())

	tr := newFakeTransport()
	done := runSession(t, c, tr, "token")

	tr.in <- frame(map[string]any{"type": "AUTH_STATE", "state": "AUTHORIZED"})
	tr.in <- frame(map[string]any{"type": "CHANNEL_OPENED", "channel": 3})
	tr.in <- frame(map[string]any{"type": "FEED_CONFIG", "channel": 3})
	require.Eventually(t, func() bool { return c.State() == StateFeedReady }, time.Second, 5*time.Millisecond)

	tr.in <- frame(map[string]any{
		"type":    "FEED_DATA",
		"channel": 9,
		"data":    []any{"Quote", "SPX", 5999.5, 6000.5, 10, 12},
	})
	tr.in <- frame(map[string]any{"type": "KEEPALIVE", "channel": 0})
	require.Eventually(t, func() bool { return len(tr.in) == 0 }, time.Second, 5*time.Millisecond)

	tr.Close()
	waitSession(t, done)

	assert.Empty(t, sink.all())
}

package feed

import (
	"context"
	"log/slog"
	"time"
)

// DefaultHeartbeatInterval matches the venue's documented keepalive cadence.
const DefaultHeartbeatInterval = 30 * time.Second

// Keepaliver is a connection that accepts protocol-level keepalive frames.
type Keepaliver interface {
	Connected() bool
	SendKeepalive() error
}

// Heartbeater is a connection that accepts application-level heartbeats.
type Heartbeater interface {
	Connected() bool
	SendHeartbeat() error
}

// HeartbeatScheduler periodically keeps both streams alive: a KEEPALIVE frame
// on the market-data connection and a session heartbeat on the account
// connection. Send failures are logged, never fatal; the account connection
// drops itself on failure so its supervisor reconnects.
type HeartbeatScheduler struct {
	market   Keepaliver
	account  Heartbeater
	interval time.Duration
	logger   *slog.Logger
}

// NewHeartbeatScheduler creates the scheduler. Either connection may be nil.
func NewHeartbeatScheduler(market Keepaliver, account Heartbeater, interval time.Duration, logger *slog.Logger) *HeartbeatScheduler {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &HeartbeatScheduler{
		market:   market,
		account:  account,
		interval: interval,
		logger:   logger.With(slog.String("component", "heartbeat")),
	}
}

// Run fires heartbeats on the fixed period until ctx is cancelled.
func (h *HeartbeatScheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.beat()
		}
	}
}

func (h *HeartbeatScheduler) beat() {
	if h.market != nil && h.market.Connected() {
		if err := h.market.SendKeepalive(); err != nil {
			h.logger.Warn("market keepalive failed", slog.String("error", err.Error()))
		}
	}
	if h.account != nil && h.account.Connected() {
		if err := h.account.SendHeartbeat(); err != nil {
			h.logger.Warn("account heartbeat failed, connection dropped",
				slog.String("error", err.Error()),
			)
		}
	}
}

package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/optionloop/tastybot/internal/platform/dxlink"
)

const (
	// reconnectDelay is the fixed wait after a transport loss.
	reconnectDelay = 10 * time.Second

	// tokenRetryDelay is the longer wait when a fresh stream token cannot be
	// obtained; there is no point dialing without one.
	tokenRetryDelay = 60 * time.Second
)

// TokenSource supplies a fresh stream token and endpoint URL for each
// connection attempt.
type TokenSource interface {
	FetchStreamToken(ctx context.Context) (token, url string, err error)
}

// MarketDataFeed supervises the dxLink market-data connection: fetch a stream
// token, dial, run the session, and reconnect forever. Connection loss is
// never fatal.
type MarketDataFeed struct {
	tokens TokenSource
	client *dxlink.Client
	logger *slog.Logger

	dial func(ctx context.Context, url string) (dxlink.Transport, error)
}

// NewMarketDataFeed creates the supervised market-data worker around the
// given dxLink client.
func NewMarketDataFeed(tokens TokenSource, client *dxlink.Client, logger *slog.Logger) *MarketDataFeed {
	return &MarketDataFeed{
		tokens: tokens,
		client: client,
		logger: logger.With(slog.String("component", "market_data_feed")),
		dial:   dxlink.Dial,
	}
}

// Client returns the underlying dxLink client for subscription management and
// keepalives.
func (f *MarketDataFeed) Client() *dxlink.Client { return f.client }

// Run connects and reconnects until ctx is cancelled.
func (f *MarketDataFeed) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		token, url, err := f.tokens.FetchStreamToken(ctx)
		if err != nil {
			f.logger.Warn("stream token fetch failed, retrying",
				slog.Duration("retry_in", tokenRetryDelay),
				slog.String("error", err.Error()),
			)
			if err := sleep(ctx, tokenRetryDelay); err != nil {
				return err
			}
			continue
		}

		tr, err := f.dial(ctx, url)
		if err != nil {
			f.logger.Warn("market data dial failed, retrying",
				slog.Duration("retry_in", reconnectDelay),
				slog.String("error", err.Error()),
			)
			if err := sleep(ctx, reconnectDelay); err != nil {
				return err
			}
			continue
		}

		f.logger.Info("market data stream connected", slog.String("url", url))
		err = f.client.RunSession(ctx, tr, token)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("market data stream closed, reconnecting",
			slog.Duration("retry_in", reconnectDelay),
			slog.String("error", err.Error()),
		)
		if err := sleep(ctx, reconnectDelay); err != nil {
			return err
		}
	}
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

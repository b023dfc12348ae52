package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// shutdownCancelTimeout bounds the best-effort venue cancels on shutdown.
const shutdownCancelTimeout = 10 * time.Second

// TradeMode runs the full stack: both streams, heartbeats, and the order
// coordinator. Open option positions are put on the feed at startup so their
// quotes and Greeks are tracked from the first tick.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.Int("accounts", len(deps.Accounts)),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return deps.MarketFeed.Run(ctx) })
	g.Go(func() error { return deps.AccountFeed.Run(ctx) })
	g.Go(func() error { return deps.Heartbeat.Run(ctx) })
	g.Go(func() error {
		return deps.Coordinator.Run(ctx, a.cfg.Coordinator.TickInterval.Duration)
	})

	a.subscribePositions(ctx, deps)

	err := g.Wait()

	// The run context is gone; cancel working orders on a fresh deadline so
	// no limit order outlives the process.
	cancelCtx, cancel := context.WithTimeout(context.Background(), shutdownCancelTimeout)
	defer cancel()
	deps.Coordinator.CancelActive(cancelCtx)

	return err
}

// MonitorMode runs the market-data stream and heartbeats only. No account
// stream is opened and no orders are placed.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return deps.MarketFeed.Run(ctx) })
	g.Go(func() error { return deps.Heartbeat.Run(ctx) })

	return g.Wait()
}

// subscribePositions looks up each account's open option positions, resolves
// their feed symbols, and adds them to the market-data subscription. Lookup
// failures are logged and skipped; the streams run regardless.
func (a *App) subscribePositions(ctx context.Context, deps *Dependencies) {
	var streamers []string
	for _, account := range deps.Accounts {
		positions, err := deps.Tasty.Positions(ctx, account)
		if err != nil {
			a.logger.WarnContext(ctx, "position lookup failed",
				slog.String("account", account),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, pos := range positions {
			if pos.InstrumentType != "Equity Option" {
				continue
			}
			streamer, err := deps.Tasty.OptionStreamerSymbol(ctx, pos.Symbol)
			if err != nil {
				a.logger.WarnContext(ctx, "streamer symbol lookup failed",
					slog.String("symbol", pos.Symbol),
					slog.String("error", err.Error()),
				)
				continue
			}
			if deps.Ledger.IsMonitored(streamer) {
				continue
			}
			deps.Ledger.Monitor(pos.Symbol, streamer)
			streamers = append(streamers, streamer)
		}
	}
	if len(streamers) > 0 {
		deps.DxClient.SubscribeOptions(streamers)
		a.logger.InfoContext(ctx, "position symbols subscribed",
			slog.Int("symbols", len(streamers)),
		)
	}
}

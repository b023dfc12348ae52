package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/optionloop/tastybot/internal/cache/redis"
	"github.com/optionloop/tastybot/internal/config"
	"github.com/optionloop/tastybot/internal/coordinator"
	"github.com/optionloop/tastybot/internal/domain"
	"github.com/optionloop/tastybot/internal/feed"
	"github.com/optionloop/tastybot/internal/ledger"
	"github.com/optionloop/tastybot/internal/notify"
	"github.com/optionloop/tastybot/internal/platform/dxlink"
	"github.com/optionloop/tastybot/internal/platform/tastytrade"
	"github.com/optionloop/tastybot/internal/store/postgres"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Tasty    *tastytrade.Client
	Accounts []string

	Ledger     *ledger.Ledger
	Dispatcher *feed.Dispatcher
	DxClient   *dxlink.Client

	MarketFeed  *feed.MarketDataFeed
	AccountFeed *feed.AccountFeed
	Heartbeat   *feed.HeartbeatScheduler

	Chains      *tastytrade.ChainService
	Coordinator *coordinator.Coordinator

	// Optional integrations; nil when disabled in config.
	QuoteCache *redis.QuoteCache
	Journal    *postgres.OrderJournal
	Alerts     *notify.Notifier
}

// Wire constructs all concrete dependencies from the given configuration and
// returns them together with a cleanup function to be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Brokerage REST session ---
	tasty := tastytrade.NewClient(
		cfg.Tastytrade.BaseURL,
		cfg.Tastytrade.Username,
		cfg.Tastytrade.Password,
		logger,
	)
	if err := tasty.Login(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: tastytrade login: %w", err)
	}
	deps.Tasty = tasty

	accounts, err := tasty.AccountNumbers(ctx)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: fetch accounts: %w", err)
	}
	deps.Accounts = accounts

	// --- Ledger and streaming ---
	deps.Ledger = ledger.New(cfg.Stream.MaxHistory)
	deps.Ledger.Monitor(cfg.Stream.ReferenceSymbol, cfg.Stream.ReferenceSymbol)
	for _, sym := range cfg.Stream.Equities {
		deps.Ledger.Monitor(sym, sym)
	}

	deps.Dispatcher = feed.NewDispatcher(deps.Ledger, logger)
	deps.DxClient = dxlink.NewClient(deps.Dispatcher, logger)

	equities := append([]string{cfg.Stream.ReferenceSymbol}, cfg.Stream.Equities...)
	deps.DxClient.SubscribeEquities(equities)

	deps.MarketFeed = feed.NewMarketDataFeed(tasty, deps.DxClient, logger)
	deps.AccountFeed = feed.NewAccountFeed(cfg.Tastytrade.StreamerURL, tasty, accounts, logger)
	deps.Heartbeat = feed.NewHeartbeatScheduler(
		deps.DxClient,
		deps.AccountFeed,
		cfg.Stream.HeartbeatInterval.Duration,
		logger,
	)

	deps.Chains = tastytrade.NewChainService(
		tasty, deps.Ledger, deps.Ledger, deps.DxClient,
		cfg.Stream.ReferenceSymbol, logger,
	)

	// --- Redis quote mirror (optional) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.QuoteCache = redis.NewQuoteCache(redisClient, cfg.Redis.QuoteTTL.Duration)
		registerQuoteMirror(deps.Dispatcher, deps.QuoteCache, logger)
	}

	// --- Postgres order journal (optional) ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Journal = postgres.NewOrderJournal(pgClient.Pool())
	}

	// --- Operator alerts (optional) ---
	var senders []notify.Sender
	if cfg.Notify.DiscordWebhook != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhook))
	}
	if cfg.Notify.TelegramToken != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if len(senders) > 0 {
		deps.Alerts = notify.New(senders, cfg.Notify.Events, logger)
	}

	// --- Coordinator ---
	var journal coordinator.Journal
	if deps.Journal != nil {
		journal = deps.Journal
	}
	var alerts coordinator.Alerter
	if deps.Alerts != nil {
		alerts = deps.Alerts
	}
	deps.Coordinator = coordinator.New(deps.Chains, tasty, deps.Ledger, journal, alerts, logger)

	return deps, cleanup, nil
}

// registerQuoteMirror forwards every quote to the Redis mirror. Mirror writes
// run on the feed's read goroutine so each gets a short independent deadline.
func registerQuoteMirror(d *feed.Dispatcher, cache *redis.QuoteCache, logger *slog.Logger) {
	mirrorLog := logger.With(slog.String("component", "quote_mirror"))
	d.SubscribeQuotes(func(symbol string, obs domain.PriceObservation) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := cache.SetQuote(ctx, symbol, obs); err != nil {
			mirrorLog.Warn("quote mirror write failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	})
}

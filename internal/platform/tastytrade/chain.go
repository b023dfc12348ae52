package tastytrade

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/optionloop/tastybot/internal/domain"
)

// Strike bands around the underlying's last price. Puts lean below the spot,
// calls above; the overlap keeps near-the-money contracts on both sides.
const (
	bandWideSide   = 200.0
	bandNarrowSide = 20.0
)

const expirationLayout = "2006-01-02"

// PriceRef supplies the latest observed price for a feed symbol.
type PriceRef interface {
	LastPrice(streamerSymbol string) (float64, bool)
}

// SymbolRegistry tracks which symbols the ledger should accept events for.
type SymbolRegistry interface {
	Monitor(symbol, streamerSymbol string)
	IsMonitored(streamerSymbol string) bool
}

// OptionSubscriber adds option symbols to the live market-data subscription.
type OptionSubscriber interface {
	SubscribeOptions(symbols []string)
}

// ChainService fetches option chains, trims them to a strike band around the
// underlying's current price, and puts every kept contract on the feed so
// quotes and Greeks start flowing before any selection happens.
type ChainService struct {
	client   *Client
	prices   PriceRef
	registry SymbolRegistry
	subs     OptionSubscriber
	logger   *slog.Logger

	// reference is the feed symbol whose last price centers the band,
	// normally the underlying index itself.
	reference string
}

// NewChainService creates a ChainService centered on the given reference
// feed symbol.
func NewChainService(client *Client, prices PriceRef, registry SymbolRegistry, subs OptionSubscriber, reference string, logger *slog.Logger) *ChainService {
	return &ChainService{
		client:    client,
		prices:    prices,
		registry:  registry,
		subs:      subs,
		reference: reference,
		logger:    logger.With(slog.String("component", "chain")),
	}
}

// FetchChain returns the banded chain for one expiration and option type, in
// ascending strike order, and subscribes any newly seen contracts to the
// feed. It fails with ErrNoPriceData until the reference symbol has ticked,
// and with ErrNoExpiration when the venue has no matching expiration.
func (s *ChainService) FetchChain(ctx context.Context, underlying string, expiration time.Time, optType domain.OptionType) ([]domain.ChainEntry, error) {
	spot, ok := s.prices.LastPrice(s.reference)
	if !ok {
		return nil, fmt.Errorf("tastytrade: chain %s: no price for %s yet: %w", underlying, s.reference, domain.ErrNoPriceData)
	}

	chain, err := s.client.NestedOptionChain(ctx, underlying)
	if err != nil {
		return nil, err
	}

	low, high := strikeBand(spot, optType)
	want := expiration.Format(expirationLayout)

	var entries []domain.ChainEntry
	var fresh []string
	for _, item := range chain.Data.Items {
		for _, exp := range item.Expirations {
			if exp.ExpirationDate != want {
				continue
			}
			for _, strike := range exp.Strikes {
				price, err := strconv.ParseFloat(strike.StrikePrice, 64)
				if err != nil {
					s.logger.Warn("unparseable strike dropped",
						slog.String("underlying", underlying),
						slog.String("strike", strike.StrikePrice),
					)
					continue
				}
				if price < low || price > high {
					continue
				}

				symbol, streamer := strike.Call, strike.CallStreamerSymbol
				if optType == domain.OptionPut {
					symbol, streamer = strike.Put, strike.PutStreamerSymbol
				}
				if symbol == "" || streamer == "" {
					continue
				}

				if !s.registry.IsMonitored(streamer) {
					s.registry.Monitor(symbol, streamer)
					fresh = append(fresh, streamer)
				}
				entries = append(entries, domain.ChainEntry{
					Symbol:         symbol,
					StreamerSymbol: streamer,
					Strike:         price,
				})
			}
		}
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("tastytrade: chain %s %s: %w", underlying, want, domain.ErrNoExpiration)
	}

	if len(fresh) > 0 {
		s.subs.SubscribeOptions(fresh)
	}

	s.logger.Info("option chain loaded",
		slog.String("underlying", underlying),
		slog.String("expiration", want),
		slog.String("type", string(optType)),
		slog.Int("contracts", len(entries)),
		slog.Int("new_subscriptions", len(fresh)),
	)
	return entries, nil
}

// strikeBand returns the inclusive strike range kept around spot. Put chains
// reach far below the money, call chains far above.
func strikeBand(spot float64, optType domain.OptionType) (low, high float64) {
	if optType == domain.OptionPut {
		return spot - bandWideSide, spot + bandNarrowSide
	}
	return spot - bandNarrowSide, spot + bandWideSide
}

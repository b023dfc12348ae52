// Package feed owns the supervised streaming workers: the market-data and
// account-data connections, the event dispatcher, and the heartbeat loop.
package feed

import (
	"log/slog"
	"sync"

	"github.com/optionloop/tastybot/internal/domain"
	"github.com/optionloop/tastybot/internal/ledger"
)

// QuoteHandler is called for every decoded quote event.
type QuoteHandler func(symbol string, obs domain.PriceObservation)

// GreeksHandler is called for every decoded Greeks event.
type GreeksHandler func(symbol string, obs domain.GreeksObservation)

// Dispatcher routes decoded market events to the symbol ledger and to
// registered handlers, in registration order. It implements dxlink.EventSink.
type Dispatcher struct {
	ledger *ledger.Ledger
	logger *slog.Logger

	mu             sync.RWMutex
	quoteHandlers  []QuoteHandler
	greeksHandlers []GreeksHandler
}

// NewDispatcher creates a Dispatcher that updates the given ledger before
// invoking any handler.
func NewDispatcher(l *ledger.Ledger, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		ledger: l,
		logger: logger.With(slog.String("component", "dispatcher")),
	}
}

// SubscribeQuotes registers a quote handler. Handlers run on the connection's
// read goroutine and must not block.
func (d *Dispatcher) SubscribeQuotes(h QuoteHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.quoteHandlers = append(d.quoteHandlers, h)
}

// SubscribeGreeks registers a Greeks handler.
func (d *Dispatcher) SubscribeGreeks(h GreeksHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.greeksHandlers = append(d.greeksHandlers, h)
}

// Publish records the event in the ledger, then fans it out to handlers in
// registration order.
func (d *Dispatcher) Publish(ev domain.MarketEvent) {
	switch e := ev.(type) {
	case domain.QuoteUpdate:
		d.ledger.RecordPrice(e.Symbol, e.Observation)

		d.mu.RLock()
		handlers := d.quoteHandlers
		d.mu.RUnlock()
		for _, h := range handlers {
			h(e.Symbol, e.Observation)
		}

	case domain.GreeksUpdate:
		d.ledger.RecordGreeks(e.Symbol, e.Observation)

		d.mu.RLock()
		handlers := d.greeksHandlers
		d.mu.RUnlock()
		for _, h := range handlers {
			h(e.Symbol, e.Observation)
		}

	default:
		d.logger.Warn("unknown market event dropped", slog.String("symbol", ev.EventSymbol()))
	}
}

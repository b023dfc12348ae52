// Package ledger maintains rolling per-instrument price and Greeks history
// with derived statistics, shared between the feed workers and the order
// coordinator.
package ledger

import (
	"sync"

	"github.com/optionloop/tastybot/internal/domain"
)

// DefaultMaxHistory is the per-instrument window capacity.
const DefaultMaxHistory = 10

type record struct {
	symbol         string
	streamerSymbol string

	prices []domain.PriceObservation
	greeks []domain.GreeksObservation

	priceSMA      *float64
	tradingRange  *float64
	isTrendingUp  *bool
	volatilitySMA *float64
	deltaSMA      *float64
}

// Ledger owns the symbol records. All access goes through the lock, so a
// reader sees either the pre- or post-append record, never a record with
// stale derived statistics.
type Ledger struct {
	mu         sync.RWMutex
	maxHistory int
	records    map[string]*record // keyed by streamer symbol
}

// New creates a Ledger. maxHistory <= 0 selects DefaultMaxHistory.
func New(maxHistory int) *Ledger {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &Ledger{
		maxHistory: maxHistory,
		records:    make(map[string]*record),
	}
}

// Monitor registers an instrument for tracking. Registering an already
// tracked streamer symbol is a no-op; history is never reset.
func (l *Ledger) Monitor(symbol, streamerSymbol string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.records[streamerSymbol]; ok {
		return
	}
	l.records[streamerSymbol] = &record{symbol: symbol, streamerSymbol: streamerSymbol}
}

// IsMonitored reports whether the streamer symbol is tracked.
func (l *Ledger) IsMonitored(streamerSymbol string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.records[streamerSymbol]
	return ok
}

// RecordPrice appends a price observation to the named record, evicts the
// oldest observation beyond the window cap, and recomputes the derived price
// statistics before returning. Updates for symbols that were never registered
// are silently ignored.
func (l *Ledger) RecordPrice(streamerSymbol string, obs domain.PriceObservation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[streamerSymbol]
	if !ok {
		return
	}

	r.prices = append(r.prices, obs)
	if len(r.prices) > l.maxHistory {
		r.prices = r.prices[1:]
	}

	r.priceSMA = nil
	var sum float64
	var n int
	for _, p := range r.prices {
		if mid, ok := p.Midpoint(); ok {
			sum += mid
			n++
		}
	}
	if n > 0 {
		r.priceSMA = domain.Float(sum / float64(n))
	}

	// Trading range: highest ask minus lowest bid over the window.
	r.tradingRange = nil
	var maxAsk, minBid *float64
	for _, p := range r.prices {
		if p.Ask != nil && (maxAsk == nil || *p.Ask > *maxAsk) {
			maxAsk = p.Ask
		}
		if p.Bid != nil && (minBid == nil || *p.Bid < *minBid) {
			minBid = p.Bid
		}
	}
	if maxAsk != nil && minBid != nil {
		r.tradingRange = domain.Float(*maxAsk - *minBid)
	}

	// Trend over the last three observations; undefined for shorter windows.
	r.isTrendingUp = nil
	if len(r.prices) >= 3 {
		newest, okNew := r.prices[len(r.prices)-1].Midpoint()
		oldest, okOld := r.prices[len(r.prices)-3].Midpoint()
		if okNew && okOld {
			up := newest > oldest
			r.isTrendingUp = &up
		}
	}
}

// RecordGreeks appends a Greeks observation to the named record, evicts the
// oldest beyond the window cap, and recomputes the Greeks averages. Updates
// for unregistered symbols are silently ignored.
func (l *Ledger) RecordGreeks(streamerSymbol string, obs domain.GreeksObservation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[streamerSymbol]
	if !ok {
		return
	}

	r.greeks = append(r.greeks, obs)
	if len(r.greeks) > l.maxHistory {
		r.greeks = r.greeks[1:]
	}

	r.volatilitySMA = mean(r.greeks, func(g domain.GreeksObservation) *float64 { return g.Volatility })
	r.deltaSMA = mean(r.greeks, func(g domain.GreeksObservation) *float64 { return g.Delta })
}

func mean(greeks []domain.GreeksObservation, field func(domain.GreeksObservation) *float64) *float64 {
	var sum float64
	var n int
	for _, g := range greeks {
		if v := field(g); v != nil {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return nil
	}
	return domain.Float(sum / float64(n))
}

// Snapshot returns a detached copy of the record for the streamer symbol.
func (l *Ledger) Snapshot(streamerSymbol string) (domain.SymbolSnapshot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.records[streamerSymbol]
	if !ok {
		return domain.SymbolSnapshot{}, false
	}

	snap := domain.SymbolSnapshot{
		Symbol:         r.symbol,
		StreamerSymbol: r.streamerSymbol,
		Prices:         make([]domain.PriceObservation, len(r.prices)),
		Greeks:         make([]domain.GreeksObservation, len(r.greeks)),
		PriceSMA:       copyFloat(r.priceSMA),
		TradingRange:   copyFloat(r.tradingRange),
		IsTrendingUp:   copyBool(r.isTrendingUp),
		VolatilitySMA:  copyFloat(r.volatilitySMA),
		DeltaSMA:       copyFloat(r.deltaSMA),
	}
	copy(snap.Prices, r.prices)
	copy(snap.Greeks, r.greeks)
	return snap, true
}

// LastPrice returns the latest last-trade price proxy for the streamer
// symbol, falling back to ask then bid when no last price was observed.
// Used by the chain service to center strike selection.
func (l *Ledger) LastPrice(streamerSymbol string) (float64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.records[streamerSymbol]
	if !ok || len(r.prices) == 0 {
		return 0, false
	}
	obs := r.prices[len(r.prices)-1]
	for _, v := range []*float64{obs.Last, obs.Ask, obs.Bid} {
		if v != nil {
			return *v, true
		}
	}
	return 0, false
}

// Symbols returns the tracked streamer symbols.
func (l *Ledger) Symbols() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, 0, len(l.records))
	for s := range l.records {
		out = append(out, s)
	}
	return out
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyBool(v *bool) *bool {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

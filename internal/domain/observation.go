package domain

import "time"

// PriceObservation is a single quote sample for one instrument. Fields carried
// as "NaN" on the wire are nil. Observations are immutable once created.
type PriceObservation struct {
	At      time.Time
	Bid     *float64
	Ask     *float64
	BidSize *float64
	AskSize *float64
	// Last is derived at decode time: ask when present, else bid, else nil.
	// The feed carries no independent trade-price source.
	Last *float64
}

// Midpoint returns (bid+ask)/2. The second return is false when either side
// of the book is absent.
func (p PriceObservation) Midpoint() (float64, bool) {
	if p.Bid == nil || p.Ask == nil {
		return 0, false
	}
	return (*p.Bid + *p.Ask) / 2, true
}

// GreeksObservation is a single Greeks sample for one option contract.
// Immutable once created.
type GreeksObservation struct {
	At         time.Time
	Volatility *float64
	Delta      *float64
	Gamma      *float64
	Theta      *float64
	Rho        *float64
	Vega       *float64
}

// MarketEvent is a decoded feed event addressed to a streamer symbol.
type MarketEvent interface {
	EventSymbol() string
}

// QuoteUpdate is a decoded Quote tuple.
type QuoteUpdate struct {
	Symbol      string
	Observation PriceObservation
}

// EventSymbol returns the streamer symbol the quote addresses.
func (q QuoteUpdate) EventSymbol() string { return q.Symbol }

// GreeksUpdate is a decoded Greeks tuple.
type GreeksUpdate struct {
	Symbol      string
	Observation GreeksObservation
}

// EventSymbol returns the streamer symbol the Greeks address.
func (g GreeksUpdate) EventSymbol() string { return g.Symbol }

// Float returns a pointer to v. Convenience for building observations.
func Float(v float64) *float64 { return &v }

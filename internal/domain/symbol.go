package domain

// SymbolSnapshot is a point-in-time copy of one instrument's rolling history
// and derived statistics. Snapshots are detached from the ledger: mutating a
// snapshot never affects the live record, and a snapshot never shows a
// half-updated record.
type SymbolSnapshot struct {
	Symbol         string
	StreamerSymbol string

	// Prices and Greeks are ordered oldest-first and bounded by the ledger's
	// history cap.
	Prices []PriceObservation
	Greeks []GreeksObservation

	// Derived statistics, recomputed by the ledger on every append. Nil when
	// the window holds no defined samples for the statistic.
	PriceSMA      *float64
	TradingRange  *float64
	IsTrendingUp  *bool
	VolatilitySMA *float64
	DeltaSMA      *float64
}

// LatestPrice returns the most recent price observation in the window.
func (s SymbolSnapshot) LatestPrice() (PriceObservation, bool) {
	if len(s.Prices) == 0 {
		return PriceObservation{}, false
	}
	return s.Prices[len(s.Prices)-1], true
}

// LatestGreeks returns the most recent Greeks observation in the window.
func (s SymbolSnapshot) LatestGreeks() (GreeksObservation, bool) {
	if len(s.Greeks) == 0 {
		return GreeksObservation{}, false
	}
	return s.Greeks[len(s.Greeks)-1], true
}

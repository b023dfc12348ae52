// Package coordinator drives option orders through their lifecycle: chain
// lookup, contract selection against live quotes and Greeks, trend-gated
// submission, adaptive re-pricing while unacknowledged, status polling, and
// terminal retirement.
package coordinator

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/optionloop/tastybot/internal/domain"
)

// DefaultTickInterval is the cadence of the coordinator loop.
const DefaultTickInterval = time.Second

// ChainFetcher supplies the banded option chain for an underlying and
// expiration. Implementations also put the returned contracts on the feed.
type ChainFetcher interface {
	FetchChain(ctx context.Context, underlying string, expiration time.Time, optType domain.OptionType) ([]domain.ChainEntry, error)
}

// OrderClient is the venue order-entry surface.
type OrderClient interface {
	SubmitOrder(ctx context.Context, o *domain.Order, limitPrice float64) (domain.SubmitReceipt, error)
	ReplaceOrder(ctx context.Context, account, orderID string, o *domain.Order, limitPrice float64) (domain.SubmitReceipt, error)
	OrderStatus(ctx context.Context, account, orderID string) (domain.OrderStatus, error)
	CancelOrder(ctx context.Context, account, orderID string) error
}

// LedgerReader exposes point-in-time instrument snapshots.
type LedgerReader interface {
	Snapshot(streamerSymbol string) (domain.SymbolSnapshot, bool)
}

// Journal records order milestones for audit. Implementations must tolerate
// being called from the tick loop; failures are logged, never propagated.
type Journal interface {
	RecordSubmission(ctx context.Context, o *domain.Order, receipt domain.SubmitReceipt) error
	RecordReplacement(ctx context.Context, o *domain.Order, receipt domain.SubmitReceipt) error
	RecordTerminal(ctx context.Context, o *domain.Order) error
}

// Alerter pushes order milestones to operator channels. Calls are best-effort
// and must not block the tick loop.
type Alerter interface {
	OrderSubmitted(ctx context.Context, o *domain.Order)
	OrderFilled(ctx context.Context, o *domain.Order)
	OrderRetired(ctx context.Context, o *domain.Order)
}

// Coordinator owns the active order set. Orders are mutated only inside Tick;
// Enqueue and Active take the same lock so outside readers always see a
// consistent set.
type Coordinator struct {
	chains  ChainFetcher
	orders  OrderClient
	ledger  LedgerReader
	journal Journal
	alerts  Alerter
	logger  *slog.Logger

	now func() time.Time

	mu     sync.Mutex
	active []*domain.Order
}

// New creates a Coordinator. journal and alerts may be nil.
func New(chains ChainFetcher, orders OrderClient, ledger LedgerReader, journal Journal, alerts Alerter, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		chains:  chains,
		orders:  orders,
		ledger:  ledger,
		journal: journal,
		alerts:  alerts,
		logger:  logger.With(slog.String("component", "coordinator")),
		now:     time.Now,
	}
}

// Enqueue builds an order from params and adds it to the active set. The
// order starts in the needs-chain state and is picked up on the next tick.
func (c *Coordinator) Enqueue(p domain.OrderParams) *domain.Order {
	o := domain.NewOrder(p)
	c.mu.Lock()
	c.active = append(c.active, o)
	c.mu.Unlock()
	c.logger.Info("order enqueued",
		slog.String("order_id", o.ID),
		slog.String("underlying", o.Underlying),
		slog.String("type", string(o.OptionType)),
		slog.String("action", string(o.Action)),
		slog.Int("quantity", o.Quantity),
	)
	return o
}

// Active returns a copy of the active order slice.
func (c *Coordinator) Active() []*domain.Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*domain.Order, len(c.active))
	copy(out, c.active)
	return out
}

// Run ticks the coordinator on a fixed interval until ctx is cancelled.
// interval <= 0 selects DefaultTickInterval.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick advances every active order one step. A collaborator failure leaves
// the order in its current state for the next tick; it never aborts the pass
// or affects other orders.
func (c *Coordinator) Tick(ctx context.Context) {
	c.mu.Lock()
	orders := make([]*domain.Order, len(c.active))
	copy(orders, c.active)
	c.mu.Unlock()

	retired := false
	for _, o := range orders {
		c.step(ctx, o)
		if o.Status.IsTerminal() {
			c.retire(ctx, o)
			retired = true
		}
	}
	if !retired {
		return
	}

	c.mu.Lock()
	kept := c.active[:0]
	for _, o := range c.active {
		if !o.Status.IsTerminal() {
			kept = append(kept, o)
		}
	}
	c.active = kept
	c.mu.Unlock()
}

// CancelActive cancels every submitted, non-terminal order at the venue and
// marks it cancelled locally. Called on shutdown so no working limit order
// outlives the process; failures are logged and the remaining orders are
// still attempted.
func (c *Coordinator) CancelActive(ctx context.Context) {
	for _, o := range c.Active() {
		if o.BrokerOrderID == "" || o.Status.IsTerminal() {
			continue
		}
		if err := c.orders.CancelOrder(ctx, o.Account, o.BrokerOrderID); err != nil {
			c.logger.Warn("shutdown cancel failed",
				slog.String("order_id", o.ID),
				slog.String("broker_order_id", o.BrokerOrderID),
				slog.String("error", err.Error()),
			)
			continue
		}
		o.Status = domain.StatusCancelled
		c.retire(ctx, o)
	}

	c.mu.Lock()
	kept := c.active[:0]
	for _, o := range c.active {
		if !o.Status.IsTerminal() {
			kept = append(kept, o)
		}
	}
	c.active = kept
	c.mu.Unlock()
}

func (c *Coordinator) step(ctx context.Context, o *domain.Order) {
	switch o.State {
	case domain.StateNeedsChain:
		c.stepNeedsChain(ctx, o)
	case domain.StateHasChain:
		c.stepHasChain(o)
	case domain.StateSymbolResolved:
		c.stepSymbolResolved(ctx, o)
	case domain.StateSubmittedPendingAck:
		c.stepPendingAck(ctx, o)
	case domain.StateAckedPolling:
		c.stepPolling(ctx, o)
	}
}

func (c *Coordinator) stepNeedsChain(ctx context.Context, o *domain.Order) {
	chain, err := c.chains.FetchChain(ctx, o.Underlying, o.Expiration, o.OptionType)
	if err != nil {
		c.logger.Warn("chain fetch failed, will retry",
			slog.String("order_id", o.ID),
			slog.String("underlying", o.Underlying),
			slog.String("error", err.Error()),
		)
		return
	}
	o.Chain = chain
	o.State = domain.StateHasChain
	c.logger.Info("chain cached",
		slog.String("order_id", o.ID),
		slog.Int("contracts", len(chain)),
	)
}

// stepHasChain scans the chain in strike order for a contract matching the
// order's target. Price targeting wants the strike whose spread straddles the
// target; delta targeting wants absolute delta at or under the target — first
// match for calls, last match for puts.
func (c *Coordinator) stepHasChain(o *domain.Order) {
	var match *domain.ChainEntry
	for i := range o.Chain {
		entry := &o.Chain[i]
		snap, ok := c.ledger.Snapshot(entry.StreamerSymbol)
		if !ok {
			continue
		}

		if o.TargetPrice != nil {
			price, ok := snap.LatestPrice()
			if !ok || price.Bid == nil || price.Ask == nil {
				continue
			}
			if *price.Bid < *o.TargetPrice && *o.TargetPrice <= *price.Ask {
				match = entry
				break
			}
			continue
		}

		if o.TargetDelta != nil {
			greeks, ok := snap.LatestGreeks()
			if !ok || greeks.Delta == nil {
				continue
			}
			if math.Abs(*greeks.Delta) <= *o.TargetDelta {
				match = entry
				if o.OptionType == domain.OptionCall {
					break
				}
				// Puts keep scanning so the last qualifying strike wins.
			}
		}
	}

	if match == nil {
		return
	}
	o.Symbol = match.Symbol
	o.StreamerSymbol = match.StreamerSymbol
	o.Strike = match.Strike
	o.State = domain.StateSymbolResolved
	c.logger.Info("contract resolved",
		slog.String("order_id", o.ID),
		slog.String("symbol", o.Symbol),
		slog.Float64("strike", o.Strike),
	)
}

func (c *Coordinator) stepSymbolResolved(ctx context.Context, o *domain.Order) {
	snap, ok := c.ledger.Snapshot(o.StreamerSymbol)
	if !ok {
		return
	}
	price, ok := snap.LatestPrice()
	if !ok || price.Bid == nil || price.Ask == nil {
		return
	}

	// Trend gate: an uptrend favors buying, a downtrend favors selling. An
	// undefined trend never blocks submission.
	if snap.IsTrendingUp != nil && *snap.IsTrendingUp != o.Action.IsBuy() {
		c.logger.Debug("submission deferred by trend",
			slog.String("order_id", o.ID),
			slog.Bool("trending_up", *snap.IsTrendingUp),
			slog.String("action", string(o.Action)),
		)
		return
	}

	limit := limitPrice(*price.Bid, *price.Ask, o.LimitDistance)
	receipt, err := c.orders.SubmitOrder(ctx, o, limit)
	if err != nil {
		c.logger.Warn("order submission failed, will retry",
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	o.SubmittedAt = c.now()
	o.LimitPrice = limit
	o.BrokerOrderID = receipt.OrderID
	o.Status = receipt.Status
	if receipt.Working {
		o.State = domain.StateSubmittedPendingAck
	} else {
		o.State = domain.StateAckedPolling
	}
	c.logger.Info("order submitted",
		slog.String("order_id", o.ID),
		slog.String("broker_order_id", o.BrokerOrderID),
		slog.Float64("limit_price", limit),
		slog.String("state", o.State.String()),
	)
	c.journalSubmission(ctx, o, receipt)
	if c.alerts != nil {
		c.alerts.OrderSubmitted(ctx, o)
	}
}

// stepPendingAck walks the limit price toward the ask while the venue has
// not produced a confirmed order id. Each adjustment waits out the order's
// configured delay from the previous (re)submission.
func (c *Coordinator) stepPendingAck(ctx context.Context, o *domain.Order) {
	if c.now().Sub(o.SubmittedAt) <= o.WaitBeforeAdjust {
		return
	}

	snap, ok := c.ledger.Snapshot(o.StreamerSymbol)
	if !ok {
		return
	}
	price, ok := snap.LatestPrice()
	if !ok || price.Bid == nil || price.Ask == nil {
		return
	}

	o.AdjustLimitDistance()
	limit := limitPrice(*price.Bid, *price.Ask, o.LimitDistance)
	receipt, err := c.orders.ReplaceOrder(ctx, o.Account, o.BrokerOrderID, o, limit)
	if err != nil {
		c.logger.Warn("order replace failed, will retry",
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	o.SubmittedAt = c.now()
	o.LimitPrice = limit
	o.Status = receipt.Status
	if receipt.OrderID != "" {
		o.BrokerOrderID = receipt.OrderID
	}
	if !receipt.Working && o.BrokerOrderID != "" {
		o.State = domain.StateAckedPolling
	}
	c.logger.Info("order re-priced",
		slog.String("order_id", o.ID),
		slog.Float64("limit_price", limit),
		slog.Float64("limit_distance", o.LimitDistance),
	)
	c.journalReplacement(ctx, o, receipt)
}

func (c *Coordinator) stepPolling(ctx context.Context, o *domain.Order) {
	status, err := c.orders.OrderStatus(ctx, o.Account, o.BrokerOrderID)
	if err != nil {
		c.logger.Warn("order status poll failed, will retry",
			slog.String("order_id", o.ID),
			slog.String("broker_order_id", o.BrokerOrderID),
			slog.String("error", err.Error()),
		)
		return
	}
	o.Status = status
}

func (c *Coordinator) retire(ctx context.Context, o *domain.Order) {
	if o.Status == domain.StatusFilled {
		c.logger.Info("order filled",
			slog.String("order_id", o.ID),
			slog.String("symbol", o.Symbol),
			slog.Float64("limit_price", o.LimitPrice),
		)
		if c.alerts != nil {
			c.alerts.OrderFilled(ctx, o)
		}
	} else {
		c.logger.Warn("order retired without fill",
			slog.String("order_id", o.ID),
			slog.String("symbol", o.Symbol),
			slog.String("status", string(o.Status)),
		)
		if c.alerts != nil {
			c.alerts.OrderRetired(ctx, o)
		}
	}
	if c.journal != nil {
		if err := c.journal.RecordTerminal(ctx, o); err != nil {
			c.logger.Warn("journal terminal write failed", slog.String("error", err.Error()))
		}
	}
}

func (c *Coordinator) journalSubmission(ctx context.Context, o *domain.Order, receipt domain.SubmitReceipt) {
	if c.journal == nil {
		return
	}
	if err := c.journal.RecordSubmission(ctx, o, receipt); err != nil {
		c.logger.Warn("journal submission write failed", slog.String("error", err.Error()))
	}
}

func (c *Coordinator) journalReplacement(ctx context.Context, o *domain.Order, receipt domain.SubmitReceipt) {
	if c.journal == nil {
		return
	}
	if err := c.journal.RecordReplacement(ctx, o, receipt); err != nil {
		c.logger.Warn("journal replacement write failed", slog.String("error", err.Error()))
	}
}

// limitPrice interpolates between bid and ask, rounded to cents.
func limitPrice(bid, ask, distance float64) float64 {
	return math.Round((bid+(ask-bid)*distance)*100) / 100
}

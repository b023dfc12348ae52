package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OptionType distinguishes calls from puts.
type OptionType string

const (
	OptionCall OptionType = "C"
	OptionPut  OptionType = "P"
)

// OrderAction is the venue-facing order action string.
type OrderAction string

const (
	ActionBuyToOpen   OrderAction = "Buy to Open"
	ActionSellToOpen  OrderAction = "Sell to Open"
	ActionBuyToClose  OrderAction = "Buy to Close"
	ActionSellToClose OrderAction = "Sell to Close"
)

// IsBuy reports whether the action opens or closes a long position.
func (a OrderAction) IsBuy() bool {
	return a == ActionBuyToOpen || a == ActionBuyToClose
}

// OrderStatus is the venue-reported order status.
type OrderStatus string

const (
	StatusReceived  OrderStatus = "Received"
	StatusLive      OrderStatus = "Live"
	StatusFilled    OrderStatus = "Filled"
	StatusRejected  OrderStatus = "Rejected"
	StatusCancelled OrderStatus = "Cancelled"
	StatusExpired   OrderStatus = "Expired"
	StatusRemoved   OrderStatus = "Removed"
)

// IsTerminal reports whether no further transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusRejected, StatusCancelled, StatusExpired, StatusRemoved:
		return true
	}
	return false
}

// OrderState is the coordinator-side lifecycle state of an order. Exactly one
// state holds at any time; transitions are driven by the coordinator tick.
type OrderState int

const (
	// StateNeedsChain: no option chain cached yet.
	StateNeedsChain OrderState = iota
	// StateHasChain: chain cached, no contract resolved.
	StateHasChain
	// StateSymbolResolved: contract picked, order not yet submitted.
	StateSymbolResolved
	// StateSubmittedPendingAck: submitted, venue has not yet produced a
	// confirmed order id; the order is re-priced while it waits.
	StateSubmittedPendingAck
	// StateAckedPolling: confirmed order id known, status polled each tick.
	StateAckedPolling
)

// String returns the state name for logs.
func (s OrderState) String() string {
	switch s {
	case StateNeedsChain:
		return "needs_chain"
	case StateHasChain:
		return "has_chain"
	case StateSymbolResolved:
		return "symbol_resolved"
	case StateSubmittedPendingAck:
		return "submitted_pending_ack"
	case StateAckedPolling:
		return "acked_polling"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// ChainEntry is one candidate contract from an option chain, in strike order.
type ChainEntry struct {
	Symbol         string
	StreamerSymbol string
	Strike         float64
}

// SubmitReceipt is the result of an order submission or replacement. Working
// is set when the venue acknowledged the order without a confirmed id; the
// order then stays in the pending-ack state and keeps re-pricing.
type SubmitReceipt struct {
	OrderID string
	Status  OrderStatus
	Working bool
}

// Order is a single-leg option order tracked by the coordinator from chain
// lookup through terminal retirement.
type Order struct {
	ID         string
	Account    string
	Underlying string
	Expiration time.Time
	OptionType OptionType
	Action     OrderAction
	Quantity   int

	// Selection criteria: exactly one of TargetDelta or TargetPrice should be
	// set. TargetDelta is compared against absolute delta.
	TargetDelta *float64
	TargetPrice *float64

	// Pricing policy. LimitDistance interpolates the limit price between bid
	// (0.0) and ask (1.0); LimitStep is added on each adjustment after
	// WaitBeforeAdjust has elapsed without an ack.
	LimitDistance    float64
	LimitStep        float64
	WaitBeforeAdjust time.Duration

	// Resolved by the coordinator.
	State          OrderState
	Chain          []ChainEntry
	Symbol         string
	StreamerSymbol string
	Strike         float64

	// Execution tracking.
	SubmittedAt   time.Time
	BrokerOrderID string
	LimitPrice    float64
	Status        OrderStatus
}

// OrderParams are the caller-supplied parameters for a new order. Zero-value
// fields take the same defaults the strategy layer has always relied on.
type OrderParams struct {
	Account    string
	Underlying string
	OptionType OptionType
	Action     OrderAction
	Quantity   int

	// DTE picks an expiration this many days out when Expiration is zero.
	DTE        int
	Expiration time.Time

	TargetDelta *float64
	TargetPrice *float64

	LimitDistance    float64
	LimitStep        float64
	WaitBeforeAdjust time.Duration
}

// NewOrder builds an Order in StateNeedsChain from params, applying defaults:
// underlying SPX maps to the SPXW weekly root, quantity 1, limit distance 0.4,
// limit step 0.1, 5 s before the first price adjustment.
func NewOrder(p OrderParams) *Order {
	underlying := p.Underlying
	if underlying == "" || underlying == "SPX" {
		underlying = "SPXW"
	}
	expiration := p.Expiration
	if expiration.IsZero() {
		expiration = time.Now().AddDate(0, 0, p.DTE)
	}
	quantity := p.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	limitDistance := p.LimitDistance
	if limitDistance == 0 {
		limitDistance = 0.4
	}
	limitStep := p.LimitStep
	if limitStep == 0 {
		limitStep = 0.1
	}
	wait := p.WaitBeforeAdjust
	if wait == 0 {
		wait = 5 * time.Second
	}
	action := p.Action
	if action == "" {
		action = ActionBuyToOpen
	}
	optType := p.OptionType
	if optType == "" {
		optType = OptionCall
	}

	return &Order{
		ID:               uuid.New().String(),
		Account:          p.Account,
		Underlying:       underlying,
		Expiration:       expiration,
		OptionType:       optType,
		Action:           action,
		Quantity:         quantity,
		TargetDelta:      p.TargetDelta,
		TargetPrice:      p.TargetPrice,
		LimitDistance:    limitDistance,
		LimitStep:        limitStep,
		WaitBeforeAdjust: wait,
		State:            StateNeedsChain,
	}
}

// AdjustLimitDistance moves the limit interpolation one step toward the ask,
// capped at 1.0 so the limit never crosses the ask.
func (o *Order) AdjustLimitDistance() {
	o.LimitDistance += o.LimitStep
	if o.LimitDistance > 1.0 {
		o.LimitDistance = 1.0
	}
}

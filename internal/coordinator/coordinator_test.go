package coordinator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optionloop/tastybot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeChains struct {
	chain []domain.ChainEntry
	err   error
	calls int
}

func (f *fakeChains) FetchChain(_ context.Context, _ string, _ time.Time, _ domain.OptionType) ([]domain.ChainEntry, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.chain, nil
}

type submitCall struct {
	limitPrice float64
}

type replaceCall struct {
	orderID    string
	limitPrice float64
}

type fakeOrders struct {
	submitReceipt  domain.SubmitReceipt
	submitErr      error
	replaceReceipt domain.SubmitReceipt
	replaceErr     error
	status         domain.OrderStatus
	statusErr      error

	cancelErr error

	submits  []submitCall
	replaces []replaceCall
	cancels  []string
	polls    int
}

func (f *fakeOrders) SubmitOrder(_ context.Context, _ *domain.Order, limitPrice float64) (domain.SubmitReceipt, error) {
	f.submits = append(f.submits, submitCall{limitPrice: limitPrice})
	return f.submitReceipt, f.submitErr
}

func (f *fakeOrders) ReplaceOrder(_ context.Context, _ string, orderID string, _ *domain.Order, limitPrice float64) (domain.SubmitReceipt, error) {
	f.replaces = append(f.replaces, replaceCall{orderID: orderID, limitPrice: limitPrice})
	return f.replaceReceipt, f.replaceErr
}

func (f *fakeOrders) OrderStatus(_ context.Context, _, _ string) (domain.OrderStatus, error) {
	f.polls++
	return f.status, f.statusErr
}

func (f *fakeOrders) CancelOrder(_ context.Context, _, orderID string) error {
	f.cancels = append(f.cancels, orderID)
	return f.cancelErr
}

type fakeLedger map[string]domain.SymbolSnapshot

func (f fakeLedger) Snapshot(streamerSymbol string) (domain.SymbolSnapshot, bool) {
	s, ok := f[streamerSymbol]
	return s, ok
}

func snapWith(bid, ask float64, delta *float64, trend *bool) domain.SymbolSnapshot {
	snap := domain.SymbolSnapshot{
		Prices: []domain.PriceObservation{{
			At:  time.Now(),
			Bid: domain.Float(bid),
			Ask: domain.Float(ask),
		}},
		IsTrendingUp: trend,
	}
	if delta != nil {
		snap.Greeks = []domain.GreeksObservation{{At: time.Now(), Delta: delta}}
	}
	return snap
}

func newTestCoordinator(chains ChainFetcher, orders OrderClient, ledger LedgerReader) *Coordinator {
	return New(chains, orders, ledger, nil, nil, testLogger())
}

func TestNeedsChainRetriesOnFailure(t *testing.T) {
	chains := &fakeChains{err: errors.New("not yet")}
	c := newTestCoordinator(chains, &fakeOrders{}, fakeLedger{})

	o := c.Enqueue(domain.OrderParams{Account: "ACC1", TargetDelta: domain.Float(0.25)})
	c.Tick(context.Background())
	assert.Equal(t, domain.StateNeedsChain, o.State)

	chains.err = nil
	chains.chain = []domain.ChainEntry{{Symbol: "X", StreamerSymbol: ".X", Strike: 5900}}
	c.Tick(context.Background())
	assert.Equal(t, domain.StateHasChain, o.State)
	assert.Equal(t, 2, chains.calls)
}

func TestCallDeltaSelectionPicksFirstAtOrUnderTarget(t *testing.T) {
	// Ascending strikes with deltas 0.30, 0.22, 0.18, 0.10.
	entries := []domain.ChainEntry{
		{Symbol: "C5900", StreamerSymbol: ".C5900", Strike: 5900},
		{Symbol: "C5950", StreamerSymbol: ".C5950", Strike: 5950},
		{Symbol: "C6000", StreamerSymbol: ".C6000", Strike: 6000},
		{Symbol: "C6050", StreamerSymbol: ".C6050", Strike: 6050},
	}
	ledger := fakeLedger{
		".C5900": snapWith(10, 11, domain.Float(0.30), nil),
		".C5950": snapWith(8, 9, domain.Float(0.22), nil),
		".C6000": snapWith(6, 7, domain.Float(0.18), nil),
		".C6050": snapWith(4, 5, domain.Float(0.10), nil),
	}
	c := newTestCoordinator(&fakeChains{chain: entries}, &fakeOrders{}, ledger)

	o := c.Enqueue(domain.OrderParams{
		Account:     "ACC1",
		OptionType:  domain.OptionCall,
		TargetDelta: domain.Float(0.25),
	})
	c.Tick(context.Background()) // fetch chain
	c.Tick(context.Background()) // resolve symbol

	assert.Equal(t, domain.StateSymbolResolved, o.State)
	assert.Equal(t, "C5950", o.Symbol)
	assert.Equal(t, 5950.0, o.Strike)
}

func TestPutDeltaSelectionPicksLastQualifying(t *testing.T) {
	// For puts the scan continues past the first qualifying strike and keeps
	// the last one seen.
	entries := []domain.ChainEntry{
		{Symbol: "P5800", StreamerSymbol: ".P5800", Strike: 5800},
		{Symbol: "P5850", StreamerSymbol: ".P5850", Strike: 5850},
		{Symbol: "P5900", StreamerSymbol: ".P5900", Strike: 5900},
		{Symbol: "P5950", StreamerSymbol: ".P5950", Strike: 5950},
	}
	ledger := fakeLedger{
		".P5800": snapWith(4, 5, domain.Float(-0.10), nil),
		".P5850": snapWith(6, 7, domain.Float(-0.18), nil),
		".P5900": snapWith(8, 9, domain.Float(-0.22), nil),
		".P5950": snapWith(10, 11, domain.Float(-0.30), nil),
	}
	c := newTestCoordinator(&fakeChains{chain: entries}, &fakeOrders{}, ledger)

	o := c.Enqueue(domain.OrderParams{
		Account:     "ACC1",
		OptionType:  domain.OptionPut,
		Action:      domain.ActionSellToOpen,
		TargetDelta: domain.Float(0.25),
	})
	c.Tick(context.Background())
	c.Tick(context.Background())

	assert.Equal(t, domain.StateSymbolResolved, o.State)
	assert.Equal(t, "P5900", o.Symbol, "last strike with |delta| <= target wins")
}

func TestPriceSelectionRequiresSpreadStraddlingTarget(t *testing.T) {
	entries := []domain.ChainEntry{
		{Symbol: "C5900", StreamerSymbol: ".C5900", Strike: 5900},
		{Symbol: "C5950", StreamerSymbol: ".C5950", Strike: 5950},
		{Symbol: "C6000", StreamerSymbol: ".C6000", Strike: 6000},
	}
	ledger := fakeLedger{
		// No price data at all for the first entry: skipped.
		".C5950": snapWith(10.0, 11.0, nil, nil),
		".C6000": snapWith(4.5, 5.5, nil, nil),
	}
	c := newTestCoordinator(&fakeChains{chain: entries}, &fakeOrders{}, ledger)

	o := c.Enqueue(domain.OrderParams{
		Account:     "ACC1",
		OptionType:  domain.OptionCall,
		TargetPrice: domain.Float(5.0),
	})
	c.Tick(context.Background())
	c.Tick(context.Background())

	assert.Equal(t, domain.StateSymbolResolved, o.State)
	assert.Equal(t, "C6000", o.Symbol, "bid 4.5 < 5.0 <= ask 5.5")
}

func TestTrendGateDefersSubmission(t *testing.T) {
	down := false
	ledger := fakeLedger{".C5950": snapWith(8, 9, nil, &down)}
	orders := &fakeOrders{}
	c := newTestCoordinator(&fakeChains{}, orders, ledger)

	o := c.Enqueue(domain.OrderParams{
		Account:    "ACC1",
		OptionType: domain.OptionCall,
		Action:     domain.ActionBuyToOpen,
	})
	o.State = domain.StateSymbolResolved
	o.Symbol = "C5950"
	o.StreamerSymbol = ".C5950"

	c.Tick(context.Background())
	assert.Equal(t, domain.StateSymbolResolved, o.State, "downtrend defers a buy")
	assert.Empty(t, orders.submits)

	// Trend flips up: the buy proceeds.
	up := true
	ledger[".C5950"] = snapWith(8, 9, nil, &up)
	orders.submitReceipt = domain.SubmitReceipt{OrderID: "12345", Status: domain.StatusLive}
	c.Tick(context.Background())

	assert.Equal(t, domain.StateAckedPolling, o.State)
	require.Len(t, orders.submits, 1)
	assert.InDelta(t, 8.4, orders.submits[0].limitPrice, 1e-9, "bid + spread * 0.4")
}

func TestUndefinedTrendNeverBlocks(t *testing.T) {
	ledger := fakeLedger{".C5950": snapWith(8, 9, nil, nil)}
	orders := &fakeOrders{submitReceipt: domain.SubmitReceipt{OrderID: "1", Status: domain.StatusLive}}
	c := newTestCoordinator(&fakeChains{}, orders, ledger)

	o := c.Enqueue(domain.OrderParams{Account: "ACC1", Action: domain.ActionSellToOpen})
	o.State = domain.StateSymbolResolved
	o.Symbol = "C5950"
	o.StreamerSymbol = ".C5950"

	c.Tick(context.Background())
	assert.Len(t, orders.submits, 1)
}

func TestPendingAckRepricing(t *testing.T) {
	ledger := fakeLedger{".C5950": snapWith(8, 9, nil, nil)}
	orders := &fakeOrders{
		replaceReceipt: domain.SubmitReceipt{Working: true},
	}
	c := newTestCoordinator(&fakeChains{}, orders, ledger)

	now := time.Now()
	c.now = func() time.Time { return now }

	o := c.Enqueue(domain.OrderParams{Account: "ACC1", Action: domain.ActionBuyToOpen})
	o.State = domain.StateSubmittedPendingAck
	o.StreamerSymbol = ".C5950"
	o.SubmittedAt = now

	// Within the wait window: nothing happens.
	c.Tick(context.Background())
	assert.Empty(t, orders.replaces)
	assert.InDelta(t, 0.4, o.LimitDistance, 1e-9)

	// Past the wait window: one adjustment step.
	now = now.Add(o.WaitBeforeAdjust + time.Second)
	c.Tick(context.Background())
	require.Len(t, orders.replaces, 1)
	assert.InDelta(t, 0.5, o.LimitDistance, 1e-9)
	assert.InDelta(t, 8.5, orders.replaces[0].limitPrice, 1e-9)
	assert.Equal(t, domain.StateSubmittedPendingAck, o.State)

	// Six more cycles: the distance caps at 1.0 and the limit sits on the ask.
	for i := 0; i < 6; i++ {
		now = now.Add(o.WaitBeforeAdjust + time.Second)
		c.Tick(context.Background())
	}
	assert.InDelta(t, 1.0, o.LimitDistance, 1e-9)
	last := orders.replaces[len(orders.replaces)-1]
	assert.InDelta(t, 9.0, last.limitPrice, 1e-9)
}

func TestPendingAckPromotedOnConcreteID(t *testing.T) {
	ledger := fakeLedger{".C5950": snapWith(8, 9, nil, nil)}
	orders := &fakeOrders{
		replaceReceipt: domain.SubmitReceipt{OrderID: "98765", Status: domain.StatusLive},
		status:         domain.StatusLive,
	}
	c := newTestCoordinator(&fakeChains{}, orders, ledger)

	now := time.Now()
	c.now = func() time.Time { return now }

	o := c.Enqueue(domain.OrderParams{Account: "ACC1"})
	o.State = domain.StateSubmittedPendingAck
	o.StreamerSymbol = ".C5950"
	o.SubmittedAt = now.Add(-time.Minute)

	c.Tick(context.Background())
	assert.Equal(t, domain.StateAckedPolling, o.State)
	assert.Equal(t, "98765", o.BrokerOrderID)
}

func TestFullLifecycleToFill(t *testing.T) {
	entries := []domain.ChainEntry{{Symbol: "C5950", StreamerSymbol: ".C5950", Strike: 5950}}
	ledger := fakeLedger{".C5950": snapWith(8, 9, domain.Float(0.20), nil)}
	orders := &fakeOrders{
		submitReceipt: domain.SubmitReceipt{OrderID: "555", Status: domain.StatusLive},
		status:        domain.StatusLive,
	}
	c := newTestCoordinator(&fakeChains{chain: entries}, orders, ledger)

	o := c.Enqueue(domain.OrderParams{
		Account:     "ACC1",
		OptionType:  domain.OptionCall,
		TargetDelta: domain.Float(0.25),
	})

	ctx := context.Background()
	c.Tick(ctx)
	assert.Equal(t, domain.StateHasChain, o.State)
	c.Tick(ctx)
	assert.Equal(t, domain.StateSymbolResolved, o.State)
	c.Tick(ctx)
	assert.Equal(t, domain.StateAckedPolling, o.State)

	c.Tick(ctx)
	assert.Equal(t, domain.StatusLive, o.Status)
	require.Len(t, c.Active(), 1)

	orders.status = domain.StatusFilled
	c.Tick(ctx)
	assert.Empty(t, c.Active(), "filled orders leave the active set")
}

func TestRejectedOrderRetired(t *testing.T) {
	ledger := fakeLedger{".C5950": snapWith(8, 9, nil, nil)}
	orders := &fakeOrders{
		submitReceipt: domain.SubmitReceipt{OrderID: "7", Status: domain.StatusRejected},
	}
	c := newTestCoordinator(&fakeChains{}, orders, ledger)

	o := c.Enqueue(domain.OrderParams{Account: "ACC1"})
	o.State = domain.StateSymbolResolved
	o.StreamerSymbol = ".C5950"

	c.Tick(context.Background())
	assert.Empty(t, c.Active(), "a rejection on submit retires the order immediately")
	assert.Equal(t, domain.StatusRejected, o.Status)
}

func TestSubmitFailureStaysResolved(t *testing.T) {
	ledger := fakeLedger{".C5950": snapWith(8, 9, nil, nil)}
	orders := &fakeOrders{submitErr: errors.New("venue down")}
	c := newTestCoordinator(&fakeChains{}, orders, ledger)

	o := c.Enqueue(domain.OrderParams{Account: "ACC1"})
	o.State = domain.StateSymbolResolved
	o.StreamerSymbol = ".C5950"

	c.Tick(context.Background())
	assert.Equal(t, domain.StateSymbolResolved, o.State)
	assert.Len(t, c.Active(), 1)
}

func TestCancelActiveCancelsWorkingOrders(t *testing.T) {
	orders := &fakeOrders{}
	c := newTestCoordinator(&fakeChains{}, orders, fakeLedger{})

	unsubmitted := c.Enqueue(domain.OrderParams{Account: "ACC1"})

	working := c.Enqueue(domain.OrderParams{Account: "ACC1"})
	working.State = domain.StateAckedPolling
	working.BrokerOrderID = "42"
	working.Status = domain.StatusLive

	c.CancelActive(context.Background())

	assert.Equal(t, []string{"42"}, orders.cancels, "only submitted orders hit the venue")
	assert.Equal(t, domain.StatusCancelled, working.Status)

	active := c.Active()
	require.Len(t, active, 1, "the unsubmitted order stays for a future run")
	assert.Equal(t, unsubmitted.ID, active[0].ID)
}

func TestCancelActiveKeepsOrderOnVenueFailure(t *testing.T) {
	orders := &fakeOrders{cancelErr: errors.New("venue down")}
	c := newTestCoordinator(&fakeChains{}, orders, fakeLedger{})

	working := c.Enqueue(domain.OrderParams{Account: "ACC1"})
	working.State = domain.StateAckedPolling
	working.BrokerOrderID = "42"
	working.Status = domain.StatusLive

	c.CancelActive(context.Background())

	assert.Equal(t, domain.StatusLive, working.Status, "failed cancel leaves venue state authoritative")
	assert.Len(t, c.Active(), 1)
}

func TestOrderDefaults(t *testing.T) {
	o := domain.NewOrder(domain.OrderParams{Account: "ACC1", Underlying: "SPX"})

	assert.Equal(t, "SPXW", o.Underlying, "SPX maps to the weekly root")
	assert.Equal(t, 1, o.Quantity)
	assert.InDelta(t, 0.4, o.LimitDistance, 1e-9)
	assert.InDelta(t, 0.1, o.LimitStep, 1e-9)
	assert.Equal(t, 5*time.Second, o.WaitBeforeAdjust)
	assert.Equal(t, domain.StateNeedsChain, o.State)
	assert.NotEmpty(t, o.ID)
}

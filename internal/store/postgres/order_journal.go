package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/optionloop/tastybot/internal/domain"
)

// OrderJournal appends one row per order milestone: submission, each
// re-price, and the terminal status. It implements coordinator.Journal.
type OrderJournal struct {
	pool *pgxpool.Pool
}

// NewOrderJournal creates an OrderJournal backed by the given pool.
func NewOrderJournal(pool *pgxpool.Pool) *OrderJournal {
	return &OrderJournal{pool: pool}
}

const insertEvent = `
	INSERT INTO order_events (
		id, order_id, broker_order_id, event, account, underlying,
		symbol, strike, option_type, action, quantity,
		limit_price, limit_distance, status, recorded_at
	) VALUES (
		$1, $2, $3, $4, $5, $6,
		$7, $8, $9, $10, $11,
		$12, $13, $14, NOW()
	)`

func (j *OrderJournal) record(ctx context.Context, event string, o *domain.Order, status domain.OrderStatus) error {
	_, err := j.pool.Exec(ctx, insertEvent,
		uuid.New().String(), o.ID, o.BrokerOrderID, event, o.Account, o.Underlying,
		o.Symbol, o.Strike, string(o.OptionType), string(o.Action), o.Quantity,
		o.LimitPrice, o.LimitDistance, string(status),
	)
	if err != nil {
		return fmt.Errorf("postgres: journal %s for order %s: %w", event, o.ID, err)
	}
	return nil
}

// RecordSubmission journals the initial submission.
func (j *OrderJournal) RecordSubmission(ctx context.Context, o *domain.Order, receipt domain.SubmitReceipt) error {
	return j.record(ctx, "submitted", o, receipt.Status)
}

// RecordReplacement journals a re-price.
func (j *OrderJournal) RecordReplacement(ctx context.Context, o *domain.Order, receipt domain.SubmitReceipt) error {
	return j.record(ctx, "replaced", o, receipt.Status)
}

// RecordTerminal journals the terminal status that retired the order.
func (j *OrderJournal) RecordTerminal(ctx context.Context, o *domain.Order) error {
	return j.record(ctx, "terminal", o, o.Status)
}

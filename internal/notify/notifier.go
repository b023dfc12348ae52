// Package notify pushes order milestones to operator channels. Alerts fan out
// to every configured sender (Telegram, Discord) and can be filtered by event
// type so operators only hear about the milestones they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/optionloop/tastybot/internal/domain"
)

// Event types accepted by the filter.
const (
	EventSubmitted = "submitted"
	EventFilled    = "filled"
	EventRetired   = "retired"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier formats order milestones and fans them out to all senders. A sender
// failure is logged and never propagated; alerting is best-effort.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// New creates a Notifier. Only events named in the events slice are delivered;
// an empty slice allows everything.
func New(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// OrderSubmitted alerts that an order reached the venue.
func (n *Notifier) OrderSubmitted(ctx context.Context, o *domain.Order) {
	n.send(ctx, EventSubmitted, "Order submitted", fmt.Sprintf(
		"%s %dx %s @ %.2f (%s)",
		o.Action, o.Quantity, o.Symbol, o.LimitPrice, o.Underlying,
	))
}

// OrderFilled alerts that an order filled.
func (n *Notifier) OrderFilled(ctx context.Context, o *domain.Order) {
	n.send(ctx, EventFilled, "Order filled", fmt.Sprintf(
		"%s %dx %s @ %.2f after %s",
		o.Action, o.Quantity, o.Symbol, o.LimitPrice,
		time.Since(o.SubmittedAt).Round(time.Second),
	))
}

// OrderRetired alerts that an order left the active set without filling.
func (n *Notifier) OrderRetired(ctx context.Context, o *domain.Order) {
	n.send(ctx, EventRetired, "Order "+strings.ToLower(string(o.Status)), fmt.Sprintf(
		"%s %dx %s, last limit %.2f",
		o.Action, o.Quantity, o.Symbol, o.LimitPrice,
	))
}

func (n *Notifier) send(ctx context.Context, event, title, message string) {
	if len(n.senders) == 0 {
		return
	}
	if len(n.events) > 0 && !n.events[event] {
		return
	}
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.Warn("alert delivery failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
}

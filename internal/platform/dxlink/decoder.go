package dxlink

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/optionloop/tastybot/internal/domain"
)

// Tuple arities for the compact feed format, excluding the leading type tag.
const (
	quoteFieldCount  = 5 // symbol, bid, ask, bidSize, askSize
	greeksFieldCount = 7 // symbol, volatility, delta, gamma, theta, rho, vega
)

// DecodeFeedData parses the data payload of a FEED_DATA frame into typed
// market events. The payload is a sequence of back-to-back tagged tuples;
// tuples of different tags may be interleaved. A malformed tuple is dropped
// with a warning and scanning resumes after the point of failure, so one bad
// tuple never costs the rest of the batch.
func DecodeFeedData(data json.RawMessage, at time.Time, logger *slog.Logger) []domain.MarketEvent {
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		logger.Warn("feed data payload is not an array", slog.String("error", err.Error()))
		return nil
	}

	// The compact format groups tuples into nested arrays per event type;
	// splice them into one flat sequence before scanning.
	flat := make([]any, 0, len(raw))
	for _, item := range raw {
		if nested, ok := item.([]any); ok {
			flat = append(flat, nested...)
			continue
		}
		flat = append(flat, item)
	}

	return decodeSequence(flat, at, logger)
}

func decodeSequence(seq []any, at time.Time, logger *slog.Logger) []domain.MarketEvent {
	var events []domain.MarketEvent

	i := 0
	for i < len(seq) {
		tag, ok := seq[i].(string)
		if !ok {
			i++
			continue
		}

		var arity int
		switch tag {
		case "Quote":
			arity = quoteFieldCount
		case "Greeks":
			arity = greeksFieldCount
		default:
			i++
			continue
		}

		if i+arity >= len(seq) {
			logger.Warn("truncated feed tuple discarded",
				slog.String("tag", tag),
				slog.Int("have", len(seq)-i-1),
				slog.Int("want", arity),
			)
			return events
		}

		ev, failedAt, err := decodeTuple(tag, seq[i+1:i+1+arity], at)
		if err != nil {
			logger.Warn("malformed feed tuple discarded",
				slog.String("tag", tag),
				slog.String("error", err.Error()),
			)
			// Resume after the offending field.
			i = i + 1 + failedAt + 1
			continue
		}

		events = append(events, ev)
		i += 1 + arity
	}

	return events
}

// decodeTuple parses one tuple's fields. On failure it returns the offset of
// the offending field within fields.
func decodeTuple(tag string, fields []any, at time.Time) (domain.MarketEvent, int, error) {
	symbol, ok := fields[0].(string)
	if !ok {
		return nil, 0, fmt.Errorf("symbol is %T, want string", fields[0])
	}

	nums := make([]*float64, len(fields)-1)
	for i, f := range fields[1:] {
		v, err := numericField(f)
		if err != nil {
			return nil, i + 1, fmt.Errorf("field %d: %w", i+1, err)
		}
		nums[i] = v
	}

	if tag == "Quote" {
		obs := domain.PriceObservation{
			At:      at,
			Bid:     nums[0],
			Ask:     nums[1],
			BidSize: nums[2],
			AskSize: nums[3],
		}
		// No independent trade-price source on this feed.
		switch {
		case obs.Ask != nil:
			obs.Last = obs.Ask
		case obs.Bid != nil:
			obs.Last = obs.Bid
		}
		return domain.QuoteUpdate{Symbol: symbol, Observation: obs}, 0, nil
	}

	return domain.GreeksUpdate{
		Symbol: symbol,
		Observation: domain.GreeksObservation{
			At:         at,
			Volatility: nums[0],
			Delta:      nums[1],
			Gamma:      nums[2],
			Theta:      nums[3],
			Rho:        nums[4],
			Vega:       nums[5],
		},
	}, 0, nil
}

// numericField converts a decoded JSON value to an optional float. The feed
// encodes absent values as the literal "NaN".
func numericField(v any) (*float64, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case float64:
		return &t, nil
	case string:
		if t == "NaN" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil, fmt.Errorf("unparsable numeric %q", t)
		}
		return &f, nil
	default:
		return nil, fmt.Errorf("unexpected value type %T", v)
	}
}

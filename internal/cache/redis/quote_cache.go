package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/optionloop/tastybot/internal/domain"
)

// QuoteCache stores each instrument's latest quote as a hash at
// "quote:{streamerSymbol}" with bid, ask, last, and a Unix-nanosecond
// timestamp. Absent sides are written as empty fields.
type QuoteCache struct {
	client *Client
	ttl    time.Duration
}

// NewQuoteCache creates a QuoteCache backed by the given client. Entries
// expire after ttl; ttl <= 0 disables expiry.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	return &QuoteCache{client: c, ttl: ttl}
}

func quoteKey(streamerSymbol string) string {
	return "quote:" + streamerSymbol
}

// SetQuote writes the latest observation for the instrument.
func (qc *QuoteCache) SetQuote(ctx context.Context, streamerSymbol string, obs domain.PriceObservation) error {
	key := quoteKey(streamerSymbol)
	fields := map[string]interface{}{
		"bid":  formatSide(obs.Bid),
		"ask":  formatSide(obs.Ask),
		"last": formatSide(obs.Last),
		"ts":   strconv.FormatInt(obs.At.UnixNano(), 10),
	}
	pipe := qc.client.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	if qc.ttl > 0 {
		pipe.Expire(ctx, key, qc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	return nil
}

// GetQuote reads back the cached observation. It returns domain.ErrNotFound
// when the instrument has never been cached or the entry expired.
func (qc *QuoteCache) GetQuote(ctx context.Context, streamerSymbol string) (domain.PriceObservation, error) {
	vals, err := qc.client.rdb.HGetAll(ctx, quoteKey(streamerSymbol)).Result()
	if err != nil {
		return domain.PriceObservation{}, err
	}
	if len(vals) == 0 {
		return domain.PriceObservation{}, domain.ErrNotFound
	}

	obs := domain.PriceObservation{
		Bid:  parseSide(vals["bid"]),
		Ask:  parseSide(vals["ask"]),
		Last: parseSide(vals["last"]),
	}
	if ts, err := strconv.ParseInt(vals["ts"], 10, 64); err == nil {
		obs.At = time.Unix(0, ts)
	}
	return obs, nil
}

func formatSide(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func parseSide(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

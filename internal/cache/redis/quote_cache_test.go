package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optionloop/tastybot/internal/domain"
)

func testCache(t *testing.T, ttl time.Duration) (*QuoteCache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client, err := New(context.Background(), ClientConfig{Addr: srv.Addr(), PoolSize: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewQuoteCache(client, ttl), srv
}

func TestQuoteRoundTrip(t *testing.T) {
	cache, _ := testCache(t, 0)
	ctx := context.Background()

	at := time.Now()
	in := domain.PriceObservation{
		At:  at,
		Bid: domain.Float(5999.5),
		Ask: domain.Float(6000.5),
	}
	require.NoError(t, cache.SetQuote(ctx, "SPX", in))

	out, err := cache.GetQuote(ctx, "SPX")
	require.NoError(t, err)
	require.NotNil(t, out.Bid)
	require.NotNil(t, out.Ask)
	assert.Equal(t, 5999.5, *out.Bid)
	assert.Equal(t, 6000.5, *out.Ask)
	assert.Nil(t, out.Last, "absent sides stay absent through the cache")
	assert.Equal(t, at.UnixNano(), out.At.UnixNano())
}

func TestGetQuoteMissing(t *testing.T) {
	cache, _ := testCache(t, 0)

	_, err := cache.GetQuote(context.Background(), ".SPXW240105C5900")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestQuoteOverwriteKeepsLatest(t *testing.T) {
	cache, _ := testCache(t, 0)
	ctx := context.Background()

	require.NoError(t, cache.SetQuote(ctx, "SPX", domain.PriceObservation{
		At: time.Now(), Bid: domain.Float(100), Ask: domain.Float(101),
	}))
	require.NoError(t, cache.SetQuote(ctx, "SPX", domain.PriceObservation{
		At: time.Now(), Bid: domain.Float(102), Ask: domain.Float(103), Last: domain.Float(103),
	}))

	out, err := cache.GetQuote(ctx, "SPX")
	require.NoError(t, err)
	assert.Equal(t, 102.0, *out.Bid)
	require.NotNil(t, out.Last)
	assert.Equal(t, 103.0, *out.Last)
}

func TestQuoteExpiry(t *testing.T) {
	cache, srv := testCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.SetQuote(ctx, "SPX", domain.PriceObservation{
		At: time.Now(), Bid: domain.Float(100), Ask: domain.Float(101),
	}))
	_, err := cache.GetQuote(ctx, "SPX")
	require.NoError(t, err)

	srv.FastForward(2 * time.Minute)

	_, err = cache.GetQuote(ctx, "SPX")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

package billing

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/runmeter/pkg/logger"
)

const priceCachePrefix = "runmeter:price:"

// CachedPriceProvider serves GetPrice from Redis and delegates everything
// else to the wrapped provider. Redis failures fall through to the provider.
type CachedPriceProvider struct {
	Provider
	rdb redis.UniversalClient
	ttl time.Duration
	log *slog.Logger
}

// NewCachedPriceProvider wraps p; a non-positive ttl defaults to one hour.
func NewCachedPriceProvider(p Provider, rdb redis.UniversalClient, ttl time.Duration, log *slog.Logger) *CachedPriceProvider {
	if p == nil || rdb == nil {
		panic("billing: price cache requires provider and redis client")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if log == nil {
		log = logger.Discard()
	}
	return &CachedPriceProvider{Provider: p, rdb: rdb, ttl: ttl, log: log}
}

func (c *CachedPriceProvider) GetPrice(ctx context.Context, priceID string) (*Price, error) {
	key := priceCachePrefix + priceID

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p Price
		if jerr := json.Unmarshal(raw, &p); jerr == nil {
			return &p, nil
		}
		c.log.WarnContext(ctx, "discarding corrupt cached price", logger.PriceID(priceID))
	case !errors.Is(err, redis.Nil):
		c.log.WarnContext(ctx, "price cache unavailable", logger.PriceID(priceID), logger.Error(err))
	}

	p, err := c.Provider.GetPrice(ctx, priceID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(p); err == nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.log.WarnContext(ctx, "failed to cache price", logger.PriceID(priceID), logger.Error(err))
		}
	}
	return p, nil
}

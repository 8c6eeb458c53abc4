// Package cache stores finished simulation results keyed by a fingerprint of
// their inputs, either in process or in Redis.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sawpanic/simcore/internal/backtest/sim"
)

// Store is a byte-oriented key/value cache with expiry
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

const keyPrefix = "simcore:run:"

// ResultCache encodes simulation results as JSON on top of a Store
type ResultCache struct {
	store Store
	ttl   time.Duration
}

// NewResultCache wraps store; ttl <= 0 keeps entries until evicted
func NewResultCache(store Store, ttl time.Duration) *ResultCache {
	return &ResultCache{store: store, ttl: ttl}
}

// Get returns the cached result for a fingerprint
func (c *ResultCache) Get(ctx context.Context, fingerprint string) (*sim.Result, bool, error) {
	data, found, err := c.store.Get(ctx, keyPrefix+fingerprint)
	if err != nil || !found {
		return nil, false, err
	}
	var res sim.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached result: %w", err)
	}
	return &res, true, nil
}

// Put stores res under fingerprint
func (c *ResultCache) Put(ctx context.Context, fingerprint string, res *sim.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return c.store.Set(ctx, keyPrefix+fingerprint, data, c.ttl)
}

// Invalidate drops the entry for fingerprint
func (c *ResultCache) Invalidate(ctx context.Context, fingerprint string) error {
	return c.store.Delete(ctx, keyPrefix+fingerprint)
}

// Fingerprint hashes a configuration together with its inputs. Identical
// inputs always give the same fingerprint since runs are deterministic.
func Fingerprint(cfg sim.Config, prices map[string][]sim.PriceBar, signals map[string][]sim.Signal) (string, error) {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, v := range []interface{}{cfg.WithDefaults(), prices, signals} {
		if err := enc.Encode(v); err != nil {
			return "", fmt.Errorf("fingerprint: %w", err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

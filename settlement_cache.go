package x402

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// DefaultSettlementCacheTTL is how long a final settlement outcome is remembered
const DefaultSettlementCacheTTL = 10 * time.Minute

// SettlementCache guarantees at most one broadcast per settlement key.
// Concurrent settles for one key wait for the first; final outcomes
// (success or failure after broadcast) are replayed until they expire.
type SettlementCache struct {
	mu       sync.Mutex
	results  map[string]cachedSettlement
	inFlight map[string]chan struct{}
	ttl      time.Duration
	now      func() time.Time
}

type cachedSettlement struct {
	response SettleResponse
	expires  time.Time
}

// SettlementStatus is the outcome of Acquire
type SettlementStatus int

const (
	// StatusAcquired means the caller owns the key and must Release it
	StatusAcquired SettlementStatus = iota
	// StatusCached means a final outcome is already known
	StatusCached
	// StatusInFlight means another caller is settling the key
	StatusInFlight
)

// NewSettlementCache creates a cache remembering final outcomes for ttl
func NewSettlementCache(ttl time.Duration) *SettlementCache {
	if ttl <= 0 {
		ttl = DefaultSettlementCacheTTL
	}
	return &SettlementCache{
		results:  make(map[string]cachedSettlement),
		inFlight: make(map[string]chan struct{}),
		ttl:      ttl,
		now:      time.Now,
	}
}

// PayloadSettlementKey derives a key from the whole payload for mechanisms
// that do not implement SettlementKeyer.
func PayloadSettlementKey(payload PaymentPayload) (string, error) {
	data, err := json.Marshal(struct {
		Network Network                `json:"network"`
		Scheme  string                 `json:"scheme"`
		Payload map[string]interface{} `json:"payload"`
	}{payload.Network(), payload.Scheme(), payload.Payload})
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// Acquire checks the cache and claims key when nobody else holds it.
// With StatusCached the response is returned; with StatusInFlight the
// returned channel closes when the current holder releases the key.
func (c *SettlementCache) Acquire(key string) (SettlementStatus, *SettleResponse, <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.results[key]; ok {
		if c.now().Before(cached.expires) {
			resp := cached.response
			return StatusCached, &resp, nil
		}
		delete(c.results, key)
	}

	if done, ok := c.inFlight[key]; ok {
		return StatusInFlight, nil, done
	}

	c.inFlight[key] = make(chan struct{})
	return StatusAcquired, nil, nil
}

// Wait blocks until the holder of key releases it, then returns the cached
// outcome or nil when the holder did not record one.
func (c *SettlementCache) Wait(ctx context.Context, key string, done <-chan struct{}) (*SettleResponse, error) {
	select {
	case <-done:
		return c.Get(key), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns the cached outcome for key, if any
func (c *SettlementCache) Get(key string) *SettleResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	cached, ok := c.results[key]
	if !ok {
		return nil
	}
	if !c.now().Before(cached.expires) {
		delete(c.results, key)
		return nil
	}
	resp := cached.response
	return &resp
}

// Release gives up key. A non-nil response is remembered and replayed to later
// callers; nil lets the next caller try again.
func (c *SettlementCache) Release(key string, response *SettleResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if response != nil {
		c.results[key] = cachedSettlement{response: *response, expires: now.Add(c.ttl)}
	}

	if done, ok := c.inFlight[key]; ok {
		delete(c.inFlight, key)
		close(done)
	}

	for k, cached := range c.results {
		if !now.Before(cached.expires) {
			delete(c.results, k)
		}
	}
}

// IsFinal reports whether a settle outcome must be remembered
func IsFinal(resp SettleResponse) bool {
	return resp.Success || IsPostBroadcastFailure(resp.ErrorReason)
}

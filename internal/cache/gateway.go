package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelmint/backend/internal/config"
	"github.com/modelmint/backend/pkg/logger"
)

// ErrCompute wraps a failure of the compute function. No debit has happened
// and no cache entry was written when this is returned.
var ErrCompute = errors.New("compute failed")

// VersionSource yields the current resource version for a user and kind.
type VersionSource interface {
	Current(ctx context.Context, userID uint, kind string) (int64, error)
}

// Biller is the usage ledger as seen by the gateway: a conditional debit and
// a balance read for hit responses.
type Biller interface {
	Debit(ctx context.Context, userID uint, cost int64, reason string) (int64, error)
	Balance(ctx context.Context, userID uint) (int64, error)
}

// ComputeFunc produces the payload on a cache miss. It is the expensive call
// the gateway exists to avoid repeating.
type ComputeFunc func(ctx context.Context) (json.RawMessage, error)

// Result of a gateway lookup.
type Result struct {
	Payload json.RawMessage `json:"payload"`
	Hit     bool            `json:"hit"`
	Charged bool            `json:"charged"`
	Balance int64           `json:"balance"`
}

// Gateway wraps expensive reads with a versioned cache key. Hits skip both
// recomputation and billing; concurrent misses on one key collapse into a
// single computation and a single debit.
type Gateway struct {
	store    Store
	versions VersionSource
	biller   Biller
	ttl      time.Duration
	lockTTL  time.Duration
	failOpen bool
}

func NewGateway(store Store, versions VersionSource, biller Biller, cfg *config.CacheConfig) *Gateway {
	g := &Gateway{
		store:    store,
		versions: versions,
		biller:   biller,
		ttl:      cfg.TTL,
		lockTTL:  cfg.LockTTL,
		failOpen: cfg.FailOpen,
	}
	if g.failOpen {
		logger.Warn().Msg("cache gateway is fail-open: a cache outage disables per-key locking and may duplicate charges")
	}
	return g
}

// GetOrCompute implements the metered read path. reason names the endpoint
// for the ledger entry; cost 0 skips billing entirely (free endpoints still
// benefit from the cache).
func (g *Gateway) GetOrCompute(
	ctx context.Context,
	userID uint,
	kind string,
	params interface{},
	cost int64,
	reason string,
	compute ComputeFunc,
) (*Result, error) {
	version, err := g.versions.Current(ctx, userID, kind)
	if err != nil {
		return nil, err
	}

	key, err := EntryKey(userID, kind, version, params)
	if err != nil {
		return nil, err
	}

	payload, err := g.store.Get(ctx, key)
	switch {
	case err == nil:
		return g.hit(ctx, userID, payload)
	case errors.Is(err, ErrStoreUnavailable):
		return g.degraded(ctx, userID, cost, reason, compute, err)
	case !errors.Is(err, ErrMiss):
		return nil, err
	}

	return g.miss(ctx, userID, key, cost, reason, compute)
}

func (g *Gateway) hit(ctx context.Context, userID uint, payload []byte) (*Result, error) {
	balance, err := g.biller.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Result{Payload: payload, Hit: true, Balance: balance}, nil
}

// miss serializes concurrent identical requests behind a per-key lock: the
// winner computes, debits, and stores; losers wait for the entry to appear
// and are served without a charge.
func (g *Gateway) miss(
	ctx context.Context,
	userID uint,
	key string,
	cost int64,
	reason string,
	compute ComputeFunc,
) (*Result, error) {
	lockKey := key + ":lock"
	deadline := time.Now().Add(g.lockTTL)

	for {
		acquired, err := g.store.SetNX(ctx, lockKey, []byte("1"), g.lockTTL)
		if errors.Is(err, ErrStoreUnavailable) {
			return g.degraded(ctx, userID, cost, reason, compute, err)
		}
		if err != nil {
			return nil, err
		}

		if acquired {
			return g.computeLocked(ctx, userID, key, lockKey, cost, reason, compute)
		}

		res, retry, err := g.waitForWinner(ctx, userID, key, lockKey, deadline)
		if err != nil {
			return nil, err
		}
		if res != nil {
			return res, nil
		}
		if !retry {
			return nil, fmt.Errorf("%w: timed out waiting for concurrent computation", ErrCompute)
		}
	}
}

func (g *Gateway) computeLocked(
	ctx context.Context,
	userID uint,
	key, lockKey string,
	cost int64,
	reason string,
	compute ComputeFunc,
) (*Result, error) {
	defer func() {
		if err := g.store.Del(context.Background(), lockKey); err != nil {
			logger.Warn().Err(err).Msg("failed to release cache compute lock")
		}
	}()

	// A racing request may have stored the entry between our Get and the
	// lock acquisition.
	if payload, err := g.store.Get(ctx, key); err == nil {
		return g.hit(ctx, userID, payload)
	}

	payload, err := compute(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompute, err)
	}

	balance, charged, err := g.charge(ctx, userID, cost, reason)
	if err != nil {
		return nil, err
	}

	if err := g.store.Set(ctx, key, payload, g.ttl); err != nil {
		// The caller was already charged for real work; serve the result and
		// let the next request recompute.
		logger.Warn().Err(err).Msg("cache store failed after compute; entry not cached")
	}

	return &Result{Payload: payload, Charged: charged, Balance: balance}, nil
}

// waitForWinner polls for the winner's entry. Returns retry=true when the
// lock disappeared without an entry (winner failed), so the caller may take
// the lock itself.
func (g *Gateway) waitForWinner(
	ctx context.Context,
	userID uint,
	key, lockKey string,
	deadline time.Time,
) (*Result, bool, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-ticker.C:
		}

		if payload, err := g.store.Get(ctx, key); err == nil {
			res, err := g.hit(ctx, userID, payload)
			return res, false, err
		}

		if _, err := g.store.Get(ctx, lockKey); errors.Is(err, ErrMiss) {
			return nil, true, nil
		}

		if time.Now().After(deadline) {
			return nil, false, nil
		}
	}
}

// degraded handles a cache-store outage. Fail-open computes with a debit and
// accepts that concurrent identical requests can each be charged while the
// store is down; fail-closed refuses the request.
func (g *Gateway) degraded(
	ctx context.Context,
	userID uint,
	cost int64,
	reason string,
	compute ComputeFunc,
	cause error,
) (*Result, error) {
	if !g.failOpen {
		return nil, cause
	}

	logger.Warn().Err(cause).Msg("cache store unavailable; computing without cache or per-key lock")

	payload, err := compute(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompute, err)
	}

	balance, charged, err := g.charge(ctx, userID, cost, reason)
	if err != nil {
		return nil, err
	}

	return &Result{Payload: payload, Charged: charged, Balance: balance}, nil
}

func (g *Gateway) charge(ctx context.Context, userID uint, cost int64, reason string) (int64, bool, error) {
	if cost <= 0 {
		balance, err := g.biller.Balance(ctx, userID)
		return balance, false, err
	}
	balance, err := g.biller.Debit(ctx, userID, cost, reason)
	if err != nil {
		return 0, false, err
	}
	return balance, true, nil
}

package rbac

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/warden/pkg/observability"
)

type codeSet map[string]struct{}

// PermissionChecker resolves a user's effective permission codes and keeps
// them in an expiring LRU keyed by user ID.
//
// Invalidations bump a generation counter. A load only populates the cache if
// neither its user's generation nor the global one moved while it queried, so
// a set read before a role change is never cached after it.
type PermissionChecker struct {
	store   *Store
	cache   *lru.LRU[string, codeSet]
	metrics *observability.Metrics

	mu      sync.Mutex
	global  uint64
	gens    map[string]uint64
	maxGens int
}

// NewPermissionChecker creates a checker. size <= 0 falls back to 1000
// entries; ttl <= 0 keeps entries until evicted or invalidated.
func NewPermissionChecker(store *Store, size int, ttl time.Duration, metrics *observability.Metrics) *PermissionChecker {
	if size <= 0 {
		size = 1000
	}
	return &PermissionChecker{
		store:   store,
		cache:   lru.NewLRU[string, codeSet](size, nil, ttl),
		metrics: metrics,
		gens:    make(map[string]uint64),
		maxGens: size,
	}
}

type generation struct {
	global, user uint64
}

func (pc *PermissionChecker) snapshot(userID string) generation {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return generation{global: pc.global, user: pc.gens[userID]}
}

// cacheIfCurrent caches set unless an invalidation happened since gen was taken
func (pc *PermissionChecker) cacheIfCurrent(userID string, set codeSet, gen generation) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.global != gen.global || pc.gens[userID] != gen.user {
		return
	}
	pc.cache.Add(userID, set)
}

func (pc *PermissionChecker) permissions(ctx context.Context, userID string) (codeSet, error) {
	if set, ok := pc.cache.Get(userID); ok {
		pc.metrics.RecordPermissionCache(true)
		return set, nil
	}
	pc.metrics.RecordPermissionCache(false)

	gen := pc.snapshot(userID)
	codes, err := pc.store.UserPermissionCodes(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve permissions: %w", err)
	}

	set := make(codeSet, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	pc.cacheIfCurrent(userID, set, gen)
	return set, nil
}

// Permissions returns the user's effective permission codes
func (pc *PermissionChecker) Permissions(ctx context.Context, userID string) ([]string, error) {
	set, err := pc.permissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out, nil
}

// HasPermissions reports whether the user holds every one of codes
func (pc *PermissionChecker) HasPermissions(ctx context.Context, userID string, codes ...string) (bool, error) {
	set, err := pc.permissions(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, c := range codes {
		if _, ok := set[c]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// HasAnyRole reports whether the user has at least one of names
func (pc *PermissionChecker) HasAnyRole(ctx context.Context, userID string, names ...string) (bool, error) {
	roles, err := pc.store.UserRoleNames(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to resolve roles: %w", err)
	}
	for _, have := range roles {
		for _, want := range names {
			if have == want {
				return true, nil
			}
		}
	}
	return false, nil
}

// InvalidateUser drops the cached set of one user. Call after the user's
// roles or direct permissions change.
func (pc *PermissionChecker) InvalidateUser(userID string) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	// the counters only need to outlive in-flight loads; a global bump
	// covers those when the map is reset
	if len(pc.gens) >= pc.maxGens {
		pc.gens = make(map[string]uint64)
		pc.global++
	}
	pc.gens[userID]++
	pc.cache.Remove(userID)
}

// InvalidateAll empties the cache. Call after a role's permissions change or
// a role or permission is deleted.
func (pc *PermissionChecker) InvalidateAll() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.global++
	pc.gens = make(map[string]uint64)
	pc.cache.Purge()
}

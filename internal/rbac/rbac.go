// Package rbac resolves a user's effective permission set as the union of
// their role's permissions and any ad-hoc user_roles grants, cached
// in-process with a short TTL so the hot request path does not hit the
// database on every permission check.
package rbac

import (
	"context"
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

// PermissionSource loads a user's permission names from the relational
// store: the union of their primary role's permissions and any additional
// role grants in user_roles.
type PermissionSource interface {
	PermissionsForUser(ctx context.Context, userID string) ([]string, error)
}

type cacheEntry struct {
	permissions map[string]bool
	expiresAt   time.Time
}

// Resolver answers permission checks backed by PermissionSource, with a
// per-user TTL cache to avoid a DB round trip on every request.
type Resolver struct {
	source PermissionSource
	ttl    time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// New creates a Resolver. ttl <= 0 uses the 5-minute default from the
// permission-check design.
func New(source PermissionSource, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Resolver{
		source: source,
		ttl:    ttl,
		cache:  make(map[string]cacheEntry),
	}
}

// HasPermission reports whether the user holds the named permission,
// resolving and caching their full permission set on a cache miss or
// expiry.
func (r *Resolver) HasPermission(ctx context.Context, userID, permission string) (bool, error) {
	perms, err := r.permissionsFor(ctx, userID)
	if err != nil {
		return false, err
	}
	return perms[permission], nil
}

func (r *Resolver) permissionsFor(ctx context.Context, userID string) (map[string]bool, error) {
	now := time.Now()

	r.mu.RLock()
	entry, ok := r.cache[userID]
	r.mu.RUnlock()
	if ok && entry.expiresAt.After(now) {
		return entry.permissions, nil
	}

	names, err := r.source.PermissionsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	perms := make(map[string]bool, len(names))
	for _, n := range names {
		perms[n] = true
	}

	r.mu.Lock()
	r.cache[userID] = cacheEntry{permissions: perms, expiresAt: now.Add(r.ttl)}
	r.mu.Unlock()

	return perms, nil
}

// Invalidate evicts a single user's cached permission set, e.g. after a
// role or user_roles mutation for that user.
func (r *Resolver) Invalidate(userID string) {
	r.mu.Lock()
	delete(r.cache, userID)
	r.mu.Unlock()
}

// InvalidateAll evicts every cached entry, e.g. after a role-level
// permission mutation that could affect any number of users.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	r.cache = make(map[string]cacheEntry)
	r.mu.Unlock()
}

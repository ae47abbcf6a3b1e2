// Package cache decorates a RemoteStore with a TTL cache of profiles, so repeated
// conversation refreshes do not re-read unchanged counterpart profiles.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/PaulBabatuyi/nearchat/internal/messaging"
	"github.com/c-pro/geche"
)

// Profiles serves ProfilesByIDs from a TTL cache and delegates every other call.
type Profiles struct {
	messaging.RemoteStore

	ctx   context.Context
	ttl   time.Duration
	sweep time.Duration

	mu    sync.RWMutex
	cache geche.Geche[string, messaging.Profile]
	stop  context.CancelFunc
}

// NewProfiles wraps store. Entries expire after ttl; expired entries are swept every
// ttl/2 until ctx is done.
func NewProfiles(ctx context.Context, store messaging.RemoteStore, ttl time.Duration) *Profiles {
	sweep := ttl / 2
	if sweep <= 0 {
		sweep = time.Second
	}
	p := &Profiles{RemoteStore: store, ctx: ctx, ttl: ttl, sweep: sweep}
	p.cache, p.stop = p.newCache()
	return p
}

// newCache builds an empty cache whose sweeper stops with ctx or on the next Purge.
func (p *Profiles) newCache() (geche.Geche[string, messaging.Profile], context.CancelFunc) {
	ctx, cancel := context.WithCancel(p.ctx)
	return geche.NewMapTTLCache[string, messaging.Profile](ctx, p.ttl, p.sweep), cancel
}

func (p *Profiles) current() geche.Geche[string, messaging.Profile] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cache
}

// Wrap returns store unchanged when ttl is not positive.
func Wrap(ctx context.Context, store messaging.RemoteStore, ttl time.Duration) messaging.RemoteStore {
	if ttl <= 0 {
		return store
	}
	return NewProfiles(ctx, store, ttl)
}

// ProfilesByIDs returns cached profiles and fetches only the missing ids in one batch.
func (p *Profiles) ProfilesByIDs(ctx context.Context, ids []string) ([]messaging.Profile, error) {
	cache := p.current()
	out := make([]messaging.Profile, 0, len(ids))
	var missing []string
	for _, id := range ids {
		if prof, err := cache.Get(id); err == nil {
			out = append(out, prof)
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := p.RemoteStore.ProfilesByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	for _, prof := range fetched {
		cache.Set(prof.ID, prof)
		out = append(out, prof)
	}
	return out, nil
}

// Invalidate drops a cached profile, e.g. after a presence change.
func (p *Profiles) Invalidate(id string) {
	_ = p.current().Del(id)
}

// Purge drops every cached profile. It is used when profile change events were lost
// and individual invalidation can no longer be trusted.
func (p *Profiles) Purge() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stop()
	p.cache, p.stop = p.newCache()
}

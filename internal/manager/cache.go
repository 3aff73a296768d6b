package manager

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"inferd/internal/backend"
	"inferd/internal/errs"
)

// Cache holds at most one loaded instance per (backend, model). Loads are
// deduplicated: concurrent first users share one Load call.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]*entry
	group   singleflight.Group

	permits      func(backendName string) int
	maxInstances int
	pub          EventPublisher
	log          zerolog.Logger

	loads   atomic.Uint64
	unloads atomic.Uint64
	lastErr atomic.Value // string
}

// NewCache returns an empty cache. permits may be nil (one permit each);
// maxInstances <= 0 means unbounded.
func NewCache(permits func(string) int, maxInstances int, pub EventPublisher, log zerolog.Logger) *Cache {
	if permits == nil {
		permits = func(string) int { return 1 }
	}
	if pub == nil {
		pub = noopPublisher{}
	}
	return &Cache{
		entries:      make(map[Key]*entry),
		permits:      permits,
		maxInstances: maxInstances,
		pub:          pub,
		log:          log,
	}
}

// Get returns the entry for (b, model), loading it on first use. The load
// runs detached from ctx so an abandoning waiter does not abort it for the
// others; the waiter itself returns Cancelled.
func (c *Cache) Get(ctx context.Context, b backend.Backend, model string) (*entry, error) {
	k := Key{Backend: b.Name(), Model: model}
	if e := c.lookup(k); e != nil {
		return e, nil
	}
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(k.String(), func() (any, error) {
		if e := c.lookup(k); e != nil {
			return e, nil
		}
		return c.load(loadCtx, b, k)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*entry), nil
	case <-ctx.Done():
		return nil, errs.Cancelled(ctx.Err())
	}
}

func (c *Cache) lookup(k Key) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[k]
}

func (c *Cache) load(ctx context.Context, b backend.Backend, k Key) (*entry, error) {
	c.pub.Publish(Event{Name: EventLoadStart, Backend: k.Backend, Model: k.Model})
	c.log.Info().Str("backend", k.Backend).Str("model", k.Model).Msg("loading instance")
	start := time.Now()
	inst, err := b.Load(ctx, k.Model)
	dur := time.Since(start)
	instanceLoadDuration.WithLabelValues(k.Backend).Observe(dur.Seconds())
	if err != nil {
		instanceLoadsTotal.WithLabelValues(k.Backend, "error").Inc()
		c.lastErr.Store(err.Error())
		c.pub.Publish(Event{Name: EventLoadError, Backend: k.Backend, Model: k.Model, Fields: map[string]any{"error": err.Error()}})
		c.log.Warn().Err(err).Str("backend", k.Backend).Str("model", k.Model).Msg("instance load failed")
		if errs.KindOf(err) == errs.KindUnknown {
			err = errs.Generation(err)
		}
		return nil, err
	}
	instanceLoadsTotal.WithLabelValues(k.Backend, "ok").Inc()
	c.loads.Add(1)

	e := newEntry(k, inst, c.permits(k.Backend))
	c.mu.Lock()
	c.entries[k] = e
	victims := c.lruVictimsLocked(k)
	for _, v := range victims {
		delete(c.entries, v.key)
	}
	c.mu.Unlock()

	c.pub.Publish(Event{Name: EventLoadReady, Backend: k.Backend, Model: k.Model, Fields: map[string]any{"duration_ms": dur.Milliseconds()}})
	c.log.Info().Str("backend", k.Backend).Str("model", k.Model).Dur("duration", dur).Msg("instance ready")
	for _, v := range victims {
		c.pub.Publish(Event{Name: EventEvict, Backend: v.key.Backend, Model: v.key.Model})
		go c.retire(v, "lru")
	}
	return e, nil
}

// Entries returns the loaded entries ordered by key.
func (c *Cache) Entries() []*entry {
	c.mu.Lock()
	out := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].key.Backend != out[j].key.Backend {
			return out[i].key.Backend < out[j].key.Backend
		}
		return out[i].key.Model < out[j].key.Model
	})
	return out
}

// Close unloads every entry and waits for in-flight generations to finish
// or ctx to end.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	all := make([]*entry, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, e)
		delete(c.entries, k)
	}
	c.mu.Unlock()
	for _, e := range all {
		go c.retire(e, "shutdown")
	}
	for _, e := range all {
		select {
		case <-e.closed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// LastError returns the last load error message, if any.
func (c *Cache) LastError() string {
	s, _ := c.lastErr.Load().(string)
	return s
}

package manager

import (
	"context"
	"time"
)

// Unload removes the entry for k at once. New requests load a fresh
// instance; queued waiters are moved to it; generations holding a permit
// finish on the old instance, which is closed once they are done. Unload
// waits for that or for ctx, whichever comes first; the close happens
// regardless.
func (c *Cache) Unload(ctx context.Context, k Key) bool {
	c.mu.Lock()
	e := c.entries[k]
	delete(c.entries, k)
	c.mu.Unlock()
	if e == nil {
		return false
	}
	go c.retire(e, "explicit")
	select {
	case <-e.closed:
	case <-ctx.Done():
	}
	return true
}

// Keys returns the loaded keys for model across all backends.
func (c *Cache) Keys(model string) []Key {
	var out []Key
	for _, e := range c.Entries() {
		if e.key.Model == model {
			out = append(out, e.key)
		}
	}
	return out
}

// retire closes the gate, waits for held permits and closes the instance.
// The entry must already be removed from the map.
func (c *Cache) retire(e *entry, reason string) {
	e.state.Store(StateDraining)
	c.pub.Publish(Event{Name: EventUnloadStart, Backend: e.key.Backend, Model: e.key.Model, Fields: map[string]any{"reason": reason}})
	start := time.Now()
	e.gate.Close()
	_ = e.gate.Drain(context.Background())
	if err := e.inst.Close(); err != nil {
		c.log.Warn().Err(err).Str("backend", e.key.Backend).Str("model", e.key.Model).Msg("instance close failed")
	}
	close(e.closed)
	c.unloads.Add(1)
	instanceUnloadsTotal.WithLabelValues(reason).Inc()
	c.pub.Publish(Event{Name: EventUnloadDone, Backend: e.key.Backend, Model: e.key.Model, Fields: map[string]any{"reason": reason}})
	c.log.Info().Str("backend", e.key.Backend).Str("model", e.key.Model).Str("reason", reason).Dur("drain", time.Since(start)).Msg("instance unloaded")
}

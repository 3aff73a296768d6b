package manager

import "sort"

// lruVictimsLocked picks idle entries to drop so the cache holds at most
// maxInstances, least recently used first. keep is never chosen. Busy
// entries are skipped, so the cache may stay over the cap until they idle.
// c.mu must be held.
func (c *Cache) lruVictimsLocked(keep Key) []*entry {
	if c.maxInstances <= 0 || len(c.entries) <= c.maxInstances {
		return nil
	}
	idle := make([]*entry, 0, len(c.entries))
	for k, e := range c.entries {
		if k == keep || !e.gate.Idle() {
			continue
		}
		idle = append(idle, e)
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i].lastUsed.Load() < idle[j].lastUsed.Load() })
	over := len(c.entries) - c.maxInstances
	if over > len(idle) {
		over = len(idle)
	}
	return idle[:over]
}

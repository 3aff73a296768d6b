// Package manager connects backend resolution, the instance cache and the
// agent loop. A request is opened (validated, resolved and loaded) before
// anything is streamed, so every failure up to that point is a plain error
// response. It is structured into small files by concern:
//
//   - manager.go: Manager, Open, Reload, Unload and Close.
//   - session.go: one opened request; gated generation and event relay.
//   - cache.go: load-once instance cache keyed by (backend, model).
//   - gate.go: per-instance permits; waiters queue and are never rejected.
//   - evict.go: LRU victim selection when max_instances is set.
//   - unload.go: explicit unload and drain-then-close retirement.
//   - status_report.go: /status snapshot.
//   - events.go, eventpub_memory.go: lifecycle event publishing.
//
// Permits are held until the backend's stream has closed, so a new
// generation on an instance never starts before the previous one finished.
package manager

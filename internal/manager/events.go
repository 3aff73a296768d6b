package manager

// Lifecycle event names.
const (
	EventLoadStart   = "load_start"
	EventLoadReady   = "load_ready"
	EventLoadError   = "load_error"
	EventEvict       = "evict"
	EventUnloadStart = "unload_start"
	EventUnloadDone  = "unload_done"
	EventReload      = "reload"
)

// Event is an instance or registry lifecycle event. Backend and Model are
// empty for registry-wide events; Fields carries details such as "error",
// "reason" or "duration_ms".
type Event struct {
	Name    string
	Backend string
	Model   string
	Fields  map[string]any
}

// EventPublisher receives events from the manager. Publish runs on the load
// and unload paths, so it must not block or panic.
type EventPublisher interface {
	Publish(Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

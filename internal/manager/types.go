package manager

import (
	"sync/atomic"
	"time"

	"inferd/internal/backend"
)

// State represents the lifecycle state of a cache entry.
type State string

const (
	StateLoading  State = "loading"
	StateReady    State = "ready"
	StateDraining State = "draining"
)

// Key identifies a cache entry.
type Key struct {
	Backend string
	Model   string
}

func (k Key) String() string { return k.Backend + "/" + k.Model }

// entry is one loaded instance and its gate. Fields other than lastUsed and
// state are immutable after creation.
type entry struct {
	key      Key
	inst     backend.Instance
	gate     *Gate
	loadedAt time.Time
	lastUsed atomic.Int64
	state    atomic.Value // State
	// closed is closed once the instance has been released.
	closed chan struct{}
}

func newEntry(k Key, inst backend.Instance, permits int) *entry {
	e := &entry{key: k, inst: inst, gate: NewGate(permits), loadedAt: time.Now(), closed: make(chan struct{})}
	e.touch()
	e.state.Store(StateReady)
	return e
}

func (e *entry) touch() { e.lastUsed.Store(time.Now().UnixNano()) }

func (e *entry) LastUsed() time.Time { return time.Unix(0, e.lastUsed.Load()) }

func (e *entry) State() State { return e.state.Load().(State) }

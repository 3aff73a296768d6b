package registry

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"inferd/internal/common/fsutil"
	"inferd/pkg/types"
)

// Catalog is a live view of the gguf files in one directory.
type Catalog struct {
	dir string
	log zerolog.Logger

	mu     sync.RWMutex
	models []types.Model
	byID   map[string]types.Model
	err    error
}

// NewCatalog scans dir once. A scan error is kept (see Err) rather than
// returned so a missing directory simply yields an empty catalog.
func NewCatalog(dir string, log zerolog.Logger) *Catalog {
	c := &Catalog{dir: dir, log: log}
	_ = c.Refresh()
	return c
}

// Dir returns the configured directory.
func (c *Catalog) Dir() string { return c.dir }

// Refresh rescans the directory.
func (c *Catalog) Refresh() error {
	models, err := LoadDir(c.dir)
	byID := make(map[string]types.Model, len(models))
	for _, m := range models {
		byID[m.ID] = m
	}
	c.mu.Lock()
	c.models, c.byID, c.err = models, byID, err
	c.mu.Unlock()
	if err != nil {
		c.log.Warn().Err(err).Str("dir", c.dir).Msg("catalog scan failed")
	} else {
		c.log.Debug().Str("dir", c.dir).Int("models", len(models)).Msg("catalog scanned")
	}
	return err
}

// Models returns a copy of the current catalog.
func (c *Catalog) Models() []types.Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]types.Model(nil), c.models...)
}

// IDs returns the model ids, sorted.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m.ID)
	}
	return out
}

// Lookup finds a model by id.
func (c *Catalog) Lookup(id string) (types.Model, bool) {
	c.mu.RLock()
	m, ok := c.byID[id]
	c.mu.RUnlock()
	return m, ok
}

// Err returns the last scan error.
func (c *Catalog) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// watchDebounce coalesces bursts of events (e.g., a large file being copied).
const watchDebounce = 250 * time.Millisecond

// Watch rescans the directory whenever a gguf file is created, removed,
// renamed or written. onChange (optional) runs after each rescan. Watch
// blocks until ctx is done.
func (c *Catalog) Watch(ctx context.Context, onChange func()) error {
	dir, err := fsutil.ResolveDir(c.dir)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	c.log.Info().Str("dir", dir).Msg("watching models dir")

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !IsModelFile(filepath.Base(ev.Name)) {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Write) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			_ = c.Refresh()
			if onChange != nil {
				onChange()
			}
		case werr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.log.Warn().Err(werr).Msg("models dir watcher error")
		}
	}
}

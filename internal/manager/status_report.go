package manager

import (
	"time"

	"inferd/pkg/types"
)

// cooldowner is implemented by backends that can be out of rotation.
type cooldowner interface {
	CooldownUntil() time.Time
}

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	now := time.Now()
	resp := types.StatusResponse{
		UptimeSeconds:  int64(now.Sub(m.start).Seconds()),
		ServerTimeUnix: now.Unix(),
		LoadsTotal:     m.cache.loads.Load(),
		UnloadsTotal:   m.cache.unloads.Load(),
		LastError:      m.cache.LastError(),
	}
	for _, b := range m.reg.Backends() {
		caps := b.Capabilities()
		bs := types.BackendStatus{
			Name:         b.Name(),
			Type:         b.Type(),
			Models:       b.Models(),
			Tools:        caps.Tools,
			DefaultModel: caps.DefaultModel,
		}
		if bs.Models == nil {
			bs.Models = []string{}
		}
		if cd, ok := b.(cooldowner); ok {
			if until := cd.CooldownUntil(); !until.IsZero() {
				bs.CooldownUntil = until.Unix()
			}
		}
		resp.Backends = append(resp.Backends, bs)
	}
	entries := m.cache.Entries()
	resp.Instances = make([]types.InstanceStatus, 0, len(entries))
	for _, e := range entries {
		resp.Instances = append(resp.Instances, types.InstanceStatus{
			Backend:  e.key.Backend,
			Model:    e.key.Model,
			State:    string(e.State()),
			Permits:  e.gate.Permits(),
			Inflight: e.gate.Inflight(),
			Waiting:  e.gate.Waiting(),
			LoadedAt: e.loadedAt.Unix(),
			LastUsed: e.LastUsed().Unix(),
		})
	}
	return resp
}

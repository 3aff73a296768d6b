package manager

import "github.com/rs/zerolog"

// LogPublisher writes lifecycle events to a zerolog logger at debug level,
// except load and unload failures which are logged as warnings.
type LogPublisher struct {
	Logger zerolog.Logger
}

func (p LogPublisher) Publish(e Event) {
	ev := p.Logger.Debug()
	if _, failed := e.Fields["error"]; failed {
		ev = p.Logger.Warn()
	}
	ev = ev.Str("event", e.Name).Str("backend", e.Backend).Str("model", e.Model)
	if len(e.Fields) > 0 {
		ev = ev.Fields(e.Fields)
	}
	ev.Msg("manager event")
}

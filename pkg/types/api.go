package types

// ErrorResponse is the error envelope shared by both chat protocols.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes an error.
type ErrorBody struct {
	// Human-readable message.
	// example: model 'ghost-model' not found
	Message string `json:"message" example:"model 'ghost-model' not found"`
	// Error class.
	// example: invalid_request_error
	Type string `json:"type" example:"invalid_request_error"`
	// Machine-readable code.
	// example: model_not_found
	Code string `json:"code" example:"model_not_found"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	// example: healthy
	Status string `json:"status" example:"healthy"`
	// Server time (RFC 3339).
	Timestamp string `json:"timestamp"`
}

// BackendStatus summarizes a registered backend for /status.
type BackendStatus struct {
	// example: local
	Name string `json:"name" example:"local"`
	// Backend type.
	// example: spawn
	Type string `json:"type" example:"spawn"`
	// Currently servable models.
	Models []string `json:"models"`
	// Whether the backend can emit tool calls.
	Tools bool `json:"tools"`
	// Model served for requests without a model, if this backend is a default provider.
	DefaultModel string `json:"default_model,omitempty"`
	// Unix time the backend returns to rotation after a rate limit, if cooling down.
	CooldownUntil int64 `json:"cooldown_until_unix,omitempty"`
}

// InstanceStatus summarizes a loaded instance for /status.
type InstanceStatus struct {
	// example: local
	Backend string `json:"backend" example:"local"`
	// example: llama-3.2-3b-instruct-4bit
	Model string `json:"model" example:"llama-3.2-3b-instruct-4bit"`
	// Lifecycle state (loading, ready, draining).
	// example: ready
	State string `json:"state" example:"ready"`
	// Concurrent generation permits.
	// example: 1
	Permits int `json:"permits" example:"1"`
	// Generations currently holding a permit.
	// example: 1
	Inflight int `json:"inflight" example:"1"`
	// Requests waiting for a permit.
	// example: 0
	Waiting int `json:"waiting" example:"0"`
	// Load completion time (unix seconds).
	// example: 1700000000
	LoadedAt int64 `json:"loaded_at_unix" example:"1700000000"`
	// Last time this instance served a request (unix seconds).
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix" example:"1700000000"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Backends  []BackendStatus  `json:"backends"`
	Instances []InstanceStatus `json:"instances"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Total number of completed instance loads.
	// example: 12
	LoadsTotal uint64 `json:"loads_total" example:"12"`
	// Total number of unloads (explicit or LRU).
	// example: 2
	UnloadsTotal uint64 `json:"unloads_total" example:"2"`
	// Last load error observed, if any.
	LastError string `json:"last_error,omitempty"`
}

// UnloadRequest is the body of POST /unload.
type UnloadRequest struct {
	// Optional backend name; when empty the backend is resolved from the model.
	// example: local
	Backend string `json:"backend,omitempty" example:"local"`
	// example: llama-3.2-3b-instruct-4bit
	Model string `json:"model" example:"llama-3.2-3b-instruct-4bit"`
}

// ReloadResponse is returned by POST /reload.
type ReloadResponse struct {
	// example: reloaded
	Status string `json:"status" example:"reloaded"`
	// Number of resolvable models after the refresh.
	// example: 3
	Models int `json:"models" example:"3"`
	// First refresh error, if any backend failed.
	Error string `json:"error,omitempty"`
}

package httpapi

import (
	"context"

	"inferd/internal/agent"
	"inferd/internal/backend"
	"inferd/internal/manager"
	"inferd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	// Open validates, resolves and loads; its errors are pre-stream errors.
	Open(ctx context.Context, req backend.ChatRequest) (Session, error)
	Models() []backend.ModelRef
	Describe(ref backend.ModelRef) (types.Model, bool)
	Status() types.StatusResponse
	Ready() bool
	Reload(ctx context.Context) error
	Unload(ctx context.Context, backendName, model string) error
}

// Session is one opened chat request.
type Session interface {
	Model() string
	Run(ctx context.Context, emit agent.EmitFunc) error
}

// NewService adapts a manager to Service.
func NewService(m *manager.Manager) Service { return managerService{m} }

type managerService struct{ *manager.Manager }

func (s managerService) Open(ctx context.Context, req backend.ChatRequest) (Session, error) {
	sess, err := s.Manager.Open(ctx, req)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

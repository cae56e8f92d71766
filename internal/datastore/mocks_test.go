package datastore

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/lpontes/benchjs/internal/sandbox"
)

// MockSandbox mocks the Sandbox interface.
type MockSandbox struct {
	mock.Mock
}

func (m *MockSandbox) Start(ctx context.Context, opts sandbox.StartOpts) (*sandbox.Handle, error) {
	args := m.Called(ctx, opts)
	if h := args.Get(0); h != nil {
		return h.(*sandbox.Handle), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSandbox) Stop(ctx context.Context, h *sandbox.Handle) {
	m.Called(ctx, h)
}

func (m *MockSandbox) Exec(ctx context.Context, h *sandbox.Handle, cmd []string) (string, int, error) {
	args := m.Called(ctx, h, cmd)
	return args.String(0), args.Int(1), args.Error(2)
}

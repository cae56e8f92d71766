package runner

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/lpontes/benchjs/internal/load"
	"github.com/lpontes/benchjs/internal/monitor"
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

func (m *MockSandbox) Logs(ctx context.Context, h *sandbox.Handle) (string, error) {
	args := m.Called(ctx, h)
	return args.String(0), args.Error(1)
}

func (m *MockSandbox) FinalStats(ctx context.Context, h *sandbox.Handle) string {
	args := m.Called(ctx, h)
	return args.String(0)
}

func (m *MockSandbox) Stats(ctx context.Context, h *sandbox.Handle) (*sandbox.Stat, error) {
	args := m.Called(ctx, h)
	if s := args.Get(0); s != nil {
		return s.(*sandbox.Stat), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockHealth mocks the Health interface.
type MockHealth struct {
	mock.Mock
}

func (m *MockHealth) WaitReady(ctx context.Context, url string, attempts int) bool {
	args := m.Called(ctx, url, attempts)
	return args.Bool(0)
}

// MockLoad mocks the Load interface.
type MockLoad struct {
	mock.Mock
}

func (m *MockLoad) Run(ctx context.Context, opts load.Opts) (*load.Outcome, error) {
	args := m.Called(ctx, opts)
	if o := args.Get(0); o != nil {
		return o.(*load.Outcome), args.Error(1)
	}
	return nil, args.Error(1)
}

// fakeSampler records stop calls without running a goroutine.
type fakeSampler struct {
	stopped int
	rows    int
}

func (f *fakeSampler) Stop() { f.stopped++ }

func (f *fakeSampler) Rows() int { return f.rows }

func fakeSamplerStarter(s *fakeSampler) SamplerStarter {
	return func(ctx context.Context, src monitor.StatsSource, outPath string, interval time.Duration) (Sampler, error) {
		return s, nil
	}
}

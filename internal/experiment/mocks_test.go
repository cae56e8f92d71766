package experiment

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/lpontes/benchjs/internal/config"
	"github.com/lpontes/benchjs/internal/trial"
)

// MockSandbox mocks the Sandbox interface.
type MockSandbox struct {
	mock.Mock
}

func (m *MockSandbox) BuildImage(ctx context.Context, image, dockerfile, contextDir string) error {
	args := m.Called(ctx, image, dockerfile, contextDir)
	return args.Error(0)
}

func (m *MockSandbox) SweepStale(ctx context.Context) {
	m.Called(ctx)
}

// MockPrereqs mocks the Prereqs interface.
type MockPrereqs struct {
	mock.Mock
}

func (m *MockPrereqs) Start(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

func (m *MockPrereqs) VerifySeed(ctx context.Context) (int, bool) {
	args := m.Called(ctx)
	return args.Int(0), args.Bool(1)
}

func (m *MockPrereqs) Teardown(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockPrereqs) TargetEnv() map[string]string {
	args := m.Called()
	if env := args.Get(0); env != nil {
		return env.(map[string]string)
	}
	return nil
}

// MockRunner mocks the TrialRunner interface.
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, key trial.Key, rt config.RuntimeSpec, targetEnv map[string]string) trial.Result {
	args := m.Called(ctx, key, rt, targetEnv)
	return args.Get(0).(trial.Result)
}

// MockManifest mocks the Manifest interface.
type MockManifest struct {
	mock.Mock
}

func (m *MockManifest) Append(runID string, res trial.Result) error {
	args := m.Called(runID, res)
	return args.Error(0)
}

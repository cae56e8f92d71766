package runner

import (
	"context"
	"time"

	"github.com/lpontes/benchjs/internal/load"
	"github.com/lpontes/benchjs/internal/monitor"
	"github.com/lpontes/benchjs/internal/sandbox"
)

// Sandbox abstracts the container operations a trial needs.
type Sandbox interface {
	Start(ctx context.Context, opts sandbox.StartOpts) (*sandbox.Handle, error)
	Stop(ctx context.Context, h *sandbox.Handle)
	Logs(ctx context.Context, h *sandbox.Handle) (string, error)
	FinalStats(ctx context.Context, h *sandbox.Handle) string
	Stats(ctx context.Context, h *sandbox.Handle) (*sandbox.Stat, error)
}

// Health abstracts readiness polling.
type Health interface {
	WaitReady(ctx context.Context, url string, attempts int) bool
}

// Load abstracts the external load generator.
type Load interface {
	Run(ctx context.Context, opts load.Opts) (*load.Outcome, error)
}

// Sampler is a started background resource sampler.
type Sampler interface {
	Stop()
	Rows() int
}

// SamplerStarter launches a sampler for one trial. Injected so tests can
// substitute the real monitor goroutine.
type SamplerStarter func(ctx context.Context, src monitor.StatsSource, outPath string, interval time.Duration) (Sampler, error)

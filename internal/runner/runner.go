package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lpontes/benchjs/internal/artifact"
	"github.com/lpontes/benchjs/internal/config"
	"github.com/lpontes/benchjs/internal/load"
	"github.com/lpontes/benchjs/internal/monitor"
	"github.com/lpontes/benchjs/internal/sandbox"
	"github.com/lpontes/benchjs/internal/trial"
)

// Opts are the per-experiment knobs a trial needs.
type Opts struct {
	RunID          string
	Limits         config.Limits
	DurationS      int
	WarmupS        int
	HealthTimeoutS int
	SampleInterval time.Duration
}

// Runner executes single trials. One trial at a time: start the target,
// wait for health, sample resources in the background while the load tool
// runs, then collect artifacts and tear the target down. A failed trial
// is contained — it produces a Result with a failure status and never
// propagates an error upwards.
type Runner struct {
	sb       Sandbox
	health   Health
	load     Load
	samplers SamplerStarter
	store    *artifact.Store
	opts     Opts
	logger   *slog.Logger
}

func New(sb Sandbox, health Health, ld Load, samplers SamplerStarter, store *artifact.Store, opts Opts, logger *slog.Logger) *Runner {
	return &Runner{
		sb:       sb,
		health:   health,
		load:     ld,
		samplers: samplers,
		store:    store,
		opts:     opts,
		logger:   logger,
	}
}

// Run drives one trial through its lifecycle. The sandbox is destroyed
// unconditionally, whichever step failed; a started sampler is always
// stopped before its log is treated as final.
func (r *Runner) Run(ctx context.Context, key trial.Key, rt config.RuntimeSpec, targetEnv map[string]string) trial.Result {
	started := time.Now()
	dir := r.store.Resolve(key)

	res := trial.Result{
		Key:         key,
		Status:      trial.StatusOK,
		ArtifactDir: dir,
		StartedAt:   started.UTC(),
	}
	finish := func(status trial.Status) trial.Result {
		res.Status = status
		res.DurationS = int(time.Since(started).Seconds())
		return res
	}

	if err := r.store.Ensure(dir); err != nil {
		r.logger.Error("trial: artifact dir", "trial", key, "error", err)
		return finish(trial.StatusSandboxStartFailed)
	}

	name := fmt.Sprintf("benchjs-%s-%s-vus%d-rep%d", r.opts.RunID, rt.Name, key.Concurrency, key.Repetition)
	handle, err := r.sb.Start(ctx, sandbox.StartOpts{
		Name:       name,
		Image:      rt.Image,
		Port:       rt.Port,
		HostPort:   rt.Port,
		CPULimit:   r.opts.Limits.CPULimit,
		MemLimitMB: r.opts.Limits.MemLimitMB,
		Env:        targetEnv,
		Labels: map[string]string{
			"benchjs.trial":   key.String(),
			"benchjs.runtime": rt.Name,
		},
	})
	// Cleanup is unconditional: a fresh context so an interrupted run
	// still removes its container.
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		r.sb.Stop(stopCtx, handle)
	}()
	if err != nil {
		r.logger.Error("trial: sandbox start failed", "trial", key, "error", err)
		return finish(trial.StatusSandboxStartFailed)
	}

	var sampler Sampler
	samplerStopped := false
	stopSampler := func() {
		if sampler != nil && !samplerStopped {
			sampler.Stop()
			samplerStopped = true
		}
	}
	defer stopSampler()

	healthURL := fmt.Sprintf("http://127.0.0.1:%d%s", handle.HostPort, rt.HealthPath)
	if !r.health.WaitReady(ctx, healthURL, r.opts.HealthTimeoutS) {
		r.logger.Error("trial: health timeout", "trial", key, "url", healthURL)
		r.collect(ctx, handle, dir, &res)
		return finish(trial.StatusHealthTimeout)
	}

	samplePath := filepath.Join(dir, artifact.SampleLogFile)
	src := monitor.SourceFunc(func(ctx context.Context) (*sandbox.Stat, error) {
		return r.sb.Stats(ctx, handle)
	})
	sampler, err = r.samplers(ctx, src, samplePath, r.opts.SampleInterval)
	if err != nil {
		// Degraded but not fatal: the load verdict still has value.
		r.logger.Warn("trial: sampler start failed", "trial", key, "error", err)
		sampler = nil
	} else {
		res.SampleLog = samplePath
	}

	benchURL := fmt.Sprintf("http://127.0.0.1:%d%s", handle.HostPort, rt.BenchPath)
	outcome, loadErr := r.load.Run(ctx, load.Opts{
		TargetURL:   benchURL,
		VUs:         key.Concurrency,
		DurationS:   r.opts.DurationS,
		WarmupS:     r.opts.WarmupS,
		CountField:  rt.CountField,
		SummaryPath: filepath.Join(dir, artifact.LoadSummaryFile),
		RawPath:     filepath.Join(dir, artifact.LoadOutputFile),
	})

	// The sampler must be fully stopped before the sample log counts as
	// final and before we collect closing artifacts.
	stopSampler()

	if outcome != nil {
		if _, statErr := os.Stat(outcome.SummaryPath); statErr == nil {
			res.LoadSummary = outcome.SummaryPath
		}
	}

	r.collect(ctx, handle, dir, &res)

	if loadErr != nil {
		r.logger.Error("trial: load tool invocation failed", "trial", key, "error", loadErr)
		return finish(trial.StatusLoadFailed)
	}
	if !outcome.ExitOK {
		r.logger.Warn("trial: load tool reported failure", "trial", key, "exit_code", outcome.ExitCode)
		return finish(trial.StatusLoadFailed)
	}

	if sampler != nil {
		r.logger.Info("trial done", "trial", key, "samples", sampler.Rows())
	} else {
		r.logger.Info("trial done", "trial", key)
	}
	return finish(trial.StatusOK)
}

// collect writes the container log and final stats, best-effort. Absence
// of a live container yields an explicit marker instead of an error.
func (r *Runner) collect(ctx context.Context, h *sandbox.Handle, dir string, res *trial.Result) {
	logPath := filepath.Join(dir, artifact.ContainerLogFile)
	logs, err := r.sb.Logs(ctx, h)
	if err != nil {
		r.logger.Warn("trial: container logs unavailable", "trial", res.Key, "error", err)
		logs = "unavailable: " + err.Error() + "\n"
	}
	if err := os.WriteFile(logPath, []byte(logs), 0o644); err != nil {
		r.logger.Warn("trial: writing container log", "trial", res.Key, "error", err)
	} else {
		res.ContainerLog = logPath
	}

	statsPath := filepath.Join(dir, artifact.FinalStatsFile)
	if err := os.WriteFile(statsPath, []byte(r.sb.FinalStats(ctx, h)), 0o644); err != nil {
		r.logger.Warn("trial: writing final stats", "trial", res.Key, "error", err)
	}
}

package experiment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lpontes/benchjs/internal/artifact"
	"github.com/lpontes/benchjs/internal/config"
	"github.com/lpontes/benchjs/internal/trial"
)

// Sandbox is the subset of container operations the orchestrator itself
// needs; per-trial lifecycle is the trial runner's business.
type Sandbox interface {
	BuildImage(ctx context.Context, image, dockerfile, contextDir string) error
	SweepStale(ctx context.Context)
}

// Prereqs is the shared datastore lifecycle.
type Prereqs interface {
	Start(ctx context.Context, name string) error
	VerifySeed(ctx context.Context) (int, bool)
	Teardown(ctx context.Context)
	TargetEnv() map[string]string
}

// TrialRunner executes one trial and always returns a verdict.
type TrialRunner interface {
	Run(ctx context.Context, key trial.Key, rt config.RuntimeSpec, targetEnv map[string]string) trial.Result
}

// Manifest records finished trials.
type Manifest interface {
	Append(runID string, res trial.Result) error
}

// Orchestrator drives one experiment run: prepare images and the shared
// datastore once, then walk the trial matrix sequentially with a cooldown
// between trials. Trial failures are contained by the runner; the only
// fatal errors here are prerequisite failures before the matrix starts.
type Orchestrator struct {
	cfg     *config.Config
	sb      Sandbox
	prereqs Prereqs
	runner  TrialRunner
	man     Manifest
	runID   string
	runDir  string
	logger  *slog.Logger

	sleep func(ctx context.Context, d time.Duration) bool
}

func New(cfg *config.Config, sb Sandbox, prereqs Prereqs, runner TrialRunner, man Manifest, runID, runDir string, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		sb:      sb,
		prereqs: prereqs,
		runner:  runner,
		man:     man,
		runID:   runID,
		runDir:  runDir,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// Run executes the whole experiment. The returned counts cover the trials
// that actually ran; a cancelled context stops cleanly between trials.
func (o *Orchestrator) Run(ctx context.Context) (map[trial.Status]int, error) {
	o.logger.Info("experiment starting", "run_id", o.runID, "results", o.runDir)

	// Leftovers from a crashed run would occupy the fixed host ports.
	o.sb.SweepStale(ctx)

	if err := o.buildImages(ctx); err != nil {
		return nil, err
	}

	if err := o.prereqs.Start(ctx, "benchjs-datastore-"+o.runID); err != nil {
		return nil, fmt.Errorf("datastore: %w", err)
	}
	defer func() {
		downCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		o.prereqs.Teardown(downCtx)
	}()

	rows, seeded := o.prereqs.VerifySeed(ctx)
	if !seeded {
		o.logger.Warn("running against an underseeded datastore", "rows", rows)
	}

	if err := o.writeRunInfo(rows); err != nil {
		o.logger.Warn("run info snapshot failed", "error", err)
	}

	matrix := trial.Matrix(o.cfg.RuntimeNames(), o.cfg.Concurrency, o.cfg.Repetitions)
	targetEnv := o.prereqs.TargetEnv()
	counts := make(map[trial.Status]int)

	for i, key := range matrix {
		if ctx.Err() != nil {
			o.logger.Warn("experiment interrupted", "completed", i, "total", len(matrix))
			break
		}

		rt, ok := o.cfg.Runtime(key.Runtime)
		if !ok {
			// Matrix keys come from the config, so this cannot happen.
			return counts, fmt.Errorf("unknown runtime %q", key.Runtime)
		}

		o.logger.Info("trial starting", "trial", key, "progress", fmt.Sprintf("%d/%d", i+1, len(matrix)))
		res := o.runner.Run(ctx, key, rt, targetEnv)
		counts[res.Status]++

		if err := o.man.Append(o.runID, res); err != nil {
			o.logger.Warn("manifest append failed", "trial", key, "error", err)
		}

		if i < len(matrix)-1 && o.cfg.CooldownS > 0 {
			if !o.sleep(ctx, time.Duration(o.cfg.CooldownS)*time.Second) {
				o.logger.Warn("experiment interrupted during cooldown", "completed", i+1, "total", len(matrix))
				break
			}
		}
	}

	o.logger.Info("experiment finished",
		"run_id", o.runID,
		"ok", counts[trial.StatusOK],
		"sandbox_start_failed", counts[trial.StatusSandboxStartFailed],
		"health_timeout", counts[trial.StatusHealthTimeout],
		"load_failed", counts[trial.StatusLoadFailed],
	)
	return counts, nil
}

// buildImages builds every runtime variant that declares a Dockerfile.
// A variant without one is expected to exist already (pre-pulled or built
// out of band). The first build failure aborts the run: a missing image
// would fail every one of its trials anyway.
func (o *Orchestrator) buildImages(ctx context.Context) error {
	for _, rt := range o.cfg.Runtimes {
		if rt.Dockerfile == "" {
			continue
		}
		o.logger.Info("building image", "runtime", rt.Name, "image", rt.Image)
		if err := o.sb.BuildImage(ctx, rt.Image, rt.Dockerfile, rt.ContextDir); err != nil {
			return fmt.Errorf("building %s: %w", rt.Name, err)
		}
	}
	return nil
}

func (o *Orchestrator) writeRunInfo(seedRows int) error {
	info := RunInfo{
		RunID:       o.runID,
		StartedAt:   time.Now().UTC(),
		Hardware:    collectHardware(),
		Runtimes:    o.cfg.RuntimeNames(),
		Concurrency: o.cfg.Concurrency,
		Repetitions: o.cfg.Repetitions,
		DurationS:   o.cfg.DurationS,
		WarmupS:     o.cfg.WarmupS,
		CooldownS:   o.cfg.CooldownS,
		CPULimit:    o.cfg.Limits.CPULimit,
		MemLimitMB:  o.cfg.Limits.MemLimitMB,
		SeedRows:    seedRows,
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(o.runDir, artifact.RunInfoFile), data, 0o644)
}

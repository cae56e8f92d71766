package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lpontes/benchjs/internal/artifact"
	"github.com/lpontes/benchjs/internal/config"
	"github.com/lpontes/benchjs/internal/datastore"
	"github.com/lpontes/benchjs/internal/experiment"
	"github.com/lpontes/benchjs/internal/health"
	"github.com/lpontes/benchjs/internal/load"
	"github.com/lpontes/benchjs/internal/manifest"
	"github.com/lpontes/benchjs/internal/monitor"
	"github.com/lpontes/benchjs/internal/runner"
	"github.com/lpontes/benchjs/internal/sandbox"
	"github.com/lpontes/benchjs/internal/trial"
)

var (
	flagRuntime     string
	flagConcurrency string
	flagRepetitions int
	flagDuration    int
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the full trial matrix",
		RunE:  runExperiment,
	}
	cmd.Flags().StringVar(&flagRuntime, "runtime", "", "filter to a single runtime")
	cmd.Flags().StringVar(&flagConcurrency, "concurrency", "", "override concurrency levels (comma-separated)")
	cmd.Flags().IntVar(&flagRepetitions, "repetitions", 0, "override repetition count")
	cmd.Flags().IntVar(&flagDuration, "duration", 0, "override trial duration in seconds")
	return cmd
}

func runExperiment(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := applyRunFlags(cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctrl, err := sandbox.NewController(logger)
	if err != nil {
		return err
	}
	defer ctrl.Close()
	if err := ctrl.Ping(ctx); err != nil {
		return fmt.Errorf("docker unreachable — is the daemon running? %w", err)
	}

	runDir, err := artifact.NewRunDir(cfg.ResultsDir)
	if err != nil {
		return err
	}
	runID := strings.Split(uuid.NewString(), "-")[0]
	fmt.Printf("Run directory: %s (run %s)\n", runDir, runID)

	man, err := manifest.Open(filepath.Join(runDir, "manifest.db"))
	if err != nil {
		return err
	}
	defer man.Close()

	store := artifact.NewStore(runDir)
	prereqs := datastore.New(cfg.Datastore, ctrl, logger)
	waiter := health.NewWaiter(logger)
	driver := load.NewDriver(cfg.Load.Bin, cfg.Load.ScriptPath, cfg.Load.ExtraArgs, logger)
	samplers := func(ctx context.Context, src monitor.StatsSource, outPath string, interval time.Duration) (runner.Sampler, error) {
		return monitor.Start(ctx, src, outPath, interval, logger)
	}

	trials := runner.New(ctrl, waiter, driver, samplers, store, runner.Opts{
		RunID:          runID,
		Limits:         cfg.Limits,
		DurationS:      cfg.DurationS,
		WarmupS:        cfg.WarmupS,
		HealthTimeoutS: cfg.HealthTimeoutS,
		SampleInterval: time.Duration(cfg.SampleIntervalMs) * time.Millisecond,
	}, logger)

	orch := experiment.New(cfg, ctrl, prereqs, trials, man, runID, runDir, logger)
	counts, err := orch.Run(ctx)
	if err != nil {
		return err
	}

	printSummary(counts)
	// A fully-iterated matrix is a complete run whatever the verdicts;
	// only prerequisite failures above exit non-zero.
	if counts[trial.StatusOK] == 0 {
		fmt.Println("warning: no trial succeeded — check the per-trial artifacts")
	}
	return nil
}

func applyRunFlags(cfg *config.Config) error {
	if flagRuntime != "" {
		rt, ok := cfg.Runtime(flagRuntime)
		if !ok {
			return fmt.Errorf("unknown runtime %q (configured: %s)", flagRuntime, strings.Join(cfg.RuntimeNames(), ", "))
		}
		cfg.Runtimes = []config.RuntimeSpec{rt}
	}
	if flagConcurrency != "" {
		var levels []int
		for _, part := range strings.Split(flagConcurrency, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return fmt.Errorf("invalid concurrency level %q", part)
			}
			levels = append(levels, n)
		}
		cfg.Concurrency = levels
	}
	if flagRepetitions > 0 {
		cfg.Repetitions = flagRepetitions
	}
	if flagDuration > 0 {
		cfg.DurationS = flagDuration
	}
	return nil
}

func printSummary(counts map[trial.Status]int) {
	total := 0
	for _, n := range counts {
		total += n
	}
	fmt.Printf("\n%d trials: %d ok", total, counts[trial.StatusOK])
	for _, st := range []trial.Status{trial.StatusSandboxStartFailed, trial.StatusHealthTimeout, trial.StatusLoadFailed} {
		if counts[st] > 0 {
			fmt.Printf(", %d %s", counts[st], st)
		}
	}
	fmt.Println()
}

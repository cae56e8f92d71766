package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lpontes/benchjs/internal/artifact"
	"github.com/lpontes/benchjs/internal/config"
	"github.com/lpontes/benchjs/internal/manifest"
	"github.com/lpontes/benchjs/internal/trial"
)

func newReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report [run-dir]",
		Short: "Summarize a stored run",
		RunE: func(cmd *cobra.Command, args []string) error {
			var runDir string
			if len(args) > 0 {
				runDir = args[0]
			} else {
				cfg, err := config.Load(cfgFile)
				if err != nil {
					return err
				}
				runDir = filepath.Join(cfg.ResultsDir, "latest")
			}
			resolved, err := filepath.EvalSymlinks(runDir)
			if err != nil {
				return fmt.Errorf("resolving run dir: %w", err)
			}

			man, err := manifest.Open(filepath.Join(resolved, "manifest.db"))
			if err != nil {
				return err
			}
			defer man.Close()

			runs, err := man.Runs()
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				return fmt.Errorf("no trials recorded in %s", resolved)
			}

			for _, runID := range runs {
				if err := printRun(man, runID); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func printRun(man *manifest.Store, runID string) error {
	results, err := man.List(runID)
	if err != nil {
		return err
	}

	fmt.Printf("run %s (%d trials)\n", runID, len(results))
	for _, res := range results {
		line := fmt.Sprintf("  %-22s %-22s %3ds", res.Key, res.Status, res.DurationS)
		if avgCPU, peakMem, ok := sampleAggregates(filepath.Join(res.ArtifactDir, artifact.SampleLogFile)); ok {
			line += fmt.Sprintf("  cpu_avg=%.2f%% mem_peak=%.2fMB", avgCPU, peakMem)
		}
		fmt.Println(line)
	}

	counts, err := man.Summary(runID)
	if err != nil {
		return err
	}
	fmt.Printf("  ok=%d sandbox_start_failed=%d health_timeout=%d load_failed=%d\n\n",
		counts[trial.StatusOK],
		counts[trial.StatusSandboxStartFailed],
		counts[trial.StatusHealthTimeout],
		counts[trial.StatusLoadFailed],
	)
	return nil
}

// sampleAggregates reduces one trial's sample log to average CPU and peak
// memory. Rows with unavailable fields are skipped, a missing or empty log
// yields ok=false.
func sampleAggregates(path string) (avgCPU, peakMem float64, ok bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, false
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	var cpuSum float64
	var cpuN int
	for i, ln := range lines {
		if i == 0 {
			continue // header
		}
		fields := strings.Split(ln, ",")
		if len(fields) < 3 {
			continue
		}
		if v, err := strconv.ParseFloat(fields[1], 64); err == nil {
			cpuSum += v
			cpuN++
		}
		if v, err := strconv.ParseFloat(fields[2], 64); err == nil && v > peakMem {
			peakMem = v
		}
	}
	if cpuN == 0 {
		return 0, 0, false
	}
	return cpuSum / float64(cpuN), peakMem, true
}

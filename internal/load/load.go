package load

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// graceMargin is how long past the load tool's own duration we wait before
// giving up on it entirely.
const graceMargin = 60 * time.Second

// Driver invokes the external load generator as a bounded, synchronous
// step. The tool owns its duration; the driver only adds a grace margin.
type Driver struct {
	Bin        string
	ScriptPath string
	ExtraArgs  []string
	logger     *slog.Logger
}

func NewDriver(bin, scriptPath string, extraArgs []string, logger *slog.Logger) *Driver {
	return &Driver{Bin: bin, ScriptPath: scriptPath, ExtraArgs: extraArgs, logger: logger}
}

type Opts struct {
	TargetURL   string
	VUs         int
	DurationS   int
	WarmupS     int
	CountField  string
	SummaryPath string
	RawPath     string
}

type Outcome struct {
	SummaryPath string
	RawPath     string
	ExitOK      bool
	ExitCode    int
}

// Run blocks until the tool finishes. A non-zero exit is reported through
// ExitOK, not as an error — partial artifacts are still worth keeping.
// Errors are reserved for invocation problems (missing binary, dead
// context) where the tool never produced a verdict at all.
func (d *Driver) Run(ctx context.Context, opts Opts) (*Outcome, error) {
	raw, err := os.Create(opts.RawPath)
	if err != nil {
		return nil, fmt.Errorf("creating load output file: %w", err)
	}
	defer raw.Close()

	timeout := time.Duration(opts.DurationS+opts.WarmupS)*time.Second + graceMargin
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		"run",
		"--vus", strconv.Itoa(opts.VUs),
		"--duration", fmt.Sprintf("%ds", opts.DurationS),
		"--out", "json=" + opts.SummaryPath,
	}
	args = append(args, d.ExtraArgs...)
	args = append(args, d.ScriptPath)

	cmd := exec.CommandContext(runCtx, d.Bin, args...)
	cmd.Stdout = raw
	cmd.Stderr = raw
	cmd.Env = append(os.Environ(),
		"TARGET_URL="+opts.TargetURL,
		"WARMUP_SECONDS="+strconv.Itoa(opts.WarmupS),
		"COUNT_FIELD="+opts.CountField,
	)

	d.logger.Info("load run starting", "vus", opts.VUs, "duration_s", opts.DurationS, "target", opts.TargetURL)

	out := &Outcome{SummaryPath: opts.SummaryPath, RawPath: opts.RawPath}
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			d.logger.Warn("load tool exited non-zero", "exit_code", out.ExitCode)
			return out, nil
		}
		return out, fmt.Errorf("invoking load tool: %w", err)
	}
	out.ExitOK = true
	return out, nil
}

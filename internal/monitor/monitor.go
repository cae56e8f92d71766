package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"

	"github.com/lpontes/benchjs/internal/sandbox"
)

// StatsSource yields one resource observation per call. Implementations
// return sandbox.ErrSandboxGone once the observed target no longer exists.
type StatsSource interface {
	Stats(ctx context.Context) (*sandbox.Stat, error)
}

// SourceFunc adapts a function to the StatsSource interface.
type SourceFunc func(ctx context.Context) (*sandbox.Stat, error)

func (f SourceFunc) Stats(ctx context.Context) (*sandbox.Stat, error) {
	return f(ctx)
}

// Sampler periodically observes one sandbox and appends one CSV row per
// observation. It runs as a single background goroutine; Stop requests
// termination and blocks until the output file is closed, so no row is
// ever written after Stop returns.
type Sampler struct {
	src      StatsSource
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}

	file   *os.File
	lastTS float64
	rows   int
}

const csvHeader = "timestamp,cpu_percent,mem_usage_mb,mem_limit_mb\n"

// Start opens outPath, writes the header row and launches the sampling
// loop. The returned sampler must be stopped exactly once.
func Start(ctx context.Context, src StatsSource, outPath string, interval time.Duration, logger *slog.Logger) (*Sampler, error) {
	file, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("creating sample log: %w", err)
	}
	if _, err := file.WriteString(csvHeader); err != nil {
		file.Close()
		return nil, fmt.Errorf("writing sample header: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s := &Sampler{
		src:      src,
		interval: interval,
		logger:   logger,
		cancel:   cancel,
		done:     make(chan struct{}),
		file:     file,
	}
	go s.run(loopCtx)
	return s, nil
}

// Stop requests cooperative termination and waits for it. Idempotent.
func (s *Sampler) Stop() {
	s.cancel()
	<-s.done
}

// Rows reports how many samples were written. Only meaningful after Stop.
func (s *Sampler) Rows() int {
	return s.rows
}

func (s *Sampler) run(ctx context.Context) {
	defer close(s.done)
	defer s.file.Close()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stat, err := s.src.Stats(ctx)
			if err != nil {
				if errors.Is(err, sandbox.ErrSandboxGone) {
					// Target finished or was removed; a normal end.
					s.logger.Info("sampler: target gone, stopping")
					return
				}
				if ctx.Err() != nil {
					return
				}
				// Transient stat failure: retry at the next interval.
				s.logger.Warn("sampler: stat query failed", "error", err)
				continue
			}
			s.append(stat)
		}
	}
}

func (s *Sampler) append(stat *sandbox.Stat) {
	ts := float64(time.Now().UnixNano()) / 1e9
	if ts < s.lastTS {
		ts = s.lastTS
	}
	s.lastTS = ts

	cpu := ""
	if v, ok := PercentValue(stat.CPUPerc); ok {
		cpu = strconv.FormatFloat(v, 'f', 2, 64)
	}

	usedStr, limitStr := splitMemUsage(stat.MemUsage)
	used := ""
	if v, ok := MemoryMB(usedStr); ok {
		used = strconv.FormatFloat(v, 'f', 2, 64)
	}
	limit := ""
	if v, ok := MemoryMB(limitStr); ok {
		limit = strconv.FormatFloat(v, 'f', 2, 64)
	}

	if _, err := fmt.Fprintf(s.file, "%.3f,%s,%s,%s\n", ts, cpu, used, limit); err != nil {
		s.logger.Warn("sampler: write failed", "error", err)
		return
	}
	s.rows++
}

// MemoryMB normalizes a memory value with a magnitude suffix ("512KiB",
// "12MiB", "1GiB", decimal forms too) into megabytes. Unrecognized input
// yields ok=false so the field is recorded as unavailable instead of
// failing the sample.
func MemoryMB(v string) (float64, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	bytes, err := units.RAMInBytes(v)
	if err != nil {
		return 0, false
	}
	return float64(bytes) / (1024 * 1024), true
}

// PercentValue parses the runtime's percent formatting ("3.04%").
func PercentValue(v string) (float64, bool) {
	v = strings.TrimSuffix(strings.TrimSpace(v), "%")
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// splitMemUsage splits the runtime's "used / limit" memory formatting.
// The limit part may be absent.
func splitMemUsage(v string) (used, limit string) {
	parts := strings.SplitN(v, "/", 2)
	used = strings.TrimSpace(parts[0])
	if len(parts) == 2 {
		limit = strings.TrimSpace(parts[1])
	}
	return used, limit
}

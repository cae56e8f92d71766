package datastore

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lpontes/benchjs/internal/config"
	"github.com/lpontes/benchjs/internal/sandbox"
)

// Sandbox abstracts the container operations the datastore needs.
type Sandbox interface {
	Start(ctx context.Context, opts sandbox.StartOpts) (*sandbox.Handle, error)
	Stop(ctx context.Context, h *sandbox.Handle)
	Exec(ctx context.Context, h *sandbox.Handle, cmd []string) (string, int, error)
}

const readyAttempts = 30

// Prereqs owns the seeded datastore the benchmark targets query. Started
// once before the trial matrix and torn down exactly once after the final
// trial, however many trials failed in between. Owned by the orchestrator
// and passed down explicitly; there is no package-level instance.
type Prereqs struct {
	cfg      config.DatastoreConfig
	sb       Sandbox
	logger   *slog.Logger
	handle   *sandbox.Handle
	downOnce sync.Once
}

func New(cfg config.DatastoreConfig, sb Sandbox, logger *slog.Logger) *Prereqs {
	return &Prereqs{cfg: cfg, sb: sb, logger: logger}
}

// Start boots the datastore container and waits for it to accept
// connections. Unreachability after the retry budget is a fatal
// prerequisite failure: no trial can produce meaningful data without it.
func (p *Prereqs) Start(ctx context.Context, name string) error {
	h, err := p.sb.Start(ctx, sandbox.StartOpts{
		Name:     name,
		Image:    p.cfg.Image,
		Port:     5432,
		HostPort: p.cfg.Port,
		Env: map[string]string{
			"POSTGRES_USER":     p.cfg.User,
			"POSTGRES_PASSWORD": p.cfg.Password,
			"POSTGRES_DB":       p.cfg.Database,
		},
		Labels: map[string]string{"benchjs.role": "datastore"},
	})
	if err != nil {
		return fmt.Errorf("starting datastore: %w", err)
	}
	p.handle = h

	for i := 0; i < readyAttempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
		_, code, err := p.sb.Exec(ctx, h, []string{"pg_isready", "-U", p.cfg.User, "-d", p.cfg.Database})
		if err == nil && code == 0 {
			p.logger.Info("datastore ready", "attempts", i+1)
			return nil
		}
	}

	p.sb.Stop(ctx, h)
	return fmt.Errorf("datastore never became ready after %d attempts", readyAttempts)
}

// VerifySeed checks the seed table holds at least the configured row
// count. On a shortfall it re-seeds once and checks again. A still-missing
// seed degrades trial quality but is not fatal; the experiment proceeds.
func (p *Prereqs) VerifySeed(ctx context.Context) (int, bool) {
	count, err := p.seedCount(ctx)
	if err == nil && count >= p.cfg.MinSeedRows {
		p.logger.Info("seed data verified", "rows", count)
		return count, true
	}
	p.logger.Warn("seed verification failed, re-seeding once", "rows", count, "error", err)

	if err := p.reseed(ctx); err != nil {
		p.logger.Warn("re-seed failed", "error", err)
	}

	count, err = p.seedCount(ctx)
	if err != nil || count < p.cfg.MinSeedRows {
		p.logger.Warn("seed still short after re-seed, proceeding anyway", "rows", count, "min", p.cfg.MinSeedRows)
		return count, false
	}
	p.logger.Info("seed data verified after re-seed", "rows", count)
	return count, true
}

// Teardown removes the datastore container. Runs at most once; safe to
// call on a Prereqs whose Start failed.
func (p *Prereqs) Teardown(ctx context.Context) {
	p.downOnce.Do(func() {
		if p.handle == nil {
			return
		}
		p.logger.Info("tearing down datastore")
		p.sb.Stop(ctx, p.handle)
	})
}

// TargetEnv is the environment benchmark targets need to reach the
// datastore from inside their own containers.
func (p *Prereqs) TargetEnv() map[string]string {
	return map[string]string{
		"DB_HOST":     "host.docker.internal",
		"DB_PORT":     strconv.Itoa(p.cfg.Port),
		"DB_USER":     p.cfg.User,
		"DB_PASSWORD": p.cfg.Password,
		"DB_NAME":     p.cfg.Database,
	}
}

func (p *Prereqs) seedCount(ctx context.Context) (int, error) {
	query := "SELECT COUNT(*) FROM " + p.cfg.SeedTable
	out, code, err := p.sb.Exec(ctx, p.handle, []string{
		"psql", "-U", p.cfg.User, "-d", p.cfg.Database, "-tAc", query,
	})
	if err != nil {
		return 0, fmt.Errorf("seed count query: %w", err)
	}
	if code != 0 {
		return 0, fmt.Errorf("seed count query exited %d", code)
	}
	count, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("seed count parse: %w", err)
	}
	return count, nil
}

func (p *Prereqs) reseed(ctx context.Context) error {
	_, code, err := p.sb.Exec(ctx, p.handle, []string{
		"psql", "-U", p.cfg.User, "-d", p.cfg.Database, "-f", p.cfg.SeedFile,
	})
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("seed script exited %d", code)
	}
	return nil
}

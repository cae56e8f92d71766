package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lpontes/benchjs/internal/trial"
)

// File names inside a trial directory. The offline report tooling keys on
// these exact names, so they are constants rather than configuration.
const (
	ContainerLogFile = "container.log"
	SampleLogFile    = "docker_stats.csv"
	LoadSummaryFile  = "k6_results.json"
	LoadOutputFile   = "load_output.txt"
	FinalStatsFile   = "final_stats.txt"
	RunInfoFile      = "run_info.json"
)

// Store maps trial keys onto an append-only artifact tree rooted at one
// run directory. Distinct keys resolve to distinct directories; the store
// never deletes anything.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) Root() string {
	return s.root
}

// Resolve returns the directory for a trial. Deterministic: the same key
// always yields the same path, and no two distinct keys collide because
// runtime, concurrency and repetition are each their own path element.
func (s *Store) Resolve(key trial.Key) string {
	return filepath.Join(s.root,
		key.Runtime,
		fmt.Sprintf("vus_%d", key.Concurrency),
		fmt.Sprintf("rep_%d", key.Repetition),
	)
}

// Ensure creates the directory tree for path. Safe to call repeatedly.
func (s *Store) Ensure(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("creating artifact dir: %w", err)
	}
	return nil
}

// NewRunDir creates a timestamped run directory under base/runs and points
// base/latest at it. Prior runs are never touched: the stamp has one-second
// resolution, so a second run inside the same second gets a counter suffix
// instead of landing in the first run's directory.
func NewRunDir(base string) (string, error) {
	runsRoot, err := filepath.Abs(filepath.Join(base, "runs"))
	if err != nil {
		return "", fmt.Errorf("resolving run dir: %w", err)
	}
	if err := os.MkdirAll(runsRoot, 0o755); err != nil {
		return "", fmt.Errorf("creating runs root: %w", err)
	}

	stamp := time.Now().UTC().Format("2006-01-02T15-04-05")
	var runDir string
	for i := 0; ; i++ {
		name := stamp
		if i > 0 {
			name = fmt.Sprintf("%s-%d", stamp, i+1)
		}
		candidate := filepath.Join(runsRoot, name)
		err := os.Mkdir(candidate, 0o755)
		if err == nil {
			runDir = candidate
			break
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("creating run dir: %w", err)
		}
	}
	latest := filepath.Join(base, "latest")
	os.Remove(latest)
	if err := os.Symlink(runDir, latest); err != nil {
		return "", fmt.Errorf("creating latest symlink: %w", err)
	}
	return runDir, nil
}

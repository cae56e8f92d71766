package trial

import (
	"fmt"
	"time"
)

// Status is the terminal outcome of a single trial.
type Status string

const (
	StatusOK                 Status = "ok"
	StatusSandboxStartFailed Status = "sandbox_start_failed"
	StatusHealthTimeout      Status = "health_timeout"
	StatusLoadFailed         Status = "load_failed"
)

// Key identifies one experiment cell: one runtime, one concurrency level,
// one repetition. Keys are the sole input to artifact path resolution.
type Key struct {
	Runtime     string
	Concurrency int
	Repetition  int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/vus_%d/rep_%d", k.Runtime, k.Concurrency, k.Repetition)
}

// Result records what one trial produced. Constructed once at the end of
// the trial's lifecycle and immutable afterwards.
type Result struct {
	Key          Key
	Status       Status
	ArtifactDir  string
	ContainerLog string
	SampleLog    string
	LoadSummary  string // empty if the load step never ran
	StartedAt    time.Time
	DurationS    int
}

// Matrix enumerates the full Cartesian product of trials in fixed nested
// order: runtime outer, concurrency middle, repetition inner. The order
// only matters for progress reporting; trials are independent.
func Matrix(runtimes []string, concurrency []int, repetitions int) []Key {
	keys := make([]Key, 0, len(runtimes)*len(concurrency)*repetitions)
	for _, rt := range runtimes {
		for _, vus := range concurrency {
			for rep := 1; rep <= repetitions; rep++ {
				keys = append(keys, Key{Runtime: rt, Concurrency: vus, Repetition: rep})
			}
		}
	}
	return keys
}

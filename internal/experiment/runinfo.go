package experiment

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// RunInfo is the per-run snapshot written next to the artifacts so a
// result set stays interpretable after the host changes.
type RunInfo struct {
	RunID       string       `json:"run_id"`
	StartedAt   time.Time    `json:"started_at"`
	Hardware    HardwareInfo `json:"hardware"`
	Runtimes    []string     `json:"runtimes"`
	Concurrency []int        `json:"concurrency"`
	Repetitions int          `json:"repetitions"`
	DurationS   int          `json:"duration_s"`
	WarmupS     int          `json:"warmup_s"`
	CooldownS   int          `json:"cooldown_s"`
	CPULimit    float64      `json:"cpu_limit"`
	MemLimitMB  int          `json:"mem_limit_mb"`
	SeedRows    int          `json:"seed_rows"`
}

type HardwareInfo struct {
	Hostname      string `json:"hostname"`
	Kernel        string `json:"kernel"`
	OS            string `json:"os"`
	Arch          string `json:"arch"`
	GoVersion     string `json:"go_version"`
	CPUModel      string `json:"cpu_model"`
	LogicalCPUs   int    `json:"logical_cpus"`
	MemoryTotalMB int64  `json:"memory_total_mb"`
}

func collectHardware() HardwareInfo {
	host, _ := os.Hostname()
	return HardwareInfo{
		Hostname:      host,
		Kernel:        readOneLine("/proc/sys/kernel/osrelease"),
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		GoVersion:     runtime.Version(),
		CPUModel:      readCPUModel(),
		LogicalCPUs:   runtime.NumCPU(),
		MemoryTotalMB: readMemTotalMiB(),
	}
}

func readCPUModel() string {
	data, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		return "unknown"
	}
	for _, ln := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(ln, "model name") {
			parts := strings.SplitN(ln, ":", 2)
			if len(parts) == 2 {
				return strings.TrimSpace(parts[1])
			}
		}
	}
	return "unknown"
}

func readMemTotalMiB() int64 {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0
	}
	for _, ln := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(ln, "MemTotal:") {
			f := strings.Fields(ln)
			if len(f) >= 2 {
				kb, _ := strconv.ParseInt(f[1], 10, 64)
				return kb / 1024
			}
		}
	}
	return 0
}

func readOneLine(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

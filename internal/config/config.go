package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// RuntimeSpec describes one benchmark target variant. Health and benchmark
// paths plus the response count field are declared here per variant; the
// harness never infers them from the running target.
type RuntimeSpec struct {
	Name       string `yaml:"name"`
	Image      string `yaml:"image"`
	Dockerfile string `yaml:"dockerfile"`
	ContextDir string `yaml:"context_dir"`
	Port       int    `yaml:"port"`
	HealthPath string `yaml:"health_path"`
	BenchPath  string `yaml:"bench_path"`
	CountField string `yaml:"count_field"`
}

// Limits are hard per-sandbox resource ceilings.
type Limits struct {
	CPULimit   float64 `yaml:"cpu_limit"`
	MemLimitMB int     `yaml:"mem_limit_mb"`
}

type LoadConfig struct {
	Bin        string   `yaml:"bin"`
	ScriptPath string   `yaml:"script_path"`
	ExtraArgs  []string `yaml:"extra_args"`
}

type DatastoreConfig struct {
	Image       string `yaml:"image"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	Database    string `yaml:"database"`
	SeedFile    string `yaml:"seed_file"` // path inside the container
	SeedTable   string `yaml:"seed_table"`
	MinSeedRows int    `yaml:"min_seed_rows"`
}

type Config struct {
	ResultsDir       string          `yaml:"results_dir"`
	Runtimes         []RuntimeSpec   `yaml:"runtimes"`
	Concurrency      []int           `yaml:"concurrency"`
	Repetitions      int             `yaml:"repetitions"`
	DurationS        int             `yaml:"duration_s"`
	WarmupS          int             `yaml:"warmup_s"`
	CooldownS        int             `yaml:"cooldown_s"`
	HealthTimeoutS   int             `yaml:"health_timeout_s"`
	SampleIntervalMs int             `yaml:"sample_interval_ms"`
	Limits           Limits          `yaml:"limits"`
	Load             LoadConfig      `yaml:"load"`
	Datastore        DatastoreConfig `yaml:"datastore"`
}

func Load(yamlPath string) (*Config, error) {
	cfg := &Config{
		ResultsDir:       "./results",
		Concurrency:      []int{10, 50, 100, 200},
		Repetitions:      3,
		DurationS:        60,
		WarmupS:          5,
		CooldownS:        15,
		HealthTimeoutS:   30,
		SampleIntervalMs: 1000,
		Limits: Limits{
			CPULimit:   1.0,
			MemLimitMB: 512,
		},
		Load: LoadConfig{
			Bin:        "k6",
			ScriptPath: "./load/script.js",
		},
		Datastore: DatastoreConfig{
			Image:       "postgres:16-alpine",
			Port:        5432,
			User:        "bench",
			Password:    "bench",
			Database:    "bench",
			SeedFile:    "/docker-entrypoint-initdb.d/seed.sql",
			SeedTable:   "products",
			MinSeedRows: 1000,
		},
	}

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// Validate rejects configs the orchestrator could not run to completion.
func (c *Config) Validate() error {
	if len(c.Runtimes) == 0 {
		return fmt.Errorf("no runtimes defined")
	}
	seen := make(map[string]bool)
	for i, rt := range c.Runtimes {
		if rt.Name == "" {
			return fmt.Errorf("runtime %d: name is required", i)
		}
		if seen[rt.Name] {
			return fmt.Errorf("runtime %q: duplicate name", rt.Name)
		}
		seen[rt.Name] = true
		if rt.Image == "" {
			return fmt.Errorf("runtime %q: image is required", rt.Name)
		}
		if rt.Port <= 0 {
			return fmt.Errorf("runtime %q: port is required", rt.Name)
		}
		if rt.HealthPath == "" || rt.BenchPath == "" {
			return fmt.Errorf("runtime %q: health_path and bench_path are required", rt.Name)
		}
	}
	if len(c.Concurrency) == 0 {
		return fmt.Errorf("no concurrency levels defined")
	}
	for _, vus := range c.Concurrency {
		if vus <= 0 {
			return fmt.Errorf("concurrency levels must be positive, got %d", vus)
		}
	}
	if c.Repetitions < 1 {
		return fmt.Errorf("repetitions must be at least 1")
	}
	if c.DurationS < 1 {
		return fmt.Errorf("duration_s must be at least 1")
	}
	if c.SampleIntervalMs < 100 {
		return fmt.Errorf("sample_interval_ms must be at least 100")
	}
	if c.Load.Bin == "" {
		return fmt.Errorf("load.bin is required")
	}
	return nil
}

// RuntimeNames returns the configured runtime names in declaration order.
func (c *Config) RuntimeNames() []string {
	names := make([]string, len(c.Runtimes))
	for i, rt := range c.Runtimes {
		names[i] = rt.Name
	}
	return names
}

// Runtime looks up a runtime spec by name.
func (c *Config) Runtime(name string) (RuntimeSpec, bool) {
	for _, rt := range c.Runtimes {
		if rt.Name == name {
			return rt, true
		}
	}
	return RuntimeSpec{}, false
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BENCHJS_RESULTS_DIR"); v != "" {
		cfg.ResultsDir = v
	}
	if v := os.Getenv("BENCHJS_CONCURRENCY"); v != "" {
		var levels []int
		for _, part := range strings.Split(v, ",") {
			if n, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
				levels = append(levels, n)
			}
		}
		if len(levels) > 0 {
			cfg.Concurrency = levels
		}
	}
	if v := os.Getenv("BENCHJS_REPETITIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Repetitions = n
		}
	}
	if v := os.Getenv("BENCHJS_DURATION_S"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DurationS = n
		}
	}
	if v := os.Getenv("BENCHJS_WARMUP_S"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WarmupS = n
		}
	}
	if v := os.Getenv("BENCHJS_COOLDOWN_S"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CooldownS = n
		}
	}
	if v := os.Getenv("BENCHJS_HEALTH_TIMEOUT_S"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HealthTimeoutS = n
		}
	}
	if v := os.Getenv("BENCHJS_SAMPLE_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SampleIntervalMs = n
		}
	}
	if v := os.Getenv("BENCHJS_CPU_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Limits.CPULimit = f
		}
	}
	if v := os.Getenv("BENCHJS_MEM_LIMIT_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.MemLimitMB = n
		}
	}
	if v := os.Getenv("BENCHJS_LOAD_BIN"); v != "" {
		cfg.Load.Bin = v
	}
	if v := os.Getenv("BENCHJS_LOAD_SCRIPT"); v != "" {
		cfg.Load.ScriptPath = v
	}
}

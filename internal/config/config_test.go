package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "./results", cfg.ResultsDir)
	assert.Equal(t, []int{10, 50, 100, 200}, cfg.Concurrency)
	assert.Equal(t, 3, cfg.Repetitions)
	assert.Equal(t, 60, cfg.DurationS)
	assert.Equal(t, 5, cfg.WarmupS)
	assert.Equal(t, 15, cfg.CooldownS)
	assert.Equal(t, 30, cfg.HealthTimeoutS)
	assert.Equal(t, 1000, cfg.SampleIntervalMs)
	assert.Equal(t, 1.0, cfg.Limits.CPULimit)
	assert.Equal(t, 512, cfg.Limits.MemLimitMB)
	assert.Equal(t, "k6", cfg.Load.Bin)
	assert.Equal(t, "postgres:16-alpine", cfg.Datastore.Image)
	assert.Equal(t, "products", cfg.Datastore.SeedTable)
}

func TestLoadYAML(t *testing.T) {
	yamlContent := `
results_dir: "/data/results"
concurrency: [25, 75]
repetitions: 5
duration_s: 30
limits:
  cpu_limit: 2.0
  mem_limit_mb: 1024
runtimes:
  - name: node
    image: bench-node:latest
    port: 3000
    health_path: /ping
    bench_path: /products
    count_field: products_count
load:
  bin: k6
  script_path: ./load/api.js
`
	tmpDir := t.TempDir()
	yamlPath := filepath.Join(tmpDir, "benchjs.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlContent), 0o644))

	cfg, err := Load(yamlPath)
	require.NoError(t, err)

	assert.Equal(t, "/data/results", cfg.ResultsDir)
	assert.Equal(t, []int{25, 75}, cfg.Concurrency)
	assert.Equal(t, 5, cfg.Repetitions)
	assert.Equal(t, 30, cfg.DurationS)
	assert.Equal(t, 2.0, cfg.Limits.CPULimit)
	assert.Equal(t, 1024, cfg.Limits.MemLimitMB)
	require.Len(t, cfg.Runtimes, 1)
	assert.Equal(t, "node", cfg.Runtimes[0].Name)
	assert.Equal(t, "/ping", cfg.Runtimes[0].HealthPath)
	assert.Equal(t, "products_count", cfg.Runtimes[0].CountField)

	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	// Non-existent file is not an error (defaults apply).
	cfg, err := Load("/nonexistent/benchjs.yaml")
	require.NoError(t, err)
	assert.Equal(t, "./results", cfg.ResultsDir)
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	yamlPath := filepath.Join(tmpDir, "bad.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("{{{{nope"), 0o644))

	_, err := Load(yamlPath)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BENCHJS_RESULTS_DIR", "/tmp/r")
	t.Setenv("BENCHJS_CONCURRENCY", "5, 15,30")
	t.Setenv("BENCHJS_REPETITIONS", "2")
	t.Setenv("BENCHJS_DURATION_S", "10")
	t.Setenv("BENCHJS_COOLDOWN_S", "1")
	t.Setenv("BENCHJS_CPU_LIMIT", "0.5")
	t.Setenv("BENCHJS_MEM_LIMIT_MB", "256")
	t.Setenv("BENCHJS_LOAD_BIN", "/usr/local/bin/k6")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/r", cfg.ResultsDir)
	assert.Equal(t, []int{5, 15, 30}, cfg.Concurrency)
	assert.Equal(t, 2, cfg.Repetitions)
	assert.Equal(t, 10, cfg.DurationS)
	assert.Equal(t, 1, cfg.CooldownS)
	assert.Equal(t, 0.5, cfg.Limits.CPULimit)
	assert.Equal(t, 256, cfg.Limits.MemLimitMB)
	assert.Equal(t, "/usr/local/bin/k6", cfg.Load.Bin)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, _ := Load("")
		cfg.Runtimes = []RuntimeSpec{{
			Name: "bun", Image: "bench-bun:latest", Port: 3000,
			HealthPath: "/ping", BenchPath: "/products",
		}}
		return cfg
	}

	require.NoError(t, valid().Validate())

	cfg := valid()
	cfg.Runtimes = nil
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Runtimes = append(cfg.Runtimes, cfg.Runtimes[0])
	assert.ErrorContains(t, cfg.Validate(), "duplicate")

	cfg = valid()
	cfg.Runtimes[0].HealthPath = ""
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Concurrency = []int{10, 0}
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Repetitions = 0
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.SampleIntervalMs = 10
	assert.Error(t, cfg.Validate())
}

func TestRuntimeLookup(t *testing.T) {
	cfg, _ := Load("")
	cfg.Runtimes = []RuntimeSpec{
		{Name: "bun"}, {Name: "deno"}, {Name: "node"},
	}

	assert.Equal(t, []string{"bun", "deno", "node"}, cfg.RuntimeNames())

	rt, ok := cfg.Runtime("deno")
	require.True(t, ok)
	assert.Equal(t, "deno", rt.Name)

	_, ok = cfg.Runtime("zig")
	assert.False(t, ok)
}

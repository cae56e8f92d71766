package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lpontes/benchjs/internal/trial"
)

func TestResolveInjective(t *testing.T) {
	s := NewStore("/tmp/run")

	keys := trial.Matrix([]string{"bun", "deno", "node"}, []int{10, 50, 100}, 3)
	seen := make(map[string]trial.Key)
	for _, k := range keys {
		path := s.Resolve(k)
		prev, dup := seen[path]
		require.Falsef(t, dup, "keys %v and %v both resolve to %s", prev, k, path)
		seen[path] = k
	}
}

func TestResolveIdempotent(t *testing.T) {
	s := NewStore(t.TempDir())
	k := trial.Key{Runtime: "node", Concurrency: 100, Repetition: 2}

	p1 := s.Resolve(k)
	p2 := s.Resolve(k)
	assert.Equal(t, p1, p2)

	require.NoError(t, s.Ensure(p1))
	require.NoError(t, s.Ensure(p1)) // second Ensure must be safe

	info, err := os.Stat(p1)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestResolveLayout(t *testing.T) {
	s := NewStore("/results/runs/x")
	k := trial.Key{Runtime: "deno", Concurrency: 50, Repetition: 1}
	assert.Equal(t, filepath.Join("/results/runs/x", "deno", "vus_50", "rep_1"), s.Resolve(k))
}

func TestNewRunDir(t *testing.T) {
	base := t.TempDir()

	runDir, err := NewRunDir(base)
	require.NoError(t, err)
	info, err := os.Stat(runDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	latest, err := os.Readlink(filepath.Join(base, "latest"))
	require.NoError(t, err)
	assert.Equal(t, runDir, latest)

	// A second run must not disturb the first.
	_, err = NewRunDir(base)
	require.NoError(t, err)
	_, err = os.Stat(runDir)
	assert.NoError(t, err)
}

func TestNewRunDirSameSecondDistinct(t *testing.T) {
	base := t.TempDir()

	// Back-to-back runs land inside the same one-second stamp; each must
	// still get its own directory.
	first, err := NewRunDir(base)
	require.NoError(t, err)
	second, err := NewRunDir(base)
	require.NoError(t, err)
	third, err := NewRunDir(base)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.NotEqual(t, second, third)
	assert.NotEqual(t, first, third)

	latest, err := os.Readlink(filepath.Join(base, "latest"))
	require.NoError(t, err)
	assert.Equal(t, third, latest)
}

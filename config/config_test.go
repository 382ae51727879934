package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", cfg.Server.Addr())
	assert.Equal(t, "anthropic", cfg.Agent.Provider)
	assert.Equal(t, 100, cfg.Budgets.Detect)
	assert.Equal(t, 10, cfg.Budgets.Review)
	assert.Equal(t, "batch", cfg.Saver.Mode)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "sequential", cfg.Workflow.Variant)
	assert.Equal(t, 8, cfg.Workflow.MaxConcurrent)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("KEPLER_SERVER_PORT", "9090")
	t.Setenv("KEPLER_AGENT_PROVIDER", "openai")
	t.Setenv("KEPLER_BUDGETS_GENERATE", "25")
	t.Setenv("KEPLER_WORKFLOW_VARIANT", "parallel")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "openai", cfg.Agent.Provider)
	assert.Equal(t, 25, cfg.Budgets.Generate)
	assert.Equal(t, "parallel", cfg.Workflow.Variant)
}

func TestTopologyFileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topology.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"variant: parallel\nmax_concurrent: 2\nbranch_timeout: 30s\n"), 0o644))

	t.Setenv("KEPLER_WORKFLOW_TOPOLOGY_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "parallel", cfg.Workflow.Variant)
	assert.Equal(t, 2, cfg.Workflow.MaxConcurrent)
	assert.Equal(t, 30*time.Second, cfg.Workflow.BranchTimeout)
	// Settings absent from the file keep their defaults.
	assert.Equal(t, 100, cfg.Workflow.MaxSteps)
}

func TestTopologyFileMissing(t *testing.T) {
	t.Setenv("KEPLER_WORKFLOW_TOPOLOGY_FILE", "/nonexistent/topology.yaml")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "topology file")
}

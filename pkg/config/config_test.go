package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithMissingPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadWithNonexistentFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaultsFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleetgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
manager_timeout_commit: 90s
pubsub_send_queue_depth: 250
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.ManagerTimeoutCommit)
	assert.Equal(t, 250, cfg.PubsubSendQueueDepth)
	assert.Equal(t, Default().WorkerTimeoutNodeCreation, cfg.WorkerTimeoutNodeCreation)
}

func TestLoadAppliesEnvOverridesOverYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleetgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`manager_timeout_commit: 90s`), 0o644))

	t.Setenv("FLEETGRAPH_MANAGER_TIMEOUT_COMMIT", "15s")
	t.Setenv("FLEETGRAPH_RECONNECT_BASE_MS", "500")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.ManagerTimeoutCommit)
	assert.Equal(t, 500, cfg.ReconnectBaseMS)
}

func TestLoadIgnoresMalformedEnvOverride(t *testing.T) {
	t.Setenv("FLEETGRAPH_RECONNECT_CAP_MS", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().ReconnectCapMS, cfg.ReconnectCapMS)
}

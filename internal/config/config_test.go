package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
node:
  id: node-1
cluster:
  name: east
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "node-1", cfg.Node.ID)
	require.Equal(t, 16, cfg.Node.Concurrency)
	require.Equal(t, 5*time.Second, cfg.Node.Timeout)
	require.Equal(t, 1024, cfg.Cluster.Partitions)
	require.Equal(t, 3, cfg.Failover.Retries)
	require.Equal(t, "fixed", cfg.Ensemble.Strategy)
}

func TestLoadConfigMissingNodeIDFails(t *testing.T) {
	path := writeConfig(t, `
cluster:
  name: east
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "node.id")
}

func TestLoadConfigRejectsUnknownEnsembleStrategy(t *testing.T) {
	path := writeConfig(t, `
node:
  id: node-1
cluster:
  name: east
ensemble:
  strategy: chaotic
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "ensemble.strategy")
}

func TestLoadConfigHonorsExplicitValues(t *testing.T) {
	path := writeConfig(t, `
node:
  id: node-1
  concurrency: 32
cluster:
  name: east
  partitions: 512
failover:
  retries: 5
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 32, cfg.Node.Concurrency)
	require.Equal(t, 512, cfg.Cluster.Partitions)
	require.Equal(t, 5, cfg.Failover.Retries)
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kvrocks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFillsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "listen: 0.0.0.0:7777\nnode-id: node-a\n"))
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:7777", cfg.Listen)
	require.Equal(t, "node-a", cfg.NodeID)
	require.Equal(t, "data", cfg.DataDir)
	require.Equal(t, 4096, cfg.MigrateSpeed)
	require.Equal(t, 16, cfg.MigratePipelineSize)
	require.Equal(t, uint64(10000), cfg.MigrateSequenceGap)
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
listen: 127.0.0.1:6666
metrics-listen: 127.0.0.1:9121
data-dir: /tmp/kv
requirepass: hunter2
node-id: node-a
namespace: tenant1
migrate-speed: 1000
migrate-pipeline-size: 32
migrate-sequence-gap: 500
`))
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9121", cfg.MetricsListen)
	require.Equal(t, "hunter2", cfg.RequirePass)
	require.Equal(t, "tenant1", cfg.Namespace)
	require.Equal(t, 1000, cfg.MigrateSpeed)
	require.Equal(t, 32, cfg.MigratePipelineSize)
	require.Equal(t, uint64(500), cfg.MigrateSequenceGap)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"empty listen":     "listen: \"\"\n",
		"negative speed":   "migrate-speed: -1\n",
		"zero pipeline":    "migrate-pipeline-size: 0\n",
		"zero gap":         "migrate-sequence-gap: 0\n",
		"unparseable yaml": "listen: [\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

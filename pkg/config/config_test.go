package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/launix-de/nomad-sgd/pkg/config"
	"github.com/stretchr/testify/require"
)

func TestLoadFallsBackToDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, 100, cfg.Model.K)
	require.Equal(t, "httprpc", cfg.Transport.Kind)
}

func TestLoadParsesYAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nomad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model:
  m: 100
  n: 50
  k: 8
dataset:
  path_template: "/data/ratings_%d.csv"
transport:
  kind: inmemory
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 100, cfg.Model.M)
	require.Equal(t, 50, cfg.Model.N)
	require.Equal(t, 8, cfg.Model.K)
	require.Equal(t, "inmemory", cfg.Transport.Kind)
	require.Equal(t, 0.05, cfg.Model.Lambda) // default survives partial override
}

func TestNOMADMetricsAddrEnvOverridesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nomad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("metrics:\n  addr: \":9200\"\n"), 0o644))

	t.Setenv("NOMAD_METRICS_ADDR", ":9300")
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9300", cfg.Metrics.Addr)
}

func TestValidateRejectsMissingDimensions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Dataset.PathTemplate = "./ratings_%d.csv"
	require.Error(t, cfg.Validate()) // m/n still zero

	cfg.Model.M, cfg.Model.N = 10, 10
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownTransportKind(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Model.M, cfg.Model.N = 10, 10
	cfg.Transport.Kind = "carrier-pigeon"
	require.Error(t, cfg.Validate())
}

func TestSaveAndReloadRoundTrips(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Model.M, cfg.Model.N = 20, 30
	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, cfg.Save(path))

	reloaded, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 20, reloaded.Model.M)
	require.Equal(t, 30, reloaded.Model.N)
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/actionworker/internal/daemon"
	ferrors "git.home.luguber.info/inful/actionworker/internal/foundation/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "actionworker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "version: \"1\"\n"))
	require.NoError(t, err)

	assert.Equal(t, daemon.ServerSymbol, cfg.Worker.Implementation)
	assert.Equal(t, TransportStdio, cfg.Transport.Kind)
	assert.Equal(t, LogLevelInfo, cfg.Logging.Level)
	assert.Equal(t, LogLevelInfo, cfg.Worker.ActionLogLevel)
	assert.Equal(t, LogFormatText, cfg.Logging.Format)
	assert.Equal(t, defaultJournalPath, cfg.Journal.Path)
	assert.Empty(t, cfg.Metrics.Listen)
}

func TestLoadExpandsEnvAndNormalizes(t *testing.T) {
	t.Setenv("AW_NATS", "nats://broker:4222")
	cfg, err := Load(writeConfig(t, `
worker:
  id: " w-7 "
transport:
  kind: NATS
  nats_url: ${AW_NATS}
  subject_prefix: builds.
logging:
  level: WARNING
  format: Json
metrics:
  enabled: true
`))
	require.NoError(t, err)

	assert.Equal(t, "w-7", cfg.Worker.ID)
	assert.Equal(t, TransportNATS, cfg.Transport.Kind)
	assert.Equal(t, "nats://broker:4222", cfg.Transport.NATSURL)
	assert.Equal(t, "builds", cfg.Transport.SubjectPrefix)
	assert.Equal(t, LogLevelWarn, cfg.Logging.Level)
	assert.Equal(t, LogFormatJSON, cfg.Logging.Format)
	assert.Equal(t, defaultMetricsListen, cfg.Metrics.Listen)
}

func TestLoadRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unknown transport": "transport:\n  kind: carrier-pigeon\n",
		"bad version":       "version: \"9\"\n",
		"bad yaml":          "worker: [\n",
		"unqualified impl":  "worker:\n  implementation: Server\n",
		"bad metrics addr":  "metrics:\n  enabled: true\n  listen: nowhere\n",
		"nats without host": "transport:\n  kind: nats\n  nats_url: \"not a url\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
			ce, ok := ferrors.AsClassified(err)
			require.True(t, ok)
			assert.Contains(t, []ferrors.ErrorCategory{ferrors.CategoryConfig, ferrors.CategoryValidation}, ce.Category())
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestInitWritesLoadableConfig(t *testing.T) {
	t.Setenv("NATS_URL", "nats://localhost:4222")
	path := filepath.Join(t.TempDir(), "actionworker.yaml")
	require.NoError(t, Init(path, false))
	assert.Error(t, Init(path, false))
	require.NoError(t, Init(path, true))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "actionworker", cfg.Host.WorkerBinary)
	assert.Equal(t, []string{"serve"}, cfg.Host.WorkerArgs)
}

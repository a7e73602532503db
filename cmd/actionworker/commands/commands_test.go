package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/actionworker/internal/config"
	"git.home.luguber.info/inful/actionworker/internal/daemon"
	ferrors "git.home.luguber.info/inful/actionworker/internal/foundation/errors"
	"git.home.luguber.info/inful/actionworker/internal/host"
	"git.home.luguber.info/inful/actionworker/internal/isolation"
	"git.home.luguber.info/inful/actionworker/internal/journal"
	"git.home.luguber.info/inful/actionworker/internal/protocol"
)

func parse(t *testing.T, args ...string) (*kong.Context, *CLI, *Global) {
	t.Helper()
	var cli CLI
	g := &Global{}
	parser, err := kong.New(&cli, kong.Name("actionworker"), kong.Vars{"version": "test"}, kong.Bind(g))
	require.NoError(t, err)
	ctx, err := parser.Parse(args)
	require.NoError(t, err)
	return ctx, &cli, g
}

func TestParseServe(t *testing.T) {
	ctx, cli, g := parse(t, "serve", "--worker-id", "w-9", "--transport", "stdio")
	assert.Equal(t, "serve", ctx.Command())
	assert.Equal(t, "w-9", cli.Serve.WorkerID)
	assert.NotNil(t, g.Logger)

	cfg := config.Default()
	cli.Serve.override(cfg)
	assert.Equal(t, "w-9", cfg.Worker.ID)
	assert.Equal(t, config.TransportStdio, cfg.Transport.Kind)
}

func TestServeGeneratesWorkerID(t *testing.T) {
	cfg := config.Default()
	(&ServeCmd{}).override(cfg)
	assert.NotEmpty(t, cfg.Worker.ID)
}

func TestRunSpec(t *testing.T) {
	dir := t.TempDir()
	isoPath := filepath.Join(dir, "isolation.yaml")
	require.NoError(t, os.WriteFile(isoPath, []byte(`
kind: hierarchical
loaders:
  - name: api
    kind: filter
    allow_packages: [actionworker/api]
`), 0o600))

	r := &RunCmd{Action: daemon.EchoSymbol, Params: `{"a":1}`, Isolation: isoPath, BaseDir: dir}
	spec, err := r.spec()
	require.NoError(t, err)
	assert.Equal(t, daemon.EchoSymbol, spec.Action)
	assert.Equal(t, filepath.Join(dir, ".actionworker"), spec.CacheDir)
	assert.JSONEq(t, `{"a":1}`, string(spec.Params))
	assert.Equal(t, isolation.KindHierarchical, spec.Isolation.Kind)

	_, err = (&RunCmd{Action: "x.Y", Params: "{", BaseDir: dir}).spec()
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
}

func TestReport(t *testing.T) {
	var buf bytes.Buffer
	out := host.Outcome{Kind: protocol.KindCompleted, Payload: json.RawMessage(`{"didWork":true}`)}
	require.NoError(t, report(&buf, out))
	assert.Contains(t, buf.String(), `"didWork": true`)

	err := report(&buf, host.Outcome{Kind: protocol.KindInfrastructureFailed, Failure: &protocol.Failure{Message: "hidden"}})
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryInfrastructure))
	err = report(&buf, host.Outcome{Kind: protocol.KindFailed, Failure: &protocol.Failure{Message: "bad"}})
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryAction))
}

func TestPrintJournal(t *testing.T) {
	store, err := journal.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	require.NoError(t, store.Record(ctx, journal.Entry{OperationID: "1", WorkerID: "w", Action: "echo", Kind: "completed"}))
	require.NoError(t, store.Record(ctx, journal.Entry{OperationID: "2", WorkerID: "w", Action: "echo", Kind: "failed", Message: "boom"}))

	var buf bytes.Buffer
	require.NoError(t, printJournal(ctx, &buf, store, 10))
	assert.Contains(t, buf.String(), "OUTCOME")
	assert.Contains(t, buf.String(), "boom")
	assert.Contains(t, buf.String(), "completed: 1\nfailed: 1\n")
}

func TestInitCommand(t *testing.T) {
	dir := t.TempDir()
	_, cli, g := parse(t, "init", "--output", dir)
	require.NoError(t, cli.Init.Run(g, cli))
	_, err := os.Stat(filepath.Join(dir, defaultConfigPath))
	assert.NoError(t, err)
}

package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/actionworker/internal/foundation/errors"
	"git.home.luguber.info/inful/actionworker/internal/isolation"
	"git.home.luguber.info/inful/actionworker/internal/managed"
	"git.home.luguber.info/inful/actionworker/internal/metrics"
	"git.home.luguber.info/inful/actionworker/internal/protocol"
	"git.home.luguber.info/inful/actionworker/internal/services"
	"git.home.luguber.info/inful/actionworker/internal/worker"
)

type failing struct{}

func (failing) Execute(context.Context, json.RawMessage) (any, error) {
	return nil, errors.New("compilation failed")
}

type notAnAction struct{}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	symbols := append(Symbols(),
		isolation.Symbol{Name: "acme/tasks.Fail", Module: "acme", Type: reflect.TypeFor[failing](), New: func() failing { return failing{} }},
		isolation.Symbol{Name: "acme/tasks.Broken", Module: "acme", Type: reflect.TypeFor[notAnAction]()},
		isolation.Symbol{Name: "acme/tasks.Odd", Module: "acme", Type: reflect.TypeFor[notAnAction](), New: func() notAnAction { return notAnAction{} }},
	)
	catalog, err := isolation.NewCatalog(symbols...)
	require.NoError(t, err)

	root, err := managed.NewRoot("")
	require.NoError(t, err)
	session, err := services.NewBuilder(services.ScopeSession).Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return NewServer(session, isolation.NewBoundary(catalog), root.Child())
}

func TestServerRegistersSerializer(t *testing.T) {
	s := newTestServer(t)
	sz := protocol.NewSerializers()
	require.NoError(t, s.RegisterSerializers(sz))

	arg, err := sz.Decode(ArgType, json.RawMessage(`{"action":"a.B","baseDir":"/w"}`))
	require.NoError(t, err)
	spec, ok := arg.(*ActionSpec)
	require.True(t, ok)
	assert.Equal(t, "a.B", spec.ActionName())
}

func TestServerRunsEcho(t *testing.T) {
	s := newTestServer(t)
	out, err := s.Run(context.Background(), &ActionSpec{
		Action:  EchoSymbol,
		BaseDir: t.TempDir(),
		Params:  json.RawMessage(`{"msg":"hi"}`),
	})
	require.NoError(t, err)
	res, ok := out.(WorkResult)
	require.True(t, ok)
	assert.True(t, res.DidWork)
	assert.Equal(t, map[string]any{"msg": "hi"}, res.Value)
}

func TestServerScopesFilesToRequest(t *testing.T) {
	s := newTestServer(t)
	base := t.TempDir()
	out, err := s.Run(context.Background(), &ActionSpec{
		Action:  FilesSymbol,
		BaseDir: base,
		Params:  json.RawMessage(`{"paths":["src/a.go","/abs/b.go"]}`),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(base, "src/a.go"), "/abs/b.go"}, out.(WorkResult).Value)
}

func TestServerHierarchicalHidesAction(t *testing.T) {
	s := newTestServer(t)
	structure := isolation.Hierarchical(
		isolation.LoaderSpec{Name: "api", Kind: isolation.LoaderFilter, AllowPackages: []string{"actionworker/api"}},
	)
	_, err := s.Run(context.Background(), &ActionSpec{Action: EchoSymbol, BaseDir: "/w", Isolation: structure})
	require.Error(t, err)
	assert.True(t, isolation.IsLinkageError(err))
	assert.Equal(t, metrics.OutcomeInfrastructureFailed, worker.Classify(err))
}

func TestServerHierarchicalModulesExposeAction(t *testing.T) {
	s := newTestServer(t)
	structure := isolation.Hierarchical(
		isolation.LoaderSpec{Name: "api", Kind: isolation.LoaderFilter, AllowPackages: []string{"actionworker/api"}},
		isolation.LoaderSpec{Name: "actions", Kind: isolation.LoaderModules, Modules: []string{Module}},
	)
	spec := &ActionSpec{Action: EchoSymbol, BaseDir: "/w", Isolation: structure}
	_, err := s.Run(context.Background(), spec)
	require.NoError(t, err)
	_, err = s.Run(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, 1, s.boundary.Cached())
}

func TestServerActionFailureIsUserFailure(t *testing.T) {
	s := newTestServer(t)
	_, err := s.Run(context.Background(), &ActionSpec{Action: "acme/tasks.Fail", BaseDir: "/w"})
	require.EqualError(t, err, "compilation failed")
	assert.Equal(t, metrics.OutcomeFailed, worker.Classify(err))
}

func TestServerRejectsBadRequests(t *testing.T) {
	s := newTestServer(t)

	_, err := s.Run(context.Background(), "not a spec")
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))

	_, err = s.Run(context.Background(), &ActionSpec{Action: EchoSymbol})
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))

	_, err = s.Run(context.Background(), &ActionSpec{Action: "acme/tasks.Broken", BaseDir: "/w"})
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryRegistration))

	_, err = s.Run(context.Background(), &ActionSpec{Action: "acme/tasks.Odd", BaseDir: "/w"})
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryRegistration))

	_, err = s.Run(context.Background(), &ActionSpec{
		Action: EchoSymbol, BaseDir: "/w",
		Isolation: isolation.Structure{Kind: "sandbox"},
	})
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryInfrastructure))
}

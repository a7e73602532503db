// Package daemon is the standard worker implementation. It runs actions named
// by an ActionSpec inside the isolation it asks for, giving each request
// its own service scope.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	ferrors "git.home.luguber.info/inful/actionworker/internal/foundation/errors"
	"git.home.luguber.info/inful/actionworker/internal/isolation"
	"git.home.luguber.info/inful/actionworker/internal/logfields"
	"git.home.luguber.info/inful/actionworker/internal/managed"
	"git.home.luguber.info/inful/actionworker/internal/protocol"
	"git.home.luguber.info/inful/actionworker/internal/registry"
	"git.home.luguber.info/inful/actionworker/internal/services"
	"git.home.luguber.info/inful/actionworker/internal/worklog"
)

// ServerSymbol is the catalog name of the daemon server.
const ServerSymbol = "actionworker/daemon.Server"

// Server runs ActionSpec requests.
type Server struct {
	session  services.Lookup
	boundary *isolation.Boundary
	managed  *registry.Node
}

// NewServer is the constructor the worker session injects.
func NewServer(session services.Lookup, boundary *isolation.Boundary, managed *registry.Node) *Server {
	return &Server{session: session, boundary: boundary, managed: managed}
}

// RegisterSerializers makes ActionSpec decodable.
func (s *Server) RegisterSerializers(sz *protocol.Serializers) error {
	return protocol.Register[ActionSpec](sz, ArgType)
}

// Run executes spec in a fresh request scope that is closed on return.
func (s *Server) Run(ctx context.Context, arg any) (any, error) {
	spec, ok := arg.(*ActionSpec)
	if !ok || spec == nil {
		return nil, ferrors.ValidationError("unsupported request argument").
			WithContext("type", fmt.Sprintf("%T", arg)).
			Build()
	}
	if err := spec.validate(); err != nil {
		return nil, ferrors.ValidationError(err.Error()).Build()
	}

	logger := worklog.FromContext(ctx).With(logfields.Action(spec.Action))
	ictx, err := s.boundary.ContextFor(spec.Isolation)
	if err != nil {
		return nil, ferrors.InfrastructureError("cannot build isolation context").
			WithCause(err).
			WithContext("action", spec.Action).
			Build()
	}

	scope, err := s.requestScope(spec, ictx, logger)
	if err != nil {
		return nil, ferrors.InfrastructureError("cannot build request scope").WithCause(err).Build()
	}
	defer func() {
		if cerr := scope.Close(); cerr != nil {
			logger.Warn("Closing request scope failed", logfields.Error(cerr))
		}
	}()

	sym, err := ictx.Load(spec.Action)
	if err != nil {
		return nil, fmt.Errorf("load action: %w", err)
	}
	if sym.New == nil {
		return nil, ferrors.RegistrationError("action has no constructor").
			WithContext("symbol", sym.Name).
			Build()
	}
	v, err := services.Inject(scope, sym.New)
	if err != nil {
		return nil, fmt.Errorf("construct %s: %w", sym.Name, err)
	}
	action, ok := v.(Action)
	if !ok {
		return nil, ferrors.RegistrationError("symbol is not an action").
			WithContext("symbol", sym.Name).
			WithContext("type", fmt.Sprintf("%T", v)).
			Build()
	}

	start := time.Now()
	logger.Debug("Executing action", logfields.Isolation(string(ictx.Structure().Kind)))
	value, err := action.Execute(ctx, spec.Params)
	if err != nil {
		return nil, err
	}
	logger.Debug("Action finished", logfields.DurationMS(float64(time.Since(start).Milliseconds())))
	return WorkResult{DidWork: true, Value: value}, nil
}

func (s *Server) requestScope(spec *ActionSpec, ictx *isolation.Context, logger *slog.Logger) (*services.Container, error) {
	return services.NewBuilder(services.ScopeRequest).Parent(s.session).Provider(func(r *services.Registration) {
		services.Add(r, RequestDirs{BaseDir: spec.BaseDir, CacheDir: spec.CacheDir})
		services.Add(r, ictx)
		services.Add(r, logger)
		services.Provide(r, func(services.Lookup) (*registry.Node, error) {
			parent := s.managed
			if parent == nil {
				parent = registry.New(nil)
			}
			n := parent.Child()
			if err := managed.ScopeFiles(n, spec.BaseDir); err != nil {
				return nil, err
			}
			return n, nil
		})
	}).Build()
}

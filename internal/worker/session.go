// Package worker implements the worker-side session: it initializes the
// implementation a worker process serves, runs requests one at a time, and
// answers each with exactly one classified response.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/actionworker/internal/causal"
	ferrors "git.home.luguber.info/inful/actionworker/internal/foundation/errors"
	"git.home.luguber.info/inful/actionworker/internal/isolation"
	"git.home.luguber.info/inful/actionworker/internal/logfields"
	"git.home.luguber.info/inful/actionworker/internal/metrics"
	"git.home.luguber.info/inful/actionworker/internal/protocol"
	"git.home.luguber.info/inful/actionworker/internal/registry"
	"git.home.luguber.info/inful/actionworker/internal/services"
	"git.home.luguber.info/inful/actionworker/internal/worklog"
)

var (
	// ErrSessionReused is returned by a second call to Execute.
	ErrSessionReused = errors.New("session already executed")
	// ErrNoConnection is returned when Execute has nothing to report on.
	ErrNoConnection = errors.New("process context has no connection")
)

// RequestHandler is the implementation a session serves.
type RequestHandler interface {
	Run(ctx context.Context, arg any) (any, error)
}

// SerializerContributor is implemented by handlers that accept argument
// types beyond the ones the session knows.
type SerializerContributor interface {
	RegisterSerializers(s *protocol.Serializers) error
}

// Connection is the transport the session drives.
type Connection interface {
	AddIncoming(p protocol.RequestProtocol)
	AddOutgoing() protocol.ResponseProtocol
	UseParameterSerializers(s *protocol.Serializers)
	Connect() error
}

// ProblemReporter receives problems that cannot be sent as a response.
type ProblemReporter interface {
	ReportProblem(msg string, err error, attrs ...slog.Attr)
}

type logReporter struct{}

func (logReporter) ReportProblem(msg string, err error, attrs ...slog.Attr) {
	args := make([]any, 0, len(attrs)+1)
	args = append(args, logfields.Error(err))
	for _, a := range attrs {
		args = append(args, a)
	}
	slog.Error(msg, args...)
}

// ProcessContext is what the worker process hands to its session.
type ProcessContext struct {
	WorkerID   string
	Connection Connection
	// Services is the global scope the session scope is parented to.
	Services services.Lookup
	Boundary *isolation.Boundary
	// Managed is the process-wide registry of managed object factories.
	Managed *registry.Node
	// Implementation names the catalog symbol whose constructor builds the handler.
	Implementation string
}

// Session is the state machine of one worker process.
type Session struct {
	tracker  *causal.Tracker
	recorder metrics.Recorder
	reporter ProblemReporter
	logLevel slog.Leveler

	executed atomic.Bool
	stateMu  sync.Mutex
	state    State
	workerID string

	impl        RequestHandler
	initFailure error
	out         protocol.ResponseProtocol
	runCtx      context.Context

	runMu    sync.Mutex
	stopOnce sync.Once
	gate     chan struct{}
}

// Option configures a Session.
type Option func(*Session)

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Session) { s.recorder = metrics.OrNoop(r) }
}

// WithTracker sets the causal tracker shared with the rest of the process.
func WithTracker(t *causal.Tracker) Option {
	return func(s *Session) {
		if t != nil {
			s.tracker = t
		}
	}
}

// WithProblemReporter sets where undeliverable problems go.
func WithProblemReporter(p ProblemReporter) Option {
	return func(s *Session) {
		if p != nil {
			s.reporter = p
		}
	}
}

// WithActionLogLevel sets the minimum level forwarded from actions to the host.
func WithActionLogLevel(l slog.Leveler) Option {
	return func(s *Session) {
		if l != nil {
			s.logLevel = l
		}
	}
}

// NewSession creates an uninitialized session.
func NewSession(opts ...Option) *Session {
	s := &Session{
		tracker:  causal.NewTracker(),
		recorder: metrics.NoopRecorder{},
		reporter: logReporter{},
		logLevel: slog.LevelInfo,
		state:    StateUninitialized,
		gate:     make(chan struct{}),
		runCtx:   context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// InitFailure returns the captured initialization failure, if any.
func (s *Session) InitFailure() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.initFailure
}

// Tracker returns the session's causal tracker.
func (s *Session) Tracker() *causal.Tracker { return s.tracker }

func (s *Session) setState(next State) {
	s.stateMu.Lock()
	prev := s.state
	s.state = next
	s.stateMu.Unlock()
	slog.Debug("Session state changed", logfields.WorkerID(s.workerID), "from", string(prev), logfields.SessionState(string(next)))
}

// Execute initializes the session, connects it and blocks until the session
// stops. A failed initialization is not returned: it is reported to the host
// once and the session keeps discarding requests until it is stopped.
// Cancelling ctx stops the session.
func (s *Session) Execute(ctx context.Context, pc ProcessContext) error {
	if !s.executed.CompareAndSwap(false, true) {
		return ErrSessionReused
	}
	if pc.Connection == nil {
		return ErrNoConnection
	}
	s.workerID = pc.WorkerID
	s.runCtx = context.WithoutCancel(ctx)
	s.setState(StateInitializing)

	conn := pc.Connection
	conn.AddIncoming(s)
	s.out = conn.AddOutgoing()

	scope, impl, serializers, err := s.initialize(pc)
	defer func() {
		if cerr := scope.Close(); cerr != nil {
			s.reporter.ReportProblem("Closing session scope failed", cerr, logfields.WorkerID(s.workerID))
		}
	}()

	if err != nil {
		failure := ferrors.SessionError("worker session initialization failed").
			WithCause(err).
			WithContext("implementation", pc.Implementation).
			WithContext("worker_id", pc.WorkerID).
			Build()
		s.stateMu.Lock()
		s.initFailure = failure
		s.stateMu.Unlock()
		s.setState(StateInitializationFailed)
		s.recorder.IncSessionInit(false)
		conn.UseParameterSerializers(protocol.DiscardSerializers())
		slog.Error("Worker initialization failed", logfields.WorkerID(pc.WorkerID), logfields.Implementation(pc.Implementation), logfields.Error(err))
		if serr := s.out.InfrastructureFailed(failure); serr != nil {
			s.reporter.ReportProblem("Could not report initialization failure", serr, logfields.WorkerID(pc.WorkerID))
		}
	} else {
		s.impl = impl
		conn.UseParameterSerializers(serializers)
		s.setState(StateReady)
		s.recorder.IncSessionInit(true)
		s.setState(StateServing)
	}

	if err := conn.Connect(); err != nil {
		s.Stop()
		return ferrors.TransportError("connect worker session").WithCause(err).Build()
	}
	slog.Info("Worker session connected", logfields.WorkerID(pc.WorkerID), logfields.SessionState(string(s.State())))

	select {
	case <-s.gate:
	case <-ctx.Done():
		slog.Info("Worker session cancelled", logfields.WorkerID(pc.WorkerID))
		s.Stop()
	}
	return nil
}

// initialize builds the session scope and the implementation. The returned
// scope is never nil, even on failure.
func (s *Session) initialize(pc ProcessContext) (scope *services.Container, impl RequestHandler, serializers *protocol.Serializers, err error) {
	scope = &services.Container{}
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()

	if pc.Boundary == nil {
		return scope, nil, nil, errors.New("process context has no isolation boundary")
	}
	if pc.Implementation == "" {
		return scope, nil, nil, errors.New("no implementation configured")
	}
	managed := pc.Managed
	if managed == nil {
		managed = registry.New(nil)
	}

	serializers = protocol.NewSerializers()
	built, err := services.NewBuilder(services.ScopeSession).Parent(pc.Services).Provider(func(r *services.Registration) {
		services.Add(r, r.Scope())
		services.Add(r, s.tracker)
		services.Add(r, s.out)
		services.Add(r, serializers)
		services.Add(r, pc.Boundary)
		services.Add(r, metrics.OrNoop(s.recorder))
		services.Add(r, s.reporter)
		services.Provide(r, func(services.Lookup) (*registry.Node, error) {
			return managed.Child(), nil
		})
		services.Provide(r, func(services.Lookup) (*slog.Logger, error) {
			return slog.New(worklog.NewBridge(s.out, s.logLevel, s.tracker)), nil
		})
	}).Build()
	if err != nil {
		return scope, nil, nil, err
	}
	scope = built

	sym, err := pc.Boundary.Bootstrap().Load(pc.Implementation)
	if err != nil {
		return scope, nil, nil, fmt.Errorf("resolve implementation: %w", err)
	}
	if sym.New == nil {
		return scope, nil, nil, fmt.Errorf("implementation %s has no constructor", sym.Name)
	}
	v, err := services.Inject(scope, sym.New)
	if err != nil {
		return scope, nil, nil, fmt.Errorf("construct implementation %s: %w", sym.Name, err)
	}
	impl, ok := v.(RequestHandler)
	if !ok {
		return scope, nil, nil, fmt.Errorf("implementation %s is %T, not a request handler", sym.Name, v)
	}
	if c, ok := impl.(SerializerContributor); ok {
		if err := c.RegisterSerializers(serializers); err != nil {
			return scope, nil, nil, fmt.Errorf("register serializers of %s: %w", sym.Name, err)
		}
	}
	return scope, impl, serializers, nil
}

// Run serves one request. Requests never overlap. In the failed state the
// request is discarded without a response.
func (s *Session) Run(req protocol.Request) {
	switch st := s.State(); st {
	case StateInitializationFailed:
		slog.Debug("Discarding request of failed session", logfields.OperationID(req.Operation.ID))
		return
	case StateStopped:
		slog.Warn("Request received after stop", logfields.OperationID(req.Operation.ID))
		return
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	start := time.Now()
	outcome := s.serve(req)
	elapsed := time.Since(start)

	s.recorder.ObserveRequestDuration(actionLabel(req.Arg), elapsed)
	s.recorder.IncRequestOutcome(outcome)
	slog.Debug("Request served",
		logfields.OperationID(req.Operation.ID),
		logfields.Outcome(string(outcome)),
		logfields.DurationMS(float64(elapsed.Microseconds())/1000))
}

// RunThenStop serves one request and stops, even if serving panics.
func (s *Session) RunThenStop(req protocol.Request) {
	defer s.Stop()
	s.Run(req)
}

// Stop releases Execute. Only the first call has an effect.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.tracker.Clear()
		s.setState(StateStopped)
		close(s.gate)
	})
}

// EndStream treats the peer going away as a stop.
func (s *Session) EndStream() {
	slog.Info("Host closed the connection", logfields.WorkerID(s.workerID))
	s.Stop()
}

// HandleStreamFailure reports an undecodable request as a failed action.
func (s *Session) HandleStreamFailure(err error) {
	if s.State() == StateInitializationFailed {
		return
	}
	if serr := s.out.Failed(err); serr != nil {
		s.reporter.ReportProblem("Could not report stream failure", serr, logfields.WorkerID(s.workerID))
	}
}

func (s *Session) serve(req protocol.Request) (outcome metrics.OutcomeLabel) {
	defer func() {
		if r := recover(); r != nil {
			outcome = s.lastResort(fmt.Errorf("responding panicked: %v", r))
		}
	}()

	ref := req.Operation
	if ref.IsZero() {
		ref = causal.NewRef("request")
	}

	var result any
	var runErr error
	_ = s.tracker.With(s.runCtx, ref, func(ctx context.Context) error {
		logger := slog.New(worklog.NewBridge(s.out, s.logLevel, s.tracker)).With(logfields.WorkerID(s.workerID))
		result, runErr = invoke(worklog.WithLogger(ctx, logger), s.impl, req.Arg)
		return nil
	})

	return s.respond(result, runErr)
}

func (s *Session) respond(result any, runErr error) metrics.OutcomeLabel {
	outcome := Classify(runErr)
	var err error
	switch outcome {
	case metrics.OutcomeCompleted:
		err = s.out.Completed(result)
	case metrics.OutcomeFailed:
		err = s.out.Failed(runErr)
	default:
		err = s.out.InfrastructureFailed(runErr)
	}
	if err == nil {
		return outcome
	}
	if outcome == metrics.OutcomeInfrastructureFailed {
		s.reporter.ReportProblem("Could not deliver response", err, logfields.WorkerID(s.workerID))
		return outcome
	}
	return s.lastResort(err)
}

func (s *Session) lastResort(err error) metrics.OutcomeLabel {
	failure := ferrors.InfrastructureError("worker could not deliver response").WithCause(err).Build()
	if serr := s.out.InfrastructureFailed(failure); serr != nil {
		s.reporter.ReportProblem("Could not deliver response", errors.Join(err, serr), logfields.WorkerID(s.workerID))
	}
	return metrics.OutcomeInfrastructureFailed
}

// actionLabel names a request for metrics.
func actionLabel(arg any) string {
	if n, ok := arg.(interface{ ActionName() string }); ok {
		return n.ActionName()
	}
	if arg == nil {
		return "none"
	}
	return fmt.Sprintf("%T", arg)
}

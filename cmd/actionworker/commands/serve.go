package commands

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/actionworker/internal/causal"
	"git.home.luguber.info/inful/actionworker/internal/config"
	"git.home.luguber.info/inful/actionworker/internal/daemon"
	ferrors "git.home.luguber.info/inful/actionworker/internal/foundation/errors"
	"git.home.luguber.info/inful/actionworker/internal/isolation"
	"git.home.luguber.info/inful/actionworker/internal/logfields"
	"git.home.luguber.info/inful/actionworker/internal/managed"
	"git.home.luguber.info/inful/actionworker/internal/metrics"
	"git.home.luguber.info/inful/actionworker/internal/protocol"
	"git.home.luguber.info/inful/actionworker/internal/services"
	"git.home.luguber.info/inful/actionworker/internal/transport"
	"git.home.luguber.info/inful/actionworker/internal/transport/natschan"
	"git.home.luguber.info/inful/actionworker/internal/worker"
	"git.home.luguber.info/inful/actionworker/internal/worklog"
)

// ServeCmd implements the 'serve' command: one worker process, one session.
type ServeCmd struct {
	WorkerID       string `name:"worker-id" help:"Worker id (overrides config; generated when empty)"`
	Implementation string `help:"Catalog symbol to serve (overrides config)"`
	Transport      string `help:"stdio or nats (overrides config)"`
}

func (s *ServeCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(g, root)
	if err != nil {
		return err
	}
	s.override(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	recorder := metrics.Recorder(metrics.NoopRecorder{})
	if cfg.Metrics.Enabled {
		reg := prom.NewRegistry()
		recorder = metrics.NewPrometheusRecorder(reg)
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Listen, reg); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics endpoint failed", logfields.Error(err))
			}
		}()
	}

	ch, err := openWorkerChannel(cfg)
	if err != nil {
		return err
	}
	conn := transport.New(ch, transport.WithRecorder(recorder))
	defer func() { _ = conn.Close() }()

	global, pc, err := newProcessContext(cfg, conn, recorder)
	if err != nil {
		return err
	}
	defer func() {
		if err := global.Close(); err != nil {
			slog.Warn("Closing global scope failed", logfields.Error(err))
		}
	}()

	session := worker.NewSession(
		worker.WithRecorder(recorder),
		worker.WithTracker(causal.NewTracker()),
		worker.WithActionLogLevel(worklog.ParseLevel(string(cfg.Worker.ActionLogLevel))),
	)
	slog.Info("Worker starting",
		logfields.WorkerID(pc.WorkerID),
		logfields.Implementation(pc.Implementation),
		logfields.Transport(string(cfg.Transport.Kind)))
	if err := session.Execute(ctx, pc); err != nil {
		return err
	}
	if failure := session.InitFailure(); failure != nil {
		return failure
	}
	slog.Info("Worker stopped", logfields.WorkerID(pc.WorkerID))
	return nil
}

func (s *ServeCmd) override(cfg *config.Config) {
	if s.WorkerID != "" {
		cfg.Worker.ID = s.WorkerID
	}
	if cfg.Worker.ID == "" {
		cfg.Worker.ID = uuid.NewString()
	}
	if s.Implementation != "" {
		cfg.Worker.Implementation = s.Implementation
	}
	if s.Transport != "" {
		cfg.Transport.Kind = config.TransportKind(s.Transport)
	}
}

func openWorkerChannel(cfg *config.Config) (protocol.Channel, error) {
	switch cfg.Transport.Kind {
	case config.TransportStdio:
		return protocol.NewStreamChannel(os.Stdin, os.Stdout, os.Stdin), nil
	case config.TransportNATS:
		nc, err := natschan.Dial(cfg.Transport.NATSURL, "actionworker-"+cfg.Worker.ID)
		if err != nil {
			return nil, ferrors.TransportError("cannot reach NATS").WithCause(err).Build()
		}
		ch, err := natschan.ForWorker(nc, natschan.SubjectsFor(cfg.Transport.SubjectPrefix, cfg.Worker.ID))
		if err != nil {
			nc.Close()
			return nil, ferrors.TransportError("cannot open worker subjects").WithCause(err).Build()
		}
		return ch.OwnConnection(), nil
	}
	return nil, ferrors.ConfigError("unsupported transport").WithContext("transport", cfg.Transport.Kind).Build()
}

// newProcessContext builds the global scope and everything the session needs
// from the process.
func newProcessContext(cfg *config.Config, conn worker.Connection, recorder metrics.Recorder) (*services.Container, worker.ProcessContext, error) {
	catalog, err := isolation.NewCatalog(daemon.Symbols()...)
	if err != nil {
		return nil, worker.ProcessContext{}, ferrors.InternalError("invalid symbol catalog").WithCause(err).Build()
	}
	boundary := isolation.NewBoundary(catalog, isolation.WithRecorder(recorder))

	wd, err := os.Getwd()
	if err != nil {
		return nil, worker.ProcessContext{}, err
	}
	root, err := managed.NewRoot(wd)
	if err != nil {
		return nil, worker.ProcessContext{}, ferrors.RegistrationError("managed factories").WithCause(err).Build()
	}

	global, err := services.NewBuilder(services.ScopeGlobal).Provider(func(r *services.Registration) {
		services.Add(r, cfg)
		services.Add(r, catalog)
		services.Add(r, recorder)
	}).Build()
	if err != nil {
		return nil, worker.ProcessContext{}, ferrors.RegistrationError("global scope").WithCause(err).Build()
	}

	return global, worker.ProcessContext{
		WorkerID:       cfg.Worker.ID,
		Connection:     conn,
		Services:       global,
		Boundary:       boundary,
		Managed:        root,
		Implementation: cfg.Worker.Implementation,
	}, nil
}

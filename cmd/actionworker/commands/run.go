package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/actionworker/internal/config"
	"git.home.luguber.info/inful/actionworker/internal/daemon"
	ferrors "git.home.luguber.info/inful/actionworker/internal/foundation/errors"
	"git.home.luguber.info/inful/actionworker/internal/host"
	"git.home.luguber.info/inful/actionworker/internal/isolation"
	"git.home.luguber.info/inful/actionworker/internal/journal"
	"git.home.luguber.info/inful/actionworker/internal/logfields"
	"git.home.luguber.info/inful/actionworker/internal/protocol"
	"git.home.luguber.info/inful/actionworker/internal/transport/natschan"
)

// RunCmd implements the 'run' command: the host side for one action.
type RunCmd struct {
	Action    string `arg:"" help:"Catalog symbol of the action to run"`
	Params    string `short:"p" help:"Action parameters as JSON"`
	Isolation string `short:"i" help:"YAML file describing the isolation structure (flat when omitted)"`
	BaseDir   string `name:"base-dir" help:"Base directory of the build" type:"path"`
	CacheDir  string `name:"cache-dir" help:"Cache directory of the build" type:"path"`
	WorkerID  string `name:"worker-id" help:"Id of an already running NATS worker"`
	NoJournal bool   `name:"no-journal" help:"Do not record the outcome"`
}

func (r *RunCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(g, root)
	if err != nil {
		return err
	}
	spec, err := r.spec()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var opts []host.Option
	if !r.NoJournal {
		store, err := journal.NewSQLiteStore(cfg.Journal.Path)
		if err != nil {
			return ferrors.WrapError(err, ferrors.CategoryJournal, "cannot open journal").
				WithContext("path", cfg.Journal.Path).
				Build()
		}
		defer func() { _ = store.Close() }()
		opts = append(opts, host.WithJournal(store))
	}
	opts = append(opts, host.WithLogSink(func(ev protocol.LogEvent) {
		slog.Info(ev.Message, "worker_level", ev.Level, logfields.OperationID(ev.Operation.ID))
	}))

	client, wait, err := r.connect(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	out, err := client.SendThenStop(ctx, spec)
	var fatal host.FatalFailures
	if initErr := client.InitFailure(); initErr != nil {
		fatal.Add(r.WorkerID, initErr)
	}
	if werr := wait(); werr != nil {
		slog.Debug("Worker exited", logfields.Error(werr))
	}
	if ferr := fatal.Err(); ferr != nil {
		return ferrors.SessionError("worker failed to initialize").WithCause(ferr).Build()
	}
	if err != nil {
		return ferrors.TransportError("request did not complete").WithCause(err).Build()
	}
	return report(os.Stdout, out)
}

func (r *RunCmd) spec() (*daemon.ActionSpec, error) {
	spec := &daemon.ActionSpec{Action: r.Action, BaseDir: r.BaseDir, CacheDir: r.CacheDir}
	if spec.BaseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		spec.BaseDir = wd
	}
	if spec.CacheDir == "" {
		spec.CacheDir = filepath.Join(spec.BaseDir, ".actionworker")
	}
	if r.Params != "" {
		if !json.Valid([]byte(r.Params)) {
			return nil, ferrors.ValidationError("--params is not valid JSON").Build()
		}
		spec.Params = json.RawMessage(r.Params)
	}
	if r.Isolation != "" {
		s, err := isolation.LoadStructure(r.Isolation)
		if err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryValidation, "invalid isolation structure").
				WithContext("path", r.Isolation).
				Build()
		}
		spec.Isolation = s
	}
	return spec, nil
}

// connect returns a client for the configured transport and a function
// that waits for the worker to finish.
func (r *RunCmd) connect(ctx context.Context, cfg *config.Config, opts []host.Option) (*host.Client, func() error, error) {
	sz := protocol.NewSerializers()
	if err := protocol.Register[daemon.ActionSpec](sz, daemon.ArgType); err != nil {
		return nil, nil, err
	}

	switch cfg.Transport.Kind {
	case config.TransportNATS:
		if r.WorkerID == "" {
			return nil, nil, ferrors.ValidationError("--worker-id is required with the nats transport").Build()
		}
		nc, err := natschan.Dial(cfg.Transport.NATSURL, "actionworker-host-"+uuid.NewString())
		if err != nil {
			return nil, nil, ferrors.TransportError("cannot reach NATS").WithCause(err).Build()
		}
		ch, err := natschan.ForHost(nc, natschan.SubjectsFor(cfg.Transport.SubjectPrefix, r.WorkerID))
		if err != nil {
			nc.Close()
			return nil, nil, ferrors.TransportError("cannot open host subjects").WithCause(err).Build()
		}
		client := host.NewClient(ch.OwnConnection(), sz, append(opts, host.WithWorkerID(r.WorkerID))...)
		return client, func() error { return nil }, nil
	default:
		if r.WorkerID == "" {
			r.WorkerID = uuid.NewString()
		}
		bin := cfg.Host.WorkerBinary
		if bin == "" {
			exe, err := os.Executable()
			if err != nil {
				return nil, nil, err
			}
			bin = exe
		}
		args := cfg.Host.WorkerArgs
		if len(args) == 0 {
			args = []string{"serve"}
		}
		args = append(append([]string{}, args...), "--worker-id", r.WorkerID, "--transport", string(config.TransportStdio))
		proc, err := host.Spawn(ctx, bin, args, os.Stderr)
		if err != nil {
			return nil, nil, ferrors.InfrastructureError("cannot start worker").WithCause(err).Build()
		}
		client := host.NewClient(proc.Channel(), sz, append(opts, host.WithWorkerID(r.WorkerID))...)
		return client, proc.Wait, nil
	}
}

func report(w io.Writer, out host.Outcome) error {
	if err := out.Err(); err != nil {
		category := ferrors.CategoryAction
		if out.Kind == protocol.KindInfrastructureFailed {
			category = ferrors.CategoryInfrastructure
		}
		return ferrors.WrapError(err, category, fmt.Sprintf("action %s", out.Kind)).
			WithContext("operation_id", out.Operation.ID).
			Build()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"operation":   out.Operation.ID,
		"kind":        out.Kind,
		"duration_ms": out.Duration.Milliseconds(),
		"logs":        len(out.Logs),
		"result":      out.Payload,
	})
}

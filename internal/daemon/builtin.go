package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"

	"git.home.luguber.info/inful/actionworker/internal/isolation"
	"git.home.luguber.info/inful/actionworker/internal/managed"
	"git.home.luguber.info/inful/actionworker/internal/registry"
)

// Module is the catalog module of the daemon and its built-in actions.
const Module = "actionworker-daemon"

// Symbol names of the built-in actions.
const (
	EchoSymbol  = "actionworker/daemon/actions.Echo"
	FilesSymbol = "actionworker/daemon/actions.Files"
)

// Symbols returns the catalog entries contributed by this package.
func Symbols() []isolation.Symbol {
	return []isolation.Symbol{
		{Name: ServerSymbol, Module: Module, Type: reflect.TypeFor[*Server](), New: NewServer},
		{Name: EchoSymbol, Module: Module, Type: reflect.TypeFor[*Echo](), New: NewEcho},
		{Name: FilesSymbol, Module: Module, Type: reflect.TypeFor[*Files](), New: NewFiles},
	}
}

// Echo returns its parameters.
type Echo struct {
	logger *slog.Logger
}

func NewEcho(logger *slog.Logger) *Echo {
	return &Echo{logger: logger}
}

func (e *Echo) Execute(_ context.Context, params json.RawMessage) (any, error) {
	e.logger.Info("echo", "bytes", len(params))
	if len(params) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(params, &v); err != nil {
		return nil, fmt.Errorf("decode echo params: %w", err)
	}
	return v, nil
}

// Files resolves paths against the request's base directory using the
// request's file collection factory.
type Files struct {
	factories *registry.Node
	dirs      RequestDirs
}

func NewFiles(factories *registry.Node, dirs RequestDirs) *Files {
	return &Files{factories: factories, dirs: dirs}
}

type filesParams struct {
	Paths []string `json:"paths"`
}

func (f *Files) Execute(_ context.Context, params json.RawMessage) (any, error) {
	var p filesParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("decode files params: %w", err)
		}
	}
	fc, found, err := registry.NewInstance[*managed.FileCollection](f.factories)
	if err != nil {
		return nil, err
	}
	if !found || fc == nil {
		return nil, fmt.Errorf("no file collection factory in scope for %s", f.dirs.BaseDir)
	}
	return fc.From(p.Paths...).Files(), nil
}

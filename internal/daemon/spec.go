package daemon

import (
	"context"
	"encoding/json"
	"fmt"

	"git.home.luguber.info/inful/actionworker/internal/isolation"
)

// ArgType is the wire name of ActionSpec.
const ArgType = "action-spec"

// ActionSpec describes one unit of work sent to a daemon worker.
type ActionSpec struct {
	// Action is the catalog symbol of the action to run.
	Action    string              `json:"action"`
	Isolation isolation.Structure `json:"isolation"`
	Params    json.RawMessage     `json:"params,omitempty"`
	BaseDir   string              `json:"baseDir"`
	CacheDir  string              `json:"cacheDir,omitempty"`
}

// ActionName labels the request in metrics.
func (s *ActionSpec) ActionName() string { return s.Action }

func (s *ActionSpec) validate() error {
	if s.Action == "" {
		return fmt.Errorf("action spec names no action")
	}
	if s.BaseDir == "" {
		return fmt.Errorf("action spec for %s has no base directory", s.Action)
	}
	return nil
}

// RequestDirs are the directories of the build the request belongs to.
type RequestDirs struct {
	BaseDir  string
	CacheDir string
}

// Action is a unit of work constructed per request.
type Action interface {
	Execute(ctx context.Context, params json.RawMessage) (any, error)
}

// WorkResult is what a daemon request completes with.
type WorkResult struct {
	DidWork bool `json:"didWork"`
	Value   any  `json:"value,omitempty"`
}

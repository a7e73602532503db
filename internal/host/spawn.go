package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"git.home.luguber.info/inful/actionworker/internal/logfields"
	"git.home.luguber.info/inful/actionworker/internal/protocol"
)

// Process is a worker started with Spawn. Its stdin and stdout carry the
// protocol; stderr is passed through.
type Process struct {
	cmd     *exec.Cmd
	stdin   io.Closer
	channel *protocol.StreamChannel
}

type processStreams struct {
	stdin  io.Closer
	stdout io.Closer
}

func (p processStreams) Close() error {
	return errors.Join(p.stdin.Close(), p.stdout.Close())
}

// Spawn starts path with args. Killing ctx kills the worker.
func Spawn(ctx context.Context, path string, args []string, stderr io.Writer) (*Process, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	if stderr == nil {
		stderr = os.Stderr
	}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %s: %w", path, err)
	}
	slog.Info("Started worker", logfields.Path(path), "pid", cmd.Process.Pid)

	return &Process{
		cmd:     cmd,
		stdin:   stdin,
		channel: protocol.NewStreamChannel(stdout, stdin, processStreams{stdin: stdin, stdout: stdout}),
	}, nil
}

// Channel returns the protocol channel to the worker.
func (p *Process) Channel() *protocol.StreamChannel { return p.channel }

// Pid returns the worker's process id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Wait closes the worker's stdin, which the worker treats as a stop, and
// waits for it to exit.
func (p *Process) Wait() error {
	_ = p.stdin.Close()
	return p.cmd.Wait()
}

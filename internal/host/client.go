// Package host is the host side of the worker protocol: it sends requests to
// one worker, collects the logs attributed to each request and returns the
// classified response.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/actionworker/internal/causal"
	"git.home.luguber.info/inful/actionworker/internal/journal"
	"git.home.luguber.info/inful/actionworker/internal/logfields"
	"git.home.luguber.info/inful/actionworker/internal/protocol"
)

var (
	// ErrWorkerRetired is returned once the worker reported that it failed
	// to initialize. The worker discards every request after that.
	ErrWorkerRetired = errors.New("worker failed to initialize")
	// ErrWorkerGone is returned when the worker closes the connection
	// before answering.
	ErrWorkerGone = errors.New("worker closed the connection")
	// ErrClientClosed is returned after Close.
	ErrClientClosed = errors.New("client closed")
)

// Journal receives one entry per answered request.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Outcome is a worker's answer to one request.
type Outcome struct {
	Kind      protocol.MessageKind
	Operation causal.Ref
	Payload   json.RawMessage
	Failure   *protocol.Failure
	Logs      []protocol.LogEvent
	Duration  time.Duration
}

// Err returns the failure carried by a failed outcome.
func (o Outcome) Err() error {
	if o.Kind == protocol.KindCompleted || o.Failure == nil {
		return nil
	}
	return o.Failure
}

// Decode unmarshals a completed outcome's result into v.
func (o Outcome) Decode(v any) error {
	if o.Kind != protocol.KindCompleted {
		return fmt.Errorf("cannot decode %s outcome", o.Kind)
	}
	if len(o.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(o.Payload, v)
}

// Client talks to one worker. Requests are sent one at a time.
type Client struct {
	ch          protocol.Channel
	serializers *protocol.Serializers
	workerID    string
	logSink     func(protocol.LogEvent)
	journal     Journal

	mu      sync.Mutex
	retired *protocol.Failure
	closed  bool
}

// Option configures a Client.
type Option func(*Client)

// WithWorkerID names the worker in logs and journal entries.
func WithWorkerID(id string) Option {
	return func(c *Client) { c.workerID = id }
}

// WithLogSink receives every log event as it arrives.
func WithLogSink(fn func(protocol.LogEvent)) Option {
	return func(c *Client) { c.logSink = fn }
}

// WithJournal records every outcome.
func WithJournal(j Journal) Option {
	return func(c *Client) { c.journal = j }
}

// NewClient creates a client sending over ch. serializers must know every
// argument type the client sends.
func NewClient(ch protocol.Channel, serializers *protocol.Serializers, opts ...Option) *Client {
	c := &Client{ch: ch, serializers: serializers}
	for _, opt := range opts {
		opt(c)
	}
	if c.serializers == nil {
		c.serializers = protocol.NewSerializers()
	}
	return c
}

// Send runs arg on the worker and waits for its response.
func (c *Client) Send(ctx context.Context, arg any) (Outcome, error) {
	return c.request(ctx, protocol.KindRun, arg)
}

// SendThenStop runs arg and asks the worker to stop afterwards.
func (c *Client) SendThenStop(ctx context.Context, arg any) (Outcome, error) {
	return c.request(ctx, protocol.KindRunThenStop, arg)
}

// Stop asks the worker to stop. No response is expected.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	return c.ch.Send(ctx, protocol.Envelope{Kind: protocol.KindStop})
}

// InitFailure returns the worker's initialization failure, if it reported one.
func (c *Client) InitFailure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retired == nil {
		return nil
	}
	return c.retired
}

// Close closes the channel. A blocked request returns ErrWorkerGone.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.ch.Close()
}

func (c *Client) request(ctx context.Context, kind protocol.MessageKind, arg any) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Outcome{}, ErrClientClosed
	}
	if c.retired != nil {
		return Outcome{}, fmt.Errorf("%w: %w", ErrWorkerRetired, c.retired)
	}

	name, payload, err := c.serializers.Encode(arg)
	if err != nil {
		return Outcome{}, err
	}
	action := actionName(arg)
	ref := causal.NewRef(action)
	start := time.Now()
	if err := c.ch.Send(ctx, protocol.Envelope{Kind: kind, Operation: &ref, ArgType: name, Payload: payload}); err != nil {
		return Outcome{}, fmt.Errorf("send %s: %w", kind, err)
	}

	out := Outcome{Operation: ref}
	for {
		env, err := c.ch.Receive(ctx)
		switch {
		case err == nil:
		case errors.Is(err, protocol.ErrMalformedMessage):
			slog.Warn("Skipping malformed worker message", logfields.WorkerID(c.workerID), logfields.Error(err))
			continue
		case errors.Is(err, io.EOF):
			return out, fmt.Errorf("%w while running %s", ErrWorkerGone, ref.ID)
		default:
			return out, fmt.Errorf("receive response: %w", err)
		}

		if env.Kind == protocol.KindLog {
			if env.Log != nil {
				out.Logs = append(out.Logs, *env.Log)
				if c.logSink != nil {
					c.logSink(*env.Log)
				}
			}
			continue
		}
		if !env.Kind.IsResponse() {
			slog.Warn("Unexpected worker message", logfields.WorkerID(c.workerID), "kind", string(env.Kind))
			continue
		}

		// a failure not tied to any request reports a failed initialization
		if env.Operation == nil && env.Kind == protocol.KindInfrastructureFailed {
			c.retired = env.Failure
			if c.retired == nil {
				c.retired = &protocol.Failure{Message: "worker failed to initialize"}
			}
			out.Kind, out.Failure, out.Duration = env.Kind, env.Failure, time.Since(start)
			c.record(ctx, action, out)
			slog.Error("Worker failed to initialize", logfields.WorkerID(c.workerID), logfields.Error(c.retired))
			return out, fmt.Errorf("%w: %w", ErrWorkerRetired, c.retired)
		}
		if env.Operation == nil || env.Operation.ID != ref.ID {
			slog.Warn("Discarding response for another operation", logfields.WorkerID(c.workerID), logfields.OperationID(ref.ID))
			continue
		}

		out.Kind, out.Payload, out.Failure = env.Kind, env.Payload, env.Failure
		out.Duration = time.Since(start)
		c.record(ctx, action, out)
		return out, nil
	}
}

func (c *Client) record(ctx context.Context, action string, o Outcome) {
	if c.journal == nil {
		return
	}
	e := journal.Entry{
		OperationID: o.Operation.ID,
		WorkerID:    c.workerID,
		Action:      action,
		Kind:        string(o.Kind),
		DurationMS:  o.Duration.Milliseconds(),
		LogCount:    len(o.Logs),
	}
	if o.Failure != nil {
		e.Message = o.Failure.Message
		e.Category = o.Failure.Category
	}
	if err := c.journal.Record(ctx, e); err != nil {
		slog.Warn("Failed to journal outcome", logfields.OperationID(o.Operation.ID), logfields.Error(err))
	}
}

func actionName(arg any) string {
	if n, ok := arg.(interface{ ActionName() string }); ok {
		return n.ActionName()
	}
	return fmt.Sprintf("%T", arg)
}

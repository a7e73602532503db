// Package transport binds the worker's incoming and outgoing protocols to a
// message channel.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"git.home.luguber.info/inful/actionworker/internal/causal"
	"git.home.luguber.info/inful/actionworker/internal/logfields"
	"git.home.luguber.info/inful/actionworker/internal/metrics"
	"git.home.luguber.info/inful/actionworker/internal/protocol"
)

var (
	// ErrNoIncoming is returned by Connect when no incoming protocol was added.
	ErrNoIncoming = errors.New("no incoming protocol registered")
	// ErrAlreadyConnected is returned by a second Connect.
	ErrAlreadyConnected = errors.New("connection already established")
)

// Connection dispatches incoming envelopes to a RequestProtocol one at a time
// and writes responses back over the same channel.
type Connection struct {
	ch       protocol.Channel
	recorder metrics.Recorder

	mu          sync.Mutex
	incoming    protocol.RequestProtocol
	stream      protocol.StreamHandler
	serializers *protocol.Serializers
	current     *causal.Ref
	connected   bool

	// holdEarly keeps unattributed responses until the peer has spoken.
	holdEarly bool
	peerSeen  bool
	held      []protocol.Envelope

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Connection.
type Option func(*Connection)

// WithRecorder reports stream failures to r.
func WithRecorder(r metrics.Recorder) Option {
	return func(c *Connection) { c.recorder = metrics.OrNoop(r) }
}

// New creates an unconnected Connection over ch.
func New(ch protocol.Channel, opts ...Option) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		ch:          ch,
		recorder:    metrics.NoopRecorder{},
		serializers: protocol.NewSerializers(),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.holdEarly = protocol.DropsEarlyMessages(ch)
	return c
}

// AddIncoming sets the receiver of requests. If p also implements
// protocol.StreamHandler it is told about end of stream and decode failures.
func (c *Connection) AddIncoming(p protocol.RequestProtocol) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.incoming = p
	if sh, ok := p.(protocol.StreamHandler); ok {
		c.stream = sh
	}
}

// AddOutgoing returns the response side of the connection.
func (c *Connection) AddOutgoing() protocol.ResponseProtocol {
	return &responder{c: c}
}

// UseParameterSerializers sets the serializers used to decode request arguments.
func (c *Connection) UseParameterSerializers(s *protocol.Serializers) {
	c.mu.Lock()
	c.serializers = s
	c.mu.Unlock()
}

// Connect starts dispatching. It returns once the receive loop is running.
func (c *Connection) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return ErrAlreadyConnected
	}
	if c.incoming == nil {
		return ErrNoIncoming
	}
	c.connected = true
	go c.receiveLoop()
	return nil
}

// Done is closed when the receive loop has exited.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Close stops the receive loop and closes the channel. It does not wait for
// the loop; use Done for that.
func (c *Connection) Close() error {
	c.cancel()
	return c.ch.Close()
}

func (c *Connection) receiveLoop() {
	defer close(c.done)
	for {
		env, err := c.ch.Receive(c.ctx)
		switch {
		case err == nil:
			c.releaseHeld()
			c.dispatch(env)
		case c.ctx.Err() != nil:
			return
		case errors.Is(err, io.EOF):
			slog.Debug("Peer closed connection")
			c.endStream()
			return
		case errors.Is(err, protocol.ErrMalformedMessage):
			c.streamFailure("malformed", err)
		default:
			c.streamFailure("receive", err)
			c.endStream()
			return
		}
	}
}

func (c *Connection) dispatch(env protocol.Envelope) {
	c.mu.Lock()
	incoming, serializers := c.incoming, c.serializers
	c.mu.Unlock()

	switch env.Kind {
	case protocol.KindStop:
		incoming.Stop()
	case protocol.KindRun, protocol.KindRunThenStop:
		arg, err := serializers.Decode(env.ArgType, env.Payload)
		if err != nil {
			c.withOperation(env.Operation, func() { c.streamFailure("decode", err) })
			return
		}
		req := protocol.Request{Arg: arg}
		if env.Operation != nil {
			req.Operation = *env.Operation
		}
		c.withOperation(env.Operation, func() {
			if env.Kind == protocol.KindRunThenStop {
				incoming.RunThenStop(req)
				return
			}
			incoming.Run(req)
		})
	default:
		c.streamFailure("unexpected", fmt.Errorf("%w: unexpected %q message", protocol.ErrMalformedMessage, env.Kind))
	}
}

// withOperation attributes responses sent during fn to op.
func (c *Connection) withOperation(op *causal.Ref, fn func()) {
	c.mu.Lock()
	c.current = op
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.current = nil
		c.mu.Unlock()
	}()
	fn()
}

func (c *Connection) streamFailure(reason string, err error) {
	c.recorder.IncStreamFailure(reason)
	slog.Warn("Stream failure", "reason", reason, logfields.Error(err))
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream != nil {
		stream.HandleStreamFailure(err)
	}
}

func (c *Connection) endStream() {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream != nil {
		stream.EndStream()
	}
}

// send writes env attributed to the current operation. On channels that drop
// early messages, a response not tied to any operation (an initialization
// failure) is held until the first incoming envelope proves the peer listens.
func (c *Connection) send(env protocol.Envelope) error {
	c.mu.Lock()
	env.Operation = c.current
	if env.Operation == nil && c.holdEarly && !c.peerSeen && env.Kind.IsResponse() {
		c.held = append(c.held, env)
		c.mu.Unlock()
		slog.Debug("Holding response until peer is listening", "kind", string(env.Kind))
		return nil
	}
	c.mu.Unlock()
	return c.ch.Send(c.ctx, env)
}

func (c *Connection) releaseHeld() {
	c.mu.Lock()
	if c.peerSeen {
		c.mu.Unlock()
		return
	}
	c.peerSeen = true
	held := c.held
	c.held = nil
	c.mu.Unlock()

	for _, env := range held {
		if err := c.ch.Send(c.ctx, env); err != nil {
			slog.Warn("Failed to send held response", "kind", string(env.Kind), logfields.Error(err))
		}
	}
}

type responder struct {
	c *Connection
}

func (r *responder) Completed(result any) error {
	var payload json.RawMessage
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encode result %T: %w", result, err)
		}
		payload = data
	}
	return r.c.send(protocol.Envelope{Kind: protocol.KindCompleted, Payload: payload})
}

func (r *responder) Failed(err error) error {
	return r.c.send(protocol.Envelope{Kind: protocol.KindFailed, Failure: protocol.NewFailure(err)})
}

func (r *responder) InfrastructureFailed(err error) error {
	return r.c.send(protocol.Envelope{Kind: protocol.KindInfrastructureFailed, Failure: protocol.NewFailure(err)})
}

func (r *responder) Log(ev protocol.LogEvent) error {
	return r.c.send(protocol.Envelope{Kind: protocol.KindLog, Log: &ev})
}

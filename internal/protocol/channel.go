package protocol

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"git.home.luguber.info/inful/actionworker/internal/causal"
)

// ErrMalformedMessage wraps messages that arrived but could not be decoded.
// The channel stays usable after it.
var ErrMalformedMessage = errors.New("malformed message")

// MessageKind tags an Envelope.
type MessageKind string

const (
	KindRun                  MessageKind = "run"
	KindRunThenStop          MessageKind = "run_then_stop"
	KindStop                 MessageKind = "stop"
	KindCompleted            MessageKind = "completed"
	KindFailed               MessageKind = "failed"
	KindInfrastructureFailed MessageKind = "infrastructure_failed"
	KindLog                  MessageKind = "log"
)

// IsResponse reports whether k answers a request.
func (k MessageKind) IsResponse() bool {
	return k == KindCompleted || k == KindFailed || k == KindInfrastructureFailed
}

// Envelope is one message on a Channel.
type Envelope struct {
	Kind      MessageKind     `json:"kind"`
	Operation *causal.Ref     `json:"operation,omitempty"`
	ArgType   string          `json:"argType,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Failure   *Failure        `json:"failure,omitempty"`
	Log       *LogEvent       `json:"log,omitempty"`
}

// Channel is an ordered, bidirectional message stream. Receive returns io.EOF
// once the peer has gone away.
type Channel interface {
	Send(ctx context.Context, env Envelope) error
	Receive(ctx context.Context) (Envelope, error)
	Close() error
}

// LateJoiner is implemented by channels that drop messages sent before the
// peer starts listening, such as plain publish/subscribe subjects.
type LateJoiner interface {
	DropsEarlyMessages() bool
}

// DropsEarlyMessages reports whether ch loses messages sent before its peer
// is listening.
func DropsEarlyMessages(ch Channel) bool {
	lj, ok := ch.(LateJoiner)
	return ok && lj.DropsEarlyMessages()
}

// StreamChannel carries envelopes as JSON lines over a byte stream, such as
// a worker's stdin and stdout.
type StreamChannel struct {
	r *bufio.Reader
	w io.Writer
	c io.Closer

	sendMu sync.Mutex
	recvMu sync.Mutex
}

// NewStreamChannel reads from r and writes to w. closer, if non-nil, is
// closed by Close.
func NewStreamChannel(r io.Reader, w io.Writer, closer io.Closer) *StreamChannel {
	return &StreamChannel{r: bufio.NewReader(r), w: w, c: closer}
}

// Send writes env as one line.
func (s *StreamChannel) Send(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", env.Kind, err)
	}
	data = append(data, '\n')

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if _, err := s.w.Write(data); err != nil {
		return fmt.Errorf("write %s envelope: %w", env.Kind, err)
	}
	return nil
}

// Receive reads the next envelope. Blank lines are skipped.
func (s *StreamChannel) Receive(ctx context.Context) (Envelope, error) {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return Envelope{}, err
		}
		line, err := s.r.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err != nil {
				return Envelope{}, normalizeEOF(err)
			}
			continue
		}
		var env Envelope
		if uerr := json.Unmarshal(line, &env); uerr != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedMessage, uerr)
		}
		if env.Kind == "" {
			return Envelope{}, fmt.Errorf("%w: missing kind", ErrMalformedMessage)
		}
		// a final line without newline still counts
		return env, nil
	}
}

// Close closes the underlying stream, if one was supplied.
func (s *StreamChannel) Close() error {
	if s.c == nil {
		return nil
	}
	return s.c.Close()
}

func normalizeEOF(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return io.EOF
	}
	return err
}

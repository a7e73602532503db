// Package natschan carries protocol envelopes over NATS subjects, letting a
// host reach workers that are not its child processes.
package natschan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/actionworker/internal/protocol"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "actionworker"

// Subjects names the two directions of one worker's conversation.
type Subjects struct {
	Requests  string
	Responses string
}

// SubjectsFor returns the subjects for workerID under prefix.
func SubjectsFor(prefix, workerID string) Subjects {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	base := fmt.Sprintf("%s.%s", prefix, workerID)
	return Subjects{Requests: base + ".requests", Responses: base + ".responses"}
}

type publisher interface {
	Publish(subject string, data []byte) error
}

// Channel implements protocol.Channel on a NATS connection. An empty message
// is the hang-up signal and is reported as io.EOF.
type Channel struct {
	pub     publisher
	out     string
	msgs    chan *nats.Msg
	sub     *nats.Subscription
	conn    *nats.Conn
	ownConn bool

	closeOnce sync.Once
}

// Dial connects to a NATS server.
func Dial(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// ForWorker subscribes to the worker's request subject and answers on the
// response subject.
func ForWorker(nc *nats.Conn, s Subjects) (*Channel, error) {
	return open(nc, s.Requests, s.Responses)
}

// ForHost is the mirror of ForWorker.
func ForHost(nc *nats.Conn, s Subjects) (*Channel, error) {
	return open(nc, s.Responses, s.Requests)
}

func open(nc *nats.Conn, in, out string) (*Channel, error) {
	msgs := make(chan *nats.Msg, 256)
	sub, err := nc.ChanSubscribe(in, msgs)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", in, err)
	}
	if err := nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flush subscription %s: %w", in, err)
	}
	slog.Info("NATS channel open", "in", in, "out", out)
	return &Channel{pub: nc, out: out, msgs: msgs, sub: sub, conn: nc}, nil
}

// OwnConnection makes Close also close the NATS connection.
func (c *Channel) OwnConnection() *Channel {
	c.ownConn = true
	return c
}

// DropsEarlyMessages is always true: core NATS keeps nothing for
// subscribers that arrive later.
func (c *Channel) DropsEarlyMessages() bool { return true }

// Send publishes env on the outgoing subject.
func (c *Channel) Send(ctx context.Context, env protocol.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", env.Kind, err)
	}
	if err := c.pub.Publish(c.out, data); err != nil {
		return fmt.Errorf("publish %s: %w", c.out, err)
	}
	return nil
}

// Receive waits for the next envelope on the incoming subject.
func (c *Channel) Receive(ctx context.Context) (protocol.Envelope, error) {
	select {
	case <-ctx.Done():
		return protocol.Envelope{}, ctx.Err()
	case msg, ok := <-c.msgs:
		if !ok || len(msg.Data) == 0 {
			return protocol.Envelope{}, io.EOF
		}
		var env protocol.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			return protocol.Envelope{}, fmt.Errorf("%w: %v", protocol.ErrMalformedMessage, err)
		}
		if env.Kind == "" {
			return protocol.Envelope{}, fmt.Errorf("%w: missing kind", protocol.ErrMalformedMessage)
		}
		return env, nil
	}
}

// Close sends the hang-up signal and unsubscribes.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.pub.Publish(c.out, nil)
		if c.sub != nil {
			if uerr := c.sub.Unsubscribe(); uerr != nil && err == nil {
				err = uerr
			}
		}
		if c.conn != nil {
			if ferr := c.conn.Flush(); ferr != nil && err == nil {
				err = ferr
			}
			if c.ownConn {
				c.conn.Close()
			}
		}
	})
	return err
}

package natschan

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/actionworker/internal/protocol"
)

type capture struct {
	mu   sync.Mutex
	msgs []*nats.Msg
}

func (c *capture) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, &nats.Msg{Subject: subject, Data: data})
	return nil
}

func TestSubjectsFor(t *testing.T) {
	s := SubjectsFor("", "w1")
	assert.Equal(t, "actionworker.w1.requests", s.Requests)
	assert.Equal(t, "actionworker.w1.responses", s.Responses)
	assert.Equal(t, "ci.w2.requests", SubjectsFor("ci", "w2").Requests)
}

func TestSendPublishesEnvelope(t *testing.T) {
	pub := &capture{}
	ch := &Channel{pub: pub, out: "x.responses", msgs: make(chan *nats.Msg)}

	require.NoError(t, ch.Send(context.Background(), protocol.Envelope{Kind: protocol.KindCompleted}))
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "x.responses", pub.msgs[0].Subject)

	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(pub.msgs[0].Data, &env))
	assert.Equal(t, protocol.KindCompleted, env.Kind)

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	require.Len(t, pub.msgs, 2, "close publishes a single hang-up")
	assert.Empty(t, pub.msgs[1].Data)
}

func TestReceive(t *testing.T) {
	msgs := make(chan *nats.Msg, 4)
	ch := &Channel{pub: &capture{}, msgs: msgs}
	msgs <- &nats.Msg{Data: []byte(`{"kind":"stop"}`)}
	msgs <- &nats.Msg{Data: []byte(`{oops`)}
	msgs <- &nats.Msg{Data: nil}

	ctx := context.Background()
	env, err := ch.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.KindStop, env.Kind)

	_, err = ch.Receive(ctx)
	assert.ErrorIs(t, err, protocol.ErrMalformedMessage)

	_, err = ch.Receive(ctx)
	assert.ErrorIs(t, err, io.EOF)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = ch.Receive(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/actionworker/internal/causal"
	"git.home.luguber.info/inful/actionworker/internal/protocol"
)

type buildSpec struct {
	Target string `json:"target"`
}

type fakeIncoming struct {
	mu       sync.Mutex
	runs     []protocol.Request
	thenStop []protocol.Request
	stops    int
	failures []error
	ended    chan struct{}
	out      protocol.ResponseProtocol
}

func newFakeIncoming() *fakeIncoming {
	return &fakeIncoming{ended: make(chan struct{})}
}

func (f *fakeIncoming) Run(req protocol.Request) {
	f.mu.Lock()
	f.runs = append(f.runs, req)
	f.mu.Unlock()
	if f.out != nil {
		_ = f.out.Completed(map[string]string{"target": req.Arg.(*buildSpec).Target})
	}
}

func (f *fakeIncoming) RunThenStop(req protocol.Request) {
	f.mu.Lock()
	f.thenStop = append(f.thenStop, req)
	f.mu.Unlock()
}

func (f *fakeIncoming) Stop() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func (f *fakeIncoming) EndStream() { close(f.ended) }

func (f *fakeIncoming) HandleStreamFailure(err error) {
	f.mu.Lock()
	f.failures = append(f.failures, err)
	f.mu.Unlock()
}

func receive(t *testing.T, ch protocol.Channel) protocol.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	env, err := ch.Receive(ctx)
	require.NoError(t, err)
	return env
}

func TestConnectionDispatchesAndResponds(t *testing.T) {
	worker, host := protocol.Pipe()
	conn := New(worker)
	in := newFakeIncoming()
	in.out = conn.AddOutgoing()
	conn.AddIncoming(in)

	s := protocol.NewSerializers()
	require.NoError(t, protocol.Register[buildSpec](s, "build"))
	conn.UseParameterSerializers(s)
	require.NoError(t, conn.Connect())
	assert.ErrorIs(t, conn.Connect(), ErrAlreadyConnected)

	ctx := context.Background()
	ref := causal.NewRef("first")
	name, payload, err := s.Encode(&buildSpec{Target: "docs"})
	require.NoError(t, err)
	require.NoError(t, host.Send(ctx, protocol.Envelope{Kind: protocol.KindRun, Operation: &ref, ArgType: name, Payload: payload}))

	resp := receive(t, host)
	assert.Equal(t, protocol.KindCompleted, resp.Kind)
	require.NotNil(t, resp.Operation)
	assert.Equal(t, ref.ID, resp.Operation.ID)
	assert.JSONEq(t, `{"target":"docs"}`, string(resp.Payload))

	require.NoError(t, host.Send(ctx, protocol.Envelope{Kind: protocol.KindRunThenStop, ArgType: name, Payload: payload}))
	require.NoError(t, host.Send(ctx, protocol.Envelope{Kind: protocol.KindStop}))
	require.NoError(t, host.Close())

	select {
	case <-in.ended:
	case <-time.After(5 * time.Second):
		t.Fatal("EndStream not called")
	}
	<-conn.Done()

	in.mu.Lock()
	defer in.mu.Unlock()
	assert.Len(t, in.runs, 1)
	assert.Len(t, in.thenStop, 1)
	assert.Equal(t, 1, in.stops)
	assert.Empty(t, in.failures)
}

func TestConnectionReportsUndecodableRequests(t *testing.T) {
	worker, host := protocol.Pipe()
	conn := New(worker)
	in := newFakeIncoming()
	conn.AddIncoming(in)
	require.NoError(t, conn.Connect())

	ctx := context.Background()
	require.NoError(t, host.Send(ctx, protocol.Envelope{Kind: protocol.KindRun, ArgType: "unknown", Payload: []byte(`{}`)}))
	require.NoError(t, host.Send(ctx, protocol.Envelope{Kind: protocol.KindCompleted}))
	require.NoError(t, host.Close())
	<-conn.Done()

	in.mu.Lock()
	defer in.mu.Unlock()
	assert.Empty(t, in.runs)
	require.Len(t, in.failures, 2)
	assert.ErrorIs(t, in.failures[0], protocol.ErrUnknownArgType)
	assert.ErrorIs(t, in.failures[1], protocol.ErrMalformedMessage)
}

func TestDiscardSerializersConsumeArguments(t *testing.T) {
	worker, host := protocol.Pipe()
	conn := New(worker)
	in := newFakeIncoming()
	conn.AddIncoming(in)
	conn.UseParameterSerializers(protocol.DiscardSerializers())
	require.NoError(t, conn.Connect())

	require.NoError(t, host.Send(context.Background(), protocol.Envelope{Kind: protocol.KindRunThenStop, ArgType: "anything", Payload: []byte(`{"x":1}`)}))
	require.NoError(t, host.Close())
	<-conn.Done()

	in.mu.Lock()
	defer in.mu.Unlock()
	require.Len(t, in.thenStop, 1)
	assert.Nil(t, in.thenStop[0].Arg)
}

func TestConnectRequiresIncoming(t *testing.T) {
	worker, _ := protocol.Pipe()
	assert.ErrorIs(t, New(worker).Connect(), ErrNoIncoming)
}

func TestResponderRejectsUnencodableResult(t *testing.T) {
	worker, _ := protocol.Pipe()
	out := New(worker).AddOutgoing()
	err := out.Completed(make(chan int))
	assert.Error(t, err)
}

type brokenChannel struct{}

func (b *brokenChannel) Send(context.Context, protocol.Envelope) error { return nil }
func (b *brokenChannel) Receive(context.Context) (protocol.Envelope, error) {
	return protocol.Envelope{}, errors.New("connection reset")
}
func (b *brokenChannel) Close() error { return nil }

func TestBrokenChannelEndsStream(t *testing.T) {
	conn := New(&brokenChannel{})
	in := newFakeIncoming()
	conn.AddIncoming(in)
	require.NoError(t, conn.Connect())
	<-conn.Done()
	<-in.ended

	in.mu.Lock()
	defer in.mu.Unlock()
	require.Len(t, in.failures, 1)
	assert.NotErrorIs(t, in.failures[0], io.EOF)
}

// subjectChannel behaves like a publish/subscribe subject: it records what is
// published and delivers whatever is pushed on in.
type subjectChannel struct {
	mu   sync.Mutex
	sent []protocol.Envelope
	in   chan protocol.Envelope
}

func (s *subjectChannel) DropsEarlyMessages() bool { return true }

func (s *subjectChannel) Send(_ context.Context, env protocol.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, env)
	return nil
}

func (s *subjectChannel) Receive(ctx context.Context) (protocol.Envelope, error) {
	select {
	case <-ctx.Done():
		return protocol.Envelope{}, ctx.Err()
	case env, ok := <-s.in:
		if !ok {
			return protocol.Envelope{}, io.EOF
		}
		return env, nil
	}
}

func (s *subjectChannel) Close() error { return nil }

func (s *subjectChannel) published() []protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Envelope(nil), s.sent...)
}

func TestUnattributedResponseWaitsForPeer(t *testing.T) {
	ch := &subjectChannel{in: make(chan protocol.Envelope, 1)}
	conn := New(ch)
	in := newFakeIncoming()
	conn.AddIncoming(in)
	out := conn.AddOutgoing()
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, out.InfrastructureFailed(errors.New("no implementation")))
	assert.Empty(t, ch.published(), "nobody is listening yet")

	require.NoError(t, conn.Connect())
	ch.in <- protocol.Envelope{Kind: protocol.KindStop}
	require.Eventually(t, func() bool {
		in.mu.Lock()
		defer in.mu.Unlock()
		return in.stops == 1
	}, 5*time.Second, 5*time.Millisecond)

	sent := ch.published()
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.KindInfrastructureFailed, sent[0].Kind)
	assert.Nil(t, sent[0].Operation)
	require.NotNil(t, sent[0].Failure)
	assert.Equal(t, "no implementation", sent[0].Failure.Message)

	require.NoError(t, out.InfrastructureFailed(errors.New("later")))
	assert.Len(t, ch.published(), 2, "sent at once after the peer has spoken")
}

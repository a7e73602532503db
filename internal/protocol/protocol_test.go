package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/actionworker/internal/causal"
	ferrors "git.home.luguber.info/inful/actionworker/internal/foundation/errors"
	"git.home.luguber.info/inful/actionworker/internal/isolation"
)

type compileSpec struct {
	Sources []string `json:"sources"`
}

func TestNewFailureKeepsChain(t *testing.T) {
	linkage := &isolation.LinkageError{Symbol: "acme.Compile", Loader: "actions", Reason: "not in allow list"}
	err := fmt.Errorf("load action: %w", ferrors.SessionError("init failed").WithCause(linkage).WithContext("impl", "daemon").Build())

	f := NewFailure(err)
	require.NotNil(t, f)
	assert.Equal(t, "*fmt.wrapError", f.Type)
	require.NotNil(t, f.Cause)
	assert.Equal(t, "session", f.Cause.Category)
	assert.Equal(t, "init failed", f.Cause.Message)
	assert.Equal(t, "daemon", f.Cause.Context["impl"])
	require.NotNil(t, f.Cause.Cause)
	assert.Equal(t, "acme.Compile", f.Cause.Cause.Context["symbol"])
	assert.True(t, f.IsLinkage())

	assert.Nil(t, NewFailure(nil))
	plain := NewFailure(errors.New("compile error"))
	assert.False(t, plain.IsLinkage())
	assert.Contains(t, plain.Error(), "compile error")
}

func TestNewFailureFollowsJoinedErrors(t *testing.T) {
	linkage := &isolation.LinkageError{Symbol: "acme.Compile", Loader: "actions", Reason: "not in allow list"}
	err := errors.Join(linkage, errors.New("scope close failed"))

	f := NewFailure(err)
	require.NotNil(t, f)
	assert.Contains(t, f.Message, "acme.Compile")
	assert.Contains(t, f.Message, "scope close failed")
	require.NotNil(t, f.Cause)
	assert.Equal(t, "acme.Compile", f.Cause.Context["symbol"])
	assert.True(t, f.IsLinkage())
}

func TestFailureDepthIsBounded(t *testing.T) {
	var err error = errors.New("root")
	for i := range 40 {
		err = fmt.Errorf("level %d: %w", i, err)
	}
	depth := 0
	for f := NewFailure(err); f != nil; f = f.Cause {
		depth++
	}
	assert.Equal(t, maxFailureDepth+1, depth)
}

func TestSerializers(t *testing.T) {
	s := NewSerializers()
	require.NoError(t, Register[compileSpec](s, "compile"))
	assert.Error(t, Register[compileSpec](s, "compile"))

	name, data, err := s.Encode(&compileSpec{Sources: []string{"a.go"}})
	require.NoError(t, err)
	assert.Equal(t, "compile", name)

	name, _, err = s.Encode(compileSpec{})
	require.NoError(t, err)
	assert.Equal(t, "compile", name)

	v, err := s.Decode(name, data)
	require.NoError(t, err)
	assert.Equal(t, &compileSpec{Sources: []string{"a.go"}}, v)

	_, _, err = s.Encode(42)
	assert.ErrorIs(t, err, ErrUnknownArgType)
	_, err = s.Decode("link", data)
	assert.ErrorIs(t, err, ErrUnknownArgType)
	_, err = s.Decode("compile", []byte(`{"sources": 3}`))
	assert.Error(t, err)
}

func TestSerializerNamesAreSorted(t *testing.T) {
	s := NewSerializers()
	require.NoError(t, Register[compileSpec](s, "link"))
	require.NoError(t, Register[LogEvent](s, "compile"))
	require.NoError(t, Register[Request](s, "archive"))
	assert.Equal(t, []string{"archive", "compile", "link"}, s.Names())
}

func TestDiscardSerializers(t *testing.T) {
	v, err := DiscardSerializers().Decode("compile", []byte(`garbage`))
	assert.NoError(t, err)
	assert.Nil(t, v)
}

func TestStreamChannelRoundTrip(t *testing.T) {
	a, b := Pipe()
	ctx := context.Background()
	ref := causal.NewRef("req")

	go func() {
		_ = a.Send(ctx, Envelope{Kind: KindRun, Operation: &ref, ArgType: "compile", Payload: []byte(`{"sources":["x"]}`)})
		_ = a.Send(ctx, Envelope{Kind: KindFailed, Failure: NewFailure(errors.New("bad"))})
		_ = a.Close()
	}()

	env, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, KindRun, env.Kind)
	assert.Equal(t, ref, *env.Operation)
	assert.JSONEq(t, `{"sources":["x"]}`, string(env.Payload))

	env, err = b.Receive(ctx)
	require.NoError(t, err)
	assert.True(t, env.Kind.IsResponse())
	assert.Equal(t, "bad", env.Failure.Message)

	_, err = b.Receive(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamChannelSkipsMalformedLines(t *testing.T) {
	input := "not json\n\n{\"payload\":1}\n{\"kind\":\"stop\"}"
	ch := NewStreamChannel(strings.NewReader(input), io.Discard, nil)
	ctx := context.Background()

	_, err := ch.Receive(ctx)
	assert.ErrorIs(t, err, ErrMalformedMessage)
	_, err = ch.Receive(ctx)
	assert.ErrorIs(t, err, ErrMalformedMessage)

	env, err := ch.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, KindStop, env.Kind)

	_, err = ch.Receive(ctx)
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, ch.Close())
}

func TestStreamChannelHonorsContext(t *testing.T) {
	ch := NewStreamChannel(strings.NewReader(""), io.Discard, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, ch.Send(ctx, Envelope{Kind: KindStop}), context.Canceled)
	_, err := ch.Receive(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

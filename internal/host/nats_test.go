package host

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/actionworker/internal/daemon"
	"git.home.luguber.info/inful/actionworker/internal/isolation"
	"git.home.luguber.info/inful/actionworker/internal/protocol"
	"git.home.luguber.info/inful/actionworker/internal/transport"
	"git.home.luguber.info/inful/actionworker/internal/transport/natschan"
	"git.home.luguber.info/inful/actionworker/internal/worker"
)

func runNATSServer(t *testing.T) string {
	t.Helper()
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns.ClientURL()
}

func TestNATSWorkerInitFailureReachesLateHost(t *testing.T) {
	url := runNATSServer(t)
	subjects := natschan.SubjectsFor("", "w-nats")

	nc, err := natschan.Dial(url, "worker")
	require.NoError(t, err)
	wch, err := natschan.ForWorker(nc, subjects)
	require.NoError(t, err)
	conn := transport.New(wch.OwnConnection())

	catalog, err := isolation.NewCatalog(daemon.Symbols()...)
	require.NoError(t, err)
	session := worker.NewSession()
	done := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = conn.Close()
	})
	go func() {
		done <- session.Execute(ctx, worker.ProcessContext{
			WorkerID:       "w-nats",
			Connection:     conn,
			Boundary:       isolation.NewBoundary(catalog),
			Implementation: "acme/missing.Impl",
		})
	}()
	require.Eventually(t, func() bool {
		return session.State() == worker.StateInitializationFailed
	}, 5*time.Second, 5*time.Millisecond)

	// the host subscribes only after the worker has given up
	hc, err := natschan.Dial(url, "host")
	require.NoError(t, err)
	hch, err := natschan.ForHost(hc, subjects)
	require.NoError(t, err)
	sz := protocol.NewSerializers()
	require.NoError(t, protocol.Register[daemon.ActionSpec](sz, daemon.ArgType))
	client := NewClient(hch.OwnConnection(), sz, WithWorkerID("w-nats"))
	t.Cleanup(func() { _ = client.Close() })

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer reqCancel()
	out, err := client.SendThenStop(reqCtx, &daemon.ActionSpec{Action: daemon.EchoSymbol, BaseDir: t.TempDir()})
	require.ErrorIs(t, err, ErrWorkerRetired)
	assert.Equal(t, protocol.KindInfrastructureFailed, out.Kind)
	require.Error(t, client.InitFailure())

	var fatal FatalFailures
	fatal.Add("w-nats", client.InitFailure())
	require.Error(t, fatal.Err())
	assert.Contains(t, fatal.Err().Error(), "acme/missing.Impl")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, worker.StateStopped, session.State())
}

package node

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/byzhang/terrastore/internal/command"
	"github.com/byzhang/terrastore/internal/errors"
	"github.com/byzhang/terrastore/internal/storage"
	"github.com/stretchr/testify/require"
)

func startTestServer(t *testing.T) (addr string, cleanup func()) {
	t.Helper()
	local := NewLocalNode(LocalNodeConfig{Name: "backend", Engine: storage.NewMemoryEngine(), Concurrency: 4})
	srv := NewServer(local, nil)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv.listener = l

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			sc := &serverConn{conn: conn}
			srv.mu.Lock()
			srv.conns[sc] = struct{}{}
			srv.mu.Unlock()
			srv.wg.Add(1)
			go srv.serveConn(sc)
		}
	}()

	return l.Addr().String(), func() {
		srv.Close()
		local.Disconnect()
	}
}

func TestRemoteNodePutGetRoundTrip(t *testing.T) {
	addr, cleanup := startTestServer(t)
	defer cleanup()

	rn := NewRemoteNode(RemoteNodeConfig{Name: "remote1", Addr: addr, Timeout: time.Second})
	require.NoError(t, rn.Connect())
	defer rn.Disconnect()

	ctx := context.Background()
	_, err := rn.Send(ctx, command.PutValue("b", "k", []byte(`"hello"`), nil))
	require.NoError(t, err)

	res, err := rn.Send(ctx, command.GetValue("b", "k", nil))
	require.NoError(t, err)
	require.Equal(t, []byte(`"hello"`), res.Value)
}

func TestRemoteNodeProcessingErrorOnMissingKey(t *testing.T) {
	addr, cleanup := startTestServer(t)
	defer cleanup()

	rn := NewRemoteNode(RemoteNodeConfig{Name: "remote1", Addr: addr, Timeout: time.Second})
	require.NoError(t, rn.Connect())
	defer rn.Disconnect()

	_, err := rn.Send(context.Background(), command.GetValue("b", "missing", nil))
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.CodeProcessing))
}

func TestRemoteNodeDisconnectCancelsInFlight(t *testing.T) {
	addr, cleanup := startTestServer(t)
	defer cleanup()

	rn := NewRemoteNode(RemoteNodeConfig{Name: "remote1", Addr: addr, Timeout: 5 * time.Second})
	require.NoError(t, rn.Connect())

	resultCh := make(chan error, 1)
	go func() {
		_, err := rn.Send(context.Background(), command.PutValue("b", "k", []byte(`"v"`), nil))
		resultCh <- err
	}()
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, rn.Disconnect())
	cleanup()

	select {
	case err := <-resultCh:
		if err != nil {
			require.True(t, errors.Is(err, errors.CodeCommunication) || err == nil)
		}
	case <-time.After(time.Second):
		t.Fatal("send should have been released on disconnect")
	}
}

func TestRemoteNodeConnectIdempotent(t *testing.T) {
	addr, cleanup := startTestServer(t)
	defer cleanup()

	rn := NewRemoteNode(RemoteNodeConfig{Name: "r", Addr: addr, Timeout: time.Second})
	require.NoError(t, rn.Connect())
	require.NoError(t, rn.Connect())
	require.NoError(t, rn.Disconnect())
	require.NoError(t, rn.Disconnect())
}

package node

import (
	"context"
	"testing"
	"time"

	"github.com/byzhang/terrastore/internal/command"
	"github.com/byzhang/terrastore/internal/errors"
	"github.com/byzhang/terrastore/internal/storage"
	"github.com/stretchr/testify/require"
)

func TestLocalNodePutAndGet(t *testing.T) {
	n := NewLocalNode(LocalNodeConfig{Name: "n1", Engine: storage.NewMemoryEngine(), Concurrency: 2})
	defer n.Disconnect()

	ctx := context.Background()
	_, err := n.Send(ctx, command.PutValue("bucket", "key", []byte(`"v"`), nil))
	require.NoError(t, err)

	res, err := n.Send(ctx, command.GetValue("bucket", "key", nil))
	require.NoError(t, err)
	require.Equal(t, []byte(`"v"`), res.Value)
}

func TestLocalNodePauseBlocksSend(t *testing.T) {
	n := NewLocalNode(LocalNodeConfig{Name: "n1", Engine: storage.NewMemoryEngine(), Concurrency: 2})
	defer n.Disconnect()

	n.Pause()

	done := make(chan struct{})
	go func() {
		_, _ = n.Send(context.Background(), command.GetBuckets())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("send should not complete while paused")
	case <-time.After(50 * time.Millisecond):
	}

	n.Resume()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("send should complete promptly after resume")
	}
}

func TestLocalNodeSendAfterDisconnectFails(t *testing.T) {
	n := NewLocalNode(LocalNodeConfig{Name: "n1", Engine: storage.NewMemoryEngine(), Concurrency: 1})
	require.NoError(t, n.Disconnect())
	require.NoError(t, n.Disconnect()) // idempotent

	_, err := n.Send(context.Background(), command.GetBuckets())
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.CodeCommunication))
}

// Package node implements the uniform send-a-command endpoint of §4.4: a
// LocalNode queues commands into a worker pool backed by the storage engine,
// a RemoteNode ships them over a length-prefixed binary RPC connection.
package node

import (
	"context"

	"github.com/byzhang/terrastore/internal/command"
)

// Node is the uniform command sink both LocalNode and RemoteNode implement.
// It also satisfies partition.Node (Name() string), so a *LocalNode or
// *RemoteNode can be stored directly in a ClusterPartitioner ring.
type Node interface {
	// Name returns this node's logical identity (§3: ring sort key).
	Name() string

	// Send executes cmd against this node and returns its result. Safe to
	// call concurrently; ordering between concurrent sends is not
	// guaranteed (§4.4).
	Send(ctx context.Context, cmd command.Command) (command.Result, error)

	// Connect establishes any transport resources. Idempotent.
	Connect() error

	// Disconnect releases transport resources and cancels in-flight sends
	// with a CommunicationError. Idempotent; safe to call twice (§8
	// "Idempotent shutdown").
	Disconnect() error

	// Connected reports whether the node is currently usable.
	Connected() bool
}

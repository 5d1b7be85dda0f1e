// Package coordinator implements the Coordinator of §4.10: it reacts to
// local-cluster membership events (driven by GroupMembership) by creating,
// connecting, inserting and removing nodes in the Router, and by pausing and
// resuming command processing around topology changes so that flushing sees
// a stable routing snapshot. Grounded on the reference corpus's
// CoordinatorService orchestration shape, generalized from gRPC node
// management to pause/flush/resume over the spec's Node/Router abstractions.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/byzhang/terrastore/internal/node"
	"github.com/byzhang/terrastore/internal/router"
	"go.uber.org/zap"
)

// Pausable is the subset of LocalNode the Coordinator pauses/resumes around
// topology changes.
type Pausable interface {
	Pause()
	Resume()
}

// Flusher is the storage engine's side of a topology change: given a
// predicate describing which (bucket,key) pairs are still locally owned
// under the new ring, it flushes everything that is not (§4.10: "Flushing
// is the collaborator's responsibility; the Coordinator only supplies the
// new routing predicate").
type Flusher interface {
	Flush(ctx context.Context, stillLocal func(bucket, key string) bool) error
}

// RemoteDialer builds and connects a RemoteNode for a peer address.
// Supplied by the caller so this package stays independent of dial details.
type RemoteDialer func(name, addr string) (node.Node, error)

// Config wires a Coordinator to its collaborators.
type Config struct {
	ClusterName  string
	Router       *router.Router
	Local        Pausable
	Flusher      Flusher
	Dialer       RemoteDialer
	PauseTimeout time.Duration // watchdog ceiling (§5 "Pauses must be bounded")
	Logger       *zap.Logger
}

// Coordinator owns the pause -> flush -> resume choreography triggered by
// membership events.
type Coordinator struct {
	clusterName  string
	router       *router.Router
	local        Pausable
	flusher      Flusher
	dialer       RemoteDialer
	pauseTimeout time.Duration
	logger       *zap.Logger

	mu            sync.Mutex
	addresses     map[string]string // node name -> published RPC address
	localNodeName string
}

// New creates a Coordinator. Register it with a GroupMembership via
// membership.OnJoin(c.OnNodeJoin) / membership.OnLeave(c.OnNodeLeave).
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.PauseTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Coordinator{
		clusterName:  cfg.ClusterName,
		router:       cfg.Router,
		local:        cfg.Local,
		flusher:      cfg.Flusher,
		dialer:       cfg.Dialer,
		pauseTimeout: timeout,
		logger:       logger,
		addresses:    make(map[string]string),
	}
}

// OnLocalJoin handles this process's own join: it inserts the already
// created LocalNode into the Router and connects any remote nodes whose
// addresses are already known (§4.10 "On local node join").
func (c *Coordinator) OnLocalJoin(localNodeName, rpcAddr string, local node.Node, knownRemotes map[string]string) error {
	c.mu.Lock()
	c.addresses[localNodeName] = rpcAddr
	c.localNodeName = localNodeName
	c.mu.Unlock()

	if err := c.router.AddRouteTo(c.clusterName, local); err != nil {
		return fmt.Errorf("insert local node into router: %w", err)
	}

	for name, addr := range knownRemotes {
		if name == localNodeName {
			continue
		}
		if err := c.connectAndInsert(name, addr); err != nil {
			c.logger.Warn("failed to connect known remote on local join",
				zap.String("node", name), zap.Error(err))
		}
	}
	return nil
}

// OnNodeJoin handles a join notification from GroupMembership for any node
// other than this process (§4.10 "On remote node join (same local
// cluster)"). addr may be empty if the joining node hasn't published its
// address yet; OnNodeJoin waits (bounded by pauseTimeout) for it to appear.
func (c *Coordinator) OnNodeJoin(name, addr string) {
	if addr != "" {
		c.mu.Lock()
		c.addresses[name] = addr
		c.mu.Unlock()
	}

	resolved, ok := c.awaitAddress(name)
	if !ok {
		c.logger.Warn("remote node join: address never published, skipping", zap.String("node", name))
		return
	}

	if err := c.connectAndInsert(name, resolved); err != nil {
		c.logger.Warn("failed to connect joining node", zap.String("node", name), zap.Error(err))
		return
	}

	if err := c.pauseFlushResume(); err != nil {
		c.logger.Error("pause/flush/resume failed after node join", zap.String("node", name), zap.Error(err))
	}
}

// OnNodeLeave handles a leave notification: disconnect and drop the node,
// then pause/flush/resume (§4.10 "On node leave").
func (c *Coordinator) OnNodeLeave(name, _ string) {
	c.mu.Lock()
	delete(c.addresses, name)
	c.mu.Unlock()

	members, err := c.router.ClusterRoute(c.clusterName)
	if err == nil {
		if n, ok := members[name]; ok {
			_ = c.router.RemoveRouteTo(c.clusterName, n)
			_ = n.Disconnect()
		}
	}

	if err := c.pauseFlushResume(); err != nil {
		c.logger.Error("pause/flush/resume failed after node leave", zap.String("node", name), zap.Error(err))
	}
}

// Shutdown disconnects every node, stops command processing, and cleans up
// routing state (§4.10 "On shutdown").
func (c *Coordinator) Shutdown() {
	c.router.Cleanup()
}

func (c *Coordinator) connectAndInsert(name, addr string) error {
	n, err := c.dialer(name, addr)
	if err != nil {
		return fmt.Errorf("dial %s at %s: %w", name, addr, err)
	}
	if err := n.Connect(); err != nil {
		return fmt.Errorf("connect %s: %w", name, err)
	}
	return c.router.AddRouteTo(c.clusterName, n)
}

// awaitAddress blocks (bounded by pauseTimeout) until name's RPC address has
// been published via a join notification carrying it, or OnLocalJoin/a
// later OnNodeJoin call records it directly.
func (c *Coordinator) awaitAddress(name string) (string, bool) {
	deadline := time.Now().Add(c.pauseTimeout)
	for {
		c.mu.Lock()
		addr, ok := c.addresses[name]
		c.mu.Unlock()
		if ok {
			return addr, true
		}
		if time.Now().After(deadline) {
			return "", false
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// pauseFlushResume is the topology-transition choreography shared by join
// and leave handling: pause command processing, swap in the new routing
// predicate so the storage engine can flush keys it no longer owns, then
// resume (§4.10, §5 "Pauses must be bounded").
func (c *Coordinator) pauseFlushResume() error {
	c.local.Pause()
	defer c.local.Resume()

	ctx, cancel := context.WithTimeout(context.Background(), c.pauseTimeout)
	defer cancel()

	c.mu.Lock()
	localName := c.localNodeName
	c.mu.Unlock()

	stillLocal := func(bucket, key string) bool {
		n, err := c.router.RouteToNodeForKey(bucket, key)
		if err != nil {
			return false
		}
		return n.Name() == localName
	}

	done := make(chan error, 1)
	go func() { done <- c.flusher.Flush(ctx, stillLocal) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("pause watchdog tripped after %s: %w", c.pauseTimeout, ctx.Err())
	}
}

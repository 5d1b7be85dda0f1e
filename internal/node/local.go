package node

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/byzhang/terrastore/internal/command"
	"github.com/byzhang/terrastore/internal/errors"
	"github.com/byzhang/terrastore/internal/metrics"
	"github.com/byzhang/terrastore/internal/storage"
	"go.uber.org/zap"
)

// LocalNode is the in-process Node variant (§4.4): it owns a bounded worker
// pool and a pause/resume flag, and executes commands against the local
// storage engine. While paused, Send blocks until Resume is called — this is
// how the Coordinator holds off new traffic while flushing a bucket's
// working set after a topology change (§4.10, §5 "pause/resume").
type LocalNode struct {
	name    string
	engine  storage.Engine
	logger  *zap.Logger
	metrics *metrics.Metrics
	pool    *workerPool

	pauseMu    sync.Mutex
	paused     bool
	resumeCond *sync.Cond

	connected atomic.Bool
	sendSeq   atomic.Uint64
}

// LocalNodeConfig configures a LocalNode (§6: node.concurrency). Metrics may
// be left nil, in which case recording is a no-op (§11).
type LocalNodeConfig struct {
	Name        string
	Engine      storage.Engine
	Concurrency int
	QueueSize   int
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

// NewLocalNode creates a LocalNode and starts its worker pool.
func NewLocalNode(cfg LocalNodeConfig) *LocalNode {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &LocalNode{
		name:    cfg.Name,
		engine:  cfg.Engine,
		logger:  logger,
		metrics: cfg.Metrics,
		pool:    newWorkerPool("local-node:"+cfg.Name, cfg.Concurrency, cfg.QueueSize, logger, cfg.Metrics),
	}
	n.resumeCond = sync.NewCond(&n.pauseMu)
	n.connected.Store(true)
	return n
}

func (n *LocalNode) Name() string { return n.name }

// Connect is a no-op for LocalNode: there is no transport to establish. It
// sets the connected flag again after a Disconnect, but the worker pool that
// Disconnect stopped is not restarted, so Sends after a Disconnect fail
// whether or not Connect was called in between.
func (n *LocalNode) Connect() error {
	n.connected.Store(true)
	return nil
}

// Disconnect marks the node unusable; idempotent (§8 "Idempotent shutdown").
func (n *LocalNode) Disconnect() error {
	n.connected.Store(false)
	return n.pool.stop(5 * time.Second)
}

func (n *LocalNode) Connected() bool { return n.connected.Load() }

// Pause parks new Sends until Resume is called (§4.10, §5).
func (n *LocalNode) Pause() {
	n.pauseMu.Lock()
	n.paused = true
	n.pauseMu.Unlock()
}

// Resume releases Sends parked by Pause.
func (n *LocalNode) Resume() {
	n.pauseMu.Lock()
	n.paused = false
	n.pauseMu.Unlock()
	n.resumeCond.Broadcast()
}

func (n *LocalNode) awaitResume(ctx context.Context) error {
	n.pauseMu.Lock()
	defer n.pauseMu.Unlock()

	if !n.paused {
		return nil
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			n.pauseMu.Lock()
			n.resumeCond.Broadcast()
			n.pauseMu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	for n.paused {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n.resumeCond.Wait()
	}
	return nil
}

type sendOutcome struct {
	res command.Result
	err error
}

// Send enqueues cmd on the worker pool and waits for completion, parking
// first if the node is paused.
func (n *LocalNode) Send(ctx context.Context, cmd command.Command) (command.Result, error) {
	start := time.Now()
	res, err := n.send(ctx, cmd)
	n.metrics.RecordCommand(cmd.Kind.String(), outcomeLabel(err), time.Since(start).Seconds())
	return res, err
}

func (n *LocalNode) send(ctx context.Context, cmd command.Command) (command.Result, error) {
	if !n.Connected() {
		return command.Result{}, errors.Communication("local node "+n.name+" is disconnected", nil)
	}
	if err := n.awaitResume(ctx); err != nil {
		return command.Result{}, errors.Communication("local node "+n.name+" send canceled while paused", err)
	}

	out := make(chan sendOutcome, 1)
	id := fmt.Sprintf("%s-%d", n.name, n.sendSeq.Add(1))

	err := n.pool.submit(ctx, task{
		id:  id,
		ctx: ctx,
		fn: func(ctx context.Context) error {
			res, err := n.engine.Execute(ctx, cmd)
			out <- sendOutcome{res, err}
			return err
		},
	})
	if err != nil {
		return command.Result{}, errors.Communication("local node "+n.name+" could not accept command", err)
	}

	select {
	case o := <-out:
		return o.res, o.err
	case <-n.pool.stopCh:
		return command.Result{}, errors.Communication("local node "+n.name+" disconnected", nil)
	case <-ctx.Done():
		return command.Result{}, errors.Communication("local node "+n.name+" send canceled", ctx.Err())
	}
}

// outcomeLabel reduces an error to the low-cardinality label RecordCommand
// expects.
func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}

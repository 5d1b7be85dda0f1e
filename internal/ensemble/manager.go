// Package ensemble implements the EnsembleManager of §4.9: it keeps remote
// clusters' membership fresh by periodically sending a Membership command to
// a known contact in each remote cluster and feeding view changes back into
// the Router. Grounded on the reference corpus's refreshHashRing ticker
// pattern (coordinator service), generalized from a single hash-ring refresh
// to one refresh loop per remote cluster with contact failover.
package ensemble

import (
	"context"
	"sync"
	"time"

	"github.com/byzhang/terrastore/internal/command"
	"github.com/byzhang/terrastore/internal/errors"
	"github.com/byzhang/terrastore/internal/node"
	"go.uber.org/zap"
)

// Strategy selects how the poll interval behaves over time (§4.9, §9).
type Strategy string

const (
	StrategyFixed    Strategy = "fixed"
	StrategyAdaptive Strategy = "adaptive"
)

// NodeFactory builds and connects a full node.Node for a newly observed
// remote member. Supplied by the caller (main wiring) so this package stays
// independent of dialing/connection-pool details. The returned Node is
// handed to the Router, which later owns its lifecycle (Disconnect on
// removal), so a Sender alone would not be enough here.
type NodeFactory func(name, host string, port int) (node.Node, error)

// RouterView is the narrow slice of Router the manager mutates: replacing a
// remote cluster's member set (§4.6, §4.9).
type RouterView interface {
	ReplaceClusterMembers(cluster string, members map[string]node.Node) error
}

// clusterState tracks one remote cluster's known contacts, its reconciled
// members (keyed by name so reconcile can reuse a still-current member's
// Node instead of rebuilding it) and the last observed view.
type clusterState struct {
	name     string
	contacts []node.Node              // known contacts to poll, in try-order
	members  map[string]node.Node     // reconciled members, by name
	current  map[string]command.Member
}

// Manager polls every configured remote cluster on its own ticking goroutine
// and feeds membership changes into the Router.
type Manager struct {
	logger   *zap.Logger
	strategy Strategy
	interval time.Duration
	factory  NodeFactory
	router   RouterView
	ctrl     *adaptiveController

	mu       sync.Mutex
	clusters map[string]*clusterState

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Config configures a Manager (§6: ensemble.strategy, ensemble.interval).
type Config struct {
	Strategy Strategy
	Interval time.Duration
	Factory  NodeFactory
	Router   RouterView
	Logger   *zap.Logger
}

// New creates a Manager. Call Start to begin polling and Stop to halt it.
func New(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Manager{
		logger:   logger,
		strategy: cfg.Strategy,
		interval: interval,
		factory:  cfg.Factory,
		router:   cfg.Router,
		ctrl:     newAdaptiveController(interval),
		clusters: make(map[string]*clusterState),
		stopCh:   make(chan struct{}),
	}
}

// Track registers a remote cluster with its initial set of known contacts
// (e.g. seed addresses from configuration). initial contacts are polled for
// Membership until the first successful reconcile replaces them with the
// cluster's actual, named members.
func (m *Manager) Track(clusterName string, initial []node.Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clusters[clusterName] = &clusterState{
		name:     clusterName,
		contacts: initial,
		members:  make(map[string]node.Node),
		current:  make(map[string]command.Member),
	}
}

// Start launches one polling goroutine per tracked cluster.
func (m *Manager) Start() {
	m.mu.Lock()
	names := make([]string, 0, len(m.clusters))
	for name := range m.clusters {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		m.wg.Add(1)
		go m.pollLoop(name)
	}
}

// Stop halts all polling goroutines and waits for them to exit.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Manager) pollLoop(clusterName string) {
	defer m.wg.Done()

	interval := m.interval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-timer.C:
			start := time.Now()
			err := m.tick(clusterName)
			elapsed := time.Since(start)

			if m.strategy == StrategyAdaptive {
				interval = m.ctrl.next(elapsed, err == nil)
			}
			timer.Reset(interval)
		}
	}
}

// tick polls one cluster's contacts in order until one responds, then
// reconciles the view with the Router. Grounded on §4.9's failover rule:
// "if the selected contact fails, try the next known contact; if all fail,
// leave the view unchanged."
func (m *Manager) tick(clusterName string) error {
	m.mu.Lock()
	st, ok := m.clusters[clusterName]
	m.mu.Unlock()
	if !ok {
		return errors.MissingRoute("ensemble: unknown cluster " + clusterName)
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.interval)
	defer cancel()

	var res command.Result
	var lastErr error = errors.MissingRoute("ensemble: cluster " + clusterName + " has no known contacts")
	reached := false
	for _, contact := range st.contacts {
		r, err := contact.Send(ctx, command.Membership())
		if err == nil {
			res = r
			reached = true
			break
		}
		lastErr = err
	}
	if !reached {
		m.logger.Warn("ensemble tick: cluster unreachable this round",
			zap.String("cluster", clusterName), zap.Error(lastErr))
		return lastErr
	}

	return m.reconcile(st, res.Members)
}

// reconcile diffs the observed membership against the current view and, if
// it differs, atomically swaps the Router's member set for this cluster:
// departed nodes are disconnected, only genuinely new addresses get dialed
// (§4.9 "create new remote nodes for new addresses"); a member whose name
// and address are unchanged from the last reconcile keeps its existing,
// already-connected Node rather than being rebuilt.
func (m *Manager) reconcile(st *clusterState, observed []command.Member) error {
	next := make(map[string]command.Member, len(observed))
	for _, mem := range observed {
		next[mem.Name] = mem
	}

	m.mu.Lock()
	unchanged := sameView(st.current, next)
	prevCurrent := st.current
	prevMembers := st.members
	m.mu.Unlock()
	if unchanged {
		return nil
	}

	members := make(map[string]node.Node, len(next))
	var contacts []node.Node
	for _, mem := range observed {
		if n, ok := prevMembers[mem.Name]; ok && prevCurrent[mem.Name] == mem {
			members[mem.Name] = n
			contacts = append(contacts, n)
			continue
		}
		n, err := m.factory(mem.Name, mem.Host, mem.Port)
		if err != nil {
			m.logger.Warn("ensemble: failed to build node for observed member",
				zap.String("name", mem.Name), zap.Error(err))
			continue
		}
		members[mem.Name] = n
		contacts = append(contacts, n)
	}

	if err := m.router.ReplaceClusterMembers(st.name, members); err != nil {
		return err
	}

	m.mu.Lock()
	st.current = next
	st.members = members
	st.contacts = contacts
	m.mu.Unlock()
	return nil
}

func sameView(a, b map[string]command.Member) bool {
	if len(a) != len(b) {
		return false
	}
	for name, memA := range a {
		memB, ok := b[name]
		if !ok || memA != memB {
			return false
		}
	}
	return true
}

// Package router implements the Router of §4.6: it composes the
// EnsemblePartitioner and ClusterPartitioner with a node registry and
// exposes unicast/multicast/broadcast routing to services.
package router

import (
	"sort"
	"sync"

	"github.com/byzhang/terrastore/internal/errors"
	"github.com/byzhang/terrastore/internal/metrics"
	"github.com/byzhang/terrastore/internal/node"
	"github.com/byzhang/terrastore/internal/partition"
)

// Cluster describes a named group of nodes, flagged local if it is the one
// this process belongs to (§3).
type Cluster struct {
	Name    string
	IsLocal bool
}

// Router composes Ensemble + Cluster partitioners and the node registry
// (§4.6). Writes (setupClusters/addRoute*/removeRoute*/cleanup) are
// serialized under a single lock; routing lookups delegate to the
// partitioners, which take their own RWMutex read locks, and then resolve
// the node under the registry lock. Lookups are not lock-free (§4.6, §5).
type Router struct {
	ensemble *partition.EnsemblePartitioner
	cluster  *partition.ClusterPartitioner

	mu       sync.Mutex
	clusters map[string]*Cluster
	nodes    map[string]map[string]node.Node // cluster -> nodeName -> Node

	metrics *metrics.Metrics
}

// New creates an empty Router with the given per-cluster ring size (§6:
// cluster.partitions).
func New(maxPartitions int) *Router {
	return &Router{
		ensemble: partition.NewEnsemblePartitioner(),
		cluster:  partition.NewClusterPartitioner(maxPartitions),
		clusters: make(map[string]*Cluster),
		nodes:    make(map[string]map[string]node.Node),
	}
}

// WithMetrics attaches met so routing failures are recorded (§11). Safe to
// call with nil, which restores the no-op default.
func (r *Router) WithMetrics(met *metrics.Metrics) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = met
	return r
}

// recordFailure records err against r's RouteFailures collector, if any.
func (r *Router) recordFailure(err error) error {
	if err == nil {
		return nil
	}
	if code, ok := errors.CodeOf(err); ok {
		r.metrics.RecordRouteFailure(code.String())
	}
	return err
}

// SetupClusters declares the ensemble's cluster set, once at startup (§4.6).
// Exactly one cluster must be marked local.
func (r *Router) SetupClusters(clusters []Cluster) {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(clusters))
	for _, c := range clusters {
		c := c
		r.clusters[c.Name] = &c
		r.cluster.EnsureCluster(c.Name)
		if r.nodes[c.Name] == nil {
			r.nodes[c.Name] = make(map[string]node.Node)
		}
		names = append(names, c.Name)
	}
	r.ensemble.SetupClusters(names)
}

// LocalCluster returns the name of the local cluster, if configured.
func (r *Router) LocalCluster() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, c := range r.clusters {
		if c.IsLocal {
			return name, true
		}
	}
	return "", false
}

// AddRouteToLocalNode adds n to the local cluster's ring.
func (r *Router) AddRouteToLocalNode(n node.Node) error {
	local, ok := r.LocalCluster()
	if !ok {
		return errors.MissingRoute("addRouteToLocalNode: no local cluster configured")
	}
	return r.AddRouteTo(local, n)
}

// AddRouteTo adds n to cluster's ring and registers it in the node registry.
func (r *Router) AddRouteTo(cluster string, n node.Node) error {
	if err := r.cluster.AddNode(cluster, n); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nodes[cluster] == nil {
		r.nodes[cluster] = make(map[string]node.Node)
	}
	r.nodes[cluster][n.Name()] = n
	return nil
}

// RemoveRouteTo removes n from cluster's ring and the node registry.
func (r *Router) RemoveRouteTo(cluster string, n node.Node) error {
	if err := r.cluster.RemoveNode(cluster, n.Name()); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.nodes[cluster]; ok {
		delete(m, n.Name())
	}
	return nil
}

// RouteToNodeFor resolves the node owning bucket, via the ensemble then the
// cluster partitioner (§4.6).
func (r *Router) RouteToNodeFor(bucket string) (node.Node, error) {
	clusterName, err := r.ensemble.GetClusterForBucket(bucket)
	if err != nil {
		return nil, r.recordFailure(err)
	}
	n, err := r.cluster.GetNodeForBucket(clusterName, bucket)
	if err != nil {
		return nil, r.recordFailure(err)
	}
	rn, err := r.asNode(clusterName, n)
	if err != nil {
		return nil, r.recordFailure(err)
	}
	return rn, nil
}

// RouteToNodeForKey resolves the node owning (bucket,key).
func (r *Router) RouteToNodeForKey(bucket, key string) (node.Node, error) {
	clusterName, err := r.ensemble.GetClusterForKey(bucket, key)
	if err != nil {
		return nil, r.recordFailure(err)
	}
	n, err := r.cluster.GetNodeForKey(clusterName, bucket, key)
	if err != nil {
		return nil, r.recordFailure(err)
	}
	rn, err := r.asNode(clusterName, n)
	if err != nil {
		return nil, r.recordFailure(err)
	}
	return rn, nil
}

// RouteToNodesFor groups keys by owning node in a single pass (§4.6). The
// returned map's union of values equals keys exactly, and each key group is
// owned (per RouteToNodeForKey) by its map key — this is the "routing
// composition" testable property of §8.
func (r *Router) RouteToNodesFor(bucket string, keys []string) (map[node.Node][]string, error) {
	clusterName, err := r.ensemble.GetClusterForBucket(bucket)
	if err != nil {
		return nil, r.recordFailure(err)
	}

	out := make(map[node.Node][]string)
	for _, key := range keys {
		n, err := r.cluster.GetNodeForKey(clusterName, bucket, key)
		if err != nil {
			return nil, r.recordFailure(err)
		}
		rn, err := r.asNode(clusterName, n)
		if err != nil {
			return nil, r.recordFailure(err)
		}
		out[rn] = append(out[rn], key)
	}
	return out, nil
}

// ReplaceClusterMembers atomically swaps cluster's member set for newMembers
// (§4.9): nodes present in the old set but absent from newMembers are
// disconnected and dropped; nodes present only in newMembers are added to
// the ring; a different Node value under an already registered name
// replaces the registered one, which is disconnected. Used by the
// EnsembleManager after observing a changed remote view.
func (r *Router) ReplaceClusterMembers(cluster string, newMembers map[string]node.Node) error {
	r.mu.Lock()
	if r.nodes[cluster] == nil {
		r.nodes[cluster] = make(map[string]node.Node)
	}
	old := r.nodes[cluster]
	r.mu.Unlock()

	var toDrop []node.Node
	for name, n := range old {
		if _, ok := newMembers[name]; !ok {
			toDrop = append(toDrop, n)
		}
	}
	for _, n := range toDrop {
		_ = r.RemoveRouteTo(cluster, n)
		_ = n.Disconnect()
	}

	for name, n := range newMembers {
		if existing, ok := old[name]; ok {
			// A distinct Node value for the same name (e.g. rebuilt after
			// the member's address changed) takes over the name; the old
			// one is removed from the ring and disconnected.
			if existing != n {
				if err := r.RemoveRouteTo(cluster, existing); err != nil {
					return err
				}
				_ = existing.Disconnect()
				if err := r.AddRouteTo(cluster, n); err != nil {
					return err
				}
			}
			continue
		}
		if err := r.AddRouteTo(cluster, n); err != nil {
			return err
		}
	}
	return nil
}

// ClusterRoute returns all current members of cluster.
func (r *Router) ClusterRoute(cluster string) (map[string]node.Node, error) {
	members, err := r.cluster.GetNodesFor(cluster)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]node.Node, len(members))
	for _, m := range members {
		if n, ok := r.nodes[cluster][m.Name()]; ok {
			out[n.Name()] = n
		}
	}
	return out, nil
}

// BroadcastRoute returns the members of every cluster (§4.6). An empty
// member set for any cluster is a fatal routing error for callers performing
// non-idempotent operations (§3 invariant), so it is surfaced here rather
// than silently omitted.
func (r *Router) BroadcastRoute() (map[string]map[string]node.Node, error) {
	out := make(map[string]map[string]node.Node)
	for _, clusterName := range r.ensemble.Clusters() {
		members, err := r.ClusterRoute(clusterName)
		if err != nil {
			return nil, r.recordFailure(err)
		}
		if len(members) == 0 {
			return nil, r.recordFailure(errors.MissingRoute("broadcastRoute: cluster " + clusterName + " has no members"))
		}
		out[clusterName] = members
	}
	return out, nil
}

// Cleanup drops all routes and disconnects every registered node.
func (r *Router) Cleanup() {
	r.mu.Lock()
	clusterNames := make([]string, 0, len(r.clusters))
	allNodes := make([]node.Node, 0)
	for name := range r.clusters {
		clusterNames = append(clusterNames, name)
	}
	for _, m := range r.nodes {
		for _, n := range m {
			allNodes = append(allNodes, n)
		}
	}
	r.nodes = make(map[string]map[string]node.Node)
	r.clusters = make(map[string]*Cluster)
	r.mu.Unlock()

	sort.Strings(clusterNames)
	for _, name := range clusterNames {
		r.cluster.RemoveCluster(name)
	}
	for _, n := range allNodes {
		_ = n.Disconnect()
	}
}

func (r *Router) asNode(cluster string, n partition.Node) (node.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rn, ok := r.nodes[cluster][n.Name()]; ok {
		return rn, nil
	}
	return nil, errors.MissingRoute("node " + n.Name() + " is in the ring but not registered")
}

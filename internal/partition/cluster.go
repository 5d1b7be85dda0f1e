// Package partition implements the two tiers of consistent-hash routing
// described in §4.2/§4.3: the intra-cluster ClusterPartitioner (bucket/key →
// node, via a fixed-size slot ring) and the inter-cluster EnsemblePartitioner
// (bucket → cluster, via a sorted cluster-name list). Both are generalized
// from the reference corpus's RWMutex-guarded consistent hasher
// (coordinator/internal/algorithm/consistent_hash.go), simplified from a
// weighted virtual-node ring down to the spec's fixed, unweighted array: the
// spec invalidates snapshots on every membership change anyway, so a minimal
// remap is not worth the complexity of jump-hash or virtual nodes.
package partition

import (
	"sort"
	"sync"

	"github.com/byzhang/terrastore/internal/errors"
	"github.com/byzhang/terrastore/internal/hash"
)

// DefaultMaxPartitions is the default slot-ring size per cluster (§4.2).
const DefaultMaxPartitions = 1024

// Node is the minimal identity a ClusterPartitioner needs: a name to sort
// rings by (§3 invariant: rebuild from the *sorted* node set). The concrete
// transport-capable Node type lives in package node; this interface lets
// partition stay independent of node/transport concerns.
type Node interface {
	Name() string
}

type clusterRing struct {
	members []Node // sorted by Name()
	slots   []Node // length maxPartitions
}

// ClusterPartitioner maps (bucket) and (bucket,key) to one node of a named
// cluster, backed by one fixed-size slot ring per cluster.
type ClusterPartitioner struct {
	maxPartitions int

	mu       sync.RWMutex
	clusters map[string]*clusterRing
}

// NewClusterPartitioner creates a ClusterPartitioner with the given ring size
// (§6 configuration surface: cluster.partitions, default 1024).
func NewClusterPartitioner(maxPartitions int) *ClusterPartitioner {
	if maxPartitions <= 0 {
		maxPartitions = DefaultMaxPartitions
	}
	return &ClusterPartitioner{
		maxPartitions: maxPartitions,
		clusters:      make(map[string]*clusterRing),
	}
}

// EnsureCluster registers an (initially empty) ring for cluster, if absent.
// Idempotent.
func (p *ClusterPartitioner) EnsureCluster(cluster string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.clusters[cluster]; !ok {
		p.clusters[cluster] = &clusterRing{}
	}
}

// AddNode adds n to cluster's member set and deterministically rebuilds its
// ring. Fails with MissingRoute if cluster is unknown.
func (p *ClusterPartitioner) AddNode(cluster string, n Node) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ring, ok := p.clusters[cluster]
	if !ok {
		return errors.MissingRoute("addNode: unknown cluster " + cluster)
	}

	for _, existing := range ring.members {
		if existing.Name() == n.Name() {
			return nil // idempotent re-add
		}
	}
	members := append(append([]Node{}, ring.members...), n)
	p.rebuild(cluster, members)
	return nil
}

// RemoveNode removes n from cluster's member set and rebuilds its ring.
// Fails with MissingRoute if cluster is unknown.
func (p *ClusterPartitioner) RemoveNode(cluster string, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ring, ok := p.clusters[cluster]
	if !ok {
		return errors.MissingRoute("removeNode: unknown cluster " + cluster)
	}

	members := make([]Node, 0, len(ring.members))
	for _, n := range ring.members {
		if n.Name() != name {
			members = append(members, n)
		}
	}
	p.rebuild(cluster, members)
	return nil
}

// rebuild sorts members by name and lays them out across the fixed slot
// array by simple modulo (§4.2 "Ring build"). Caller must hold p.mu.
func (p *ClusterPartitioner) rebuild(cluster string, members []Node) {
	sort.Slice(members, func(i, j int) bool { return members[i].Name() < members[j].Name() })

	slots := make([]Node, p.maxPartitions)
	if len(members) > 0 {
		for i := 0; i < p.maxPartitions; i++ {
			slots[i] = members[i%len(members)]
		}
	}
	p.clusters[cluster] = &clusterRing{members: members, slots: slots}
}

// GetNodeForBucket returns the node owning bucket in cluster.
func (p *ClusterPartitioner) GetNodeForBucket(cluster, bucket string) (Node, error) {
	return p.lookup(cluster, hash.HashString(bucket))
}

// GetNodeForKey returns the node owning (bucket,key) in cluster, per the
// combine(hash(bucket),hash(key)) formula of §4.2.
func (p *ClusterPartitioner) GetNodeForKey(cluster, bucket, key string) (Node, error) {
	combined := hash.Combine(hash.HashString(bucket), hash.HashString(key))
	return p.lookup(cluster, combined)
}

func (p *ClusterPartitioner) lookup(cluster string, h uint32) (Node, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ring, ok := p.clusters[cluster]
	if !ok {
		return nil, errors.MissingRoute("lookup: unknown cluster " + cluster)
	}
	if len(ring.members) == 0 {
		return nil, errors.MissingRoute("lookup: empty ring for cluster " + cluster)
	}
	slot := ring.slots[int(h)%p.maxPartitions]
	if slot == nil {
		return nil, errors.MissingRoute("lookup: unassigned slot in cluster " + cluster)
	}
	return slot, nil
}

// GetNodesFor returns the current member set of cluster (not ring slots),
// per §4.2's getNodesFor. Fails with MissingRoute if cluster is unknown.
func (p *ClusterPartitioner) GetNodesFor(cluster string) ([]Node, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ring, ok := p.clusters[cluster]
	if !ok {
		return nil, errors.MissingRoute("getNodesFor: unknown cluster " + cluster)
	}
	out := make([]Node, len(ring.members))
	copy(out, ring.members)
	return out, nil
}

// RemoveCluster drops a cluster and its ring entirely (used by Router.cleanup).
func (p *ClusterPartitioner) RemoveCluster(cluster string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.clusters, cluster)
}

// Clusters returns the names of all registered clusters.
func (p *ClusterPartitioner) Clusters() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.clusters))
	for name := range p.clusters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

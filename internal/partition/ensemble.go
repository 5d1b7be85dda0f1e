package partition

import (
	"sort"
	"sync"

	"github.com/byzhang/terrastore/internal/errors"
	"github.com/byzhang/terrastore/internal/hash"
)

// EnsemblePartitioner maps a bucket to exactly one cluster, by a stable hash
// modulo the sorted list of cluster names (§4.3). It deliberately ignores key
// granularity and node counts: routing to a cluster is by bucket only, so a
// whole bucket's contents live in one cluster, enabling per-bucket range
// scans without cross-cluster merges on the hot path.
type EnsemblePartitioner struct {
	mu       sync.RWMutex
	clusters []string // sorted
}

// NewEnsemblePartitioner creates an empty EnsemblePartitioner.
func NewEnsemblePartitioner() *EnsemblePartitioner {
	return &EnsemblePartitioner{}
}

// SetupClusters replaces the cluster-name list wholesale. Idempotent for
// equal inputs: calling it twice with the same set produces the same sorted
// list and therefore the same routing decisions.
func (e *EnsemblePartitioner) SetupClusters(names []string) {
	sorted := append([]string{}, names...)
	sort.Strings(sorted)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.clusters = sorted
}

// GetClusterForBucket returns the cluster owning bucket.
func (e *EnsemblePartitioner) GetClusterForBucket(bucket string) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.clusters) == 0 {
		return "", errors.MissingRoute("getClusterFor: no clusters configured")
	}
	idx := hash.HashString(bucket) % uint32(len(e.clusters))
	return e.clusters[idx], nil
}

// GetClusterForKey routes by bucket only — key granularity applies inside
// the cluster, not across clusters (§4.3).
func (e *EnsemblePartitioner) GetClusterForKey(bucket, _ string) (string, error) {
	return e.GetClusterForBucket(bucket)
}

// Clusters returns the current sorted cluster-name list.
func (e *EnsemblePartitioner) Clusters() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, len(e.clusters))
	copy(out, e.clusters)
	return out
}

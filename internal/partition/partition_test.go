package partition

import (
	"math/rand"
	"testing"

	"github.com/byzhang/terrastore/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testNode struct{ name string }

func (n testNode) Name() string { return n.name }

func TestClusterPartitionerMissingRouteOnUnknownCluster(t *testing.T) {
	p := NewClusterPartitioner(16)
	err := p.AddNode("c1", testNode{"n1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeMissingRoute))
}

func TestClusterPartitionerEmptyRingIsMissingRoute(t *testing.T) {
	p := NewClusterPartitioner(16)
	p.EnsureCluster("c1")
	_, err := p.GetNodeForBucket("c1", "bucket")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeMissingRoute))
}

func TestClusterPartitionerCoverage(t *testing.T) {
	// Every slot must resolve to a current member, for any non-empty set.
	p := NewClusterPartitioner(37) // prime, deliberately not a multiple of member count
	p.EnsureCluster("c1")
	members := []string{"n1", "n2", "n3", "n5"}
	for _, m := range members {
		require.NoError(t, p.AddNode("c1", testNode{m}))
	}

	seen := map[string]bool{}
	for i := 0; i < 5000; i++ {
		bucket := randomString(10)
		n, err := p.GetNodeForBucket("c1", bucket)
		require.NoError(t, err)
		found := false
		for _, m := range members {
			if n.Name() == m {
				found = true
			}
		}
		require.True(t, found, "slot must point at a current member")
		seen[n.Name()] = true
	}
	assert.Len(t, seen, len(members), "every member should get some coverage over enough buckets")
}

func TestClusterPartitionerDeterministicAcrossInsertionOrder(t *testing.T) {
	members := []string{"n3", "n1", "n2"}
	orderings := [][]string{
		{"n3", "n1", "n2"},
		{"n1", "n2", "n3"},
		{"n2", "n3", "n1"},
	}

	var results [][]string
	for _, order := range orderings {
		p := NewClusterPartitioner(64)
		p.EnsureCluster("c1")
		for _, name := range order {
			require.NoError(t, p.AddNode("c1", testNode{name}))
		}
		var owners []string
		for _, b := range []string{"bucket-a", "bucket-b", "bucket-c", "key-x"} {
			n, err := p.GetNodeForBucket("c1", b)
			require.NoError(t, err)
			owners = append(owners, n.Name())
		}
		results = append(results, owners)
	}

	for i := 1; i < len(results); i++ {
		assert.Equal(t, results[0], results[i], "ring must be deterministic regardless of insertion order, given %v", members)
	}
}

func TestClusterPartitionerBucketKeyLookup(t *testing.T) {
	p := NewClusterPartitioner(1024)
	p.EnsureCluster("c1")
	require.NoError(t, p.AddNode("c1", testNode{"n1"}))
	require.NoError(t, p.AddNode("c1", testNode{"n2"}))

	n, err := p.GetNodeForKey("c1", "bucket", "key")
	require.NoError(t, err)
	assert.Contains(t, []string{"n1", "n2"}, n.Name())
}

func TestClusterEnumerationOrderIrrelevant(t *testing.T) {
	p := NewClusterPartitioner(16)
	p.EnsureCluster("c1")
	require.NoError(t, p.AddNode("c1", testNode{"n1"}))
	require.NoError(t, p.AddNode("c1", testNode{"n2"}))

	nodes, err := p.GetNodesFor("c1")
	require.NoError(t, err)
	names := map[string]bool{}
	for _, n := range nodes {
		names[n.Name()] = true
	}
	assert.Equal(t, map[string]bool{"n1": true, "n2": true}, names)
}

func TestEnsemblePartitionerStableAcrossCalls(t *testing.T) {
	e := NewEnsemblePartitioner()
	e.SetupClusters([]string{"c2", "c1", "c3"})

	bucket := "some-bucket"
	first, err := e.GetClusterForBucket(bucket)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		got, err := e.GetClusterForBucket(bucket)
		require.NoError(t, err)
		assert.Equal(t, first, got)
	}
}

func TestEnsemblePartitionerMissingRouteWhenEmpty(t *testing.T) {
	e := NewEnsemblePartitioner()
	_, err := e.GetClusterForBucket("bucket")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeMissingRoute))
}

func TestEnsemblePartitionerKeyRoutesLikeBucket(t *testing.T) {
	e := NewEnsemblePartitioner()
	e.SetupClusters([]string{"c1", "c2"})

	byBucket, err := e.GetClusterForBucket("bucket")
	require.NoError(t, err)
	byKey, err := e.GetClusterForKey("bucket", "anykey")
	require.NoError(t, err)
	assert.Equal(t, byBucket, byKey)
}

func randomString(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}

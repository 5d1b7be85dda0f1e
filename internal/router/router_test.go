package router

import (
	"context"
	"testing"

	"github.com/byzhang/terrastore/internal/command"
	"github.com/byzhang/terrastore/internal/errors"
	"github.com/stretchr/testify/require"
)

// fakeNode is a no-transport Node stub for routing tests: routing decisions
// only need identity, never a live connection.
type fakeNode struct {
	name string
}

func (f *fakeNode) Name() string { return f.name }
func (f *fakeNode) Send(context.Context, command.Command) (command.Result, error) {
	return command.Result{}, nil
}
func (f *fakeNode) Connect() error    { return nil }
func (f *fakeNode) Disconnect() error { return nil }
func (f *fakeNode) Connected() bool   { return true }

func singleClusterRouter(t *testing.T, nodeNames ...string) (*Router, []*fakeNode) {
	t.Helper()
	r := New(37)
	r.SetupClusters([]Cluster{{Name: "local", IsLocal: true}})

	nodes := make([]*fakeNode, len(nodeNames))
	for i, name := range nodeNames {
		n := &fakeNode{name: name}
		nodes[i] = n
		require.NoError(t, r.AddRouteTo("local", n))
	}
	return r, nodes
}

// Seed scenario 1: unicast routing to one node.
func TestUnicastRouting(t *testing.T) {
	r, nodes := singleClusterRouter(t, "a", "b", "c")

	n, err := r.RouteToNodeFor("mybucket")
	require.NoError(t, err)
	require.Contains(t, []string{nodes[0].Name(), nodes[1].Name(), nodes[2].Name()}, n.Name())

	// Deterministic: same bucket always resolves to the same node.
	n2, err := r.RouteToNodeFor("mybucket")
	require.NoError(t, err)
	require.Equal(t, n.Name(), n2.Name())
}

// Seed scenario 2: bucket+key routing is deterministic and covers members.
func TestBucketKeyRouting(t *testing.T) {
	r, _ := singleClusterRouter(t, "a", "b", "c")

	n1, err := r.RouteToNodeForKey("bucket", "key1")
	require.NoError(t, err)
	n2, err := r.RouteToNodeForKey("bucket", "key1")
	require.NoError(t, err)
	require.Equal(t, n1.Name(), n2.Name())

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		n, err := r.RouteToNodeForKey("bucket", string(rune('a'+i%26))+string(rune('A'+(i/26)%26)))
		require.NoError(t, err)
		seen[n.Name()] = true
	}
	require.Len(t, seen, 3, "expected all three members to be covered across 200 keys")
}

// Routing composition: RouteToNodesFor groups keys by their owning node.
func TestRouteToNodesForGrouping(t *testing.T) {
	r, _ := singleClusterRouter(t, "a", "b", "c")

	keys := []string{"k1", "k2", "k3", "k4", "k5", "k6", "k7", "k8"}
	grouped, err := r.RouteToNodesFor("bucket", keys)
	require.NoError(t, err)

	total := 0
	union := make(map[string]bool)
	for n, ks := range grouped {
		total += len(ks)
		for _, k := range ks {
			union[k] = true
			owner, err := r.RouteToNodeForKey("bucket", k)
			require.NoError(t, err)
			require.Equal(t, owner.Name(), n.Name())
		}
	}
	require.Equal(t, len(keys), total)
	require.Len(t, union, len(keys))
}

// Seed scenario 4: broadcast composition covers every cluster disjointly.
func TestBroadcastComposition(t *testing.T) {
	r := New(37)
	r.SetupClusters([]Cluster{
		{Name: "local", IsLocal: true},
		{Name: "remote", IsLocal: false},
	})

	localNode := &fakeNode{name: "l1"}
	remoteNode := &fakeNode{name: "r1"}
	require.NoError(t, r.AddRouteTo("local", localNode))
	require.NoError(t, r.AddRouteTo("remote", remoteNode))

	all, err := r.BroadcastRoute()
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Contains(t, all["local"], "l1")
	require.Contains(t, all["remote"], "r1")

	// Disjoint: no node appears under more than one cluster key.
	seen := make(map[string]string)
	for cluster, members := range all {
		for name := range members {
			if prev, ok := seen[name]; ok {
				t.Fatalf("node %s present in both %s and %s", name, prev, cluster)
			}
			seen[name] = cluster
		}
	}
}

func TestBroadcastFailsWhenAClusterIsEmpty(t *testing.T) {
	r := New(37)
	r.SetupClusters([]Cluster{
		{Name: "local", IsLocal: true},
		{Name: "remote", IsLocal: false},
	})
	require.NoError(t, r.AddRouteTo("local", &fakeNode{name: "l1"}))

	_, err := r.BroadcastRoute()
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.CodeMissingRoute))
}

func TestRouteToNodeForMissingRouteWhenNoClusters(t *testing.T) {
	r := New(37)
	_, err := r.RouteToNodeFor("bucket")
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.CodeMissingRoute))
}

func TestRemoveRouteToDropsNode(t *testing.T) {
	r, nodes := singleClusterRouter(t, "a", "b")
	require.NoError(t, r.RemoveRouteTo("local", nodes[0]))

	members, err := r.ClusterRoute("local")
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.Contains(t, members, "b")
}

func TestAddRouteToLocalNodeRequiresLocalCluster(t *testing.T) {
	r := New(37)
	err := r.AddRouteToLocalNode(&fakeNode{name: "x"})
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.CodeMissingRoute))
}

func TestCleanupDisconnectsAndClearsRoutes(t *testing.T) {
	r, _ := singleClusterRouter(t, "a", "b")
	r.Cleanup()

	_, err := r.RouteToNodeFor("bucket")
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.CodeMissingRoute))
}

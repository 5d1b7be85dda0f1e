// Package dispatch implements the ParallelDispatcher of §4.7: it fans a
// command out across a set of Nodes (typically one per group produced by the
// Router) and fans the results back in, either as a union (all results kept
// independently) or as a deterministic sorted merge (for range scans that
// must read as if served by a single node). Grounded on the reference
// corpus's errgroup-based fan-out in its coordinator service.
package dispatch

import (
	"context"
	"sort"

	"github.com/byzhang/terrastore/internal/command"
	"github.com/byzhang/terrastore/internal/comparator"
	"golang.org/x/sync/errgroup"
)

// Sender is the minimal surface dispatched against — a node.Node, or a
// failure.Decorator wrapping one.
type Sender interface {
	Send(ctx context.Context, cmd command.Command) (command.Result, error)
}

// Target pairs a Sender with the command it should receive — the output
// shape of Router.RouteToNodesFor once rekeyed from groups of keys back to
// per-node Commands by the caller.
type Target struct {
	Sender Sender
	Cmd    command.Command
}

// Dispatcher runs a set of Targets concurrently via errgroup, canceling the
// remaining calls as soon as one fails (§4.7 "cooperative cancellation").
type Dispatcher struct{}

// New creates a Dispatcher. It is stateless; a single value can be shared
// across goroutines and call sites.
func New() *Dispatcher { return &Dispatcher{} }

// Union runs every target concurrently and returns one Result per target, in
// the same order as targets. If any target fails, the first error
// encountered is returned and the remaining in-flight calls are canceled.
func (d *Dispatcher) Union(ctx context.Context, targets []Target) ([]command.Result, error) {
	results := make([]command.Result, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			res, err := t.Sender.Send(gctx, t.Cmd)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// MergeKeys runs every target concurrently (each expected to return a
// KeysInRange-shaped Result, already locally ordered under less by the node
// that produced it) and merges their Keys into one deduplicated slice
// ordered under the same comparator, as if a single node had served the whole
// range. The merge collects the union of all partials and sorts it once; it
// does not rely on the partials' own order. A nil less defaults to
// comparator.Lexicographic.
func (d *Dispatcher) MergeKeys(ctx context.Context, targets []Target, less comparator.Func) ([]string, error) {
	if less == nil {
		less = comparator.Lexicographic
	}
	results, err := d.Union(ctx, targets)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var merged []string
	for _, res := range results {
		for _, k := range res.Keys {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				merged = append(merged, k)
			}
		}
	}
	sort.Slice(merged, func(i, j int) bool { return less(merged[i], merged[j]) })
	return merged, nil
}

// MergeValues runs every target concurrently and merges their Values maps
// into one. Keys are disjoint by construction (each target owns a distinct
// key set per the Router's grouping), so merging is a plain union.
func (d *Dispatcher) MergeValues(ctx context.Context, targets []Target) (map[string][]byte, error) {
	results, err := d.Union(ctx, targets)
	if err != nil {
		return nil, err
	}

	merged := make(map[string][]byte)
	for _, res := range results {
		for k, v := range res.Values {
			merged[k] = v
		}
	}
	return merged, nil
}

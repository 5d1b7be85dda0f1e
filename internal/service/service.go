// Package service implements the ingress-facing service interfaces of §6
// (UpdateService, QueryService, BackupService, StatsService): thin
// orchestration over the Router, ParallelDispatcher and FailureDecorator,
// consumed by the (out-of-scope) HTTP front-end. Grounded on
// original_source's DefaultUpdateService/DefaultQueryService, implementing
// the later form the spec's §9 open question selects: condition/predicate
// resolution is delegated to the command layer rather than tracked in a
// per-service map.
package service

import (
	"context"
	"sort"

	"github.com/byzhang/terrastore/internal/command"
	"github.com/byzhang/terrastore/internal/comparator"
	"github.com/byzhang/terrastore/internal/dispatch"
	"github.com/byzhang/terrastore/internal/errors"
	"github.com/byzhang/terrastore/internal/failure"
	"github.com/byzhang/terrastore/internal/node"
)

// RouterFacade is the narrow Router surface the service layer depends on —
// it never needs ring internals, only route resolution and broadcast/range
// enumeration. Satisfied directly by *router.Router.
type RouterFacade interface {
	RouteToNodeFor(bucket string) (node.Node, error)
	RouteToNodeForKey(bucket, key string) (node.Node, error)
	RouteToNodesFor(bucket string, keys []string) (map[node.Node][]string, error)
	BroadcastRoute() (map[string]map[string]node.Node, error)
}

// UpdateService implements the write-path operations of §6: putValue,
// removeValue, removeBucket, updateValue, removeByRange. Every send to a
// routed node.Node passes through a FailureDecorator (§4.8, §7) so a
// transient MissingRoute/Communication failure is retried per
// failover.retries/failover.interval rather than surfaced on the first try.
type UpdateService struct {
	router     RouterFacade
	dispatcher *dispatch.Dispatcher
	failover   failure.Config
}

// NewUpdateService creates an UpdateService over router, retrying sends per
// failover.
func NewUpdateService(router RouterFacade, failover failure.Config) *UpdateService {
	return &UpdateService{router: router, dispatcher: dispatch.New(), failover: failover}
}

// PutValue routes a single put to the node owning (bucket,key) (§6
// "PUT /{bucket}/{key}"); the value itself is validated by that node's
// storage engine.
func (s *UpdateService) PutValue(ctx context.Context, bucket, key string, value []byte, pred *command.Predicate) error {
	n, err := s.router.RouteToNodeForKey(bucket, key)
	if err != nil {
		return err
	}
	_, err = failure.New(n, s.failover).Send(ctx, command.PutValue(bucket, key, value, pred))
	return err
}

// RemoveValue routes a single delete (§6 "DELETE /{bucket}/{key}").
func (s *UpdateService) RemoveValue(ctx context.Context, bucket, key string) error {
	n, err := s.router.RouteToNodeForKey(bucket, key)
	if err != nil {
		return err
	}
	_, err = failure.New(n, s.failover).Send(ctx, command.RemoveValue(bucket, key))
	return err
}

// UpdateValue routes a server-side update (§6 "POST .../update").
func (s *UpdateService) UpdateValue(ctx context.Context, bucket, key, function string, params map[string]string, timeoutMS int64) ([]byte, error) {
	n, err := s.router.RouteToNodeForKey(bucket, key)
	if err != nil {
		return nil, err
	}
	res, err := failure.New(n, s.failover).Send(ctx, command.Update(bucket, key, function, params, timeoutMS))
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// RemoveBucket multicasts a bucket removal to one node per cluster (§6
// "DELETE /{bucket}"). Preserves the spec's documented non-atomicity (§9):
// a cluster with no reachable member fails the whole call as MissingRoute
// with a partial-application message, mirroring the original's
// multicastRemoveBucketCommand.
func (s *UpdateService) RemoveBucket(ctx context.Context, bucket string) error {
	perCluster, err := s.router.BroadcastRoute()
	if err != nil {
		return err
	}

	for clusterName, members := range perCluster {
		if len(members) == 0 {
			return errors.MissingRoute("removeBucket: cluster " + clusterName + " has no reachable node; operation partially applied")
		}
		succeeded := false
		var lastErr error
		for _, n := range members {
			if _, err := failure.New(n, s.failover).Send(ctx, command.RemoveBucket(bucket)); err == nil {
				succeeded = true
				break
			} else {
				lastErr = err
			}
		}
		if !succeeded {
			return errors.MissingRouteWrap("removeBucket: cluster "+clusterName+" partially applied", lastErr)
		}
	}
	return nil
}

// RemoveByRange removes every key in [range] across the owning nodes and
// returns the union of removed keys (§6 implied by queryByRange + delete
// semantics; grounded on DefaultUpdateService.removeByRange).
func (s *UpdateService) RemoveByRange(ctx context.Context, bucket string, r command.Range, limit int) ([]string, error) {
	keys, err := keysInRangeAcrossBroadcast(ctx, s.router, bucket, r, "", limit, s.failover)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	grouped, err := s.router.RouteToNodesFor(bucket, keys)
	if err != nil {
		return nil, err
	}

	targets := make([]dispatch.Target, 0, len(grouped))
	for n, ks := range grouped {
		targets = append(targets, dispatch.Target{Sender: failure.New(n, s.failover), Cmd: command.RemoveValues(bucket, ks, nil)})
	}
	values, err := s.dispatcher.MergeValues(ctx, targets)
	if err != nil {
		return nil, err
	}

	removed := make([]string, 0, len(values))
	for k := range values {
		removed = append(removed, k)
	}
	sort.Strings(removed)
	return removed, nil
}

// QueryService implements the read-path operations of §6: getBuckets,
// getValue, getValues, queryByRange, queryByPredicate. Like UpdateService,
// every send is wrapped in a FailureDecorator (§4.8, §7).
type QueryService struct {
	router     RouterFacade
	dispatcher *dispatch.Dispatcher
	failover   failure.Config
}

// NewQueryService creates a QueryService over router, retrying sends per
// failover.
func NewQueryService(router RouterFacade, failover failure.Config) *QueryService {
	return &QueryService{router: router, dispatcher: dispatch.New(), failover: failover}
}

// GetBuckets enumerates every bucket known by any reachable cluster member
// (§6 "GET /").
func (s *QueryService) GetBuckets(ctx context.Context) ([]string, error) {
	perCluster, err := s.router.BroadcastRoute()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []string
	for _, members := range perCluster {
		for _, n := range members {
			res, err := failure.New(n, s.failover).Send(ctx, command.GetBuckets())
			if err != nil {
				continue
			}
			for _, b := range res.Buckets {
				if _, ok := seen[b]; !ok {
					seen[b] = struct{}{}
					out = append(out, b)
				}
			}
			break // one node per cluster is enough
		}
	}
	sort.Strings(out)
	return out, nil
}

// GetValue reads a single key (§6 "GET /{bucket}/{key}").
func (s *QueryService) GetValue(ctx context.Context, bucket, key string, pred *command.Predicate) ([]byte, error) {
	n, err := s.router.RouteToNodeForKey(bucket, key)
	if err != nil {
		return nil, err
	}
	res, err := failure.New(n, s.failover).Send(ctx, command.GetValue(bucket, key, pred))
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// GetValues reads a batch of keys, grouped by owning node and fanned out in
// parallel (§6 implied batch read).
func (s *QueryService) GetValues(ctx context.Context, bucket string, keys []string, pred *command.Predicate) (map[string][]byte, error) {
	grouped, err := s.router.RouteToNodesFor(bucket, keys)
	if err != nil {
		return nil, err
	}
	targets := make([]dispatch.Target, 0, len(grouped))
	for n, ks := range grouped {
		targets = append(targets, dispatch.Target{Sender: failure.New(n, s.failover), Cmd: command.GetValues(bucket, ks, pred)})
	}
	return s.dispatcher.MergeValues(ctx, targets)
}

// QueryByRange returns the keys in [range] across every cluster, ordered
// under the named comparator (§4.5, §4.7) and deduplicated, reading from one
// reachable member per cluster and merging results (§6
// "GET /{bucket}?range=...", grounded on
// DefaultQueryService/DefaultUpdateService's multicastRangeQueryCommand). An
// unrecognized comparator name is rejected rather than silently defaulting
// to lexicographic order.
func (s *QueryService) QueryByRange(ctx context.Context, bucket string, r command.Range, comparatorName string, limit int, ttl int64) ([]string, error) {
	return keysInRangeAcrossBroadcast(ctx, s.router, bucket, r, comparatorName, limit, s.failover)
}

// QueryByPredicate filters every key in bucket through a named server-side
// predicate (§6 "GET /{bucket}?predicate=..."). Unindexed: one reachable
// member of every cluster is asked for the bucket's full key set first, and
// those keys are then read back through the predicate (§9 open question, preserved as-is: this is the documented
// quadratic-cost tradeoff, not a bug).
func (s *QueryService) QueryByPredicate(ctx context.Context, bucket string, pred command.Predicate) ([]string, error) {
	allKeys, err := keysInRangeAcrossBroadcast(ctx, s.router, bucket, command.Range{}, "", 0, s.failover)
	if err != nil {
		return nil, err
	}
	if len(allKeys) == 0 {
		return nil, nil
	}

	grouped, err := s.router.RouteToNodesFor(bucket, allKeys)
	if err != nil {
		return nil, err
	}
	targets := make([]dispatch.Target, 0, len(grouped))
	for n, ks := range grouped {
		targets = append(targets, dispatch.Target{Sender: failure.New(n, s.failover), Cmd: command.GetValues(bucket, ks, &pred)})
	}
	values, err := s.dispatcher.MergeValues(ctx, targets)
	if err != nil {
		return nil, err
	}

	matched := make([]string, 0, len(values))
	for k := range values {
		matched = append(matched, k)
	}
	sort.Strings(matched)
	return matched, nil
}

// keysInRangeAcrossBroadcast asks one reachable node per cluster for its
// keys in range, deduplicates the union and sorts it once under
// comparatorName before applying limit (shared by
// range queries and removeByRange, mirroring the original's
// duplicated-on-purpose helper). comparatorName is threaded onto the
// outgoing KeysInRange command unchanged, so every node filters and orders
// its partial under the same comparator the caller asked for (§4.5, §4.7).
func keysInRangeAcrossBroadcast(ctx context.Context, router RouterFacade, bucket string, r command.Range, comparatorName string, limit int, failover failure.Config) ([]string, error) {
	less, err := comparator.Lookup(comparatorName)
	if err != nil {
		return nil, err
	}

	perCluster, err := router.BroadcastRoute()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var merged []string
	for _, members := range perCluster {
		for _, n := range members {
			res, err := failure.New(n, failover).Send(ctx, command.KeysInRange(bucket, r, comparatorName, limit, 0))
			if err != nil {
				continue
			}
			for _, k := range res.Keys {
				if _, ok := seen[k]; !ok {
					seen[k] = struct{}{}
					merged = append(merged, k)
				}
			}
			break
		}
	}
	sort.Slice(merged, func(i, j int) bool { return less(merged[i], merged[j]) })
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// BackupService exposes import/export per §6's ingress surface. The backup
// format and storage-engine-side implementation are out of scope (§1); this
// service only routes the commands a real implementation would need, left
// unimplemented beyond routing to document the seam.
type BackupService struct {
	router   RouterFacade
	failover failure.Config
}

// NewBackupService creates a BackupService over router, retrying sends per
// failover.
func NewBackupService(router RouterFacade, failover failure.Config) *BackupService {
	return &BackupService{router: router, failover: failover}
}

// Buckets lists every bucket reachable via the router, the minimum a backup
// driver needs to enumerate export/import targets.
func (s *BackupService) Buckets(ctx context.Context) ([]string, error) {
	q := NewQueryService(s.router, s.failover)
	return q.GetBuckets(ctx)
}

// StatsService reports router-observable statistics (§11 domain stack:
// prometheus-backed metrics live in package metrics; this service exposes
// the subset meaningful to callers without a Prometheus scrape, e.g. a
// cluster-topology health check).
type StatsService struct {
	router RouterFacade
}

// NewStatsService creates a StatsService over router.
func NewStatsService(router RouterFacade) *StatsService {
	return &StatsService{router: router}
}

// ClusterTopology returns, for every known cluster, the set of currently
// routable node names.
func (s *StatsService) ClusterTopology(ctx context.Context) (map[string][]string, error) {
	perCluster, err := s.router.BroadcastRoute()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(perCluster))
	for cluster, members := range perCluster {
		names := make([]string, 0, len(members))
		for name := range members {
			names = append(names, name)
		}
		sort.Strings(names)
		out[cluster] = names
	}
	return out, nil
}

// Package storage defines the interface Nodes execute Commands against, and
// ships a minimal in-memory implementation of it.
//
// The real bucket storage engine (on-disk, TC-based, with sorted snapshots
// for range queries, an event bus, server-side JS execution, backup
// import/export) is explicitly out of scope for this repo (§1): it is an
// external collaborator whose interface only is specified. The in-memory
// Engine below exists solely so the routing/dispatch core (Node, Router,
// ParallelDispatcher, Coordinator) is runnable and testable end to end; it
// must not be mistaken for a faithful reimplementation of that collaborator.
package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/byzhang/terrastore/internal/command"
	"github.com/byzhang/terrastore/internal/comparator"
	"github.com/byzhang/terrastore/internal/errors"
)

// Engine is the command-processor interface a Node executes against.
type Engine interface {
	Execute(ctx context.Context, cmd command.Command) (command.Result, error)
}

type bucket struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// MemoryEngine is a process-local, in-memory Engine. Keys within a bucket are
// serialized per the §5 ordering guarantee ("per (bucket,key), the storage
// engine serialises operations under a fine-grained key lock") by taking the
// bucket's write lock around every mutation; MemoryEngine approximates that
// with one lock per bucket rather than one per key, which is sufficient for
// the single-process semantics this stub needs to provide.
type MemoryEngine struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
}

// NewMemoryEngine creates an empty MemoryEngine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{buckets: make(map[string]*bucket)}
}

func (e *MemoryEngine) getOrCreateBucket(name string) *bucket {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.buckets[name]
	if !ok {
		b = &bucket{values: make(map[string][]byte)}
		e.buckets[name] = b
	}
	return b
}

func (e *MemoryEngine) getBucket(name string) (*bucket, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.buckets[name]
	return b, ok
}

// Execute dispatches cmd by Kind to the matching handler — a tagged-variant
// switch (§9), not reflection.
func (e *MemoryEngine) Execute(ctx context.Context, cmd command.Command) (command.Result, error) {
	switch cmd.Kind {
	case command.KindGetBuckets:
		return e.getBuckets()
	case command.KindGetKeys:
		return e.getKeys(cmd.Bucket)
	case command.KindKeysInRange:
		return e.keysInRange(cmd.Bucket, cmd.Range, cmd.Comparator, cmd.Limit)
	case command.KindGetValue:
		return e.getValue(cmd.Bucket, cmd.Key)
	case command.KindGetValues:
		return e.getValues(cmd.Bucket, cmd.Keys)
	case command.KindPutValue:
		return e.putValue(cmd.Bucket, cmd.Key, cmd.Value)
	case command.KindRemoveValue:
		return e.removeValue(cmd.Bucket, cmd.Key)
	case command.KindRemoveValues:
		return e.removeValues(cmd.Bucket, cmd.Keys)
	case command.KindRemoveBucket:
		return e.removeBucket(cmd.Bucket)
	case command.KindUpdate:
		return e.update(cmd.Bucket, cmd.Key, cmd.Function, cmd.Parameters)
	case command.KindMembership:
		// Membership is handled above the engine (Router/Coordinator know
		// the member list); the engine never sees it in normal operation.
		return command.Result{}, errors.Protocol("membership is not an engine-level command")
	default:
		return command.Result{}, errors.Protocol("unknown command kind")
	}
}

func (e *MemoryEngine) getBuckets() (command.Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.buckets))
	for name := range e.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return command.Result{Buckets: names}, nil
}

func (e *MemoryEngine) getKeys(bucketName string) (command.Result, error) {
	b, ok := e.getBucket(bucketName)
	if !ok {
		return command.Result{Keys: []string{}}, nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.values))
	for k := range b.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return command.Result{Keys: keys}, nil
}

// keysInRange is an unindexed scan: the engine has no sorted snapshot (that
// collaborator is out of scope), so it collects all keys and filters
// node-side — the same documented quadratic-cost tradeoff the design notes
// call out for QueryByPredicate (§9). Both the range bounds and the returned
// order are evaluated under the named comparator (§4.5, §4.7), not hardcoded
// lexicographic order, so a caller asking for "numeric" gets numeric bounds
// and numeric output order.
func (e *MemoryEngine) keysInRange(bucketName string, r command.Range, comparatorName string, limit int) (command.Result, error) {
	less, err := comparator.Lookup(comparatorName)
	if err != nil {
		return command.Result{}, err
	}

	res, err := e.getKeys(bucketName)
	if err != nil {
		return res, err
	}
	var out []string
	for _, k := range res.Keys {
		if r.Start != "" && less(k, r.Start) {
			continue
		}
		if r.End != "" && less(r.End, k) {
			continue
		}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return command.Result{Keys: out}, nil
}

func (e *MemoryEngine) getValue(bucketName, key string) (command.Result, error) {
	b, ok := e.getBucket(bucketName)
	if !ok {
		return command.Result{Found: false}, errors.Processing("bucket not found: " + bucketName)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[key]
	if !ok {
		return command.Result{Found: false}, errors.Processing("key not found: " + bucketName + "/" + key)
	}
	return command.Result{Value: v, Found: true}, nil
}

func (e *MemoryEngine) getValues(bucketName string, keys []string) (command.Result, error) {
	b, ok := e.getBucket(bucketName)
	out := make(map[string][]byte, len(keys))
	if ok {
		b.mu.RLock()
		for _, k := range keys {
			if v, ok := b.values[k]; ok {
				out[k] = v
			}
		}
		b.mu.RUnlock()
	}
	return command.Result{Values: out}, nil
}

func (e *MemoryEngine) putValue(bucketName, key string, value []byte) (command.Result, error) {
	if !isValidJSON(value) {
		return command.Result{}, errors.Validation("value is not valid JSON for " + bucketName + "/" + key)
	}
	b := e.getOrCreateBucket(bucketName)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[key] = value
	return command.Result{}, nil
}

func (e *MemoryEngine) removeValue(bucketName, key string) (command.Result, error) {
	b, ok := e.getBucket(bucketName)
	if !ok {
		return command.Result{}, errors.Processing("bucket not found: " + bucketName)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.values[key]; !ok {
		return command.Result{}, errors.Processing("key not found: " + bucketName + "/" + key)
	}
	delete(b.values, key)
	return command.Result{}, nil
}

func (e *MemoryEngine) removeValues(bucketName string, keys []string) (command.Result, error) {
	b, ok := e.getBucket(bucketName)
	removed := make(map[string][]byte)
	if ok {
		b.mu.Lock()
		for _, k := range keys {
			if v, ok := b.values[k]; ok {
				removed[k] = v
				delete(b.values, k)
			}
		}
		b.mu.Unlock()
	}
	return command.Result{Values: removed}, nil
}

func (e *MemoryEngine) removeBucket(bucketName string) (command.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.buckets, bucketName)
	return command.Result{}, nil
}

// update applies a named, pre-registered update function; this stub only
// supports "append" and "touch" so tests can exercise the command shape
// without a JS engine (server-side JS execution is out of scope, §1).
func (e *MemoryEngine) update(bucketName, key, function string, params map[string]string) (command.Result, error) {
	b := e.getOrCreateBucket(bucketName)
	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.values[key]
	switch function {
	case "append":
		next := append(append([]byte{}, current...), []byte(params["value"])...)
		b.values[key] = next
		return command.Result{Value: next}, nil
	case "touch":
		return command.Result{Value: current}, nil
	default:
		return command.Result{}, errors.Processing("unknown update function: " + function)
	}
}

// Flush drops every (bucket,key) pair for which stillLocal returns false
// (§4.10: the Coordinator supplies the routing predicate; the engine owns
// what "flush" means). The real out-of-scope storage engine would instead
// ship the value to its new owner before dropping it; this stub only
// removes it, which is sufficient to exercise the pause/flush/resume
// choreography end to end.
func (e *MemoryEngine) Flush(ctx context.Context, stillLocal func(bucket, key string) bool) error {
	e.mu.RLock()
	names := make([]string, 0, len(e.buckets))
	bucketsByName := make(map[string]*bucket, len(e.buckets))
	for name, b := range e.buckets {
		names = append(names, name)
		bucketsByName[name] = b
	}
	e.mu.RUnlock()

	for _, name := range names {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		b := bucketsByName[name]
		b.mu.Lock()
		for key := range b.values {
			if !stillLocal(name, key) {
				delete(b.values, key)
			}
		}
		b.mu.Unlock()
	}
	return nil
}

func isValidJSON(data []byte) bool {
	s := strings.TrimSpace(string(data))
	if s == "" {
		return false
	}
	// A permissive shape check, not a full parse: out-of-scope storage
	// engine owns real JSON validation. We only guard against obviously
	// non-JSON payloads reaching the in-memory stub.
	c := s[0]
	return c == '{' || c == '[' || c == '"' || c == '-' || (c >= '0' && c <= '9') || s == "true" || s == "false" || s == "null"
}

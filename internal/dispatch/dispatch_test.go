package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/byzhang/terrastore/internal/command"
	"github.com/byzhang/terrastore/internal/comparator"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	res   command.Result
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeSender) Send(ctx context.Context, cmd command.Command) (command.Result, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return command.Result{}, ctx.Err()
		}
	}
	return f.res, f.err
}

func TestUnionReturnsAllResultsInOrder(t *testing.T) {
	d := New()
	s1 := &fakeSender{res: command.Result{Value: []byte("1")}}
	s2 := &fakeSender{res: command.Result{Value: []byte("2")}}

	results, err := d.Union(context.Background(), []Target{
		{Sender: s1, Cmd: command.GetValue("b", "k1", nil)},
		{Sender: s2, Cmd: command.GetValue("b", "k2", nil)},
	})
	require.NoError(t, err)
	require.Equal(t, []byte("1"), results[0].Value)
	require.Equal(t, []byte("2"), results[1].Value)
}

func TestUnionCancelsRemainingOnFirstFailure(t *testing.T) {
	d := New()
	failing := &fakeSender{err: errors.New("boom")}
	slow := &fakeSender{delay: time.Second}

	start := time.Now()
	_, err := d.Union(context.Background(), []Target{
		{Sender: failing, Cmd: command.GetValue("b", "k1", nil)},
		{Sender: slow, Cmd: command.GetValue("b", "k2", nil)},
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	require.Less(t, elapsed, 500*time.Millisecond, "slow target should have been canceled, not waited out")
}

func TestMergeKeysDedupesAndSorts(t *testing.T) {
	d := New()
	s1 := &fakeSender{res: command.Result{Keys: []string{"b", "a"}}}
	s2 := &fakeSender{res: command.Result{Keys: []string{"c", "a"}}}

	merged, err := d.MergeKeys(context.Background(), []Target{
		{Sender: s1, Cmd: command.KeysInRange("bucket", command.Range{}, "", 0, 0)},
		{Sender: s2, Cmd: command.KeysInRange("bucket", command.Range{}, "", 0, 0)},
	}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, merged)
}

func TestMergeKeysHonorsSuppliedComparator(t *testing.T) {
	d := New()
	s1 := &fakeSender{res: command.Result{Keys: []string{"10", "2"}}}
	s2 := &fakeSender{res: command.Result{Keys: []string{"1", "20"}}}

	merged, err := d.MergeKeys(context.Background(), []Target{
		{Sender: s1, Cmd: command.KeysInRange("bucket", command.Range{}, "numeric", 0, 0)},
		{Sender: s2, Cmd: command.KeysInRange("bucket", command.Range{}, "numeric", 0, 0)},
	}, comparator.Numeric)
	require.NoError(t, err)
	require.Equal(t, []string{"1", "2", "10", "20"}, merged)
}

func TestMergeValuesUnionsDisjointMaps(t *testing.T) {
	d := New()
	s1 := &fakeSender{res: command.Result{Values: map[string][]byte{"k1": []byte("v1")}}}
	s2 := &fakeSender{res: command.Result{Values: map[string][]byte{"k2": []byte("v2")}}}

	merged, err := d.MergeValues(context.Background(), []Target{
		{Sender: s1, Cmd: command.GetValues("bucket", []string{"k1"}, nil)},
		{Sender: s2, Cmd: command.GetValues("bucket", []string{"k2"}, nil)},
	})
	require.NoError(t, err)
	require.Equal(t, map[string][]byte{"k1": []byte("v1"), "k2": []byte("v2")}, merged)
}

package failure

import (
	"context"
	"testing"
	"time"

	"github.com/byzhang/terrastore/internal/command"
	"github.com/byzhang/terrastore/internal/errors"
	"github.com/stretchr/testify/require"
)

type stubSender struct {
	calls int
	errs  []error
	res   command.Result
}

func (s *stubSender) Send(context.Context, command.Command) (command.Result, error) {
	idx := s.calls
	s.calls++
	if idx < len(s.errs) {
		return command.Result{}, s.errs[idx]
	}
	return s.res, nil
}

// Seed scenario 5: retry success after two failures.
func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	stub := &stubSender{
		errs: []error{
			errors.Communication("dial failed", nil),
			errors.MissingRoute("ring not ready"),
		},
		res: command.Result{Value: []byte("ok")},
	}
	d := New(stub, Config{Retries: 3, Interval: time.Millisecond})

	res, err := d.Send(context.Background(), command.GetValue("b", "k", nil))
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), res.Value)
	require.Equal(t, 3, stub.calls)
}

func TestRetryExhaustsBudgetAndReturnsLastError(t *testing.T) {
	stub := &stubSender{
		errs: []error{
			errors.Communication("e1", nil),
			errors.Communication("e2", nil),
			errors.Communication("e3", nil),
		},
	}
	d := New(stub, Config{Retries: 2})

	_, err := d.Send(context.Background(), command.GetValue("b", "k", nil))
	require.Error(t, err)
	require.Contains(t, err.Error(), "e3")
	require.Equal(t, 3, stub.calls) // 1 initial + 2 retries
}

func TestNonRetryableErrorReturnsImmediately(t *testing.T) {
	stub := &stubSender{errs: []error{errors.Validation("bad json")}}
	d := New(stub, Config{Retries: 5})

	_, err := d.Send(context.Background(), command.PutValue("b", "k", []byte("x"), nil))
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.CodeValidation))
	require.Equal(t, 1, stub.calls)
}

func TestRetryCanceledByContext(t *testing.T) {
	stub := &stubSender{errs: []error{
		errors.Communication("e1", nil),
		errors.Communication("e2", nil),
	}}
	d := New(stub, Config{Retries: 5, Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := d.Send(ctx, command.GetValue("b", "k", nil))
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.CodeCommunication))
}

// Package failure implements the FailureDecorator of §4.8: a stateless,
// bounded retry wrapper around a single Node.Send call. Only transport-class
// failures (MissingRoute, Communication) are retried; a Processing,
// Validation or Protocol error reflects a decision the remote side already
// made and is returned to the caller immediately.
package failure

import (
	"context"
	"time"

	"github.com/byzhang/terrastore/internal/command"
	"github.com/byzhang/terrastore/internal/errors"
	"github.com/byzhang/terrastore/internal/metrics"
	"go.uber.org/zap"
)

// Sender is the minimal surface a FailureDecorator wraps — satisfied by
// node.Node and by router-level call sites alike.
type Sender interface {
	Send(ctx context.Context, cmd command.Command) (command.Result, error)
}

// Config configures retry bounds (§6: failover.retries, failover.interval).
// Metrics may be left nil, in which case recording is a no-op (§11).
type Config struct {
	Retries  int
	Interval time.Duration
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// Decorator retries a wrapped Sender's failed calls up to Retries times,
// waiting Interval between attempts. It carries no per-call state: every
// Send call starts its own bounded attempt loop (§4.8 "stateless across
// calls").
type Decorator struct {
	target   Sender
	retries  int
	interval time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// New wraps target with the given retry Config.
func New(target Sender, cfg Config) *Decorator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	return &Decorator{target: target, retries: retries, interval: cfg.Interval, logger: logger, metrics: cfg.Metrics}
}

// Send attempts target.Send up to 1+Retries times, retrying only on
// Retryable errors (§4.8, §7). The last error is returned unchanged once the
// retry budget is exhausted — callers see the same taxonomy they would have
// seen without the decorator.
func (d *Decorator) Send(ctx context.Context, cmd command.Command) (command.Result, error) {
	var lastErr error
	for attempt := 0; attempt <= d.retries; attempt++ {
		res, err := d.target.Send(ctx, cmd)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if !errors.Retryable(err) {
			return command.Result{}, err
		}
		if attempt == d.retries {
			break
		}

		d.metrics.RecordRetry()
		d.logger.Debug("retrying command",
			zap.String("kind", cmd.Kind.String()),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)

		if d.interval > 0 {
			timer := time.NewTimer(d.interval)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return command.Result{}, errors.Communication("retry canceled", ctx.Err())
			}
		}
	}
	return command.Result{}, lastErr
}

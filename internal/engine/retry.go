package engine

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/papapumpkin/visitsync/internal/catalog"
	"github.com/papapumpkin/visitsync/internal/telemetry"
)

// maxRetries is the number of extra attempts after a transient failure.
const maxRetries = 1

// retry runs op, repeating it at most once if it fails with a Transient
// error. Any other error is returned immediately.
func (e *Engine) retry(ctx context.Context, what string, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.RetryBackoff
	b := backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx)

	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && !catalog.Transient.Has(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		e.log.Warn("transient failure, retrying",
			zap.String("op", what), zap.Duration("wait", wait), zap.Error(err))
		e.emit(telemetry.Event{Kind: telemetry.KindRetry, Data: map[string]string{"op": what, "error": err.Error()}})
	})
}

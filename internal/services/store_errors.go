package services

import (
	"context"
	"errors"
	"time"

	"licensehub/internal/common"
	"licensehub/internal/repositories"
)

// storeError converts repository failures into the typed taxonomy.
// Errors that already carry a code pass through.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := common.CodeOf(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, repositories.ErrStoreUnavailable) {
		return common.WrapError(common.CodeStoreUnavailable, "License store unavailable", err)
	}
	return common.WrapError(common.CodeStoreUnavailable, "License store failed to "+op, err)
}

func withStoreTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

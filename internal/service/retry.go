package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/GulDilin/image-deduplication-storage/internal/domain"
)

// retryOnce runs op, and runs it a second time when the first attempt
// failed with a transient persistence error or one of the extra
// retryable errors. The attempt's own transaction has already rolled back
// when op returns.
func retryOnce(ctx context.Context, name string, op func(ctx context.Context) error, retryable ...error) error {
	err := op(ctx)
	if err == nil || !isRetryable(err, retryable) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return err
	}
	slog.Warn("retrying after transient failure", "op", name, "error", err)
	return op(ctx)
}

func isRetryable(err error, extra []error) bool {
	if errors.Is(err, domain.ErrTransient) {
		return true
	}
	for _, target := range extra {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// cleanupFile removes a file written by a transaction that did not commit.
// It runs even when ctx is already cancelled.
func cleanupFile(ctx context.Context, files domain.ContentStore, name string) {
	if err := files.Delete(context.WithoutCancel(ctx), name); err != nil {
		slog.Error("remove uncommitted file", "file", name, "error", err)
	}
}

package db

import (
	"context"

	"gorm.io/gorm"
)

const defaultTxAttempts = 3

// Transact runs fn in a transaction and retries it with a fresh transaction
// while the failure is retryable. fn must be safe to run more than once.
func Transact(ctx context.Context, conn *gorm.DB, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 0; attempt < defaultTxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = conn.WithContext(ctx).Transaction(fn)
		if !IsRetryableTxErr(err) {
			return err
		}
	}
	return err
}

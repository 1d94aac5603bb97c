package db

import (
	"context"
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openMemory(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	return conn
}

func TestTransactRetriesSerializationFailures(t *testing.T) {
	conn := openMemory(t)

	calls := 0
	err := Transact(context.Background(), conn, func(tx *gorm.DB) error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestTransactGivesUpAfterMaxAttempts(t *testing.T) {
	conn := openMemory(t)

	calls := 0
	err := Transact(context.Background(), conn, func(tx *gorm.DB) error {
		calls++
		return &pgconn.PgError{Code: "55P03"}
	})
	assert.True(t, IsRetryableTxErr(err))
	assert.Equal(t, defaultTxAttempts, calls)
}

func TestTransactDoesNotRetryOtherErrors(t *testing.T) {
	conn := openMemory(t)
	boom := errors.New("boom")

	calls := 0
	err := Transact(context.Background(), conn, func(tx *gorm.DB) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestTransactStopsOnCancelledContext(t *testing.T) {
	conn := openMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Transact(ctx, conn, func(tx *gorm.DB) error {
		t.Fatal("fn must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

package postgres

import (
	"context"
	"fmt"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTxBackOff_BoundedAttempts(t *testing.T) {
	b := txBackOff(context.Background())
	b.Reset()

	for i := 1; i < maxTxAttempts; i++ {
		d := b.NextBackOff()
		require.NotEqual(t, backoff.Stop, d, "retry %d", i)
		assert.Positive(t, d)
		assert.LessOrEqual(t, d, retryMaxDelay*3/2, "retry %d", i)
	}
	assert.Equal(t, backoff.Stop, b.NextBackOff())
}

func TestTxBackOff_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := txBackOff(ctx)
	b.Reset()
	require.NotEqual(t, backoff.Stop, b.NextBackOff())

	cancel()
	assert.Equal(t, backoff.Stop, b.NextBackOff())
}

func TestRetryable(t *testing.T) {
	for _, tt := range []struct {
		err  error
		want bool
	}{
		{&pgconn.PgError{Code: codeSerializationFailure}, true},
		{fmt.Errorf("committing transaction: %w", &pgconn.PgError{Code: codeDeadlockDetected}), true},
		{&pgconn.PgError{Code: codeForeignKeyViolation}, false},
		{context.DeadlineExceeded, false},
	} {
		assert.Equal(t, tt.want, retryable(tt.err), "%v", tt.err)
	}
}

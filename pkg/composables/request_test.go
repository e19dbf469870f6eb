package composables

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestUseLogger(t *testing.T) {
	_, err := UseLogger(context.Background())
	require.ErrorIs(t, err, ErrNoLogger)

	entry := logrus.NewEntry(logrus.New()).WithField("module", "AMR")
	got, err := UseLogger(WithLogger(context.Background(), entry))
	require.NoError(t, err)
	require.Same(t, entry, got)
}

func TestUseRequestID(t *testing.T) {
	_, ok := UseRequestID(context.Background())
	require.False(t, ok)

	id, ok := UseRequestID(WithRequestID(context.Background(), "req-1"))
	require.True(t, ok)
	require.Equal(t, "req-1", id)
}

func TestUsePool_Missing(t *testing.T) {
	_, err := UsePool(context.Background())
	require.ErrorIs(t, err, ErrNoPool)

	_, err = UseTx(context.Background())
	require.ErrorIs(t, err, ErrNoPool)
}

type fakeTx struct{ pgx.Tx }

func TestUseTx_PrefersTransaction(t *testing.T) {
	tx := &fakeTx{}
	got, err := UseTx(WithTx(context.Background(), tx))
	require.NoError(t, err)
	require.Same(t, tx, got)
}

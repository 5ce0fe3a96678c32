package ledger

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joripage/bess-exchange/pkg/infra"
	postgres_wrapper "github.com/joripage/bess-exchange/pkg/infra/postgres"
	"github.com/joripage/bess-exchange/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real database when EXCHANGE_TEST_DSN and
// EXCHANGE_TEST_MIGRATION_URL are set.
func newTestSQL(t *testing.T) *SQL {
	dsn := os.Getenv("EXCHANGE_TEST_DSN")
	migrationURL := os.Getenv("EXCHANGE_TEST_MIGRATION_URL")
	if dsn == "" || migrationURL == "" {
		t.Skip("EXCHANGE_TEST_DSN not set")
	}
	db, err := infra.GetMigrateTool().ConnectAndMigrate(&postgres_wrapper.PostgresConfig{
		DataSource:       dsn,
		MigrationConnURL: migrationURL,
		MaxOpenConns:     8,
		MaxIdleConns:     2,
	}, "file://../../migration/sql")
	require.NoError(t, err)
	return NewSQL(db)
}

func TestSQLApplyFillGuardsQuantity(t *testing.T) {
	l := newTestSQL(t)
	ctx := context.Background()

	sell := newOrder("S-"+uuid.NewString(), "bob", model.OrderSideSell, "50", "3", 0)
	buy := newOrder("B-"+uuid.NewString(), "alice", model.OrderSideBuy, "52", "5", time.Second)
	require.NoError(t, l.InsertOrder(ctx, sell))
	require.NoError(t, l.InsertOrder(ctx, buy))
	assert.ErrorIs(t, l.InsertOrder(ctx, sell), ErrDuplicateOrder)

	fill := fillOf(buy.ID, sell.ID, "3")
	fill.Trade.ID = uuid.NewString()
	res, err := l.ApplyFill(ctx, fill)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusFilled, res.Resting.Status)
	assert.Equal(t, model.OrderStatusAccepted, res.Incoming.Status)

	again := fillOf(buy.ID, sell.ID, "1")
	again.Trade.ID = uuid.NewString()
	_, err = l.ApplyFill(ctx, again)
	assert.ErrorIs(t, err, ErrOverfill)

	cancelled, err := l.CancelRemainder(ctx, buy.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, cancelled.Status)
	assert.True(t, cancelled.Filled.Equal(dec("3")))
}

package repository

import (
	"context"
	"testing"

	"github.com/finvex/ordergate/internal/orders/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestRepo(t *testing.T) *OrderRepository {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Order{}, &model.Execution{}))

	return NewOrderRepository(db, nil, 0, zaptest.NewLogger(t))
}

func seedOrders(t *testing.T, repo *OrderRepository, n int) []*model.Order {
	t.Helper()
	orders := make([]*model.Order, n)
	for i := range orders {
		orders[i] = model.NewOrderForTest("BTC-USD", model.OrderSideBuy, "50000", "0.1")
	}
	require.NoError(t, repo.CreateOrders(context.Background(), orders))
	return orders
}

func TestLoadOrdersPreservesRequestOrder(t *testing.T) {
	repo := newTestRepo(t)
	orders := seedOrders(t, repo, 3)

	ids := []uuid.UUID{orders[2].ID, orders[0].ID, orders[1].ID}
	loaded, err := repo.LoadOrdersWithRelations(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, loaded, 3)

	for i, id := range ids {
		assert.Equal(t, id, loaded[i].ID)
		require.True(t, loaded[i].Found)
		assert.Equal(t, id, loaded[i].Order.ID)
	}
}

func TestLoadOrdersReportsMissingIDsPerItem(t *testing.T) {
	repo := newTestRepo(t)
	orders := seedOrders(t, repo, 2)
	missing := uuid.New()

	loaded, err := repo.LoadOrdersWithRelations(context.Background(),
		[]uuid.UUID{orders[0].ID, missing, orders[1].ID})
	require.NoError(t, err, "a missing id must not fail the load")
	require.Len(t, loaded, 3)

	assert.True(t, loaded[0].Found)
	assert.False(t, loaded[1].Found)
	assert.Nil(t, loaded[1].Order)
	assert.True(t, loaded[2].Found)
}

func TestBatchUpdateAppliesMatchingVersions(t *testing.T) {
	repo := newTestRepo(t)
	orders := seedOrders(t, repo, 2)

	updates := []StatusUpdate{
		{OrderID: orders[0].ID, Version: 1, Status: model.OrderStatusAccepted, ExternalRef: "ex-1"},
		{OrderID: orders[1].ID, Version: 1, Status: model.OrderStatusRejected, ExternalRef: "ex-2"},
	}
	acks, err := repo.BatchUpdateStatuses(context.Background(), updates)
	require.NoError(t, err)
	require.Len(t, acks, 2)
	assert.True(t, acks[0].Applied)
	assert.True(t, acks[1].Applied)

	got, err := repo.GetOrder(context.Background(), orders[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusAccepted, got.Status)
	assert.Equal(t, int64(2), got.Version, "version token must advance on update")
}

func TestBatchUpdateStaleVersionFailsOnlyThatItem(t *testing.T) {
	repo := newTestRepo(t)
	orders := seedOrders(t, repo, 3)

	updates := []StatusUpdate{
		{OrderID: orders[0].ID, Version: 1, Status: model.OrderStatusAccepted},
		{OrderID: orders[1].ID, Version: 99, Status: model.OrderStatusAccepted},
		{OrderID: orders[2].ID, Version: 1, Status: model.OrderStatusAccepted},
	}
	acks, err := repo.BatchUpdateStatuses(context.Background(), updates)
	require.NoError(t, err)

	assert.True(t, acks[0].Applied)
	assert.False(t, acks[1].Applied, "stale version must be rejected")
	assert.True(t, acks[2].Applied, "siblings commit despite one conflict")

	unchanged, err := repo.GetOrder(context.Background(), orders[1].ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusNew, unchanged.Status)
	assert.Equal(t, int64(1), unchanged.Version)
}

func TestBatchUpdateReplayedVersionIsConflictNotReapply(t *testing.T) {
	repo := newTestRepo(t)
	orders := seedOrders(t, repo, 1)

	first := []StatusUpdate{{OrderID: orders[0].ID, Version: 1, Status: model.OrderStatusAccepted}}
	acks, err := repo.BatchUpdateStatuses(context.Background(), first)
	require.NoError(t, err)
	require.True(t, acks[0].Applied)

	// Re-submitting the already-applied version must be rejected, not
	// silently reapplied.
	acks, err = repo.BatchUpdateStatuses(context.Background(), first)
	require.NoError(t, err)
	assert.False(t, acks[0].Applied)

	got, err := repo.GetOrder(context.Background(), orders[0].ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

func TestLoadOrdersEagerLoadsExecutions(t *testing.T) {
	repo := newTestRepo(t)
	orders := seedOrders(t, repo, 1)

	exec := &model.Execution{
		ID:       uuid.New(),
		OrderID:  orders[0].ID,
		Quantity: orders[0].Quantity,
		Price:    orders[0].Price,
	}
	require.NoError(t, repo.db.Create(exec).Error)

	loaded, err := repo.LoadOrdersWithRelations(context.Background(), []uuid.UUID{orders[0].ID})
	require.NoError(t, err)
	require.True(t, loaded[0].Found)
	require.Len(t, loaded[0].Order.Executions, 1)
	assert.Equal(t, exec.ID, loaded[0].Order.Executions[0].ID)
}

func TestGetOrderNotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetOrder(context.Background(), uuid.New())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

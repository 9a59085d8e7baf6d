package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/storefront/integration/internal/domain/order"
	"github.com/storefront/integration/internal/domain/shared"
	"github.com/storefront/integration/internal/domain/webhook"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&order.Order{}, &webhook.Record{}))

	t.Cleanup(func() {
		sqlDB, err := db.DB()
		require.NoError(t, err)
		require.NoError(t, sqlDB.Close())
	})

	return db
}

func mustNewOrder(t *testing.T, number string) *order.Order {
	t.Helper()
	o, err := order.New(number)
	require.NoError(t, err)
	return o
}

func TestGormOrderRepository_SaveAndFind(t *testing.T) {
	repo := NewGormOrderRepository(newTestDB(t))
	ctx := context.Background()

	o := mustNewOrder(t, "SO-1001")
	o.ERPOrderID = "erp-555"
	o.PaymentID = "pay-888"
	require.NoError(t, repo.Save(ctx, o))

	byID, err := repo.FindByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "SO-1001", byID.OrderNumber)
	assert.Equal(t, order.StatusPending, byID.Status)

	byNumber, err := repo.FindByOrderNumber(ctx, "SO-1001")
	require.NoError(t, err)
	assert.Equal(t, o.ID, byNumber.ID)

	byPayment, err := repo.FindByPaymentID(ctx, "pay-888")
	require.NoError(t, err)
	assert.Equal(t, o.ID, byPayment.ID)

	byERP, err := repo.FindByERPOrderID(ctx, "erp-555")
	require.NoError(t, err)
	assert.Equal(t, o.ID, byERP.ID)
}

func TestGormOrderRepository_FindMissing(t *testing.T) {
	repo := NewGormOrderRepository(newTestDB(t))
	ctx := context.Background()

	_, err := repo.FindByOrderNumber(ctx, "SO-nope")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	// Empty identifiers never match anything
	_, err = repo.FindByPaymentID(ctx, "")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = repo.FindByERPOrderID(ctx, "")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGormOrderRepository_SaveWithLock(t *testing.T) {
	repo := NewGormOrderRepository(newTestDB(t))
	ctx := context.Background()

	o := mustNewOrder(t, "SO-2001")
	require.NoError(t, repo.Save(ctx, o))

	result, err := o.ApplyStatus(order.StatusProcessing)
	require.NoError(t, err)
	require.Equal(t, order.ApplyResultApplied, result)
	require.NoError(t, repo.SaveWithLock(ctx, o))
	assert.EqualValues(t, 2, o.Version)

	reloaded, err := repo.FindByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusProcessing, reloaded.Status)
	assert.EqualValues(t, 2, reloaded.Version)
}

func TestGormOrderRepository_SaveWithLock_Conflict(t *testing.T) {
	repo := NewGormOrderRepository(newTestDB(t))
	ctx := context.Background()

	o := mustNewOrder(t, "SO-2002")
	require.NoError(t, repo.Save(ctx, o))

	// Two handlers load the same row
	first, err := repo.FindByID(ctx, o.ID)
	require.NoError(t, err)
	second, err := repo.FindByID(ctx, o.ID)
	require.NoError(t, err)

	_, err = first.ApplyStatus(order.StatusProcessing)
	require.NoError(t, err)
	require.NoError(t, repo.SaveWithLock(ctx, first))

	_, err = second.ApplyStatus(order.StatusInvoiced)
	require.NoError(t, err)
	err = repo.SaveWithLock(ctx, second)
	assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
	assert.EqualValues(t, 1, second.Version, "version rolls back on conflict")
}

func TestGormOrderRepository_FindStale(t *testing.T) {
	repo := NewGormOrderRepository(newTestDB(t))
	ctx := context.Background()

	now := time.Now()
	old := now.Add(-2 * time.Hour)

	neverSynced := mustNewOrder(t, "SO-3001")
	require.NoError(t, repo.Save(ctx, neverSynced))

	staleSynced := mustNewOrder(t, "SO-3002")
	staleSynced.LastExternalSyncAt = &old
	require.NoError(t, repo.Save(ctx, staleSynced))

	fresh := mustNewOrder(t, "SO-3003")
	fresh.LastExternalSyncAt = &now
	require.NoError(t, repo.Save(ctx, fresh))

	delivered := mustNewOrder(t, "SO-3004")
	delivered.Status = order.StatusDelivered
	delivered.LastExternalSyncAt = &old
	require.NoError(t, repo.Save(ctx, delivered))

	stale, err := repo.FindStale(ctx, now.Add(-time.Hour), 10)
	require.NoError(t, err)

	numbers := make([]string, 0, len(stale))
	for _, o := range stale {
		numbers = append(numbers, o.OrderNumber)
	}
	assert.ElementsMatch(t, []string{"SO-3001", "SO-3002"}, numbers)
	assert.Equal(t, "SO-3001", numbers[0], "never-synced orders come first")
}

func TestGormOrderRepository_FindStale_Limit(t *testing.T) {
	repo := NewGormOrderRepository(newTestDB(t))
	ctx := context.Background()

	for _, n := range []string{"SO-4001", "SO-4002", "SO-4003"} {
		require.NoError(t, repo.Save(ctx, mustNewOrder(t, n)))
	}

	stale, err := repo.FindStale(ctx, time.Now(), 2)
	require.NoError(t, err)
	assert.Len(t, stale, 2)
}

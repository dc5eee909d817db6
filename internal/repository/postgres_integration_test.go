//go:build integration

package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/mautops/moneylens/internal/database"
	"github.com/mautops/moneylens/internal/model"
	"github.com/mautops/moneylens/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// setupPostgres 启动 PostgreSQL 容器并执行迁移
func setupPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("moneylens_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(postgres.Open(connStr), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	require.NoError(t, database.Migrate(db))
	return db
}

// TestPostgresLedgerEntryDecimal 测试 PostgreSQL 下金额精度与锚定字段
func TestPostgresLedgerEntryDecimal(t *testing.T) {
	db := setupPostgres(t)
	repo := repository.NewLedgerEntryRepository(db)

	entry := newEntry("d1", "pg-h1", "1234567.8912", time.Now().UTC())
	require.NoError(t, repo.Create(entry))

	idx := uint64(3)
	require.NoError(t, repo.UpdateAnchor(entry.TransactionID, map[string]interface{}{
		"anchor_state": model.AnchorAnchored,
		"chain_index":  idx,
	}))

	found, err := repo.FindByID(entry.TransactionID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1234567.8912").Equal(found.Amount))
	require.NotNil(t, found.ChainIndex)
	assert.Equal(t, idx, *found.ChainIndex)
}

// TestPostgresAnchorClaim 测试并发抢占锚定事件只有一个成功
func TestPostgresAnchorClaim(t *testing.T) {
	db := setupPostgres(t)
	repo := repository.NewAnchorEventRepository(db)

	now := time.Now()
	require.NoError(t, repo.Save(&model.AnchorEventModel{ID: "ev-1", EntryID: 1, Status: model.AnchorEventPending, CreatedAt: now, UpdatedAt: now}))

	results := make(chan bool, 5)
	for i := 0; i < 5; i++ {
		go func() {
			ok, err := repo.Claim("ev-1")
			assert.NoError(t, err)
			results <- ok
		}()
	}

	claimed := 0
	for i := 0; i < 5; i++ {
		if <-results {
			claimed++
		}
	}
	assert.Equal(t, 1, claimed)
}

package repository_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/moneylens/internal/config"
	"github.com/mautops/moneylens/internal/database"
	"github.com/mautops/moneylens/internal/model"
	"github.com/mautops/moneylens/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// setupTestDB 创建内存数据库并执行迁移
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func newEntry(deptID, hash string, amount string, createdAt time.Time) *model.LedgerEntryModel {
	return &model.LedgerEntryModel{
		DeptID:      deptID,
		FromDept:    "Finance",
		ToDept:      "Health",
		Amount:      decimal.RequireFromString(amount),
		Purpose:     "Clinics",
		Status:      model.StatusPending,
		CreatedByID: "user-001",
		CurrentHash: hash,
		AnchorState: model.AnchorNone,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
}

// TestDepartmentRepository 测试部门仓储
func TestDepartmentRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewDepartmentRepository(db)

	root := &model.DepartmentModel{DeptID: "root", Name: "Treasury", AllocatedBudget: decimal.NewFromInt(1000), CreatedAt: time.Now()}
	require.NoError(t, repo.Save(root))

	parent := "root"
	child := &model.DepartmentModel{DeptID: "child", Name: "Health", ParentDeptID: &parent, AllocatedBudget: decimal.RequireFromString("250.5"), CreatedAt: time.Now()}
	require.NoError(t, repo.Save(child))

	found, err := repo.FindByName("Health")
	require.NoError(t, err)
	assert.Equal(t, "child", found.DeptID)
	assert.True(t, decimal.RequireFromString("250.5").Equal(found.AllocatedBudget))

	children, err := repo.FindChildren("root")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "Health", children[0].Name)

	require.NoError(t, repo.SetHead("root", "user-001"))
	found, err = repo.FindByID("root")
	require.NoError(t, err)
	require.NotNil(t, found.HeadUserID)
	assert.Equal(t, "user-001", *found.HeadUserID)

	_, err = repo.FindByID("missing")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

// TestUserRepository 测试用户仓储
func TestUserRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewUserRepository(db)

	user := &model.UserModel{UserID: "u1", Name: "Ada", Email: "ada@example.com", PasswordHash: "hash", Role: model.RoleAdmin, CreatedAt: time.Now()}
	require.NoError(t, repo.Save(user))

	found, err := repo.FindByEmail("ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", found.UserID)

	users, err := repo.FindByIDs([]string{"u1", "u2"})
	require.NoError(t, err)
	assert.Len(t, users, 1)

	dup := &model.UserModel{UserID: "u2", Name: "Bob", Email: "ada@example.com", PasswordHash: "hash", Role: model.RoleAdmin, CreatedAt: time.Now()}
	assert.Error(t, repo.Save(dup))
}

// TestLedgerEntryRepository 测试账目仓储
func TestLedgerEntryRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewLedgerEntryRepository(db)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	first := newEntry("d1", "h1", "100", base)
	second := newEntry("d1", "h2", "50.25", base.Add(time.Hour))
	third := newEntry("d2", "h3", "10", base.Add(2*time.Hour))
	third.Status = model.StatusRejected

	for _, e := range []*model.LedgerEntryModel{first, second, third} {
		require.NoError(t, repo.Create(e))
	}
	assert.Equal(t, uint(1), first.TransactionID)
	assert.Equal(t, uint(3), third.TransactionID)

	latest, err := repo.FindLatest()
	require.NoError(t, err)
	assert.Equal(t, "h3", latest.CurrentHash)

	dept := "d1"
	entries, err := repo.FindByFilter(&repository.LedgerFilter{DeptID: &dept})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "h2", entries[0].CurrentHash)

	rejected := model.StatusRejected
	entries, err = repo.FindByFilter(&repository.LedgerFilter{ExcludeStatus: &rejected})
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	idx := uint64(7)
	hash := "0xabc"
	require.NoError(t, repo.UpdateAnchor(first.TransactionID, map[string]interface{}{
		"anchor_state":     model.AnchorAnchored,
		"chain_index":      idx,
		"transaction_hash": hash,
	}))
	anchored, err := repo.FindAnchored()
	require.NoError(t, err)
	require.Len(t, anchored, 1)
	require.NotNil(t, anchored[0].ChainIndex)
	assert.Equal(t, uint64(7), *anchored[0].ChainIndex)

	dupHash := newEntry("d1", "h1", "1", base)
	assert.Error(t, repo.Create(dupHash))
}

// TestLedgerEntryRepositoryFindLatestEmpty 测试空表时哈希链尾
func TestLedgerEntryRepositoryFindLatestEmpty(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewLedgerEntryRepository(db)

	_, err := repo.FindLatest()
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

// TestStateHistoryRepository 测试状态历史仓储
func TestStateHistoryRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewStateHistoryRepository(db)

	// 同一时刻的记录按写入顺序返回
	at := time.Now()
	steps := [][2]string{{"", model.StatusPending}, {model.StatusPending, model.StatusApproved}, {model.StatusApproved, model.StatusSettled}}
	for _, step := range steps {
		require.NoError(t, repo.Create(&model.StateHistoryModel{
			EntryID:   1,
			FromState: step[0],
			ToState:   step[1],
			Operator:  "user-001",
			CreatedAt: at,
		}))
	}

	histories, err := repo.FindByEntryID(1)
	require.NoError(t, err)
	require.Len(t, histories, 3)
	assert.Equal(t, model.StatusPending, histories[0].ToState)
	assert.Equal(t, model.StatusSettled, histories[2].ToState)
	assert.Less(t, histories[0].ID, histories[2].ID)

	empty, err := repo.FindByEntryID(2)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

// TestAnchorEventRepository 测试锚定事件仓储
func TestAnchorEventRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewAnchorEventRepository(db)

	base := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Save(&model.AnchorEventModel{
			ID:        uuid.NewString(),
			EntryID:   uint(i + 1),
			Status:    model.AnchorEventPending,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			UpdatedAt: base,
		}))
	}

	pending, err := repo.FindPending(2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, uint(1), pending[0].EntryID)

	ok, err := repo.Claim(pending[0].ID)
	require.NoError(t, err)
	assert.True(t, ok)

	// 同一事件不能被重复抢占
	ok, err = repo.Claim(pending[0].ID)
	require.NoError(t, err)
	assert.False(t, ok)

	claimed, err := repo.FindByID(pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.AnchorEventProcessing, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)

	count, err := repo.CountPending()
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	reset, err := repo.ResetProcessing()
	require.NoError(t, err)
	assert.Equal(t, int64(1), reset)

	pending, err = repo.FindPending(0)
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	// 只有 failed 事件可以被手动重新抢占
	ok, err = repo.Reclaim(pending[1].ID)
	require.NoError(t, err)
	assert.False(t, ok)

	failed := pending[1]
	failed.Status = model.AnchorEventFailed
	failed.Attempts = 5
	require.NoError(t, repo.Save(failed))

	ok, err = repo.Reclaim(failed.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	reclaimed, err := repo.FindByID(failed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AnchorEventProcessing, reclaimed.Status)
	assert.Equal(t, 6, reclaimed.Attempts)
}

// TestAuditLogRepository 测试审计日志仓储
func TestAuditLogRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewAuditLogRepository(db)

	require.NoError(t, repo.Create(&model.AuditLogModel{
		ID:           uuid.NewString(),
		UserID:       "user-001",
		Action:       "approve",
		ResourceType: "ledger_entry",
		ResourceID:   "1",
		Details:      []byte(`{"to":"Approved"}`),
		CreatedAt:    time.Now(),
	}))

	require.NoError(t, repo.Create(&model.AuditLogModel{
		ID:           uuid.NewString(),
		UserID:       "user-002",
		Action:       "login",
		ResourceType: "user",
		ResourceID:   "user-002",
		CreatedAt:    time.Now(),
	}))

	logs, err := repo.FindByResource("ledger_entry", "1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "approve", logs[0].Action)

	all, err := repo.Find(repository.AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byUser, err := repo.Find(repository.AuditFilter{UserID: "user-002", Limit: 10})
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, "login", byUser[0].Action)

	assert.Error(t, repo.Create(&model.AuditLogModel{ID: uuid.NewString()}))
}

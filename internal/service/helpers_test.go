package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/mautops/moneylens/internal/chain"
	"github.com/mautops/moneylens/internal/config"
	"github.com/mautops/moneylens/internal/database"
	"github.com/mautops/moneylens/internal/model"
	"github.com/mautops/moneylens/internal/repository"
	"github.com/mautops/moneylens/internal/service"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	testRecorder = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
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

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newMemoryLedger() *chain.MemoryLedger {
	return chain.NewMemoryLedger(testContract, testRecorder)
}

// seedDepartment 直接写入部门
func seedDepartment(t *testing.T, db *gorm.DB, name, budget string, parent *string) *model.DepartmentModel {
	t.Helper()
	dept := &model.DepartmentModel{
		DeptID:          uuid.NewString(),
		Name:            name,
		ParentDeptID:    parent,
		AllocatedBudget: decimal.RequireFromString(budget),
		CreatedAt:       time.Now(),
	}
	require.NoError(t, repository.NewDepartmentRepository(db).Save(dept))
	return dept
}

func admin() service.Actor {
	return service.Actor{UserID: "admin-1", Role: model.RoleAdmin}
}

func deptHead(deptID string) service.Actor {
	return service.Actor{UserID: "head-" + deptID, Role: model.RoleDeptHead, DeptID: deptID}
}

func manager(deptID string) service.Actor {
	return service.Actor{UserID: "pm-" + deptID, Role: model.RoleProjectManager, DeptID: deptID}
}

func amount(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

type published struct {
	eventType string
	entryID   uint
	status    string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) PublishEntryEvent(eventType string, entry *model.LedgerEntryModel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{eventType: eventType, entryID: entry.TransactionID, status: entry.Status})
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.eventType)
	}
	return out
}

// fakeAnchorer 记录调用的锚定者
type fakeAnchorer struct {
	mu       sync.Mutex
	notified int
	anchored []uint
	err      error
	db       *gorm.DB
}

func (a *fakeAnchorer) Notify() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notified++
}

func (a *fakeAnchorer) AnchorEntry(ctx context.Context, entryID uint) (*model.LedgerEntryModel, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	a.anchored = append(a.anchored, entryID)
	return repository.NewLedgerEntryRepository(a.db).FindByID(entryID)
}

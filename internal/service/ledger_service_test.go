package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mautops/moneylens/internal/anchor"
	"github.com/mautops/moneylens/internal/model"
	"github.com/mautops/moneylens/internal/repository"
	"github.com/mautops/moneylens/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type ledgerFixture struct {
	db       *gorm.DB
	svc      service.LedgerService
	pub      *recordingPublisher
	anchorer *fakeAnchorer
	health   *model.DepartmentModel
	roads    *model.DepartmentModel
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	db := setupTestDB(t)
	pub := &recordingPublisher{}
	anchorer := &fakeAnchorer{db: db}
	auditSvc := service.NewAuditLogService(repository.NewAuditLogRepository(db))
	return &ledgerFixture{
		db:       db,
		svc:      service.NewLedgerService(db, auditSvc, anchorer, newMemoryLedger(), pub, quietLogger()),
		pub:      pub,
		anchorer: anchorer,
		health:   seedDepartment(t, db, "Health", "1000", nil),
		roads:    seedDepartment(t, db, "Roads", "500", nil),
	}
}

func (f *ledgerFixture) create(t *testing.T, actor service.Actor, deptID, amt, purpose string) *model.LedgerEntryModel {
	t.Helper()
	entry, err := f.svc.Create(context.Background(), actor, &service.CreateEntryRequest{
		DeptID:  deptID,
		ToDept:  "Vendor",
		Amount:  amount(amt),
		Purpose: purpose,
	})
	require.NoError(t, err)
	return entry
}

// TestLedgerService_Create 测试创建账目
func TestLedgerService_Create(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := service.WithRequestInfo(context.Background(), service.RequestInfo{RequestID: "req-1", IP: "10.0.0.1"})

	entry, err := f.svc.Create(ctx, manager(f.health.DeptID), &service.CreateEntryRequest{
		DeptID:     f.health.DeptID,
		ToDept:     "  City Hospital ",
		Amount:     amount("250.1234"),
		Purpose:    "Vaccines & syringes",
		InvoiceURL: "https://invoices.example/42",
	})
	require.NoError(t, err)

	assert.NotZero(t, entry.TransactionID)
	assert.Equal(t, "Health", entry.FromDept)
	assert.Equal(t, "City Hospital", entry.ToDept)
	assert.Equal(t, "Vaccines & syringes", entry.Purpose)
	assert.Equal(t, model.StatusPending, entry.Status)
	assert.Equal(t, model.AnchorQueued, entry.AnchorState)
	assert.Empty(t, entry.PreviousHash)
	assert.Len(t, entry.CurrentHash, 64)
	assert.False(t, entry.Anomaly)

	stored, err := repository.NewLedgerEntryRepository(f.db).FindByID(entry.TransactionID)
	require.NoError(t, err)
	assert.True(t, stored.VerifyHash())

	events, err := repository.NewAnchorEventRepository(f.db).FindByEntryID(entry.TransactionID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.AnchorEventPending, events[0].Status)

	history, err := f.svc.History(ctx, admin(), entry.TransactionID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.StatusPending, history[0].ToState)

	logs, err := repository.NewAuditLogRepository(f.db).FindByResource(service.ResourceLedgerEntry, "1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, service.ActionCreateEntry, logs[0].Action)
	assert.Equal(t, "req-1", logs[0].RequestID)

	assert.Equal(t, 1, f.anchorer.notified)
	assert.Equal(t, []string{service.EventEntryCreated}, f.pub.types())

	second := f.create(t, admin(), f.roads.DeptID, "10", "Asphalt")
	assert.Equal(t, entry.CurrentHash, second.PreviousHash)
}

// TestLedgerService_CreateWithoutAnchor 测试不上链的账目
func TestLedgerService_CreateWithoutAnchor(t *testing.T) {
	f := newLedgerFixture(t)
	no := false
	entry, err := f.svc.Create(context.Background(), admin(), &service.CreateEntryRequest{
		DeptID:  f.health.DeptID,
		ToDept:  "Vendor",
		Amount:  amount("1"),
		Purpose: "Paper",
		Anchor:  &no,
	})
	require.NoError(t, err)
	assert.Equal(t, model.AnchorNone, entry.AnchorState)
	assert.Zero(t, f.anchorer.notified)

	events, err := repository.NewAnchorEventRepository(f.db).FindByEntryID(entry.TransactionID)
	require.NoError(t, err)
	assert.Empty(t, events)
}

// TestLedgerService_CreateValidation 测试创建参数校验
func TestLedgerService_CreateValidation(t *testing.T) {
	f := newLedgerFixture(t)

	tests := []struct {
		name string
		req  service.CreateEntryRequest
		msg  string
	}{
		{"missing amount", service.CreateEntryRequest{DeptID: f.health.DeptID, ToDept: "x", Purpose: "y"}, "amount is required"},
		{"zero amount", service.CreateEntryRequest{DeptID: f.health.DeptID, ToDept: "x", Purpose: "y", Amount: amount("0")}, "greater than 0"},
		{"negative amount", service.CreateEntryRequest{DeptID: f.health.DeptID, ToDept: "x", Purpose: "y", Amount: amount("-5")}, "greater than 0"},
		{"too precise", service.CreateEntryRequest{DeptID: f.health.DeptID, ToDept: "x", Purpose: "y", Amount: amount("1.00001")}, "4 decimal places"},
		{"too large", service.CreateEntryRequest{DeptID: f.health.DeptID, ToDept: "x", Purpose: "y", Amount: amount("1000000000000000")}, "too large"},
		{"blank purpose", service.CreateEntryRequest{DeptID: f.health.DeptID, ToDept: "x", Purpose: "  ", Amount: amount("1")}, "purpose"},
		{"script purpose", service.CreateEntryRequest{DeptID: f.health.DeptID, ToDept: "x", Purpose: "<script>x</script>", Amount: amount("1")}, "dangerous"},
		{"bad dept id", service.CreateEntryRequest{DeptID: "a b", ToDept: "x", Purpose: "y", Amount: amount("1")}, "dept_id"},
		{"bad invoice", service.CreateEntryRequest{DeptID: f.health.DeptID, ToDept: "x", Purpose: "y", Amount: amount("1"), InvoiceURL: "ftp://x"}, "invoice_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			_, err := f.svc.Create(context.Background(), admin(), &req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, service.ErrValidation))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}

	_, err := f.svc.Create(context.Background(), admin(), &service.CreateEntryRequest{
		DeptID: "unknown", ToDept: "x", Purpose: "y", Amount: amount("1"),
	})
	assert.True(t, errors.Is(err, service.ErrDepartmentNotFound))

	_, err = f.svc.Create(context.Background(), manager(f.roads.DeptID), &service.CreateEntryRequest{
		DeptID: f.health.DeptID, ToDept: "x", Purpose: "y", Amount: amount("1"),
	})
	assert.True(t, errors.Is(err, service.ErrForbidden))
}

// TestLedgerService_Anomaly 测试超预算标记
func TestLedgerService_Anomaly(t *testing.T) {
	f := newLedgerFixture(t)

	first := f.create(t, admin(), f.roads.DeptID, "400", "Asphalt")
	assert.False(t, first.Anomaly)

	second := f.create(t, admin(), f.roads.DeptID, "100", "Paint")
	assert.False(t, second.Anomaly, "exactly at budget is not an anomaly")

	third := f.create(t, admin(), f.roads.DeptID, "0.0001", "Nails")
	assert.True(t, third.Anomaly)
	assert.Contains(t, third.AnomalyReason, "500.00")

	// 驳回的支出不计入
	_, err := f.svc.Reject(context.Background(), admin(), first.TransactionID, "duplicate")
	require.NoError(t, err)
	fourth := f.create(t, admin(), f.roads.DeptID, "300", "Signs")
	assert.False(t, fourth.Anomaly)
}

// TestLedgerService_Workflow 测试状态流转
func TestLedgerService_Workflow(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	head := deptHead(f.health.DeptID)

	entry := f.create(t, manager(f.health.DeptID), f.health.DeptID, "50", "Gloves")

	_, err := f.svc.Settle(ctx, head, entry.TransactionID)
	assert.True(t, errors.Is(err, service.ErrInvalidTransition))

	_, err = f.svc.Approve(ctx, manager(f.health.DeptID), entry.TransactionID)
	assert.True(t, errors.Is(err, service.ErrForbidden))

	_, err = f.svc.Approve(ctx, deptHead(f.roads.DeptID), entry.TransactionID)
	assert.True(t, errors.Is(err, service.ErrForbidden))

	approved, err := f.svc.Approve(ctx, head, entry.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedByID)
	assert.Equal(t, head.UserID, *approved.ApprovedByID)

	settled, err := f.svc.Settle(ctx, admin(), entry.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSettled, settled.Status)
	assert.Equal(t, entry.CurrentHash, settled.CurrentHash)

	for _, op := range []func() (*model.LedgerEntryModel, error){
		func() (*model.LedgerEntryModel, error) { return f.svc.Approve(ctx, admin(), entry.TransactionID) },
		func() (*model.LedgerEntryModel, error) { return f.svc.Reject(ctx, admin(), entry.TransactionID, "late") },
		func() (*model.LedgerEntryModel, error) { return f.svc.Settle(ctx, admin(), entry.TransactionID) },
	} {
		_, err := op()
		assert.True(t, errors.Is(err, service.ErrInvalidTransition))
	}

	history, err := f.svc.History(ctx, admin(), entry.TransactionID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, model.StatusApproved, history[1].FromState)
	assert.Equal(t, model.StatusSettled, history[2].ToState)

	assert.Equal(t, []string{
		service.EventEntryCreated,
		service.EventStatusChanged,
		service.EventStatusChanged,
	}, f.pub.types())

	_, err = f.svc.Approve(ctx, admin(), 9999)
	assert.True(t, errors.Is(err, service.ErrEntryNotFound))
}

// TestLedgerService_Reject 测试驳回
func TestLedgerService_Reject(t *testing.T) {
	f := newLedgerFixture(t)
	entry := f.create(t, admin(), f.health.DeptID, "5", "Soap")

	_, err := f.svc.Reject(context.Background(), admin(), entry.TransactionID, "   ")
	assert.True(t, errors.Is(err, service.ErrValidation))

	rejected, err := f.svc.Reject(context.Background(), admin(), entry.TransactionID, "no invoice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, rejected.Status)
	assert.Equal(t, "no invoice", rejected.RejectionReason)
}

// TestLedgerService_ConcurrentApprove 测试并发审批只有一个成功
func TestLedgerService_ConcurrentApprove(t *testing.T) {
	f := newLedgerFixture(t)
	entry := f.create(t, admin(), f.health.DeptID, "5", "Soap")

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Approve(context.Background(), admin(), entry.TransactionID); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded)
}

// TestLedgerService_List 测试列表过滤与部门范围
func TestLedgerService_List(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.create(t, admin(), f.health.DeptID, "30", "A")
	f.create(t, admin(), f.health.DeptID, "10", "B")
	roads := f.create(t, admin(), f.roads.DeptID, "20", "C")
	_, err := f.svc.Approve(ctx, admin(), roads.TransactionID)
	require.NoError(t, err)

	all, err := f.svc.List(ctx, admin(), nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	own, err := f.svc.List(ctx, manager(f.health.DeptID), &service.ListEntriesQuery{Sort: "amount", Order: "asc"})
	require.NoError(t, err)
	require.Len(t, own, 2)
	assert.True(t, decimal.NewFromInt(10).Equal(own[0].Amount))

	_, err = f.svc.List(ctx, manager(f.health.DeptID), &service.ListEntriesQuery{DeptID: f.roads.DeptID})
	assert.True(t, errors.Is(err, service.ErrForbidden))

	approved, err := f.svc.List(ctx, admin(), &service.ListEntriesQuery{Status: "approved"})
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, roads.TransactionID, approved[0].TransactionID)

	_, err = f.svc.List(ctx, admin(), &service.ListEntriesQuery{Status: "Done"})
	assert.True(t, errors.Is(err, service.ErrValidation))

	_, err = f.svc.List(ctx, admin(), &service.ListEntriesQuery{Sort: "password"})
	assert.True(t, errors.Is(err, service.ErrValidation))

	_, err = f.svc.Get(ctx, manager(f.health.DeptID), roads.TransactionID)
	assert.True(t, errors.Is(err, service.ErrForbidden))
}

// TestLedgerService_Verify 测试哈希链校验
func TestLedgerService_Verify(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	report, err := f.svc.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Zero(t, report.Total)

	f.create(t, admin(), f.health.DeptID, "1", "A")
	second := f.create(t, admin(), f.health.DeptID, "2", "B")
	f.create(t, admin(), f.health.DeptID, "3", "C")

	// 状态变化不破坏哈希链
	_, err = f.svc.Approve(ctx, admin(), second.TransactionID)
	require.NoError(t, err)

	report, err = f.svc.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 3, report.Total)

	require.NoError(t, f.db.Model(&model.LedgerEntryModel{}).
		Where("transaction_id = ?", second.TransactionID).
		Update("purpose", "B (edited)").Error)

	report, err = f.svc.Verify(ctx)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	require.NotNil(t, report.FirstBrokenID)
	assert.Equal(t, second.TransactionID, *report.FirstBrokenID)
	assert.Contains(t, report.Reason, "contents")
}

// TestLedgerService_Anchor 测试手动锚定
func TestLedgerService_Anchor(t *testing.T) {
	f := newLedgerFixture(t)
	entry := f.create(t, admin(), f.health.DeptID, "1", "A")

	_, err := f.svc.Anchor(context.Background(), deptHead(f.health.DeptID), entry.TransactionID)
	assert.True(t, errors.Is(err, service.ErrForbidden))

	_, err = f.svc.Anchor(context.Background(), admin(), 404)
	assert.True(t, errors.Is(err, service.ErrEntryNotFound))

	_, err = f.svc.Anchor(context.Background(), admin(), entry.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, []uint{entry.TransactionID}, f.anchorer.anchored)

	f.anchorer.err = anchor.ErrInProgress
	_, err = f.svc.Anchor(context.Background(), admin(), entry.TransactionID)
	assert.True(t, errors.Is(err, service.ErrInvalidTransition))

	disabled := service.NewLedgerService(f.db, nil, nil, nil, nil, quietLogger())
	_, err = disabled.Anchor(context.Background(), admin(), entry.TransactionID)
	assert.True(t, errors.Is(err, service.ErrAnchorDisabled))
	_, err = disabled.Reconcile(context.Background())
	assert.True(t, errors.Is(err, service.ErrAnchorDisabled))
}

// TestLedgerService_EndToEndAnchoring 测试与锚定 worker 协同
func TestLedgerService_EndToEndAnchoring(t *testing.T) {
	db := setupTestDB(t)
	ledger := newMemoryLedger()
	pub := &recordingPublisher{}
	worker := anchor.NewWorker(db, ledger, pub, quietLogger(), anchor.Options{})
	svc := service.NewLedgerService(db, nil, worker, ledger, pub, quietLogger())
	dept := seedDepartment(t, db, "Marketing Department", "1000000", nil)

	entry, err := svc.Create(context.Background(), admin(), &service.CreateEntryRequest{
		DeptID:  dept.DeptID,
		ToDept:  "Event Management",
		Amount:  amount("250000"),
		Purpose: "Conference Organization",
	})
	require.NoError(t, err)

	n, err := worker.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := svc.Get(context.Background(), admin(), entry.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.AnchorAnchored, got.AnchorState)
	require.NotNil(t, got.ChainIndex)

	rec, err := ledger.GetTransaction(context.Background(), *got.ChainIndex)
	require.NoError(t, err)
	assert.Equal(t, "Marketing Department", rec.FromDept)
	assert.Equal(t, "Conference Organization", rec.Purpose)

	report, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, []string{service.EventEntryCreated, anchor.EventAnchored}, pub.types())
}

// TestLedgerService_PlainTextRoundTrip 测试特殊字符原样保存、上链与检索
func TestLedgerService_PlainTextRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ledger := newMemoryLedger()
	worker := anchor.NewWorker(db, ledger, nil, quietLogger(), anchor.Options{})
	svc := service.NewLedgerService(db, nil, worker, ledger, nil, quietLogger())
	dept := seedDepartment(t, db, "Parks & Recreation", "1000", nil)
	ctx := context.Background()

	entry, err := svc.Create(ctx, admin(), &service.CreateEntryRequest{
		DeptID:  dept.DeptID,
		ToDept:  "  O'Brien & Sons ",
		Amount:  amount("120"),
		Purpose: "Q&A workshop <i>catering</i>",
	})
	require.NoError(t, err)
	assert.Equal(t, "O'Brien & Sons", entry.ToDept)
	assert.Equal(t, "Q&A workshop catering", entry.Purpose)

	_, err = worker.ProcessPending(ctx)
	require.NoError(t, err)

	stored, err := svc.Get(ctx, admin(), entry.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, "O'Brien & Sons", stored.ToDept)
	require.NotNil(t, stored.ChainIndex)

	rec, err := ledger.GetTransaction(ctx, *stored.ChainIndex)
	require.NoError(t, err)
	assert.Equal(t, "Parks & Recreation", rec.FromDept)
	assert.Equal(t, "O'Brien & Sons", rec.ToDept)
	assert.Equal(t, "Q&A workshop catering", rec.Purpose)

	public := newPublicService(t, db, ledger)
	res, err := public.Transactions(ctx, &service.PublicQuery{Search: "o'brien"})
	require.NoError(t, err)
	require.Equal(t, 1, res.Count)
	assert.Equal(t, "O'Brien & Sons", res.Transactions[0].ToDept)
	assert.True(t, res.Transactions[0].ChainVerified)

	res, err = public.Transactions(ctx, &service.PublicQuery{Search: "q&a"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
}

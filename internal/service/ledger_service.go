package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/moneylens/internal/anchor"
	"github.com/mautops/moneylens/internal/chain"
	"github.com/mautops/moneylens/internal/metrics"
	"github.com/mautops/moneylens/internal/model"
	"github.com/mautops/moneylens/internal/repository"
	"github.com/mautops/moneylens/internal/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// 账目事件类型
const (
	EventEntryCreated  = "created"
	EventStatusChanged = "status_changed"
)

// maxAmount decimal(19,4) 能表示的上限
var maxAmount = decimal.New(1, 15)

// sortColumns 列表允许的排序字段
var sortColumns = map[string]string{
	"id":         "transaction_id",
	"amount":     "amount",
	"status":     "status",
	"created_at": "created_at",
}

// Anchorer 上链锚定执行者
type Anchorer interface {
	AnchorEntry(ctx context.Context, entryID uint) (*model.LedgerEntryModel, error)
	Notify()
}

// LedgerService 链下账目服务
type LedgerService interface {
	Create(ctx context.Context, actor Actor, req *CreateEntryRequest) (*model.LedgerEntryModel, error)
	Get(ctx context.Context, actor Actor, id uint) (*model.LedgerEntryModel, error)
	List(ctx context.Context, actor Actor, query *ListEntriesQuery) ([]*model.LedgerEntryModel, error)
	History(ctx context.Context, actor Actor, id uint) ([]*model.StateHistoryModel, error)
	Approve(ctx context.Context, actor Actor, id uint) (*model.LedgerEntryModel, error)
	Reject(ctx context.Context, actor Actor, id uint, reason string) (*model.LedgerEntryModel, error)
	Settle(ctx context.Context, actor Actor, id uint) (*model.LedgerEntryModel, error)
	Verify(ctx context.Context) (*ChainVerification, error)
	Anchor(ctx context.Context, actor Actor, id uint) (*model.LedgerEntryModel, error)
	Reconcile(ctx context.Context) (*anchor.Report, error)
}

// CreateEntryRequest 创建账目请求
type CreateEntryRequest struct {
	DeptID     string           `json:"dept_id" binding:"required"`
	ToDept     string           `json:"to_dept" binding:"required"`
	Amount     *decimal.Decimal `json:"amount" binding:"required"`
	Purpose    string           `json:"purpose" binding:"required"`
	InvoiceURL string           `json:"invoice_url"`
	// Anchor 是否上链，默认 true
	Anchor *bool `json:"anchor"`
}

// RejectEntryRequest 驳回请求
type RejectEntryRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ListEntriesQuery 账目列表查询参数
type ListEntriesQuery struct {
	DeptID      string `form:"dept_id"`
	Status      string `form:"status"`
	AnchorState string `form:"anchor_state"`
	Sort        string `form:"sort"`
	Order       string `form:"order"`
}

// ChainVerification 哈希链校验结果
type ChainVerification struct {
	Valid         bool   `json:"valid"`
	Total         int    `json:"total"`
	FirstBrokenID *uint  `json:"first_broken_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// ledgerService 账目服务实现
type ledgerService struct {
	db        *gorm.DB
	auditSvc  AuditLogService
	anchorer  Anchorer
	ledger    chain.Ledger
	publisher anchor.Publisher
	logger    *logrus.Logger

	// createMu 串行化哈希链尾的读取与写入
	createMu sync.Mutex
	now      func() time.Time
}

// NewLedgerService 创建账目服务，anchorer 与 ledger 为 nil 时不支持上链
func NewLedgerService(db *gorm.DB, auditSvc AuditLogService, anchorer Anchorer, ledger chain.Ledger, publisher anchor.Publisher, logger *logrus.Logger) LedgerService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ledgerService{
		db:        db,
		auditSvc:  auditSvc,
		anchorer:  anchorer,
		ledger:    ledger,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Create 创建账目，同一事务内写入哈希链、状态历史、审计日志与锚定事件
func (s *ledgerService) Create(ctx context.Context, actor Actor, req *CreateEntryRequest) (*model.LedgerEntryModel, error) {
	input, err := normalizeCreate(req)
	if err != nil {
		return nil, err
	}
	if !actor.canActOnDept(input.DeptID) {
		return nil, fmt.Errorf("%w: cannot create entries for department %s", ErrForbidden, input.DeptID)
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	now := s.now().UTC().Truncate(time.Microsecond)
	entry := &model.LedgerEntryModel{
		DeptID:      input.DeptID,
		ToDept:      input.ToDept,
		Amount:      *input.Amount,
		Purpose:     input.Purpose,
		Status:      model.StatusPending,
		CreatedByID: actor.UserID,
		InvoiceURL:  input.InvoiceURL,
		AnchorState: model.AnchorNone,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	queue := s.anchorer != nil && (req.Anchor == nil || *req.Anchor)
	if queue {
		entry.AnchorState = model.AnchorQueued
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		dept, err := repository.NewDepartmentRepository(tx).FindByID(input.DeptID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrDepartmentNotFound
			}
			return fmt.Errorf("failed to load department: %w", err)
		}
		entry.FromDept = dept.Name

		entries := repository.NewLedgerEntryRepository(tx)
		if err := flagAnomaly(entries, dept, entry); err != nil {
			return err
		}

		latest, err := entries.FindLatest()
		switch {
		case err == nil:
			entry.PreviousHash = latest.CurrentHash
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("failed to load chain tail: %w", err)
		}
		entry.CurrentHash = model.ComputeEntryHash(entry, entry.PreviousHash)

		if err := entry.Validate(); err != nil {
			return invalid("%s", err.Error())
		}
		if err := entries.Create(entry); err != nil {
			return fmt.Errorf("failed to create entry: %w", err)
		}

		if err := repository.NewStateHistoryRepository(tx).Create(&model.StateHistoryModel{
			EntryID:   entry.TransactionID,
			ToState:   model.StatusPending,
			Operator:  actor.UserID,
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("failed to save state history: %w", err)
		}

		if queue {
			if err := repository.NewAnchorEventRepository(tx).Save(&model.AnchorEventModel{
				ID:        uuid.New().String(),
				EntryID:   entry.TransactionID,
				Status:    model.AnchorEventPending,
				CreatedAt: now,
				UpdatedAt: now,
			}); err != nil {
				return fmt.Errorf("failed to queue anchor event: %w", err)
			}
		}

		return s.audit(ctx, tx, actor.UserID, ActionCreateEntry, entry.TransactionID, map[string]interface{}{
			"dept_id": entry.DeptID,
			"to_dept": entry.ToDept,
			"amount":  entry.Amount.String(),
			"anomaly": entry.Anomaly,
			"anchor":  queue,
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordLedgerEntryCreated()
	s.logger.WithFields(logrus.Fields{
		"entry_id": entry.TransactionID,
		"dept_id":  entry.DeptID,
		"anomaly":  entry.Anomaly,
	}).Info("ledger entry created")

	s.publish(EventEntryCreated, entry)
	if queue {
		s.anchorer.Notify()
	}
	return entry, nil
}

// normalizeCreate 清理并校验创建参数
func normalizeCreate(req *CreateEntryRequest) (*CreateEntryRequest, error) {
	if req == nil {
		return nil, invalid("request body is required")
	}
	out := *req

	out.DeptID = strings.TrimSpace(req.DeptID)
	if err := utils.ValidateID(out.DeptID); err != nil {
		return nil, invalid("dept_id: %s", err.Error())
	}

	var err error
	if out.ToDept, err = utils.TrimAndValidate(req.ToDept, 255); err != nil {
		return nil, invalid("to_dept: %s", err.Error())
	}
	if out.Purpose, err = utils.TrimAndValidate(req.Purpose, 1000); err != nil {
		return nil, invalid("purpose: %s", err.Error())
	}
	if out.InvoiceURL, err = utils.TrimOptional(req.InvoiceURL, 1024); err != nil {
		return nil, invalid("invoice_url: %s", err.Error())
	}
	if out.InvoiceURL != "" {
		u, err := url.Parse(strings.TrimSpace(req.InvoiceURL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, invalid("invoice_url must be an http(s) URL")
		}
	}

	if req.Amount == nil {
		return nil, invalid("amount is required")
	}
	amount := *req.Amount
	switch {
	case !amount.IsPositive():
		return nil, invalid("amount must be greater than 0")
	case !amount.Equal(amount.Round(4)):
		return nil, invalid("amount must have at most 4 decimal places")
	case amount.GreaterThanOrEqual(maxAmount):
		return nil, invalid("amount is too large")
	}
	out.Amount = &amount
	return &out, nil
}

// flagAnomaly 部门未驳回支出加上本次金额超出预算时标记异常
func flagAnomaly(entries repository.LedgerEntryRepository, dept *model.DepartmentModel, entry *model.LedgerEntryModel) error {
	rejected := model.StatusRejected
	existing, err := entries.FindByFilter(&repository.LedgerFilter{DeptID: &dept.DeptID, ExcludeStatus: &rejected})
	if err != nil {
		return fmt.Errorf("failed to load department spending: %w", err)
	}

	spent := decimal.Zero
	for _, e := range existing {
		spent = spent.Add(e.Amount)
	}
	total := spent.Add(entry.Amount)
	if total.GreaterThan(dept.AllocatedBudget) {
		entry.Anomaly = true
		entry.AnomalyReason = fmt.Sprintf("department spending %s exceeds allocated budget %s",
			total.StringFixed(2), dept.AllocatedBudget.StringFixed(2))
	}
	return nil
}

// Get 获取账目
func (s *ledgerService) Get(ctx context.Context, actor Actor, id uint) (*model.LedgerEntryModel, error) {
	entry, err := s.load(s.db, id)
	if err != nil {
		return nil, err
	}
	if !actor.canActOnDept(entry.DeptID) {
		return nil, ErrForbidden
	}
	return entry, nil
}

// List 查询账目，非管理员只能看到本部门
func (s *ledgerService) List(ctx context.Context, actor Actor, query *ListEntriesQuery) ([]*model.LedgerEntryModel, error) {
	if query == nil {
		query = &ListEntriesQuery{}
	}
	filter := &repository.LedgerFilter{}

	deptID := strings.TrimSpace(query.DeptID)
	if !actor.canActOnDept(deptID) {
		return nil, ErrForbidden
	}
	if deptID == "" && !actor.IsAdmin() && actor.DeptID != "" {
		deptID = actor.DeptID
	}
	if deptID != "" {
		filter.DeptID = &deptID
	}

	if status := strings.TrimSpace(query.Status); status != "" {
		normalized, ok := normalizeStatus(status)
		if !ok {
			return nil, invalid("invalid status: %s", status)
		}
		filter.Status = &normalized
	}
	if state := strings.ToLower(strings.TrimSpace(query.AnchorState)); state != "" {
		switch state {
		case model.AnchorNone, model.AnchorQueued, model.AnchorAnchored, model.AnchorFailed:
			filter.AnchorState = &state
		default:
			return nil, invalid("invalid anchor_state: %s", state)
		}
	}

	orderBy, err := utils.ResolveSort(query.Sort, query.Order, sortColumns, "")
	if err != nil {
		return nil, invalid("invalid sort field: %s", query.Sort)
	}
	filter.OrderBy = orderBy

	return repository.NewLedgerEntryRepository(s.db).FindByFilter(filter)
}

// normalizeStatus 不区分大小写地匹配状态
func normalizeStatus(status string) (string, bool) {
	for _, s := range []string{model.StatusPending, model.StatusApproved, model.StatusRejected, model.StatusSettled} {
		if strings.EqualFold(s, status) {
			return s, true
		}
	}
	return "", false
}

// History 账目状态历史
func (s *ledgerService) History(ctx context.Context, actor Actor, id uint) ([]*model.StateHistoryModel, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return repository.NewStateHistoryRepository(s.db).FindByEntryID(id)
}

// Approve 审批通过
func (s *ledgerService) Approve(ctx context.Context, actor Actor, id uint) (*model.LedgerEntryModel, error) {
	return s.transition(ctx, actor, id, model.StatusApproved, "", ActionApprove)
}

// Reject 驳回，必须填写原因
func (s *ledgerService) Reject(ctx context.Context, actor Actor, id uint, reason string) (*model.LedgerEntryModel, error) {
	cleaned, err := utils.TrimAndValidate(reason, 1000)
	if err != nil {
		return nil, invalid("reason: %s", err.Error())
	}
	return s.transition(ctx, actor, id, model.StatusRejected, cleaned, ActionReject)
}

// Settle 结算
func (s *ledgerService) Settle(ctx context.Context, actor Actor, id uint) (*model.LedgerEntryModel, error) {
	return s.transition(ctx, actor, id, model.StatusSettled, "", ActionSettle)
}

// transition 执行状态流转，用状态条件更新避免并发覆盖
func (s *ledgerService) transition(ctx context.Context, actor Actor, id uint, to, reason, action string) (*model.LedgerEntryModel, error) {
	if actor.Role != model.RoleAdmin && actor.Role != model.RoleDeptHead {
		return nil, fmt.Errorf("%w: role %s cannot change entry status", ErrForbidden, actor.Role)
	}

	var updated *model.LedgerEntryModel
	err := s.db.Transaction(func(tx *gorm.DB) error {
		entry, err := s.load(tx, id)
		if err != nil {
			return err
		}
		if !actor.canActOnDept(entry.DeptID) {
			return ErrForbidden
		}
		from := entry.Status
		if !model.CanTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}

		now := s.now()
		fields := map[string]interface{}{
			"status":     to,
			"updated_at": now,
		}
		switch to {
		case model.StatusApproved:
			fields["approved_by_id"] = actor.UserID
		case model.StatusRejected:
			fields["rejection_reason"] = reason
		}

		result := tx.Model(&model.LedgerEntryModel{}).
			Where("transaction_id = ? AND status = ?", id, from).
			Updates(fields)
		if result.Error != nil {
			return fmt.Errorf("failed to update entry: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: entry %d changed concurrently", ErrInvalidTransition, id)
		}

		if err := repository.NewStateHistoryRepository(tx).Create(&model.StateHistoryModel{
			EntryID:   id,
			FromState: from,
			ToState:   to,
			Reason:    reason,
			Operator:  actor.UserID,
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("failed to save state history: %w", err)
		}

		details := map[string]interface{}{"from": from, "to": to}
		if reason != "" {
			details["reason"] = reason
		}
		if err := s.audit(ctx, tx, actor.UserID, action, id, details); err != nil {
			return err
		}

		updated, err = s.load(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordStatusTransition(to)
	s.logger.WithFields(logrus.Fields{
		"entry_id": id,
		"status":   to,
		"operator": actor.UserID,
	}).Info("ledger entry status changed")
	s.publish(EventStatusChanged, updated)
	return updated, nil
}

// Verify 从头重算哈希链，返回第一条断裂的账目
func (s *ledgerService) Verify(ctx context.Context) (*ChainVerification, error) {
	entries, err := repository.NewLedgerEntryRepository(s.db).FindAll()
	if err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}

	result := &ChainVerification{Valid: true, Total: len(entries)}
	previous := ""
	for _, entry := range entries {
		switch {
		case entry.PreviousHash != previous:
			result.Reason = "previous hash does not match the preceding entry"
		case !entry.VerifyHash():
			result.Reason = "entry hash does not match its contents"
		default:
			previous = entry.CurrentHash
			continue
		}
		id := entry.TransactionID
		result.Valid = false
		result.FirstBrokenID = &id
		break
	}
	return result, nil
}

// Anchor 立即上链指定账目
func (s *ledgerService) Anchor(ctx context.Context, actor Actor, id uint) (*model.LedgerEntryModel, error) {
	if s.anchorer == nil {
		return nil, ErrAnchorDisabled
	}
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if _, err := s.load(s.db, id); err != nil {
		return nil, err
	}

	entry, err := s.anchorer.AnchorEntry(ctx, id)
	if err != nil {
		if errors.Is(err, anchor.ErrInProgress) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
		}
		return nil, err
	}

	if s.auditSvc != nil {
		details := map[string]interface{}{"anchor_state": entry.AnchorState}
		if entry.TransactionHash != nil {
			details["transaction_hash"] = *entry.TransactionHash
		}
		if err := s.auditSvc.RecordAction(ctx, actor.UserID, ActionAnchor, ResourceLedgerEntry, fmt.Sprint(id), details); err != nil {
			s.logger.WithError(err).Warn("failed to record anchor audit log")
		}
	}
	return entry, nil
}

// Reconcile 对比已锚定账目与链上记录
func (s *ledgerService) Reconcile(ctx context.Context) (*anchor.Report, error) {
	if s.ledger == nil {
		return nil, ErrAnchorDisabled
	}
	return anchor.Reconcile(ctx, s.db, s.ledger)
}

func (s *ledgerService) load(db *gorm.DB, id uint) (*model.LedgerEntryModel, error) {
	entry, err := repository.NewLedgerEntryRepository(db).FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to load entry: %w", err)
	}
	return entry, nil
}

// audit 在事务内写入审计日志
func (s *ledgerService) audit(ctx context.Context, tx *gorm.DB, userID, action string, id uint, details interface{}) error {
	log, err := newAuditLog(ctx, userID, action, ResourceLedgerEntry, fmt.Sprint(id), details)
	if err != nil {
		return err
	}
	if err := repository.NewAuditLogRepository(tx).Create(log); err != nil {
		return fmt.Errorf("failed to save audit log: %w", err)
	}
	return nil
}

func (s *ledgerService) publish(eventType string, entry *model.LedgerEntryModel) {
	if s.publisher != nil {
		s.publisher.PublishEntryEvent(eventType, entry)
	}
}

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/mautops/moneylens/internal/chain"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// isoLayout 与 JavaScript Date#toISOString 一致的毫秒精度 UTC 格式
const isoLayout = "2006-01-02T15:04:05.000Z07:00"

// requiredFieldsMessage 缺少字段时的错误信息
const requiredFieldsMessage = "All fields are required: fromDept, toDept, amount, purpose"

// GatewayService 链上账本网关服务
type GatewayService interface {
	Health() *GatewayHealth
	ListTransactions(ctx context.Context) ([]TransactionView, error)
	GetTransaction(ctx context.Context, rawID string) (*TransactionView, error)
	AddTransaction(ctx context.Context, userID string, req *AddTransactionRequest) (*AddTransactionResult, error)
	Stats(ctx context.Context) (*GatewayStats, error)
}

// GatewayHealth 存活检查结果，不访问节点
type GatewayHealth struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Contract  string `json:"contract"`
}

// TransactionView 链上记录的对外表示
type TransactionView struct {
	ID        uint64 `json:"id"`
	FromDept  string `json:"fromDept"`
	ToDept    string `json:"toDept"`
	Amount    string `json:"amount"`
	Purpose   string `json:"purpose"`
	Timestamp string `json:"timestamp"`
	Recorder  string `json:"recorder"`
}

// AddTransactionRequest 写入链上记录请求
type AddTransactionRequest struct {
	FromDept string           `json:"fromDept"`
	ToDept   string           `json:"toDept"`
	Amount   *decimal.Decimal `json:"amount"`
	Purpose  string           `json:"purpose"`
}

// UnmarshalJSON 空字符串、false 与 null 金额视为缺失，其余按 decimal 解析
// 未知字段仍然拒绝
func (r *AddTransactionRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		FromDept string          `json:"fromDept"`
		ToDept   string          `json:"toDept"`
		Amount   json.RawMessage `json:"amount"`
		Purpose  string          `json:"purpose"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	r.FromDept, r.ToDept, r.Purpose, r.Amount = raw.FromDept, raw.ToDept, raw.Purpose, nil
	if missingAmount(raw.Amount) {
		return nil
	}
	var amount decimal.Decimal
	if err := amount.UnmarshalJSON(raw.Amount); err != nil {
		return err
	}
	r.Amount = &amount
	return nil
}

func missingAmount(raw json.RawMessage) bool {
	switch v := strings.TrimSpace(string(raw)); v {
	case "", "null", "false":
		return true
	default:
		var s string
		return json.Unmarshal(raw, &s) == nil && strings.TrimSpace(s) == ""
	}
}

// AddTransactionResult 写入结果
type AddTransactionResult struct {
	TransactionHash string  `json:"transactionHash"`
	GasUsed         string  `json:"gasUsed"`
	Index           *uint64 `json:"index,omitempty"`
}

// GatewayStats 合约统计
type GatewayStats struct {
	TotalTransactions string `json:"totalTransactions"`
	ContractAddress   string `json:"contractAddress"`
}

// gatewayService 网关服务实现
type gatewayService struct {
	ledger   chain.Ledger
	auditSvc AuditLogService
	logger   *logrus.Logger
	now      func() time.Time
}

// NewGatewayService 创建网关服务，auditSvc 可为空（无数据库的独立网关）
func NewGatewayService(ledger chain.Ledger, auditSvc AuditLogService, logger *logrus.Logger) GatewayService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &gatewayService{
		ledger:   ledger,
		auditSvc: auditSvc,
		logger:   logger,
		now:      time.Now,
	}
}

// Health 存活检查
func (s *gatewayService) Health() *GatewayHealth {
	return &GatewayHealth{
		Status:    "OK",
		Message:   "MoneyLens API is running",
		Timestamp: s.now().UTC().Format(isoLayout),
		Contract:  s.ledger.Address().Hex(),
	}
}

// ListTransactions 读取全部链上记录，id 即数组下标
func (s *gatewayService) ListTransactions(ctx context.Context) ([]TransactionView, error) {
	records, err := s.ledger.GetAllTransactions(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]TransactionView, 0, len(records))
	for i := range records {
		views = append(views, NewTransactionView(uint64(i), &records[i]))
	}
	return views, nil
}

// GetTransaction 按下标读取记录，非法或越界的 id 一律视为不存在
func (s *gatewayService) GetTransaction(ctx context.Context, rawID string) (*TransactionView, error) {
	id, err := ParseChainIndex(rawID)
	if err != nil {
		return nil, err
	}

	record, err := s.ledger.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	view := NewTransactionView(id, record)
	return &view, nil
}

// AddTransaction 校验后写入链上并等待一次确认
func (s *gatewayService) AddTransaction(ctx context.Context, userID string, req *AddTransactionRequest) (*AddTransactionResult, error) {
	if req == nil {
		return nil, invalid(requiredFieldsMessage)
	}

	fromDept := strings.TrimSpace(req.FromDept)
	toDept := strings.TrimSpace(req.ToDept)
	purpose := strings.TrimSpace(req.Purpose)
	if fromDept == "" || toDept == "" || purpose == "" || req.Amount == nil || req.Amount.IsZero() {
		return nil, invalid(requiredFieldsMessage)
	}

	amount, err := chain.ToFixedPoint(*req.Amount)
	if err != nil {
		return nil, invalid("%v", err)
	}

	entry := s.logger.WithFields(logrus.Fields{
		"from_dept": fromDept,
		"to_dept":   toDept,
		"amount":    req.Amount.String(),
	})
	entry.Info("adding transaction to chain")

	receipt, err := s.ledger.AddTransaction(ctx, fromDept, toDept, amount, purpose)
	if err != nil {
		entry.WithError(err).Error("failed to add transaction to chain")
		return nil, err
	}

	result := &AddTransactionResult{
		TransactionHash: receipt.TxHash.Hex(),
		GasUsed:         strconv.FormatUint(receipt.GasUsed, 10),
		Index:           receipt.Index,
	}
	entry.WithField("tx_hash", result.TransactionHash).Info("transaction added to chain")

	if s.auditSvc != nil {
		if err := s.auditSvc.RecordAction(ctx, userID, ActionChainWrite, ResourceChain, result.TransactionHash, map[string]interface{}{
			"fromDept": fromDept,
			"toDept":   toDept,
			"amount":   req.Amount.String(),
			"purpose":  purpose,
			"gasUsed":  result.GasUsed,
		}); err != nil {
			entry.WithError(err).Warn("failed to record audit log for chain write")
		}
	}

	return result, nil
}

// Stats 合约统计
func (s *gatewayService) Stats(ctx context.Context) (*GatewayStats, error) {
	count, err := s.ledger.GetTransactionCount(ctx)
	if err != nil {
		return nil, err
	}
	return &GatewayStats{
		TotalTransactions: strconv.FormatUint(count, 10),
		ContractAddress:   s.ledger.Address().Hex(),
	}, nil
}

// NewTransactionView 将链上记录转换为对外表示
func NewTransactionView(id uint64, r *chain.Record) TransactionView {
	return TransactionView{
		ID:        id,
		FromDept:  r.FromDept,
		ToDept:    r.ToDept,
		Amount:    chain.FormatUnits(r.Amount),
		Purpose:   r.Purpose,
		Timestamp: unixToISO(r.Timestamp),
		Recorder:  r.Recorder.Hex(),
	}
}

// ParseChainIndex 严格解析十进制非负下标
func ParseChainIndex(raw string) (uint64, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid index %q", chain.ErrNotFound, raw)
	}
	return id, nil
}

func unixToISO(ts *big.Int) string {
	if ts == nil || !ts.IsInt64() {
		return time.Unix(0, 0).UTC().Format(isoLayout)
	}
	return time.Unix(ts.Int64(), 0).UTC().Format(isoLayout)
}

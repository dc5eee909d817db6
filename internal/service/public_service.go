package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mautops/moneylens/internal/anchor"
	"github.com/mautops/moneylens/internal/chain"
	"github.com/mautops/moneylens/internal/model"
	"github.com/mautops/moneylens/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// 特殊过滤条件
const (
	SpecialAnomaly       = "anomaly"
	SpecialSettled       = "settled"
	SpecialRejectedClean = "rejected_clean"
)

// volumeDays 近期成交量统计的天数
const volumeDays = 7

// PublicService 公开账本查询服务
type PublicService interface {
	Transactions(ctx context.Context, query *PublicQuery) (*PublicLedger, error)
	Stats(ctx context.Context, query *PublicQuery) (*PublicStats, error)
	Currencies() *CurrencyTable
}

// PublicQuery 公开查询参数，金额区间以展示币种表示
type PublicQuery struct {
	Search     string `form:"search"`
	MinAmount  string `form:"min_amount"`
	MaxAmount  string `form:"max_amount"`
	Department string `form:"department"`
	Status     string `form:"status"`
	Special    string `form:"special"`
	Currency   string `form:"currency"`
}

// PublicEntry 公开账目
type PublicEntry struct {
	ID              uint      `json:"id"`
	FromDept        string    `json:"fromDept"`
	ToDept          string    `json:"toDept"`
	Purpose         string    `json:"purpose"`
	Amount          string    `json:"amount"`
	DisplayAmount   string    `json:"display_amount"`
	Status          string    `json:"status"`
	TransactionHash *string   `json:"transaction_hash"`
	ChainIndex      *uint64   `json:"chain_index"`
	ChainVerified   bool      `json:"chain_verified"`
	Anomaly         bool      `json:"anomaly"`
	CreatedAt       time.Time `json:"created_at"`
}

// DayVolume 单日成交量
type DayVolume struct {
	Date          string `json:"date"`
	Count         int    `json:"count"`
	Amount        string `json:"amount"`
	DisplayAmount string `json:"display_amount"`
}

// PublicStats 过滤结果的统计
type PublicStats struct {
	Count              int         `json:"count"`
	TotalAmount        string      `json:"total_amount"`
	DisplayTotalAmount string      `json:"display_total_amount"`
	SettledRatio       float64     `json:"settled_ratio"`
	Last7Days          []DayVolume `json:"last_7_days"`
}

// PublicLedger 公开账本查询结果
type PublicLedger struct {
	Count          int           `json:"count"`
	Transactions   []PublicEntry `json:"transactions"`
	Stats          *PublicStats  `json:"stats"`
	Currency       Currency      `json:"currency"`
	ChainAvailable bool          `json:"chain_available"`
}

// publicFilter 解析后的过滤条件
type publicFilter struct {
	search     string
	department string
	status     string
	special    string
	min        *decimal.Decimal
	max        *decimal.Decimal
	currency   Currency
}

// publicService 公开查询服务实现
type publicService struct {
	db         *gorm.DB
	ledger     chain.Ledger
	currencies *CurrencyTable
	logger     *logrus.Logger
	now        func() time.Time
}

// NewPublicService 创建公开查询服务，ledger 为 nil 时不做链上校验
func NewPublicService(db *gorm.DB, ledger chain.Ledger, currencies *CurrencyTable, logger *logrus.Logger) PublicService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &publicService{
		db:         db,
		ledger:     ledger,
		currencies: currencies,
		logger:     logger,
		now:        time.Now,
	}
}

// Currencies 汇率表
func (s *publicService) Currencies() *CurrencyTable {
	return s.currencies
}

// Transactions 过滤账目并计算统计，每次请求重新计算
func (s *publicService) Transactions(ctx context.Context, query *PublicQuery) (*PublicLedger, error) {
	filter, err := s.parse(query)
	if err != nil {
		return nil, err
	}
	entries, err := s.filtered(filter)
	if err != nil {
		return nil, err
	}

	records, available := s.chainRecords(ctx)

	items := make([]PublicEntry, 0, len(entries))
	for _, e := range entries {
		verified := available && e.AnchorState == model.AnchorAnchored && anchor.Compare(e, records) == nil
		items = append(items, PublicEntry{
			ID:              e.TransactionID,
			FromDept:        e.FromDept,
			ToDept:          e.ToDept,
			Purpose:         e.Purpose,
			Amount:          e.Amount.String(),
			DisplayAmount:   filter.currency.ToDisplay(e.Amount).StringFixed(2),
			Status:          e.Status,
			TransactionHash: e.TransactionHash,
			ChainIndex:      e.ChainIndex,
			ChainVerified:   verified,
			Anomaly:         e.Anomaly,
			CreatedAt:       e.CreatedAt,
		})
	}

	return &PublicLedger{
		Count:          len(items),
		Transactions:   items,
		Stats:          s.aggregate(entries, filter.currency),
		Currency:       filter.currency,
		ChainAvailable: available,
	}, nil
}

// Stats 只返回统计
func (s *publicService) Stats(ctx context.Context, query *PublicQuery) (*PublicStats, error) {
	filter, err := s.parse(query)
	if err != nil {
		return nil, err
	}
	entries, err := s.filtered(filter)
	if err != nil {
		return nil, err
	}
	return s.aggregate(entries, filter.currency), nil
}

// chainRecords 一次性读取链上记录，节点不可用时返回 false
func (s *publicService) chainRecords(ctx context.Context) ([]chain.Record, bool) {
	if s.ledger == nil {
		return nil, false
	}
	records, err := s.ledger.GetAllTransactions(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("chain unavailable for public verification")
		return nil, false
	}
	return records, true
}

func (s *publicService) parse(query *PublicQuery) (*publicFilter, error) {
	if query == nil {
		query = &PublicQuery{}
	}
	currency, err := s.currencies.Lookup(query.Currency)
	if err != nil {
		return nil, err
	}

	f := &publicFilter{
		search:     strings.ToLower(strings.TrimSpace(query.Search)),
		department: strings.ToLower(strings.TrimSpace(query.Department)),
		currency:   currency,
	}

	if status := strings.TrimSpace(query.Status); status != "" {
		normalized, ok := normalizeStatus(status)
		if !ok {
			return nil, invalid("invalid status: %s", status)
		}
		f.status = normalized
	}

	switch special := strings.ToLower(strings.TrimSpace(query.Special)); special {
	case "", SpecialAnomaly, SpecialSettled, SpecialRejectedClean:
		f.special = special
	default:
		return nil, invalid("invalid special filter: %s", special)
	}

	if f.min, err = parseBound("min_amount", query.MinAmount, currency); err != nil {
		return nil, err
	}
	if f.max, err = parseBound("max_amount", query.MaxAmount, currency); err != nil {
		return nil, err
	}
	if f.min != nil && f.max != nil && f.min.GreaterThan(*f.max) {
		return nil, invalid("min_amount must not exceed max_amount")
	}
	return f, nil
}

// parseBound 解析金额边界并换算为基准币种
func parseBound(name, raw string, currency Currency) (*decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, invalid("%s must be a number", name)
	}
	canonical := currency.ToCanonical(v)
	return &canonical, nil
}

func (s *publicService) filtered(f *publicFilter) ([]*model.LedgerEntryModel, error) {
	all, err := repository.NewLedgerEntryRepository(s.db).FindByFilter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}
	out := make([]*model.LedgerEntryModel, 0, len(all))
	for _, e := range all {
		if f.matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// matches 所有条件同时满足
func (f *publicFilter) matches(e *model.LedgerEntryModel) bool {
	if f.search != "" {
		hash := ""
		if e.TransactionHash != nil {
			hash = *e.TransactionHash
		}
		found := false
		for _, field := range []string{e.Purpose, e.FromDept, e.ToDept, hash} {
			if strings.Contains(strings.ToLower(field), f.search) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.min != nil && e.Amount.LessThan(*f.min) {
		return false
	}
	if f.max != nil && e.Amount.GreaterThan(*f.max) {
		return false
	}
	if f.department != "" &&
		!strings.Contains(strings.ToLower(e.FromDept), f.department) &&
		!strings.Contains(strings.ToLower(e.ToDept), f.department) {
		return false
	}
	if f.status != "" && e.Status != f.status {
		return false
	}
	switch f.special {
	case SpecialAnomaly:
		return e.Anomaly
	case SpecialSettled:
		return e.Status == model.StatusSettled
	case SpecialRejectedClean:
		return e.Status == model.StatusRejected && !e.Anomaly
	}
	return true
}

// aggregate 统计数量、总额、结算比例与最近 7 天（UTC 自然日）的成交量
func (s *publicService) aggregate(entries []*model.LedgerEntryModel, currency Currency) *PublicStats {
	today := s.now().UTC().Truncate(24 * time.Hour)
	first := today.AddDate(0, 0, -(volumeDays - 1))

	type bucket struct {
		count  int
		amount decimal.Decimal
	}
	buckets := make(map[string]*bucket, volumeDays)
	for i := 0; i < volumeDays; i++ {
		buckets[first.AddDate(0, 0, i).Format("2006-01-02")] = &bucket{amount: decimal.Zero}
	}

	total := decimal.Zero
	settled := 0
	for _, e := range entries {
		total = total.Add(e.Amount)
		if e.Status == model.StatusSettled {
			settled++
		}
		if b, ok := buckets[e.CreatedAt.UTC().Format("2006-01-02")]; ok {
			b.count++
			b.amount = b.amount.Add(e.Amount)
		}
	}

	stats := &PublicStats{
		Count:              len(entries),
		TotalAmount:        total.String(),
		DisplayTotalAmount: currency.ToDisplay(total).StringFixed(2),
		Last7Days:          make([]DayVolume, 0, volumeDays),
	}
	if len(entries) > 0 {
		stats.SettledRatio = float64(settled) / float64(len(entries))
	}
	for i := 0; i < volumeDays; i++ {
		day := first.AddDate(0, 0, i).Format("2006-01-02")
		b := buckets[day]
		stats.Last7Days = append(stats.Last7Days, DayVolume{
			Date:          day,
			Count:         b.count,
			Amount:        b.amount.String(),
			DisplayAmount: currency.ToDisplay(b.amount).StringFixed(2),
		})
	}
	return stats
}

package anchor

import (
	"context"
	"fmt"

	"github.com/mautops/moneylens/internal/chain"
	"github.com/mautops/moneylens/internal/model"
	"github.com/mautops/moneylens/internal/repository"
	"gorm.io/gorm"
)

// 对账问题类型
const (
	IssueMissing   = "missing"
	IssueMismatch  = "mismatch"
	IssueUnlocated = "unlocated"
)

// Issue 单条账目的对账问题
type Issue struct {
	EntryID    uint     `json:"entry_id"`
	ChainIndex *uint64  `json:"chain_index,omitempty"`
	Kind       string   `json:"kind"`
	Fields     []string `json:"fields,omitempty"`
}

// Report 对账报告
type Report struct {
	ChainCount uint64  `json:"chain_count"`
	Checked    int     `json:"checked"`
	Matched    int     `json:"matched"`
	Issues     []Issue `json:"issues"`
}

// OK 是否没有任何问题
func (r *Report) OK() bool {
	return len(r.Issues) == 0
}

// Reconcile 将已锚定账目与链上记录逐条比对
func Reconcile(ctx context.Context, db *gorm.DB, ledger chain.Ledger) (*Report, error) {
	entries, err := repository.NewLedgerEntryRepository(db).FindAnchored()
	if err != nil {
		return nil, fmt.Errorf("failed to load anchored entries: %w", err)
	}

	records, err := ledger.GetAllTransactions(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{
		ChainCount: uint64(len(records)),
		Issues:     []Issue{},
	}
	for _, entry := range entries {
		report.Checked++
		if issue := Compare(entry, records); issue != nil {
			report.Issues = append(report.Issues, *issue)
			continue
		}
		report.Matched++
	}
	return report, nil
}

// Compare 比较账目与其链上下标处的记录，一致时返回 nil
func Compare(entry *model.LedgerEntryModel, records []chain.Record) *Issue {
	if entry.ChainIndex == nil {
		return &Issue{EntryID: entry.TransactionID, Kind: IssueUnlocated}
	}
	index := *entry.ChainIndex
	if index >= uint64(len(records)) {
		return &Issue{EntryID: entry.TransactionID, ChainIndex: entry.ChainIndex, Kind: IssueMissing}
	}

	rec := records[index]
	var fields []string
	if rec.FromDept != entry.FromDept {
		fields = append(fields, "from_dept")
	}
	if rec.ToDept != entry.ToDept {
		fields = append(fields, "to_dept")
	}
	if rec.Purpose != entry.Purpose {
		fields = append(fields, "purpose")
	}
	amount, err := chain.ToFixedPoint(entry.Amount)
	if err != nil || rec.Amount == nil || rec.Amount.Cmp(amount) != 0 {
		fields = append(fields, "amount")
	}
	if len(fields) == 0 {
		return nil
	}
	return &Issue{EntryID: entry.TransactionID, ChainIndex: entry.ChainIndex, Kind: IssueMismatch, Fields: fields}
}

package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// ComputeEntryHash 计算账目哈希，只覆盖创建后不再变化的字段
// created_at 统一为 UTC 微秒精度，与 postgres timestamp 精度一致
func ComputeEntryHash(entry *LedgerEntryModel, previousHash string) string {
	input := strings.Join([]string{
		entry.DeptID,
		entry.Amount.StringFixed(4),
		entry.Purpose,
		entry.CreatedByID,
		entry.CreatedAt.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano),
		previousHash,
	}, "|")
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// VerifyHash 校验账目自身哈希
func (le *LedgerEntryModel) VerifyHash() bool {
	return le.CurrentHash == ComputeEntryHash(le, le.PreviousHash)
}

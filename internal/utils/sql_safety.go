package utils

import (
	"strings"
)

// ResolveSort 将外部排序参数映射为白名单中的列，返回可直接用于 ORDER BY 的子句
// field 为空时使用 fallback
func ResolveSort(field, order string, allowed map[string]string, fallback string) (string, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return fallback, nil
	}
	column, ok := allowed[strings.ToLower(field)]
	if !ok {
		return "", ErrInvalidSort
	}
	return column + " " + SanitizeSortOrder(order), nil
}

// SanitizeSortOrder 只接受 asc/desc，其余按降序处理
func SanitizeSortOrder(order string) string {
	if strings.EqualFold(strings.TrimSpace(order), "asc") {
		return "ASC"
	}
	return "DESC"
}

package utils

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxIDLength 字符串 ID 最大长度
const maxIDLength = 64

var (
	// idPattern 部门、用户等字符串 ID 允许的字符
	idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// dangerousPattern 脚本注入与拼接 SQL 的常见片段，大小写不敏感
	dangerousPattern = regexp.MustCompile(`(?i)(<\s*/?\s*(script|iframe|img|svg)\b|javascript:|\bon(error|load)\s*=|';\s*--|\b(drop\s+table|delete\s+from|insert\s+into|union\s+select)\b)`)

	// tagPattern HTML 标签
	tagPattern = regexp.MustCompile(`<[^>]*>`)
)

// ValidationError 文本或 ID 校验失败
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

var (
	ErrDangerousChars  = &ValidationError{Code: "DANGEROUS_CHARS", Message: "contains dangerous characters"}
	ErrEmptyID         = &ValidationError{Code: "EMPTY_ID", Message: "id cannot be empty"}
	ErrInvalidIDFormat = &ValidationError{Code: "INVALID_ID_FORMAT", Message: "id contains invalid characters"}
	ErrIDTooLong       = &ValidationError{Code: "ID_TOO_LONG", Message: "id exceeds maximum length"}
	ErrEmptyString     = &ValidationError{Code: "EMPTY_STRING", Message: "cannot be empty"}
	ErrStringTooLong   = &ValidationError{Code: "STRING_TOO_LONG", Message: "exceeds maximum length"}
	ErrInvalidSort     = &ValidationError{Code: "INVALID_SORT", Message: "unsupported sort field"}
)

// ValidateID 校验路径或请求中的字符串 ID
func ValidateID(id string) error {
	switch {
	case id == "":
		return ErrEmptyID
	case !idPattern.MatchString(id):
		return ErrInvalidIDFormat
	case len(id) > maxIDLength:
		return ErrIDTooLong
	}
	return nil
}

// SanitizeString 去掉 HTML 标签以及换行与制表符以外的控制字符
// 文本按原样保存，不做实体转义
func SanitizeString(input string) string {
	stripped := tagPattern.ReplaceAllString(input, "")
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, stripped)
}

// TrimAndValidate 去除首尾空白与标签，检查危险片段和长度
// maxLen 按字符计，0 表示不限制
func TrimAndValidate(s string, maxLen int) (string, error) {
	trimmed := strings.TrimSpace(s)
	if dangerousPattern.MatchString(trimmed) {
		return "", ErrDangerousChars
	}
	cleaned := strings.TrimSpace(SanitizeString(trimmed))
	if cleaned == "" {
		return "", ErrEmptyString
	}
	if maxLen > 0 && utf8.RuneCountInString(cleaned) > maxLen {
		return "", ErrStringTooLong
	}
	return cleaned, nil
}

// TrimOptional 与 TrimAndValidate 相同，但空白输入返回空字符串
func TrimOptional(s string, maxLen int) (string, error) {
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	return TrimAndValidate(s, maxLen)
}

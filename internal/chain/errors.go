package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sethvargo/go-retry"
)

// 链上调用错误分类
var (
	// ErrNotFound 下标越界（合约 revert）
	ErrNotFound = errors.New("transaction not found")
	// ErrUnavailable 节点暂时不可用，重试已耗尽
	ErrUnavailable = errors.New("chain unavailable")
	// ErrTimeout 调用超过截止时间
	ErrTimeout = errors.New("chain call timed out")
	// ErrReverted 交易已上链但执行失败
	ErrReverted = errors.New("transaction reverted")
	// ErrNoContract 合约地址上没有代码
	ErrNoContract = errors.New("no contract code at address")
)

// RetryPolicy 瞬时错误的重试策略
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryPolicy 默认重试策略
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries: 3,
	BaseDelay:  200 * time.Millisecond,
}

// IsTransient 判断错误是否值得重试（网络、限流、5xx）
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	s := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"too many requests",
		"rate limit",
		"503 service unavailable",
		"502 bad gateway",
	} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// withRetry 带指数退避的调用，重试耗尽时返回 ErrUnavailable
func withRetry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	base := policy.BaseDelay
	if base <= 0 {
		base = DefaultRetryPolicy.BaseDelay
	}
	maxRetries := policy.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	backoff := retry.WithMaxRetries(uint64(maxRetries), retry.NewExponential(base))

	transient := false
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		transient = IsTransient(err)
		if transient {
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		return nil
	}
	return classify(ctx, err, transient)
}

// classify 将底层错误映射为稳定的错误类别
func classify(ctx context.Context, err error, transient bool) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnavailable),
		errors.Is(err, ErrTimeout), errors.Is(err, ErrReverted):
		return err
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case transient:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return err
	}
}

// outcome 错误对应的指标标签
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrReverted):
		return "reverted"
	default:
		return "error"
	}
}

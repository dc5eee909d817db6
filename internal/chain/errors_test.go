package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
)

// TestIsTransient 测试瞬时错误识别
func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"空错误", nil, false},
		{"连接拒绝", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"连接中断", io.ErrUnexpectedEOF, true},
		{"限流", rpc.HTTPError{StatusCode: 429, Status: "429 Too Many Requests"}, true},
		{"服务端错误", rpc.HTTPError{StatusCode: 502, Status: "502 Bad Gateway"}, true},
		{"客户端错误", rpc.HTTPError{StatusCode: 400, Status: "400 Bad Request"}, false},
		{"合约 revert", errors.New("execution reverted: Invalid index"), false},
		{"超时", context.DeadlineExceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

// TestWithRetryTransient 测试瞬时错误重试耗尽后返回 ErrUnavailable
func TestWithRetryTransient(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond}, func(ctx context.Context) error {
		attempts++
		return syscall.ECONNREFUSED
	})

	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 3, attempts)
}

// TestWithRetryRecovers 测试瞬时错误恢复后成功
func TestWithRetryRecovers(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}, func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return io.EOF
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

// TestWithRetryPermanent 测试非瞬时错误不重试
func TestWithRetryPermanent(t *testing.T) {
	attempts := 0
	reverted := errors.New("execution reverted")
	err := withRetry(context.Background(), RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}, func(ctx context.Context) error {
		attempts++
		return reverted
	})

	assert.ErrorIs(t, err, reverted)
	assert.NotErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 1, attempts)
}

// TestWithRetryDeadline 测试截止时间映射为 ErrTimeout
func TestWithRetryDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := withRetry(ctx, RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond}, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	assert.ErrorIs(t, err, ErrTimeout)
}

// TestOutcome 测试指标标签
func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", outcome(nil))
	assert.Equal(t, "not_found", outcome(fmt.Errorf("%w: index 9", ErrNotFound)))
	assert.Equal(t, "unavailable", outcome(ErrUnavailable))
	assert.Equal(t, "timeout", outcome(ErrTimeout))
	assert.Equal(t, "reverted", outcome(ErrReverted))
	assert.Equal(t, "error", outcome(errors.New("boom")))
}

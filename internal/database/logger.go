package database

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// slowQueryThreshold 超过该耗时的 SQL 记为慢查询
const slowQueryThreshold = 200 * time.Millisecond

// Option 连接选项
type Option func(*options)

type options struct {
	logger *logrus.Logger
}

// WithLogger 使用指定的 logrus 实例输出 SQL 日志
func WithLogger(l *logrus.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// gormLogger 将 gorm 日志转发到 logrus
// 查询不到记录属于正常分支，不记为错误
type gormLogger struct {
	log   *logrus.Logger
	level logger.LogLevel
	slow  time.Duration
}

func newGormLogger(l *logrus.Logger) *gormLogger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &gormLogger{log: l, level: logger.Warn, slow: slowQueryThreshold}
}

// LogMode 返回指定级别的副本
func (g *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	cp := *g
	cp.level = level
	return &cp
}

func (g *gormLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if g.level >= logger.Info {
		g.log.WithContext(ctx).Infof(msg, args...)
	}
}

func (g *gormLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if g.level >= logger.Warn {
		g.log.WithContext(ctx).Warnf(msg, args...)
	}
}

func (g *gormLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if g.level >= logger.Error {
		g.log.WithContext(ctx).Errorf(msg, args...)
	}
}

// Trace 按结果分级记录单条 SQL
func (g *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && g.level >= logger.Error:
		sql, rows := fc()
		g.entry(ctx, sql, rows, elapsed).WithError(err).Error("sql error")
	case g.slow > 0 && elapsed > g.slow && g.level >= logger.Warn:
		sql, rows := fc()
		g.entry(ctx, sql, rows, elapsed).Warn("slow sql")
	case g.level >= logger.Info:
		sql, rows := fc()
		g.entry(ctx, sql, rows, elapsed).Debug("sql")
	}
}

func (g *gormLogger) entry(ctx context.Context, sql string, rows int64, elapsed time.Duration) *logrus.Entry {
	return g.log.WithContext(ctx).WithFields(logrus.Fields{
		"sql":        sql,
		"rows":       rows,
		"elapsed_ms": elapsed.Milliseconds(),
	})
}

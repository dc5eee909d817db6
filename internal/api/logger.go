package api

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mautops/moneylens/internal/config"
	"github.com/sirupsen/logrus"
)

// ServiceName 日志与追踪中的服务名
const ServiceName = "moneylens"

const (
	timestampFormat = "2006-01-02T15:04:05.000Z07:00"
	logDir          = "logs"
)

// NewLogger 创建输出到 stdout 的 JSON 日志记录器
func NewLogger() *logrus.Logger {
	logger, _ := NewLoggerFromConfig(&config.LogConfig{Level: "info", Format: "json", Output: "stdout"})
	return logger
}

// NewLoggerFromConfig 根据配置创建日志记录器，每条日志带 service 字段
func NewLoggerFromConfig(cfg *config.LogConfig) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetFormatter(newFormatter(cfg.Format))
	if !ApplyLevel(logger, cfg.Level) {
		logger.SetLevel(logrus.InfoLevel)
	}

	out, err := logOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	logger.SetOutput(out)
	logger.AddHook(serviceHook{})
	return logger, nil
}

func newFormatter(format string) logrus.Formatter {
	if format == "json" {
		return &logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "time",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "msg",
			},
		}
	}
	return &logrus.TextFormatter{
		TimestampFormat: timestampFormat,
		FullTimestamp:   true,
	}
}

// logOutput stdout、file 或 both，未知值按 stdout 处理
func logOutput(output string) (io.Writer, error) {
	switch output {
	case "file", "both":
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := os.OpenFile(filepath.Join(logDir, ServiceName+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		if output == "file" {
			return file, nil
		}
		return io.MultiWriter(os.Stdout, file), nil
	default:
		return os.Stdout, nil
	}
}

// ApplyLevel 运行时调整日志级别，非法值保持不变
func ApplyLevel(logger *logrus.Logger, level string) bool {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return false
	}
	logger.SetLevel(parsed)
	return true
}

// serviceHook 为日志聚合补充服务名
type serviceHook struct{}

func (serviceHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (serviceHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["service"]; !ok {
		entry.Data["service"] = ServiceName
	}
	return nil
}

package config

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// ConfigWatcher 监听配置文件，变更通过校验后替换当前配置并通知回调
type ConfigWatcher struct {
	viper  *viper.Viper
	logger *logrus.Logger

	mu        sync.RWMutex
	current   *Config
	callbacks []func(*Config)
	stopped   atomic.Bool
}

// NewConfigWatcher 创建配置监听器
func NewConfigWatcher(cfg *Config, configPath string, logger *logrus.Logger) *ConfigWatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	v := newViper()
	v.SetConfigFile(configPath)
	return &ConfigWatcher{
		viper:   v,
		logger:  logger,
		current: cfg,
	}
}

// OnConfigChange 注册配置变更回调
func (w *ConfigWatcher) OnConfigChange(callback func(*Config)) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, callback)
	w.mu.Unlock()
}

// Start 读取配置文件并开始监听
func (w *ConfigWatcher) Start() error {
	if err := w.viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	w.viper.OnConfigChange(func(e fsnotify.Event) {
		if w.stopped.Load() {
			return
		}
		w.reload(e.Name)
	})
	w.viper.WatchConfig()
	return nil
}

// reload 非法配置只记日志，当前配置保持不变
func (w *ConfigWatcher) reload(file string) {
	log := w.logger.WithField("file", file)

	var next Config
	if err := w.viper.Unmarshal(&next); err != nil {
		log.WithError(err).Error("failed to reload config")
		return
	}
	if err := Validate(&next); err != nil {
		log.WithError(err).Warn("ignoring invalid config change")
		return
	}

	w.mu.Lock()
	w.current = &next
	callbacks := append([]func(*Config){}, w.callbacks...)
	w.mu.Unlock()

	log.Info("config reloaded")
	for _, fn := range callbacks {
		fn(&next)
	}
}

// Stop 停止通知回调，viper 不支持取消底层监听
func (w *ConfigWatcher) Stop() {
	w.stopped.Store(true)
}

// GetConfig 当前生效的配置
func (w *ConfigWatcher) GetConfig() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

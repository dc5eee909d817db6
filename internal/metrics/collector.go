package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// probeTimeout 单次节点探测的超时
const probeTimeout = 5 * time.Second

// Pinger 可探测可用性的依赖
type Pinger interface {
	Ping(ctx context.Context) error
}

// Collector 周期性采集数据库连接池与节点可用性指标
type Collector struct {
	db       *gorm.DB
	chain    Pinger
	interval time.Duration
	logger   *logrus.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
	started  bool
}

// NewCollector 创建指标收集器，db 与 chain 均可为空
func NewCollector(db *gorm.DB, chain Pinger, interval time.Duration, logger *logrus.Logger) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Collector{
		db:       db,
		chain:    chain,
		interval: interval,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start 启动指标收集器
func (c *Collector) Start() {
	c.once.Do(func() {
		c.started = true
		go c.collect()
	})
}

// Stop 停止指标收集器
func (c *Collector) Stop() {
	c.cancel()
	if c.started {
		<-c.done
	}
}

// CollectOnce 立即采集一次
func (c *Collector) CollectOnce() {
	if c.db != nil {
		if err := UpdateDatabaseConnections(c.db); err != nil {
			c.logger.WithError(err).Debug("failed to collect database pool stats")
		}
	}
	if c.chain != nil {
		ctx, cancel := context.WithTimeout(c.ctx, probeTimeout)
		err := c.chain.Ping(ctx)
		cancel()
		SetChainUp(err == nil)
		if err != nil {
			c.logger.WithError(err).Debug("chain probe failed")
		}
	}
}

// collect 定期收集指标
func (c *Collector) collect() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	defer close(c.done)

	c.CollectOnce()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.CollectOnce()
		}
	}
}

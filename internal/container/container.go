package container

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mautops/moneylens/internal/anchor"
	"github.com/mautops/moneylens/internal/api"
	"github.com/mautops/moneylens/internal/auth"
	"github.com/mautops/moneylens/internal/chain"
	"github.com/mautops/moneylens/internal/config"
	"github.com/mautops/moneylens/internal/database"
	"github.com/mautops/moneylens/internal/metrics"
	"github.com/mautops/moneylens/internal/repository"
	"github.com/mautops/moneylens/internal/service"
	"github.com/mautops/moneylens/internal/websocket"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// devRecorder 本地开发链默认账户，内存账本模式下作为记录者
var devRecorder = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

// metricsInterval 指标采集间隔
const metricsInterval = 15 * time.Second

// Container 依赖注入容器
// 管理数据库、链上客户端、服务与后台任务
type Container struct {
	cfg    *config.Config
	logger *logrus.Logger

	db        *gorm.DB
	ledger    chain.Ledger
	rpc       *chain.Client
	tokens    *auth.TokenManager
	blacklist auth.Blacklist
	redis     *auth.RedisBlacklist

	auditSvc    service.AuditLogService
	gatewaySvc  service.GatewayService
	authSvc     service.AuthService
	deptSvc     service.DepartmentService
	ledgerSvc   service.LedgerService
	publicSvc   service.PublicService
	exportSvc   service.ExportService
	worker      *anchor.Worker
	hub         *websocket.Hub
	collector   *metrics.Collector
	gatewayOnly bool
}

// NewContainer 创建完整服务所需的容器
func NewContainer(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Container, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	c := &Container{cfg: cfg, logger: logger}

	// 1. 初始化数据库（带重试机制）
	db, err := database.ConnectWithRetry(ctx, cfg.Database, 3, time.Second, database.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	c.db = db

	if err := database.Migrate(db); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	// 2. 初始化链上账本
	if err := c.initLedger(ctx); err != nil {
		c.Close()
		return nil, err
	}

	// 3. 初始化认证
	if err := c.initAuth(ctx); err != nil {
		c.Close()
		return nil, err
	}

	// 4. 初始化服务
	table, err := service.NewCurrencyTable(cfg.Currency.Canonical)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to build currency table: %w", err)
	}

	c.hub = websocket.NewHub(logger)
	c.auditSvc = service.NewAuditLogService(repository.NewAuditLogRepository(db))
	c.gatewaySvc = service.NewGatewayService(c.ledger, c.auditSvc, logger)
	c.authSvc = service.NewAuthService(db, c.tokens, c.blacklist, c.auditSvc)
	c.deptSvc = service.NewDepartmentService(db)
	c.publicSvc = service.NewPublicService(db, c.ledger, table, logger)
	c.exportSvc = service.NewExportService(c.publicSvc, logger)

	c.worker = anchor.NewWorker(db, c.ledger, c.hub, logger, anchor.Options{
		PollInterval: cfg.Anchor.PollInterval,
		BatchSize:    cfg.Anchor.BatchSize,
		MaxAttempts:  cfg.Anchor.MaxAttempts,
	})
	// 关闭锚定时不传入执行者，接口返回 ErrAnchorDisabled
	var anchorer service.Anchorer
	if cfg.Anchor.Enabled {
		anchorer = c.worker
	}
	c.ledgerSvc = service.NewLedgerService(db, c.auditSvc, anchorer, c.ledger, c.hub, logger)

	c.collector = metrics.NewCollector(db, c.ledger, metricsInterval, logger)
	return c, nil
}

// NewGatewayContainer 创建不依赖数据库的独立网关容器
func NewGatewayContainer(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Container, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	c := &Container{cfg: cfg, logger: logger, gatewayOnly: true}

	if err := c.initLedger(ctx); err != nil {
		return nil, err
	}
	if cfg.Auth.JWTSecret != "" {
		c.tokens = auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
		c.blacklist = auth.NewMemoryBlacklist()
	}

	c.gatewaySvc = service.NewGatewayService(c.ledger, nil, logger)
	c.collector = metrics.NewCollector(nil, c.ledger, metricsInterval, logger)
	return c, nil
}

// initLedger 按配置选择节点客户端或内存账本
func (c *Container) initLedger(ctx context.Context) error {
	chainCfg := c.cfg.Chain
	switch chainCfg.Mode {
	case "memory":
		recorder := devRecorder
		if chainCfg.PrivateKey != "" {
			key, err := crypto.HexToECDSA(trimHexPrefix(chainCfg.PrivateKey))
			if err != nil {
				return fmt.Errorf("invalid chain private key: %w", err)
			}
			recorder = crypto.PubkeyToAddress(key.PublicKey)
		}
		c.ledger = chain.NewMemoryLedger(common.HexToAddress(chainCfg.ContractAddress), recorder)
		c.logger.Warn("using in-memory ledger, records are lost on restart")
		return nil
	case "rpc", "":
		client, err := chain.Dial(ctx, chain.Options{
			URL:                 chainCfg.RPCURL(),
			ContractAddress:     chainCfg.ContractAddress,
			ChainID:             chainCfg.ChainID,
			PrivateKey:          chainCfg.PrivateKey,
			CallTimeout:         chainCfg.CallTimeout,
			WriteTimeout:        chainCfg.WriteTimeout,
			ReceiptPollInterval: chainCfg.ReceiptPollInterval,
			Retry: chain.RetryPolicy{
				MaxRetries: chainCfg.MaxRetries,
				BaseDelay:  chainCfg.RetryBaseDelay,
			},
		}, c.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize chain client: %w", err)
		}
		c.rpc = client
		c.ledger = client
		return nil
	default:
		return fmt.Errorf("unsupported chain mode %q", chainCfg.Mode)
	}
}

// initAuth 初始化令牌签发与黑名单
func (c *Container) initAuth(ctx context.Context) error {
	secret := c.cfg.Auth.JWTSecret
	if secret == "" {
		if config.IsProduction(c.cfg) {
			return errors.New("auth jwt_secret is required in production")
		}
		secret = "moneylens-development-secret"
		c.logger.Warn("auth.jwt_secret is empty, using a development secret")
	}
	c.tokens = auth.NewTokenManager(secret, c.cfg.Auth.TokenTTL)

	if c.cfg.Redis.Addr == "" {
		c.blacklist = auth.NewMemoryBlacklist()
		return nil
	}
	rb, err := auth.NewRedisBlacklist(ctx, c.cfg.Redis.Addr, c.cfg.Redis.Password, c.cfg.Redis.DB)
	if err != nil {
		return fmt.Errorf("failed to connect redis: %w", err)
	}
	c.redis = rb
	c.blacklist = rb
	return nil
}

// Dependencies 组装路由依赖
func (c *Container) Dependencies() *api.Dependencies {
	deps := &api.Dependencies{
		Logger:    c.logger,
		CORS:      c.cfg.CORS,
		RateLimit: c.cfg.RateLimit,
		HSTS:      config.IsProduction(c.cfg),
		Tracing:   c.cfg.Tracing.Enabled,
		Ledger:    c.ledger,
		Tokens:    c.tokens,
		Blacklist: c.blacklist,
		Gateway:   c.gatewaySvc,
	}
	if c.gatewayOnly {
		deps.OpenGatewayWrites = c.tokens == nil
		return deps
	}

	deps.DB = c.db
	deps.Auth = c.authSvc
	deps.Departments = c.deptSvc
	deps.Entries = c.ledgerSvc
	deps.Public = c.publicSvc
	deps.Export = c.exportSvc
	deps.Audit = c.auditSvc
	deps.Hub = c.hub
	return deps
}

// Start 启动后台任务：推送中心、锚定 worker 与指标采集
func (c *Container) Start(ctx context.Context) error {
	if c.hub != nil {
		go c.hub.Run()
	}
	if c.worker != nil && c.cfg.Anchor.Enabled {
		if err := c.worker.Start(ctx); err != nil {
			return fmt.Errorf("failed to start anchor worker: %w", err)
		}
	}
	c.collector.Start()
	return nil
}

// Close 关闭容器中的所有资源
func (c *Container) Close() error {
	if c.collector != nil {
		c.collector.Stop()
	}
	if c.worker != nil {
		c.worker.Stop()
	}
	if c.hub != nil {
		c.hub.Stop()
	}

	var errs []error
	if c.redis != nil {
		errs = append(errs, c.redis.Close())
	}
	if c.rpc != nil {
		c.rpc.Close()
	}
	if c.db != nil {
		errs = append(errs, database.Close(c.db))
	}
	return errors.Join(errs...)
}

// DB 获取数据库连接
func (c *Container) DB() *gorm.DB {
	return c.db
}

// Ledger 获取链上账本
func (c *Container) Ledger() chain.Ledger {
	return c.ledger
}

// AuthService 获取认证服务
func (c *Container) AuthService() service.AuthService {
	return c.authSvc
}

// DepartmentService 获取部门服务
func (c *Container) DepartmentService() service.DepartmentService {
	return c.deptSvc
}

// Worker 获取锚定 worker
func (c *Container) Worker() *anchor.Worker {
	return c.worker
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}

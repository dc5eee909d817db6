package database

import (
	"context"
	"fmt"
	"time"

	"github.com/mautops/moneylens/internal/config"
	"github.com/mautops/moneylens/internal/model"
	"github.com/sethvargo/go-retry"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// PoolConfig 连接池配置
type PoolConfig struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime int // 秒
	ConnMaxIdleTime int // 秒
}

// BuildDSN 构建 PostgreSQL DSN
func BuildDSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)
}

// GetPoolConfig 获取连接池配置
func GetPoolConfig() *PoolConfig {
	return &PoolConfig{
		MaxIdleConns:    10,
		MaxOpenConns:    100,
		ConnMaxLifetime: 3600, // 1 小时
		ConnMaxIdleTime: 600,  // 10 分钟
	}
}

// poolConfigFrom 以配置值为准，未设置的项使用默认值
func poolConfigFrom(cfg config.DatabaseConfig) *PoolConfig {
	pool := GetPoolConfig()
	if cfg.MaxIdleConns > 0 {
		pool.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.MaxOpenConns > 0 {
		pool.MaxOpenConns = cfg.MaxOpenConns
	}
	if cfg.ConnMaxLifetime > 0 {
		pool.ConnMaxLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		pool.ConnMaxIdleTime = cfg.ConnMaxIdleTime
	}
	return pool
}

// dialector 根据驱动选择 gorm 方言
func dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "", "postgres":
		return postgres.Open(BuildDSN(cfg)), nil
	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = "moneylens.db"
		}
		return sqlite.Open(path), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Connect 连接数据库，SQL 日志默认写入 logrus 标准 logger
func Connect(cfg config.DatabaseConfig, opts ...Option) (*gorm.DB, error) {
	d, err := dialector(cfg)
	if err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	db, err := gorm.Open(d, &gorm.Config{Logger: newGormLogger(o.logger)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	// 配置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	pool := poolConfigFrom(cfg)
	if cfg.Driver == "sqlite" {
		// SQLite 单写者，避免 database is locked
		pool.MaxOpenConns = 1
		pool.MaxIdleConns = 1
	}
	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(pool.ConnMaxLifetime) * time.Second)
	sqlDB.SetConnMaxIdleTime(time.Duration(pool.ConnMaxIdleTime) * time.Second)

	return db, nil
}

// ConnectWithRetry 带指数退避重试的数据库连接
func ConnectWithRetry(ctx context.Context, cfg config.DatabaseConfig, maxRetries int, retryInterval time.Duration, opts ...Option) (*gorm.DB, error) {
	var db *gorm.DB
	backoff := retry.WithMaxRetries(uint64(maxRetries), retry.NewExponential(retryInterval))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		conn, err := Connect(cfg, opts...)
		if err != nil {
			return retry.RetryableError(err)
		}
		if !CheckHealth(conn) {
			closeQuietly(conn)
			return retry.RetryableError(fmt.Errorf("database ping failed"))
		}
		db = conn
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database after %d retries: %w", maxRetries, err)
	}
	return db, nil
}

// Models 参与迁移的数据模型
func Models() []interface{} {
	return []interface{}{
		&model.DepartmentModel{},
		&model.UserModel{},
		&model.LedgerEntryModel{},
		&model.StateHistoryModel{},
		&model.AnchorEventModel{},
		&model.AuditLogModel{},
	}
}

// Migrate 执行数据库迁移
func Migrate(db *gorm.DB) error {
	// 检测数据库类型
	name := db.Dialector.Name()

	// SQLite 不支持 jsonb，审计日志表手动创建
	// GORM SQLite dialector 的名称可能是 "sqlite" 或 "sqlite3"
	if name == "sqlite" || name == "sqlite3" {
		if err := createSQLiteAuditTable(db); err != nil {
			return fmt.Errorf("failed to create SQLite tables: %w", err)
		}
		models := Models()
		if err := db.AutoMigrate(models[:len(models)-1]...); err != nil {
			return fmt.Errorf("failed to auto migrate: %w", err)
		}
	} else {
		if err := db.AutoMigrate(Models()...); err != nil {
			return fmt.Errorf("failed to auto migrate: %w", err)
		}
	}

	// 创建索引
	if err := CreateIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

// createSQLiteAuditTable 为 SQLite 手动创建审计日志表（使用 TEXT 替代 jsonb）
func createSQLiteAuditTable(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_logs (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			action VARCHAR(64) NOT NULL,
			resource_type VARCHAR(32) NOT NULL,
			resource_id VARCHAR(64) NOT NULL,
			request_id VARCHAR(64),
			ip VARCHAR(45),
			user_agent TEXT,
			details TEXT,
			created_at DATETIME NOT NULL
		)
	`).Error; err != nil {
		return fmt.Errorf("failed to create audit_logs table: %w", err)
	}
	return nil
}

// indexes 组合索引，单列索引由模型标签生成
var indexes = []struct {
	name string
	ddl  string
}{
	{"idx_ledger_dept_status", "CREATE INDEX IF NOT EXISTS idx_ledger_dept_status ON ledger_entries(dept_id, status)"},
	{"idx_ledger_anchor_state", "CREATE INDEX IF NOT EXISTS idx_ledger_anchor_state_created ON ledger_entries(anchor_state, created_at)"},
	{"idx_anchor_events_status_created", "CREATE INDEX IF NOT EXISTS idx_anchor_events_status_created ON anchor_events(status, created_at)"},
	{"idx_history_entry_created", "CREATE INDEX IF NOT EXISTS idx_history_entry_created ON state_history(entry_id, created_at)"},
	{"idx_audit_resource", "CREATE INDEX IF NOT EXISTS idx_audit_resource ON audit_logs(resource_type, resource_id)"},
	{"idx_audit_user_id", "CREATE INDEX IF NOT EXISTS idx_audit_user_id ON audit_logs(user_id)"},
	{"idx_audit_created_at", "CREATE INDEX IF NOT EXISTS idx_audit_created_at ON audit_logs(created_at)"},
}

// CreateIndexes 创建数据库索引
func CreateIndexes(db *gorm.DB) error {
	for _, idx := range indexes {
		if err := db.Exec(idx.ddl).Error; err != nil {
			return fmt.Errorf("failed to create %s: %w", idx.name, err)
		}
	}

	// PostgreSQL 特定的 GIN 索引
	if db.Dialector.Name() == "postgres" {
		if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_audit_details_gin ON audit_logs USING GIN (details)").Error; err != nil {
			return fmt.Errorf("failed to create idx_audit_details_gin: %w", err)
		}
	}

	return nil
}

// CheckHealth 检查数据库连接健康状态
func CheckHealth(db *gorm.DB) bool {
	return Ping(context.Background(), db) == nil
}

// Ping 在给定上下文内检查数据库连接
func Ping(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func closeQuietly(db *gorm.DB) {
	_ = Close(db)
}

package database_test

import (
	"errors"
	"testing"

	"github.com/mautops/moneylens/internal/config"
	"github.com/mautops/moneylens/internal/database"
	"github.com/mautops/moneylens/internal/model"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// TestBuildDSN 测试 DSN 构建
func TestBuildDSN(t *testing.T) {
	dsn := database.BuildDSN(config.DatabaseConfig{
		Host:     "db",
		Port:     5432,
		User:     "ledger",
		Password: "secret",
		DBName:   "moneylens",
		SSLMode:  "disable",
	})
	assert.Equal(t, "host=db port=5432 user=ledger password=secret dbname=moneylens sslmode=disable", dsn)
}

// TestConnectUnsupportedDriver 测试不支持的驱动
func TestConnectUnsupportedDriver(t *testing.T) {
	_, err := database.Connect(config.DatabaseConfig{Driver: "mysql"})
	assert.Error(t, err)
}

// TestMigrateSQLite 测试 SQLite 迁移与索引
func TestMigrateSQLite(t *testing.T) {
	db, err := database.Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	defer database.Close(db)

	require.NoError(t, database.Migrate(db))
	// 重复迁移应当幂等
	require.NoError(t, database.Migrate(db))

	for _, table := range []string{"departments", "users", "ledger_entries", "state_history", "anchor_events", "audit_logs"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}

	var count int64
	err = db.Raw("SELECT count(*) FROM sqlite_master WHERE type = 'index' AND name = ?", "idx_ledger_dept_status").Scan(&count).Error
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	assert.True(t, database.CheckHealth(db))
}

// TestCheckHealthNil 测试空连接健康检查
func TestCheckHealthNil(t *testing.T) {
	assert.False(t, database.CheckHealth(nil))
}

// TestConnectLogsThroughLogrus 测试 SQL 日志写入 logrus，未找到记录不算错误
func TestConnectLogsThroughLogrus(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	db, err := database.Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"}, database.WithLogger(logger))
	require.NoError(t, err)
	defer database.Close(db)
	require.NoError(t, database.Migrate(db))
	hook.Reset()

	var entry model.LedgerEntryModel
	err = db.Order("transaction_id DESC").First(&entry).Error
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
	for _, e := range hook.AllEntries() {
		assert.NotEqual(t, logrus.ErrorLevel, e.Level, e.Message)
	}

	err = db.Exec("SELECT * FROM no_such_table").Error
	require.Error(t, err)
	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, logrus.ErrorLevel, last.Level)
	assert.Contains(t, last.Data["sql"], "no_such_table")
}

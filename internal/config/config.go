package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultContractAddress 本地开发链上首个部署合约的地址
const DefaultContractAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

// Config 应用配置
type Config struct {
	Env       string          `mapstructure:"env"` // 环境: development, production
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Anchor    AnchorConfig    `mapstructure:"anchor"`
	Currency  CurrencyConfig  `mapstructure:"currency"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"` // postgres, sqlite
	Path            string `mapstructure:"path"`   // sqlite 文件路径
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`  // 秒
	ConnMaxIdleTime int    `mapstructure:"conn_max_idle_time"` // 秒
}

// ChainConfig 链上节点与合约配置
type ChainConfig struct {
	Host                string        `mapstructure:"host"`
	Port                int           `mapstructure:"port"`
	URL                 string        `mapstructure:"url"` // 设置后覆盖 host/port
	ContractAddress     string        `mapstructure:"contract_address"`
	ChainID             int64         `mapstructure:"chain_id"` // 0 表示不校验
	PrivateKey          string        `mapstructure:"private_key"`
	Mode                string        `mapstructure:"mode"` // rpc, memory
	CallTimeout         time.Duration `mapstructure:"call_timeout"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
	RetryBaseDelay      time.Duration `mapstructure:"retry_base_delay"`
	ReceiptPollInterval time.Duration `mapstructure:"receipt_poll_interval"`
}

// RPCURL 节点 JSON-RPC 地址
func (c ChainConfig) RPCURL() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}

// AuthConfig 认证配置
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// RedisConfig Redis 配置，Addr 为空时使用进程内黑名单
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AnchorConfig 上链锚定配置
type AnchorConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

// CurrencyConfig 币种配置
type CurrencyConfig struct {
	Canonical string `mapstructure:"canonical"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// TracingConfig 链路追踪配置
type TracingConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
	MaxAge         int      `mapstructure:"max_age"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug, info, warn, error
	Format string `mapstructure:"format"` // 日志格式: json, text
	Output string `mapstructure:"output"` // 输出位置: stdout, file, both
}

// envAliases 兼容部署脚本使用的环境变量名
var envAliases = map[string][]string{
	"server.port":            {"APP_SERVER_PORT", "API_PORT"},
	"chain.host":             {"APP_CHAIN_HOST", "BLOCKCHAIN_HOST"},
	"chain.port":             {"APP_CHAIN_PORT", "BLOCKCHAIN_PORT"},
	"chain.contract_address": {"APP_CHAIN_CONTRACT_ADDRESS", "CONTRACT_ADDRESS"},
	"chain.chain_id":         {"APP_CHAIN_CHAIN_ID", "NETWORK_ID"},
	"chain.private_key":      {"APP_CHAIN_PRIVATE_KEY", "SIGNER_PRIVATE_KEY"},
	"auth.jwt_secret":        {"APP_AUTH_JWT_SECRET", "JWT_SECRET"},
}

// Load 加载配置,支持 .env、配置文件和环境变量
func Load(configPath string) (*Config, error) {
	// .env 不存在时忽略，已存在的环境变量不会被覆盖
	_ = godotenv.Load()

	v := newViper()

	// 如果提供了配置文件路径,从文件加载
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		// 尝试从默认位置加载
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.moneylens")
		// 忽略配置文件不存在的错误,使用默认值
		_ = v.ReadInConfig()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// newViper 创建带默认值与环境变量绑定的 viper 实例
func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		_ = v.BindEnv(append([]string{key}, names...)...)
	}
	return v
}

// IsProduction 判断是否为生产环境
func IsProduction(cfg *Config) bool {
	if cfg == nil {
		return false
	}
	return cfg.Env == "production"
}

// Default 返回默认配置
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate 校验配置
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	var errs []error
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port %d", cfg.Server.Port))
	}

	switch cfg.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver))
	}

	switch cfg.Chain.Mode {
	case "rpc", "memory":
	default:
		errs = append(errs, fmt.Errorf("unsupported chain mode %q", cfg.Chain.Mode))
	}
	if !common.IsHexAddress(cfg.Chain.ContractAddress) {
		errs = append(errs, fmt.Errorf("invalid contract address %q", cfg.Chain.ContractAddress))
	}
	if cfg.Chain.CallTimeout <= 0 || cfg.Chain.WriteTimeout <= 0 {
		errs = append(errs, errors.New("chain timeouts must be positive"))
	}
	if cfg.Chain.MaxRetries < 0 {
		errs = append(errs, errors.New("chain max_retries must not be negative"))
	}

	if cfg.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth token_ttl must be positive"))
	}
	if IsProduction(cfg) && cfg.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth jwt_secret is required in production"))
	}

	if cfg.Anchor.Enabled && (cfg.Anchor.PollInterval <= 0 || cfg.Anchor.MaxAttempts <= 0) {
		errs = append(errs, errors.New("anchor poll_interval and max_attempts must be positive"))
	}

	return errors.Join(errs...)
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	// 环境变量
	env := v.GetString("env")
	if env == "" {
		env = os.Getenv("APP_ENV")
		if env == "" {
			env = "development"
		}
	}
	v.SetDefault("env", env)

	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3001)

	// 数据库默认配置
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.path", "moneylens.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "moneylens")
	v.SetDefault("database.sslmode", "disable")

	// 数据库连接池配置（根据环境设置默认值）
	if env == "production" {
		v.SetDefault("database.max_idle_conns", 20)
		v.SetDefault("database.max_open_conns", 200)
		v.SetDefault("database.conn_max_lifetime", 3600) // 1 小时
		v.SetDefault("database.conn_max_idle_time", 300) // 5 分钟
	} else {
		v.SetDefault("database.max_idle_conns", 10)
		v.SetDefault("database.max_open_conns", 100)
		v.SetDefault("database.conn_max_lifetime", 3600) // 1 小时
		v.SetDefault("database.conn_max_idle_time", 600) // 10 分钟
	}

	// 链上默认配置
	v.SetDefault("chain.host", "localhost")
	v.SetDefault("chain.port", 8545)
	v.SetDefault("chain.url", "")
	v.SetDefault("chain.contract_address", DefaultContractAddress)
	v.SetDefault("chain.chain_id", 0)
	v.SetDefault("chain.private_key", "")
	v.SetDefault("chain.mode", "rpc")
	v.SetDefault("chain.call_timeout", 10*time.Second)
	v.SetDefault("chain.write_timeout", 60*time.Second)
	v.SetDefault("chain.max_retries", 3)
	v.SetDefault("chain.retry_base_delay", 200*time.Millisecond)
	v.SetDefault("chain.receipt_poll_interval", 500*time.Millisecond)

	// 认证默认配置
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	// Redis 默认配置
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// 锚定默认配置
	v.SetDefault("anchor.enabled", true)
	v.SetDefault("anchor.poll_interval", 2*time.Second)
	v.SetDefault("anchor.batch_size", 10)
	v.SetDefault("anchor.max_attempts", 5)

	v.SetDefault("currency.canonical", "USD")

	// 限流默认配置
	v.SetDefault("rate_limit.rps", 50)
	v.SetDefault("rate_limit.burst", 100)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.jaeger_endpoint", "")

	// CORS 默认配置
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Content-Type", "Authorization", "X-Request-ID"})
	v.SetDefault("cors.max_age", 86400)

	// 日志配置（根据环境设置默认值）
	if env == "production" {
		v.SetDefault("log.level", "warn")
		v.SetDefault("log.format", "json")
	} else {
		v.SetDefault("log.level", "debug")
		v.SetDefault("log.format", "text")
	}
	v.SetDefault("log.output", "stdout")
}

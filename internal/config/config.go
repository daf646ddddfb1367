package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const defaultJWTSecret = "change-me-in-production"

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host         string        // 监听地址，默认 "0.0.0.0"
	Port         int           // 监听端口，默认 8080
	ReadTimeout  time.Duration // 读取超时，默认 15 秒
	WriteTimeout time.Duration // 写入超时，默认 15 秒
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 彩色输出，错误响应携带详细信息
	File        string // 日志文件路径，留空只输出到标准输出
	MaxSizeMB   int    // 单个日志文件最大体积
	MaxBackups  int    // 保留的旧日志文件数量
	MaxAgeDays  int    // 旧日志保留天数
	Compress    bool   // 是否压缩旧日志
}

// DatabaseConfig 定义数据库连接配置
type DatabaseConfig struct {
	Type            string        // 数据库类型: "memory"、"postgres"、"mysql" 或 "sqlite"
	Driver          string        // 访问方式: "gorm" 或 "sqlx"（sqlite 固定使用 sqlx）
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 缓存服务配置
type RedisConfig struct {
	Enabled  bool          // 是否启用 Redis
	Address  string        // Redis 服务地址，格式 "host:port"
	Password string        // Redis 认证密码，留空表示无密码
	DB       int           // Redis 数据库编号
	KeyTTL   time.Duration // 访问密钥查询缓存有效期
}

// JWTConfig 定义管理员会话令牌配置
type JWTConfig struct {
	Secret string        // 签名密钥，至少 32 字符
	Issuer string        // 签发者标识
	Expiry time.Duration // 令牌有效期，默认 24 小时
}

// AdminConfig 管理员账号
type AdminConfig struct {
	Username     string // 管理员用户名
	PasswordHash string // bcrypt 密码哈希，可用 labelctl admin hash-password 生成
}

// KeysConfig 访问密钥生成配置
type KeysConfig struct {
	SuffixLength int  // 随机后缀长度，至少 8
	SeedDemo     bool // 启动时写入演示密钥
}

// BarcodesConfig 条码池配置
type BarcodesConfig struct {
	LowWatermark   int   // 可用条码低于等于该值时触发告警
	MaxImportBytes int64 // 批量导入请求体上限
}

// RateLimitConfig 终端用户接口限流
type RateLimitConfig struct {
	ValidationsPerMinute int // 每个 IP 每分钟允许的密钥校验次数
	LabelsPerMinute      int // 每个 IP 每分钟允许的标签生成与条码分配次数
}

// AlertConfig 告警通知配置
type AlertConfig struct {
	Enabled      bool
	SMTPAddr     string // SMTP 服务器地址，留空表示只写日志
	SMTPUsername string
	SMTPPassword string
	From         string
	To           []string
}

// Config 是系统配置的根结构体
type Config struct {
	Server    ServerConfig
	CORS      CORSConfig
	Log       LogConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Admin     AdminConfig
	Keys      KeysConfig
	Barcodes  BarcodesConfig
	RateLimit RateLimitConfig
	Alert     AlertConfig
}

// Load 从环境变量、.env 文件和可选的 config.yaml 加载配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量
//  2. .env 文件
//  3. config.yaml
//  4. 默认值
//
// 环境变量前缀: LABELGATE_，例如 LABELGATE_SERVER_PORT, LABELGATE_JWT_SECRET
func Load() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := cfg.validateSecrets(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadForTools 加载配置但不校验 JWT 密钥，供迁移和命令行工具使用
func LoadForTools() (*Config, error) {
	return load()
}

func load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/labelgate")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix("labelgate")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	corsOrigins := parseList(v.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:         v.GetString("server.host"),
			Port:         v.GetInt("server.port"),
			ReadTimeout:  durationOr(v.GetString("server.read_timeout"), 15*time.Second),
			WriteTimeout: durationOr(v.GetString("server.write_timeout"), 15*time.Second),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
			MaxSizeMB:   v.GetInt("log.max_size_mb"),
			MaxBackups:  v.GetInt("log.max_backups"),
			MaxAgeDays:  v.GetInt("log.max_age_days"),
			Compress:    v.GetBool("log.compress"),
		},
		Database: DatabaseConfig{
			Type:            strings.ToLower(v.GetString("database.type")),
			Driver:          strings.ToLower(v.GetString("database.driver")),
			DSN:             v.GetString("database.dsn"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: durationOr(v.GetString("database.conn_max_lifetime"), 5*time.Minute),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			KeyTTL:   durationOr(v.GetString("redis.key_ttl"), 30*time.Second),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
			Issuer: v.GetString("jwt.issuer"),
			Expiry: durationOr(v.GetString("jwt.expiry"), 24*time.Hour),
		},
		Admin: AdminConfig{
			Username:     v.GetString("admin.username"),
			PasswordHash: v.GetString("admin.password_hash"),
		},
		Keys: KeysConfig{
			SuffixLength: v.GetInt("keys.suffix_length"),
			SeedDemo:     v.GetBool("keys.seed_demo"),
		},
		Barcodes: BarcodesConfig{
			LowWatermark:   v.GetInt("barcodes.low_watermark"),
			MaxImportBytes: v.GetInt64("barcodes.max_import_bytes"),
		},
		RateLimit: RateLimitConfig{
			ValidationsPerMinute: v.GetInt("ratelimit.validations_per_minute"),
			LabelsPerMinute:      v.GetInt("ratelimit.labels_per_minute"),
		},
		Alert: AlertConfig{
			Enabled:      v.GetBool("alert.enabled"),
			SMTPAddr:     v.GetString("alert.smtp_addr"),
			SMTPUsername: v.GetString("alert.smtp_username"),
			SMTPPassword: v.GetString("alert.smtp_password"),
			From:         v.GetString("alert.from"),
			To:           parseList(v.GetString("alert.to")),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("cors.allowed_origins", "*")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("database.type", "memory")
	v.SetDefault("database.driver", "gorm")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_ttl", "30s")
	v.SetDefault("jwt.secret", defaultJWTSecret)
	v.SetDefault("jwt.issuer", "labelgate")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("admin.username", "admin")
	v.SetDefault("admin.password_hash", "")
	v.SetDefault("keys.suffix_length", 8)
	v.SetDefault("keys.seed_demo", false)
	v.SetDefault("barcodes.low_watermark", 10)
	v.SetDefault("barcodes.max_import_bytes", 5<<20)
	v.SetDefault("ratelimit.validations_per_minute", 30)
	v.SetDefault("ratelimit.labels_per_minute", 60)
	v.SetDefault("alert.enabled", true)
	v.SetDefault("alert.smtp_addr", "")
	v.SetDefault("alert.from", "labelgate@localhost")
	v.SetDefault("alert.to", "")
}

func (c *Config) validateSecrets() error {
	// 安全检查：禁止使用默认的 JWT secret
	if c.JWT.Secret == defaultJWTSecret {
		return fmt.Errorf("SECURITY ERROR: JWT secret cannot be the default value. Please set LABELGATE_JWT_SECRET environment variable")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("SECURITY ERROR: JWT secret must be at least 32 characters long")
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Database.Type {
	case "", "memory":
		c.Database.Type = "memory"
	case "postgres", "mysql", "sqlite":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for %s", c.Database.Type)
		}
	default:
		return fmt.Errorf("unsupported database.type %q", c.Database.Type)
	}

	switch c.Database.Driver {
	case "", "gorm":
		c.Database.Driver = "gorm"
	case "sqlx":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	if c.Database.Type == "sqlite" {
		c.Database.Driver = "sqlx"
	}

	if c.Keys.SuffixLength < 8 {
		return fmt.Errorf("keys.suffix_length must be at least 8")
	}
	if c.RateLimit.ValidationsPerMinute <= 0 {
		c.RateLimit.ValidationsPerMinute = 30
	}
	if c.RateLimit.LabelsPerMinute <= 0 {
		c.RateLimit.LabelsPerMinute = 60
	}
	if c.Barcodes.MaxImportBytes <= 0 {
		c.Barcodes.MaxImportBytes = 5 << 20
	}
	return nil
}

// Addr 返回 HTTP 监听地址
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

func durationOr(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// loadEnvFile 尝试加载 .env 文件
//
// 注意：
//   - 文件不存在时静默忽略
//   - 已存在的环境变量不会被覆盖
func loadEnvFile() {
	_ = godotenv.Load(".env.local")
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}

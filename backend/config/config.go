package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用全局配置结构体
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"db"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       LogConfig       `mapstructure:"log"`
	Claim     ClaimConfig     `mapstructure:"claim"`
	Vault     VaultConfig     `mapstructure:"vault"`
	S3        S3Config        `mapstructure:"s3"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port         int        `mapstructure:"port"`
	MaxBodyBytes int64      `mapstructure:"max_body_bytes"`
	CORS         CORSConfig `mapstructure:"cors"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// DatabaseConfig PostgreSQL 数据库配置
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"sslmode"`
	Timezone        string `mapstructure:"timezone"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`  // 连接最大生命周期（分钟）
	ConnMaxIdleTime int    `mapstructure:"conn_max_idle_time"` // 空闲连接最大存活时间（分钟）
}

// DSN 生成 PostgreSQL 连接字符串
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode, c.Timezone,
	)
}

// RedisConfig Redis 配置；Addr 为空时不连接
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig 上游签发的 JWT 校验配置
type AuthConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	Issuer         string        `mapstructure:"issuer"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ClaimConfig 报销单业务规则
// 提交与核验两套边界并存，分别配置，不互相推导
type ClaimConfig struct {
	MonthlyHourCap    float64            `mapstructure:"monthly_hour_cap"`
	MaxApprovalAmount float64            `mapstructure:"max_approval_amount"`
	CommentMaxLength  int                `mapstructure:"comment_max_length"`
	Submission        BoundsConfig       `mapstructure:"submission"`
	Verification      VerificationConfig `mapstructure:"verification"`
}

// BoundsConfig 工时与时薪的闭区间
type BoundsConfig struct {
	MinHours float64 `mapstructure:"min_hours"`
	MaxHours float64 `mapstructure:"max_hours"`
	MinRate  float64 `mapstructure:"min_rate"`
	MaxRate  float64 `mapstructure:"max_rate"`
}

// VerificationConfig 自动核验规则链参数
type VerificationConfig struct {
	BoundsConfig         `mapstructure:",squash"`
	MaxSubmissionLagDays int `mapstructure:"max_submission_lag_days"`
}

// VaultConfig 加密文档库配置
type VaultConfig struct {
	Backend           string        `mapstructure:"backend"` // local | s3
	Root              string        `mapstructure:"root"`
	Key               string        `mapstructure:"key"` // base64, 32 字节
	IV                string        `mapstructure:"iv"`  // base64, 16 字节
	KeyFile           string        `mapstructure:"key_file"`
	IVMode            string        `mapstructure:"iv_mode"` // per_file | fixed
	MaxFileSize       int64         `mapstructure:"max_file_size"`
	AllowedExtensions []string      `mapstructure:"allowed_extensions"`
	OperationTimeout  time.Duration `mapstructure:"operation_timeout"`
	CipherWorkers     int64         `mapstructure:"cipher_workers"`
}

// S3Config vault.backend=s3 时使用
type S3Config struct {
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	Endpoint string `mapstructure:"endpoint"` // 例如 LocalStack
}

// BreakerConfig 上传熔断配置
type BreakerConfig struct {
	Backend    string        `mapstructure:"backend"` // memory | redis
	Threshold  int           `mapstructure:"threshold"`
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
}

// TelemetryConfig OpenTelemetry 追踪；Endpoint 为空时不导出
type TelemetryConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// Load 从配置文件与环境变量加载配置
// 优先级：环境变量 > 配置文件 > 默认值
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// ── 配置文件 ──
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// ── 环境变量 ──
	v.SetEnvPrefix("CCMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_body_bytes", 64<<20)
	v.SetDefault("server.cors.allow_origins", []string{"http://localhost:5173"})

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "ccms")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.timezone", "Africa/Johannesburg")
	v.SetDefault("db.max_open_conns", 25)
	v.SetDefault("db.max_idle_conns", 10)
	v.SetDefault("db.conn_max_lifetime", 60)
	v.SetDefault("db.conn_max_idle_time", 30)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "ccms")
	v.SetDefault("auth.access_token_ttl", "15m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("claim.monthly_hour_cap", 180)
	v.SetDefault("claim.max_approval_amount", 100000)
	v.SetDefault("claim.comment_max_length", 1000)
	v.SetDefault("claim.submission.min_hours", 0.5)
	v.SetDefault("claim.submission.max_hours", 200)
	v.SetDefault("claim.submission.min_rate", 100)
	v.SetDefault("claim.submission.max_rate", 10000)
	v.SetDefault("claim.verification.min_hours", 0.5)
	v.SetDefault("claim.verification.max_hours", 160)
	v.SetDefault("claim.verification.min_rate", 100)
	v.SetDefault("claim.verification.max_rate", 10000)
	v.SetDefault("claim.verification.max_submission_lag_days", 30)

	v.SetDefault("vault.backend", "local")
	v.SetDefault("vault.root", "./data")
	v.SetDefault("vault.key", "")
	v.SetDefault("vault.iv", "")
	v.SetDefault("vault.key_file", "./data/vault.key")
	v.SetDefault("vault.iv_mode", "per_file")
	v.SetDefault("vault.max_file_size", 10<<20)
	v.SetDefault("vault.allowed_extensions", []string{".pdf", ".docx", ".xlsx", ".doc", ".xls"})
	v.SetDefault("vault.operation_timeout", "30s")
	v.SetDefault("vault.cipher_workers", 4)

	v.SetDefault("s3.region", "af-south-1")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.prefix", "")
	v.SetDefault("s3.endpoint", "")

	v.SetDefault("breaker.backend", "memory")
	v.SetDefault("breaker.threshold", 3)
	v.SetDefault("breaker.ttl", "30m")
	v.SetDefault("breaker.max_entries", 10000)

	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.service_name", "ccms")
}

// Validate 校验关键配置项
func (c *Config) Validate() error {
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("配置校验失败: auth.jwt_secret 长度不能少于 16 字符")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("配置校验失败: server.port 必须在 1-65535 之间")
	}
	if err := c.Claim.Submission.validate("claim.submission"); err != nil {
		return err
	}
	if err := c.Claim.Verification.validate("claim.verification"); err != nil {
		return err
	}
	if c.Claim.MonthlyHourCap <= 0 {
		return fmt.Errorf("配置校验失败: claim.monthly_hour_cap 必须大于 0")
	}
	if c.Claim.Verification.MaxSubmissionLagDays < 0 {
		return fmt.Errorf("配置校验失败: claim.verification.max_submission_lag_days 不能为负")
	}
	switch c.Vault.IVMode {
	case "per_file", "fixed":
	default:
		return fmt.Errorf("配置校验失败: vault.iv_mode 只能是 per_file 或 fixed")
	}
	switch c.Vault.Backend {
	case "local":
	case "s3":
		if c.S3.Bucket == "" {
			return fmt.Errorf("配置校验失败: vault.backend=s3 时 s3.bucket 不能为空")
		}
	default:
		return fmt.Errorf("配置校验失败: vault.backend 只能是 local 或 s3")
	}
	if err := checkBase64Len("vault.key", c.Vault.Key, 32); err != nil {
		return err
	}
	if err := checkBase64Len("vault.iv", c.Vault.IV, 16); err != nil {
		return err
	}
	if c.Vault.MaxFileSize <= 0 {
		return fmt.Errorf("配置校验失败: vault.max_file_size 必须大于 0")
	}
	if c.Breaker.Threshold <= 0 {
		return fmt.Errorf("配置校验失败: breaker.threshold 必须大于 0")
	}
	if c.Breaker.Backend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("配置校验失败: breaker.backend=redis 时 redis.addr 不能为空")
	}
	return nil
}

func (b BoundsConfig) validate(prefix string) error {
	if b.MinHours <= 0 || b.MaxHours < b.MinHours {
		return fmt.Errorf("配置校验失败: %s 工时区间无效 [%v, %v]", prefix, b.MinHours, b.MaxHours)
	}
	if b.MinRate <= 0 || b.MaxRate < b.MinRate {
		return fmt.Errorf("配置校验失败: %s 时薪区间无效 [%v, %v]", prefix, b.MinRate, b.MaxRate)
	}
	return nil
}

// checkBase64Len 空值放行（首次运行时生成），非空时必须能解码为指定长度
func checkBase64Len(name, value string, want int) error {
	if value == "" {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return fmt.Errorf("配置校验失败: %s 不是合法的 base64: %w", name, err)
	}
	if len(raw) != want {
		return fmt.Errorf("配置校验失败: %s 长度应为 %d 字节，实际 %d", name, want, len(raw))
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/freight-next/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Order     OrderConfig     `mapstructure:"order"`
	Payout    PayoutConfig    `mapstructure:"payout"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Payment   PaymentConfig   `mapstructure:"payment"`
}

// ServerConfig 进程配置
type ServerConfig struct {
	Mode string `mapstructure:"mode"` // debug / release
}

// LogConfig 日志配置
type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ToLoggerOptions 转换为 logger 配置
func (c LogConfig) ToLoggerOptions() logger.Options {
	return logger.Options{
		Dir:        c.Dir,
		Filename:   c.Filename,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

// DatabasePoolConfig 数据库连接池配置
type DatabasePoolConfig struct {
	MaxOpenConns           int `mapstructure:"max_open_conns"`
	MaxIdleConns           int `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int `mapstructure:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int `mapstructure:"conn_max_idle_time_seconds"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver string             `mapstructure:"driver"` // sqlite / postgres
	DSN    string             `mapstructure:"dsn"`
	Pool   DatabasePoolConfig `mapstructure:"pool"`
}

// RedisConfig Redis 配置（调度锁）
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// QueueConfig 异步队列配置
type QueueConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	Host        string         `mapstructure:"host"`
	Port        int            `mapstructure:"port"`
	Password    string         `mapstructure:"password"`
	DB          int            `mapstructure:"db"`
	Concurrency int            `mapstructure:"concurrency"`
	Queues      map[string]int `mapstructure:"queues"`
}

// OrderConfig 订单结算配置
type OrderConfig struct {
	Currency        string  `mapstructure:"currency"`
	PlatformFeeRate float64 `mapstructure:"platform_fee_rate"` // 百分比
	TaxRate         float64 `mapstructure:"tax_rate"`          // 百分比
	// CancellationPenalties 取消时按订单状态扣除的违约金百分比
	CancellationPenalties map[string]float64 `mapstructure:"cancellation_penalties"`
	OverdueSelectedHours  int                `mapstructure:"overdue_selected_hours"`
	OverdueTransitHours   int                `mapstructure:"overdue_transit_hours"`
}

// PayoutConfig 司机结算配置
type PayoutConfig struct {
	Threshold            string `mapstructure:"threshold"`
	Currency             string `mapstructure:"currency"`
	RetryLookbackDays    int    `mapstructure:"retry_lookback_days"`
	Concurrency          int    `mapstructure:"concurrency"`
	InFlightGraceMinutes int    `mapstructure:"in_flight_grace_minutes"`
}

// SchedulerConfig 定时任务配置
type SchedulerConfig struct {
	Enabled                bool              `mapstructure:"enabled"`
	TickSeconds            int               `mapstructure:"tick_seconds"`
	FailureCooldownSeconds int               `mapstructure:"failure_cooldown_seconds"`
	LockTTLSeconds         int               `mapstructure:"lock_ttl_seconds"`
	Jobs                   map[string]string `mapstructure:"jobs"` // 任务名 -> cron 表达式（UTC）
}

// PaymentConfig 外部支付通道配置
type PaymentConfig struct {
	Provider string       `mapstructure:"provider"` // noop / stripe
	Stripe   StripeConfig `mapstructure:"stripe"`
}

// StripeConfig Stripe 配置
type StripeConfig struct {
	SecretKey string `mapstructure:"secret_key"`
	APIBase   string `mapstructure:"api_base"`
	TimeoutMS int    `mapstructure:"timeout_ms"`
}

// Load 从 .env 与 config.yml 加载配置
func Load() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warnw("dotenv_load_failed", "error", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../")
	viper.AddConfigPath("./etc")

	setDefaults(viper.GetViper())

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // payout.threshold -> PAYOUT_THRESHOLD

	if err := viper.ReadInConfig(); err != nil {
		logger.Warnw("config_file_read_failed",
			"error", err,
			"fallback", "env_or_defaults",
		)
	} else {
		logger.Infow("config_file_loaded", "file", viper.ConfigFileUsed())
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		logger.Errorw("config_unmarshal_failed", "error", err)
		panic(fmt.Errorf("配置解析失败: %w", err))
	}
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.mode", "debug")
	v.SetDefault("log.dir", "")
	v.SetDefault("log.filename", "freight.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./db/freight.db")
	v.SetDefault("database.pool.max_open_conns", 1)
	v.SetDefault("database.pool.max_idle_conns", 1)
	v.SetDefault("database.pool.conn_max_lifetime_seconds", 0)
	v.SetDefault("database.pool.conn_max_idle_time_seconds", 0)
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "freight")
	v.SetDefault("queue.enabled", true)
	v.SetDefault("queue.host", "127.0.0.1")
	v.SetDefault("queue.port", 6379)
	v.SetDefault("queue.password", "")
	v.SetDefault("queue.db", 1)
	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.queues", map[string]int{
		"default":  10,
		"critical": 5,
	})
	v.SetDefault("order.currency", "USD")
	v.SetDefault("order.platform_fee_rate", 10.0)
	v.SetDefault("order.tax_rate", 0.0)
	v.SetDefault("order.cancellation_penalties", DefaultCancellationPenalties())
	v.SetDefault("order.overdue_selected_hours", 48)
	v.SetDefault("order.overdue_transit_hours", 72)
	v.SetDefault("payout.threshold", "50.00")
	v.SetDefault("payout.currency", "USD")
	v.SetDefault("payout.retry_lookback_days", 7)
	v.SetDefault("payout.concurrency", 4)
	v.SetDefault("payout.in_flight_grace_minutes", 30)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.tick_seconds", 60)
	v.SetDefault("scheduler.failure_cooldown_seconds", 300)
	v.SetDefault("scheduler.lock_ttl_seconds", 1800)
	v.SetDefault("scheduler.jobs", DefaultJobSpecs())
	v.SetDefault("payment.provider", "noop")
	v.SetDefault("payment.stripe.secret_key", "")
	v.SetDefault("payment.stripe.api_base", "https://api.stripe.com")
	v.SetDefault("payment.stripe.timeout_ms", 10000)
}

// DefaultCancellationPenalties 默认违约金比例（按取消时订单状态）
func DefaultCancellationPenalties() map[string]float64 {
	return map[string]float64{
		"draft":               0,
		"open":                0,
		"driver_selected":     0,
		"driver_acknowledged": 10,
		"ready_for_pickup":    20,
		"in_transit":          50,
	}
}

// DefaultJobSpecs 默认定时任务 cron 表达式
func DefaultJobSpecs() map[string]string {
	return map[string]string{
		"settlement":   "0 2 * * 5",
		"projections":  "30 0 * * *",
		"payout_retry": "0 3 * * *",
	}
}

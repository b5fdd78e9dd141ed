package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Lock     LockConfig     `mapstructure:"lock"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Rewards  RewardsConfig  `mapstructure:"rewards"`
	Gamble   GambleConfig   `mapstructure:"gamble"`
	Business BusinessConfig `mapstructure:"business"`
	Backup   BackupConfig   `mapstructure:"backup"`
}

type ServerConfig struct {
	Port       int    `mapstructure:"port"`
	AdminToken string `mapstructure:"admin_token"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// DatabaseConfig 数据库配置，driver 为 mysql 或 sqlite
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	Path         string `mapstructure:"path"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogLevel     string `mapstructure:"log_level"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	Events string `mapstructure:"events"`
	Backup string `mapstructure:"backup"`
}

// LockConfig 用户维度串行化配置，driver 为 local 或 redis
type LockConfig struct {
	Driver        string        `mapstructure:"driver"`
	TTL           time.Duration `mapstructure:"ttl"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	MaxRetries    int           `mapstructure:"max_retries"`
}

type LedgerConfig struct {
	DefaultStartingBalance int64         `mapstructure:"default_starting_balance"`
	ResetLifetimeCounters  bool          `mapstructure:"reset_lifetime_counters"`
	OperationTimeout       time.Duration `mapstructure:"operation_timeout"`
}

type RewardsConfig struct {
	ChatRewardPerCharacter int64 `mapstructure:"chat_reward_per_character"`
	VoiceRewardPerMinute   int64 `mapstructure:"voice_reward_per_minute"`
}

type GambleConfig struct {
	ProbabilityLevel int    `mapstructure:"probability_level"`
	ProfileScope     string `mapstructure:"profile_scope"`
}

type BusinessConfig struct {
	OutboxInterval  time.Duration `mapstructure:"outbox_interval"`
	OutboxBatchSize int           `mapstructure:"outbox_batch_size"`
	MaxRetryCount   int           `mapstructure:"max_retry_count"`
}

type BackupConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Hour    int    `mapstructure:"hour"`
	Dir     string `mapstructure:"dir"`
}

// Default 返回全部默认值组成的配置
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		panic(fmt.Sprintf("解析默认配置失败: %v", err))
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "raruin.db")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.port", 6379)

	v.SetDefault("kafka.topic.events", "raruin.ledger.events")
	v.SetDefault("kafka.topic.backup", "raruin.ledger.backup")

	v.SetDefault("lock.driver", "local")
	v.SetDefault("lock.ttl", 10*time.Second)
	v.SetDefault("lock.retry_interval", 50*time.Millisecond)
	v.SetDefault("lock.max_retries", 100)

	v.SetDefault("ledger.default_starting_balance", 1000)
	v.SetDefault("ledger.reset_lifetime_counters", true)
	v.SetDefault("ledger.operation_timeout", 5*time.Second)

	v.SetDefault("rewards.chat_reward_per_character", 1)
	v.SetDefault("rewards.voice_reward_per_minute", 30)

	v.SetDefault("gamble.probability_level", 3)
	v.SetDefault("gamble.profile_scope", "global")

	v.SetDefault("business.outbox_interval", 500*time.Millisecond)
	v.SetDefault("business.outbox_batch_size", 100)
	v.SetDefault("business.max_retry_count", 5)

	v.SetDefault("backup.hour", 0)
	v.SetDefault("backup.dir", "backups")
}

// LoadConfig 加载配置文件，环境变量 RARUIN_* 覆盖文件中的值
//
// configPath 为空时只使用默认值和环境变量
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RARUIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置取值范围
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("不支持的数据库驱动: %q", c.Database.Driver)
	}
	switch c.Lock.Driver {
	case "local":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("lock.driver=redis 需要开启 redis.enabled")
		}
	default:
		return fmt.Errorf("不支持的锁驱动: %q", c.Lock.Driver)
	}
	if c.Ledger.DefaultStartingBalance < 0 {
		return fmt.Errorf("ledger.default_starting_balance 不能为负数: %d", c.Ledger.DefaultStartingBalance)
	}
	if c.Ledger.OperationTimeout <= 0 {
		return fmt.Errorf("ledger.operation_timeout 必须大于0")
	}
	if c.Rewards.ChatRewardPerCharacter < 0 || c.Rewards.VoiceRewardPerMinute < 0 {
		return fmt.Errorf("rewards 配置不能为负数")
	}
	if c.Gamble.ProbabilityLevel < 1 || c.Gamble.ProbabilityLevel > 6 {
		return fmt.Errorf("gamble.probability_level 必须在 1-6 之间, 当前: %d", c.Gamble.ProbabilityLevel)
	}
	if c.Backup.Hour < 0 || c.Backup.Hour > 23 {
		return fmt.Errorf("backup.hour 必须在 0-23 之间, 当前: %d", c.Backup.Hour)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.enabled 需要至少一个 broker")
	}
	return nil
}

// Warnings 能启动但不生效的配置组合
func (c *Config) Warnings() []string {
	var warnings []string
	// 目前只有 redis 锁会用到 Redis
	if c.Redis.Enabled && c.Lock.Driver != "redis" {
		warnings = append(warnings, fmt.Sprintf("redis.enabled 已开启但 lock.driver=%s，不会连接 Redis", c.Lock.Driver))
	}
	return warnings
}

// 文件: pkg/config/config.go
// 配置加载 (viper)
//
// 【来源优先级】
// 环境变量 PERPVAULT_* > YAML 文件 > 默认值
// 例: PERPVAULT_VAULT_MAX_FUNDING_VELOCITY=0.05
//
// 金额和比例一律写成小数字符串 ("0.03")，加载后转成 1e18 定点数

package config

import (
	"fmt"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/spf13/viper"

	"max.com/perpvault/pkg/fixedpoint"
	"max.com/perpvault/pkg/liquidation"
	"max.com/perpvault/pkg/order"
	"max.com/perpvault/pkg/perp"
	"max.com/perpvault/pkg/vault"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "PERPVAULT"

// Config 全部配置
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Vault       VaultConfig       `mapstructure:"vault"`
	Order       OrderConfig       `mapstructure:"order"`
	Liquidation LiquidationConfig `mapstructure:"liquidation"`
	Stable      StableConfig      `mapstructure:"stable"`
	Nats        NatsConfig        `mapstructure:"nats"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	MySQL       MySQLConfig       `mapstructure:"mysql"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
	NodeID   int64  `mapstructure:"node_id"` // snowflake 节点
}

type VaultConfig struct {
	MaxFundingVelocity string `mapstructure:"max_funding_velocity"`
	MaxSkewVelocity    string `mapstructure:"max_skew_velocity"`
	LiquidityCap       string `mapstructure:"liquidity_cap"`
	SkewFractionMax    string `mapstructure:"skew_fraction_max"`
}

type OrderConfig struct {
	MinExecutabilityAge time.Duration `mapstructure:"min_executability_age"`
	MaxExecutabilityAge time.Duration `mapstructure:"max_executability_age"`
	MinDeposit          string        `mapstructure:"min_deposit"` // 抵押品最小单位，整数
	MinKeeperFee        string        `mapstructure:"min_keeper_fee"`
}

type LiquidationConfig struct {
	FeeRatio      string `mapstructure:"fee_ratio"`
	BufferRatio   string `mapstructure:"buffer_ratio"`
	FeeLowerBound string `mapstructure:"fee_lower_bound"`
	FeeUpperBound string `mapstructure:"fee_upper_bound"`
}

type StableConfig struct {
	WithdrawFee string `mapstructure:"withdraw_fee"`
}

type NatsConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// MySQLConfig 事件审计库，未启用时使用内存 SQLite
type MySQLConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// RedisConfig 价格源
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Market   string `mapstructure:"market"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Namespace string `mapstructure:"namespace"`
}

// =============================================================================
// 加载
// =============================================================================

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "perpvault")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.node_id", 1)

	v.SetDefault("vault.max_funding_velocity", "0.03")
	v.SetDefault("vault.max_skew_velocity", "0.1")
	v.SetDefault("vault.liquidity_cap", "1000000")
	v.SetDefault("vault.skew_fraction_max", "1.2")

	v.SetDefault("order.min_executability_age", 10*time.Second)
	v.SetDefault("order.max_executability_age", 60*time.Second)
	v.SetDefault("order.min_deposit", "1000000")
	v.SetDefault("order.min_keeper_fee", "0.001")

	v.SetDefault("liquidation.fee_ratio", "0.005")
	v.SetDefault("liquidation.buffer_ratio", "0.005")
	v.SetDefault("liquidation.fee_lower_bound", "1")
	v.SetDefault("liquidation.fee_upper_bound", "100")

	v.SetDefault("stable.withdraw_fee", "0.005")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.subject_prefix", "perpvault.events")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic", "perpvault.events")

	v.SetDefault("mysql.enabled", false)
	v.SetDefault("mysql.dsn", "root:123456@tcp(127.0.0.1:3306)/perpvault?charset=utf8mb4&parseTime=True&loc=Local")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.market", "ETH-USD")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9100")
	v.SetDefault("metrics.namespace", "perpvault")
}

// Load 读取配置，path 为空时只用默认值和环境变量
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// =============================================================================
// 转换为模块参数
// =============================================================================

// VaultParams 金库参数
func (c *Config) VaultParams() (vault.Params, error) {
	var p vault.Params
	err := parseAll(
		field{"vault.max_funding_velocity", c.Vault.MaxFundingVelocity, &p.MaxFundingVelocity},
		field{"vault.max_skew_velocity", c.Vault.MaxSkewVelocity, &p.MaxSkewVelocity},
		field{"vault.liquidity_cap", c.Vault.LiquidityCap, &p.LpTotalDepositedLiquidityCap},
		field{"vault.skew_fraction_max", c.Vault.SkewFractionMax, &p.SkewFractionMax},
	)
	if err != nil {
		return vault.Params{}, err
	}
	return p, p.Validate()
}

// OrderConfig 延迟订单参数
func (c *Config) OrderConfig() (order.Config, error) {
	minDeposit, ok := sdkmath.NewIntFromString(c.Order.MinDeposit)
	if !ok || minDeposit.IsNegative() {
		return order.Config{}, fmt.Errorf("order.min_deposit: invalid integer %q", c.Order.MinDeposit)
	}
	return order.Config{
		MinExecutabilityAge: c.Order.MinExecutabilityAge,
		MaxExecutabilityAge: c.Order.MaxExecutabilityAge,
		MinDeposit:          minDeposit,
	}, nil
}

// MinKeeperFee keeper 费下限
func (c *Config) MinKeeperFee() (sdkmath.Int, error) {
	var fee sdkmath.Int
	err := parseAll(field{"order.min_keeper_fee", c.Order.MinKeeperFee, &fee})
	return fee, err
}

// LiquidationParams 强平参数
func (c *Config) LiquidationParams() (perp.LiquidationParams, error) {
	var p perp.LiquidationParams
	err := parseAll(
		field{"liquidation.fee_ratio", c.Liquidation.FeeRatio, &p.FeeRatio},
		field{"liquidation.buffer_ratio", c.Liquidation.BufferRatio, &p.BufferRatio},
		field{"liquidation.fee_lower_bound", c.Liquidation.FeeLowerBound, &p.FeeLowerBound},
		field{"liquidation.fee_upper_bound", c.Liquidation.FeeUpperBound, &p.FeeUpperBound},
	)
	if err != nil {
		return perp.LiquidationParams{}, err
	}
	if p.FeeLowerBound.GTE(p.FeeUpperBound) {
		return perp.LiquidationParams{}, fmt.Errorf("liquidation fee bounds: %w", liquidation.ErrInvalidBounds)
	}
	return p, nil
}

// WithdrawFee LP 提取费率
func (c *Config) WithdrawFee() (sdkmath.Int, error) {
	var fee sdkmath.Int
	err := parseAll(field{"stable.withdraw_fee", c.Stable.WithdrawFee, &fee})
	return fee, err
}

type field struct {
	key string
	raw string
	dst *sdkmath.Int
}

func parseAll(fields ...field) error {
	for _, f := range fields {
		v, err := fixedpoint.FromDecimalString(f.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dst = v
	}
	return nil
}

// 文件: pkg/simulation/system.go
// 按配置组装完整系统
//
// 【组件】
// 金库 / LP 份额 / 延迟订单 / 强平引擎 / 合成杠杆模块
// 外部依赖按配置启用: Redis 价格源和仓位存储、NATS、Kafka、MySQL 审计、Prometheus
// 未启用时使用内存实现，审计库使用内存 SQLite

package simulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"max.com/perpvault/pkg/collateral"
	"max.com/perpvault/pkg/config"
	"max.com/perpvault/pkg/event"
	"max.com/perpvault/pkg/journal"
	"max.com/perpvault/pkg/kafka"
	"max.com/perpvault/pkg/keeperfee"
	"max.com/perpvault/pkg/liquidation"
	"max.com/perpvault/pkg/metric"
	"max.com/perpvault/pkg/nats"
	"max.com/perpvault/pkg/oracle"
	"max.com/perpvault/pkg/order"
	"max.com/perpvault/pkg/position"
	"max.com/perpvault/pkg/registry"
	"max.com/perpvault/pkg/share"
	"max.com/perpvault/pkg/stable"
	"max.com/perpvault/pkg/vault"
)

// 模块地址
const (
	Owner           registry.Address = "owner"
	AddrVault       registry.Address = "vault"
	AddrStable      registry.Address = "stable"
	AddrDelayed     registry.Address = "delayed-order"
	AddrLiquidation registry.Address = "liquidation"
	AddrKeeperFee   registry.Address = "keeper-fee"
	AddrOracle      registry.Address = "oracle"
	AddrLeverage    registry.Address = "leverage"
)

// StartTime 模拟起始时间
var StartTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// System 组装好的系统
type System struct {
	Config *config.Config
	Clock  *Clock
	Logger zerolog.Logger

	Registry    *registry.Registry
	Vault       *vault.Vault
	Shares      *share.Ledger
	Stable      *stable.Module
	Custody     *collateral.Ledger
	Positions   position.Store
	Oracle      oracle.PriceOracle
	Book        *order.Book
	Liquidation *liquidation.Engine
	KeeperFee   *keeperfee.StaticKeeperFee
	Opener      *Opener

	Events        *event.Recorder
	Metrics       *metric.Metrics
	Journal       *journal.Repo
	JournalWriter *journal.Writer

	pushPrice func(ctx context.Context, price sdkmath.Int, ts int64) error
	closers   []func() error
}

// Build 按配置组装
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (sys *System, err error) {
	s := &System{
		Config:   cfg,
		Clock:    NewClock(StartTime),
		Logger:   logger,
		Registry: registry.NewRegistry(Owner),
		Shares:   share.NewLedger(),
		Custody:  collateral.NewLedger(),
		Events:   event.NewRecorder(),
	}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	vaultParams, err := cfg.VaultParams()
	if err != nil {
		return nil, err
	}
	orderCfg, err := cfg.OrderConfig()
	if err != nil {
		return nil, err
	}
	liqParams, err := cfg.LiquidationParams()
	if err != nil {
		return nil, err
	}
	withdrawFee, err := cfg.WithdrawFee()
	if err != nil {
		return nil, err
	}
	minKeeperFee, err := cfg.MinKeeperFee()
	if err != nil {
		return nil, err
	}

	emitter, err := s.buildEmitters(ctx)
	if err != nil {
		return nil, err
	}

	// 1. 金库
	s.Vault, err = vault.New(s.Registry, vaultParams,
		vault.WithClock(s.Clock.Now),
		vault.WithEmitter(emitter),
		vault.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	if s.Metrics != nil {
		s.Metrics.WatchVault(s.Vault)
	}

	// 2. 价格源 + 仓位存储
	if err := s.buildRedis(ctx); err != nil {
		return nil, err
	}

	// 3. 业务模块
	s.Stable, err = stable.New(s.Vault, s.Shares, withdrawFee, logger)
	if err != nil {
		return nil, err
	}
	ids, err := order.NewIDGenerator(cfg.App.NodeID)
	if err != nil {
		return nil, err
	}
	s.Book, err = order.NewBook(AddrDelayed, s.Vault, s.Stable, s.Custody, ids, orderCfg, logger)
	if err != nil {
		return nil, err
	}
	s.Liquidation, err = liquidation.NewEngine(AddrLiquidation, s.Vault, s.Positions, s.Custody, liqParams, logger)
	if err != nil {
		return nil, err
	}
	s.KeeperFee = keeperfee.NewStatic(minKeeperFee)
	s.Opener = NewOpener(AddrLeverage, s.Vault, s.Positions, s.Custody)

	// 4. 注册
	modules := []struct {
		key  registry.ModuleKey
		addr registry.Address
		impl any
	}{
		{registry.KeyVault, AddrVault, s.Vault},
		{registry.KeyStable, AddrStable, s.Stable},
		{registry.KeyDelayedOrder, AddrDelayed, s.Book},
		{registry.KeyLiquidation, AddrLiquidation, s.Liquidation},
		{registry.KeyKeeperFee, AddrKeeperFee, s.KeeperFee},
		{registry.KeyOracle, AddrOracle, s.Oracle},
		{KeyLeverage, AddrLeverage, s.Opener},
	}
	for _, m := range modules {
		if err := s.Registry.Register(Owner, m.key, m.addr, m.impl); err != nil {
			return nil, fmt.Errorf("register %s: %w", m.key, err)
		}
	}

	return s, nil
}

// buildEmitters 事件出口: 内存记录 + 审计 + 可选 NATS / Kafka / 指标
func (s *System) buildEmitters(ctx context.Context) (event.Emitter, error) {
	cfg := s.Config
	emitters := event.Multi{s.Events}

	var err error
	if cfg.MySQL.Enabled {
		s.Journal, err = journal.OpenMySQL(cfg.MySQL.DSN)
	} else {
		s.Journal, err = journal.OpenSQLite(":memory:")
	}
	if err != nil {
		return nil, err
	}
	writerCfg := journal.DefaultWriterConfig()
	writerCfg.NodeID = cfg.App.NodeID
	s.JournalWriter, err = journal.NewWriter(s.Journal, writerCfg, s.Logger)
	if err != nil {
		return nil, err
	}
	s.JournalWriter.Start()
	s.closers = append(s.closers, func() error {
		s.JournalWriter.Stop()
		return s.Journal.Close()
	})
	emitters = append(emitters, s.JournalWriter)

	if cfg.Metrics.Enabled {
		s.Metrics = metric.New(cfg.Metrics.Namespace)
		emitters = append(emitters, s.Metrics)
	}

	if cfg.Nats.Enabled {
		pub, err := nats.NewPublisher(cfg.Nats.URL, cfg.Nats.SubjectPrefix, s.Logger)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() error {
			pub.Close()
			return nil
		})
		emitters = append(emitters, pub)
	}

	if cfg.Kafka.Enabled {
		pcfg := kafka.DefaultProducerConfig(cfg.Kafka.Brokers)
		pcfg.Topic = cfg.Kafka.Topic
		producer, err := kafka.NewProducer(pcfg, s.Logger)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, producer.Close)
		emitters = append(emitters, producer)
	}

	s.Logger.Info().Int("emitters", len(emitters)).Msg("event emitters ready")
	return emitters, nil
}

// buildRedis 启用 Redis 时价格和仓位都放在 Redis
func (s *System) buildRedis(ctx context.Context) error {
	cfg := s.Config
	if !cfg.Redis.Enabled {
		mem := oracle.NewMemoryOracle(oracle.DefaultConfig(), s.Clock.Now)
		s.Oracle = mem
		s.Positions = position.NewMemoryStore()
		s.pushPrice = func(_ context.Context, price sdkmath.Int, ts int64) error {
			mem.SetPrice(price, ts)
			return nil
		}
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("connect redis: %w", err)
	}
	s.closers = append(s.closers, client.Close)

	ro := oracle.NewRedisOracle(client, cfg.Redis.Market, oracle.DefaultConfig()).WithClock(s.Clock.Now)
	s.Oracle = ro
	s.Positions = position.NewRedisStore(client, cfg.App.Name+":")
	s.pushPrice = ro.Publish
	return nil
}

// SetPrice 在当前虚拟时间推送价格
func (s *System) SetPrice(ctx context.Context, price sdkmath.Int) error {
	return s.pushPrice(ctx, price, s.Clock.Now().Unix())
}

// Close 逆序关闭外部连接
func (s *System) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// 文件: pkg/metric/metric.go
// Prometheus 指标
//
// 【两类指标】
// 1. 事件指标: 实现 event.Emitter，按事件累计次数和金额
// 2. 账本指标: GaugeFunc，抓取时读取金库快照

package metric

import (
	"context"
	"net/http"

	sdkmath "cosmossdk.io/math"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"max.com/perpvault/pkg/event"
	"max.com/perpvault/pkg/fixedpoint"
	"max.com/perpvault/pkg/vault"
)

// DefaultNamespace 默认命名空间
const DefaultNamespace = "perpvault"

// Metrics 指标集合
type Metrics struct {
	namespace string
	registry  *prometheus.Registry

	events          *prometheus.CounterVec
	fundingFees     prometheus.Gauge // 多头累计支付的资金费，可为负
	depositVolume   prometheus.Counter
	withdrawVolume  prometheus.Counter
	withdrawFees    prometheus.Counter
	keeperFees      prometheus.Counter
	liquidationFees prometheus.Counter
}

// New 创建指标，使用独立 registry
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		namespace: namespace,
		registry:  registry,

		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Committed vault events by type",
		}, []string{"type"}),

		fundingFees: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "settled_funding_fees",
			Help:      "Sum of funding fees settled from longs to LPs (collateral units)",
		}),

		depositVolume: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposit_volume_total",
			Help:      "Collateral deposited by LPs",
		}),

		withdrawVolume: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdraw_volume_total",
			Help:      "Collateral withdrawn by LPs",
		}),

		withdrawFees: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdraw_fees_total",
			Help:      "Withdraw fees kept in the pool",
		}),

		keeperFees: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keeper_fees_total",
			Help:      "Keeper fees paid for executed orders",
		}),

		liquidationFees: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liquidation_fees_total",
			Help:      "Fees paid to liquidators",
		}),
	}

	registry.MustRegister(
		m.events,
		m.fundingFees,
		m.depositVolume,
		m.withdrawVolume,
		m.withdrawFees,
		m.keeperFees,
		m.liquidationFees,
	)
	return m
}

// Registry 底层 registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// =============================================================================
// 事件指标
// =============================================================================

// Emit 按事件更新指标
func (m *Metrics) Emit(_ context.Context, e event.Event) error {
	m.events.WithLabelValues(string(e.EventType())).Inc()

	switch v := e.(type) {
	case event.FundingFeesSettled:
		m.fundingFees.Add(units(v.SettledFundingFee))
	case event.Deposit:
		m.depositVolume.Add(units(v.DepositAmount))
	case event.Withdraw:
		m.withdrawVolume.Add(units(v.WithdrawAmount))
		m.withdrawFees.Add(units(v.WithdrawFee))
	case event.OrderExecuted:
		m.keeperFees.Add(units(v.KeeperFee))
	case event.PositionLiquidated:
		m.liquidationFees.Add(units(v.LiquidationFee))
	}
	return nil
}

func units(x sdkmath.Int) float64 {
	if x.IsNil() {
		return 0
	}
	return fixedpoint.ToFloat64(x)
}

// =============================================================================
// 账本指标
// =============================================================================

// WatchVault 注册金库快照指标
func (m *Metrics) WatchVault(v *vault.Vault) {
	gauge := func(name, help string, read func(s vault.State) sdkmath.Int) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: "vault",
			Name:      name,
			Help:      help,
		}, func() float64 {
			return units(read(v.Snapshot()))
		})
	}

	m.registry.MustRegister(
		gauge("lp_liquidity", "LP total deposited liquidity", func(s vault.State) sdkmath.Int {
			return s.Pool.LpTotalDepositedLiquidity
		}),
		gauge("long_margin", "Total margin deposited by longs", func(s vault.State) sdkmath.Int {
			return s.Global.TotalDepositedMargin
		}),
		gauge("open_interest", "Total opened long size", func(s vault.State) sdkmath.Int {
			return s.Global.TotalOpenedPositions
		}),
		gauge("skew", "Long margin minus LP liquidity", func(s vault.State) sdkmath.Int {
			return s.Skew()
		}),
		gauge("funding_rate", "Last recomputed funding rate", func(s vault.State) sdkmath.Int {
			return s.Funding.LastRecomputedFundingRate
		}),
		gauge("cumulative_funding_rate", "Cumulative funding rate", func(s vault.State) sdkmath.Int {
			return s.Funding.CumulativeFundingRate
		}),
	)
}

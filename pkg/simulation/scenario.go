// 文件: pkg/simulation/scenario.go
// 模拟场景
//
// 【流程】
// 1. 两个 LP 通过延迟订单存入，第三个 LP 的订单过期后取消
// 2. 三个多头开仓: 10x / 5x / 2x
// 3. 每步推进 1 小时，价格下跌 2%，结算资金费，扫描并强平
// 4. 一个 LP 提取一半份额

package simulation

import (
	"context"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"

	"max.com/perpvault/pkg/event"
	"max.com/perpvault/pkg/fixedpoint"
	"max.com/perpvault/pkg/registry"
	"max.com/perpvault/pkg/vault"
)

// 参与者
const (
	LPAlice registry.Address = "lp-alice"
	LPBob   registry.Address = "lp-bob"
	LPCarol registry.Address = "lp-carol"
	Keeper  registry.Address = "keeper"
)

var (
	initialPrice = fixedpoint.Units(2000)
	stepMove     = fixedpoint.MustFromDecimalString("0.98")
	stepInterval = time.Hour
)

// trade 合成多头
type trade struct {
	trader registry.Address
	margin sdkmath.Int
	size   sdkmath.Int
}

var trades = []trade{
	{"trader-10x", fixedpoint.Units(1), fixedpoint.Units(10)},
	{"trader-5x", fixedpoint.Units(2), fixedpoint.Units(10)},
	{"trader-2x", fixedpoint.Units(3), fixedpoint.Units(6)},
}

// Report 模拟结果
type Report struct {
	Steps        int
	Liquidations int
	FinalPrice   sdkmath.Int
	State        vault.State
	EventCounts  map[event.Type]int
}

// Run 执行场景
func (s *System) Run(ctx context.Context, steps int) (Report, error) {
	report := Report{Steps: steps}
	price := initialPrice

	if err := s.fund(); err != nil {
		return report, err
	}
	if err := s.SetPrice(ctx, price); err != nil {
		return report, err
	}

	// 1. LP 存入
	if err := s.deposit(ctx, LPAlice, fixedpoint.Units(100)); err != nil {
		return report, fmt.Errorf("alice deposit: %w", err)
	}
	if err := s.deposit(ctx, LPBob, fixedpoint.Units(50)); err != nil {
		return report, fmt.Errorf("bob deposit: %w", err)
	}
	if err := s.expireDeposit(ctx, LPCarol, fixedpoint.Units(20)); err != nil {
		return report, fmt.Errorf("carol deposit: %w", err)
	}
	s.printLedger(0, price)

	// 2. 开仓
	for _, t := range trades {
		if err := s.SetPrice(ctx, price); err != nil {
			return report, err
		}
		id, err := s.Opener.Open(ctx, t.trader, t.margin, t.size)
		if err != nil {
			return report, fmt.Errorf("open %s: %w", t.trader, err)
		}
		s.Logger.Info().Uint64("token_id", id).Str("trader", string(t.trader)).Msg("position opened")
	}

	// 3. 价格下跌 + 资金费 + 强平
	for step := 1; step <= steps; step++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		s.Clock.Advance(stepInterval)
		price = fixedpoint.MulDecimal(price, stepMove)
		if err := s.SetPrice(ctx, price); err != nil {
			return report, err
		}
		if err := s.Vault.SettleFundingFees(ctx); err != nil {
			return report, fmt.Errorf("settle step %d: %w", step, err)
		}

		n, err := s.liquidateAll(ctx)
		if err != nil {
			return report, err
		}
		report.Liquidations += n
		s.printLedger(step, price)
	}

	// 4. LP 提取
	if err := s.withdrawHalf(ctx, LPBob); err != nil {
		return report, fmt.Errorf("bob withdraw: %w", err)
	}
	if err := s.Vault.VerifyGlobalMarginStatus(ctx); err != nil {
		return report, err
	}

	report.FinalPrice = price
	report.State = s.Vault.Snapshot()
	report.EventCounts = make(map[event.Type]int)
	for _, t := range s.Events.Types() {
		report.EventCounts[t]++
	}
	return report, nil
}

// fund 初始抵押品
func (s *System) fund() error {
	accounts := map[registry.Address]sdkmath.Int{
		LPAlice: fixedpoint.Units(200),
		LPBob:   fixedpoint.Units(200),
		LPCarol: fixedpoint.Units(200),
	}
	for _, t := range trades {
		accounts[t.trader] = t.margin
	}
	for addr, amount := range accounts {
		if err := s.Custody.Mint(addr, amount); err != nil {
			return err
		}
	}
	return nil
}

func (s *System) keeperFee(ctx context.Context) (sdkmath.Int, error) {
	return s.KeeperFee.KeeperFee(ctx)
}

// deposit 公告 -> 等待最短执行时间 -> keeper 执行
func (s *System) deposit(ctx context.Context, lp registry.Address, amount sdkmath.Int) error {
	fee, err := s.keeperFee(ctx)
	if err != nil {
		return err
	}
	if _, err := s.Book.AnnounceDeposit(ctx, lp, amount, fixedpoint.Zero(), fee); err != nil {
		return err
	}
	return s.executeAfterDelay(ctx, lp)
}

// expireDeposit 公告后无人执行，过期后取消
func (s *System) expireDeposit(ctx context.Context, lp registry.Address, amount sdkmath.Int) error {
	fee, err := s.keeperFee(ctx)
	if err != nil {
		return err
	}
	if _, err := s.Book.AnnounceDeposit(ctx, lp, amount, fixedpoint.Zero(), fee); err != nil {
		return err
	}
	cfg := s.Config.Order
	s.Clock.Advance(cfg.MinExecutabilityAge + cfg.MaxExecutabilityAge + time.Second)
	return s.Book.CancelExistingOrder(ctx, lp)
}

func (s *System) withdrawHalf(ctx context.Context, lp registry.Address) error {
	shares, err := s.Shares.BalanceOf(ctx, lp)
	if err != nil {
		return err
	}
	fee, err := s.keeperFee(ctx)
	if err != nil {
		return err
	}
	if _, err := s.Book.AnnounceWithdraw(ctx, lp, shares.QuoRaw(2), fixedpoint.Zero(), fee); err != nil {
		return err
	}
	return s.executeAfterDelay(ctx, lp)
}

func (s *System) executeAfterDelay(ctx context.Context, account registry.Address) error {
	s.Clock.Advance(s.Config.Order.MinExecutabilityAge)
	if err := s.SetPrice(ctx, s.currentPrice(ctx)); err != nil {
		return err
	}
	return s.Book.ExecuteOrder(ctx, Keeper, account)
}

// currentPrice 最近一次推送的价格 (忽略时效)
func (s *System) currentPrice(ctx context.Context) sdkmath.Int {
	p, err := s.Oracle.GetPriceMaxAge(ctx, 365*24*time.Hour)
	if err != nil {
		return initialPrice
	}
	return p.Price
}

// liquidateAll 扫描全部仓位
func (s *System) liquidateAll(ctx context.Context) (int, error) {
	ids, err := s.Positions.IDs(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, id := range ids {
		ok, err := s.Liquidation.IsLiquidatable(ctx, id)
		if err != nil {
			return count, err
		}
		if !ok {
			continue
		}
		res, err := s.Liquidation.Liquidate(ctx, Keeper, id)
		if err != nil {
			return count, fmt.Errorf("liquidate %d: %w", id, err)
		}
		count++
		s.Logger.Warn().
			Uint64("token_id", id).
			Str("price", fixedpoint.Format(res.Price)).
			Str("settled_margin", fixedpoint.Format(res.Recap.SettledMargin)).
			Str("fee", fixedpoint.Format(res.Fee)).
			Msg("liquidated")
	}
	return count, nil
}

func (s *System) printLedger(step int, price sdkmath.Int) {
	st := s.Vault.Snapshot()
	s.Logger.Info().
		Int("step", step).
		Time("at", s.Clock.Now()).
		Str("price", fixedpoint.Format(price)).
		Str("lp_liquidity", fixedpoint.Format(st.Pool.LpTotalDepositedLiquidity)).
		Str("long_margin", fixedpoint.Format(st.Global.TotalDepositedMargin)).
		Str("open_interest", fixedpoint.Format(st.Global.TotalOpenedPositions)).
		Str("funding_rate", fixedpoint.Format(st.Funding.LastRecomputedFundingRate)).
		Str("cumulative_funding", fixedpoint.Format(st.Funding.CumulativeFundingRate)).
		Msg("ledger")
}

package vault

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"max.com/perpvault/pkg/event"
	"max.com/perpvault/pkg/fixedpoint"
	"max.com/perpvault/pkg/perp"
	"max.com/perpvault/pkg/registry"
)

const (
	owner  registry.Address = "owner"
	module registry.Address = "stable-module"
)

type testClock struct{ now int64 }

func (c *testClock) Now() time.Time { return time.Unix(c.now, 0) }
func (c *testClock) Advance(d time.Duration) { c.now += int64(d / time.Second) }

func newTestVault(t *testing.T) (*Vault, *testClock, *event.Recorder) {
	t.Helper()
	clock := &testClock{now: 1_700_000_000}
	rec := event.NewRecorder()
	reg := registry.NewRegistry(owner)
	require.NoError(t, reg.Register(owner, registry.KeyStable, module, nil))

	v, err := New(reg, DefaultParams(), WithClock(clock.Now), WithEmitter(rec))
	require.NoError(t, err)
	return v, clock, rec
}

// seed 直接写入状态 (测试用)
func seed(v *Vault, liquidity, margin, size int64) {
	v.state.Pool.LpTotalDepositedLiquidity = fixedpoint.Units(liquidity)
	v.state.Global.TotalDepositedMargin = fixedpoint.Units(margin)
	v.state.Global.TotalOpenedPositions = fixedpoint.Units(size)
}

func mustInt(s string) sdkmath.Int {
	i, ok := sdkmath.NewIntFromString(s)
	if !ok {
		panic(s)
	}
	return i
}

func TestNew_InvalidParams(t *testing.T) {
	params := DefaultParams()
	params.MaxSkewVelocity = fixedpoint.Zero()
	_, err := New(registry.NewRegistry(owner), params)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestSettleFundingFees_OneDayPositiveSkew(t *testing.T) {
	v, clock, rec := newTestVault(t)
	ctx := context.Background()
	seed(v, 100, 120, 50)

	clock.Advance(24 * time.Hour)
	require.NoError(t, v.SettleFundingFees(ctx))

	s := v.Snapshot()
	// 速度被限制在 maxFundingVelocity
	assert.Equal(t, fixedpoint.MustFromDecimalString("0.03").String(), s.Funding.LastRecomputedFundingRate.String())
	assert.Equal(t, fixedpoint.MustFromDecimalString("0.015").String(), s.Funding.CumulativeFundingRate.String())
	assert.Equal(t, clock.now, s.Funding.LastRecomputedFundingTimestamp)
	assert.Equal(t, "119250000000000000001", s.Global.TotalDepositedMargin.String())
	assert.Equal(t, "100749999999999999999", s.Pool.LpTotalDepositedLiquidity.String())

	settled := event.OfType[event.FundingFeesSettled](rec)
	require.Len(t, settled, 1)
	assert.Equal(t, "-749999999999999999", settled[0].SettledFundingFee.String())
}

func TestSettleFundingFees_ZeroElapsedIsNoop(t *testing.T) {
	v, clock, rec := newTestVault(t)
	ctx := context.Background()
	seed(v, 100, 120, 50)

	clock.Advance(time.Hour)
	require.NoError(t, v.SettleFundingFees(ctx))
	before := v.Snapshot()

	require.NoError(t, v.SettleFundingFees(ctx))
	after := v.Snapshot()

	assert.Equal(t, before.Funding.CumulativeFundingRate.String(), after.Funding.CumulativeFundingRate.String())
	assert.Equal(t, before.Pool.LpTotalDepositedLiquidity.String(), after.Pool.LpTotalDepositedLiquidity.String())
	assert.Len(t, rec.Events(), 1)
}

func TestSettleFundingFees_TimestampIsSetNotAccumulated(t *testing.T) {
	v, clock, _ := newTestVault(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		clock.Advance(10 * time.Minute)
		require.NoError(t, v.SettleFundingFees(ctx))
		assert.Equal(t, clock.now, v.Snapshot().Funding.LastRecomputedFundingTimestamp)
	}
}

func TestSettleFundingFees_ZeroLiquidityWithSkew(t *testing.T) {
	v, clock, _ := newTestVault(t)
	seed(v, 0, 10, 5)

	clock.Advance(time.Hour)
	err := v.SettleFundingFees(context.Background())
	assert.ErrorIs(t, err, perp.ErrInvariantViolation)
	assert.Equal(t, clock.now-3600, v.Snapshot().Funding.LastRecomputedFundingTimestamp)
}

func TestSettleFundingFees_NegativeGlobalMarginFails(t *testing.T) {
	v, clock, rec := newTestVault(t)
	seed(v, 100, 101, 1000)

	// 正偏斜持续 100 天，多头应付资金费远超保证金
	clock.Advance(100 * 24 * time.Hour)
	err := v.SettleFundingFees(context.Background())
	assert.ErrorIs(t, err, ErrInsufficientGlobalMargin)
	assert.ErrorIs(t, err, perp.ErrInvariantViolation)

	s := v.Snapshot()
	assert.Equal(t, fixedpoint.Units(101).String(), s.Global.TotalDepositedMargin.String())
	assert.Equal(t, fixedpoint.Units(100).String(), s.Pool.LpTotalDepositedLiquidity.String())
	assert.True(t, s.Funding.CumulativeFundingRate.IsZero())
	assert.Equal(t, clock.now-100*86400, s.Funding.LastRecomputedFundingTimestamp)
	assert.Empty(t, rec.Events())
}

func TestSettleFundingFees_NegativeLiquidityFails(t *testing.T) {
	v, clock, rec := newTestVault(t)
	seed(v, 1, 0, 1000)

	// 负偏斜: LP 向多头支付，100 天后超过 LP 流动性
	clock.Advance(100 * 24 * time.Hour)
	err := v.SettleFundingFees(context.Background())
	assert.ErrorIs(t, err, ErrLiquidityNegative)

	s := v.Snapshot()
	assert.Equal(t, fixedpoint.Units(1).String(), s.Pool.LpTotalDepositedLiquidity.String())
	assert.True(t, s.Global.TotalDepositedMargin.IsZero())
	assert.True(t, s.Funding.LastRecomputedFundingRate.IsZero())
	assert.Empty(t, rec.Events())
}

func TestNextFundingEntry_MatchesSettlement(t *testing.T) {
	v, clock, _ := newTestVault(t)
	ctx := context.Background()
	seed(v, 100, 80, 40)

	clock.Advance(7 * time.Hour)
	predicted, err := v.NextFundingEntry(ctx)
	require.NoError(t, err)
	// 预估不修改状态
	assert.True(t, v.Snapshot().Funding.CumulativeFundingRate.IsZero())

	require.NoError(t, v.SettleFundingFees(ctx))
	assert.Equal(t, predicted.String(), v.Snapshot().Funding.CumulativeFundingRate.String())
}

func TestVerifyGlobalMarginStatus(t *testing.T) {
	v, _, _ := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.VerifyGlobalMarginStatus(ctx))

	v.state.Global.TotalDepositedMargin = sdkmath.NewInt(-1)
	assert.ErrorIs(t, v.VerifyGlobalMarginStatus(ctx), ErrInsufficientGlobalMargin)
}

func TestTx_RollbackRestoresStateAndRunsCompensation(t *testing.T) {
	v, _, rec := newTestVault(t)
	seed(v, 100, 0, 0)

	var compensated []int
	func() {
		tx, err := v.BeginAs(context.Background(), module)
		require.NoError(t, err)
		defer tx.End()

		require.NoError(t, tx.UpdateLpTotalDepositedLiquidity(fixedpoint.Units(5)))
		tx.OnRollback(func(context.Context) error { compensated = append(compensated, 1); return nil })
		tx.OnRollback(func(context.Context) error { compensated = append(compensated, 2); return nil })
		tx.Emit(event.Deposit{Account: "a"})
		// 不提交
	}()

	assert.Equal(t, fixedpoint.Units(100).String(), v.Snapshot().Pool.LpTotalDepositedLiquidity.String())
	assert.Equal(t, []int{2, 1}, compensated)
	assert.Empty(t, rec.Events())
}

func TestTx_AnonymousCannotMutatePool(t *testing.T) {
	v, _, _ := newTestVault(t)

	tx, err := v.Begin(context.Background())
	require.NoError(t, err)
	defer tx.End()

	assert.ErrorIs(t, tx.UpdateLpTotalDepositedLiquidity(fixedpoint.Units(1)), registry.ErrUnauthorized)
	assert.ErrorIs(t, tx.UpdateGlobalPositionData(fixedpoint.Units(1), fixedpoint.Zero(), fixedpoint.Zero()), registry.ErrUnauthorized)
}

func TestTx_CommitEmitsBufferedEvents(t *testing.T) {
	v, _, rec := newTestVault(t)

	tx, err := v.Begin(context.Background())
	require.NoError(t, err)
	tx.Emit(event.Deposit{Account: "a"})
	assert.Empty(t, rec.Events())

	require.NoError(t, tx.Commit())
	tx.End()
	tx.End()

	assert.Equal(t, []event.Type{event.TypeDeposit}, rec.Types())
	assert.ErrorIs(t, tx.Commit(), ErrTxClosed)
}

func TestTx_ReentrantBeginFails(t *testing.T) {
	v, _, _ := newTestVault(t)

	tx, err := v.Begin(context.Background())
	require.NoError(t, err)
	defer tx.End()

	_, err = v.Begin(tx.Context())
	assert.ErrorIs(t, err, ErrReentrantCall)
	assert.ErrorIs(t, v.SettleFundingFees(tx.Context()), ErrReentrantCall)

	// 协作者拿到 tx.Context() 后回调金库的任何入口都立即失败
	callback := func(ctx context.Context) error {
		return v.UpdateLpTotalDepositedLiquidity(ctx, module, fixedpoint.Units(1))
	}
	assert.ErrorIs(t, callback(tx.Context()), ErrReentrantCall)
}

func TestTx_EmitterErrorDoesNotRollBack(t *testing.T) {
	clock := &testClock{now: 1_700_000_000}
	reg := registry.NewRegistry(owner)
	failing := event.EmitterFunc(func(context.Context, event.Event) error { return errors.New("down") })
	v, err := New(reg, DefaultParams(), WithClock(clock.Now), WithEmitter(failing))
	require.NoError(t, err)
	seed(v, 100, 120, 50)

	clock.Advance(time.Hour)
	require.NoError(t, v.SettleFundingFees(context.Background()))
	assert.Equal(t, clock.now, v.Snapshot().Funding.LastRecomputedFundingTimestamp)
}

func TestUpdateLpTotalDepositedLiquidity(t *testing.T) {
	v, _, _ := newTestVault(t)
	ctx := context.Background()

	err := v.UpdateLpTotalDepositedLiquidity(ctx, "stranger", fixedpoint.Units(1))
	assert.ErrorIs(t, err, registry.ErrUnauthorized)

	require.NoError(t, v.UpdateLpTotalDepositedLiquidity(ctx, module, fixedpoint.Units(3)))
	err = v.UpdateLpTotalDepositedLiquidity(ctx, module, fixedpoint.Units(-4))
	assert.ErrorIs(t, err, ErrLiquidityNegative)
	assert.Equal(t, fixedpoint.Units(3).String(), v.Snapshot().Pool.LpTotalDepositedLiquidity.String())
}

func TestUpdateGlobalPositionData_MarksProfitLossToMargin(t *testing.T) {
	v, _, _ := newTestVault(t)
	ctx := context.Background()
	seed(v, 100, 20, 10)
	v.state.Global.LastPrice = fixedpoint.Units(1000)

	err := v.UpdateGlobalPositionData(ctx, module, fixedpoint.Units(1100), fixedpoint.Units(5), fixedpoint.Units(2))
	require.NoError(t, err)

	s := v.Snapshot()
	plTotal := mustInt("909090909090909090")
	assert.Equal(t, fixedpoint.Units(25).Add(plTotal).String(), s.Global.TotalDepositedMargin.String())
	assert.Equal(t, fixedpoint.Units(12).String(), s.Global.TotalOpenedPositions.String())
	assert.Equal(t, fixedpoint.Units(1100).String(), s.Global.LastPrice.String())
	assert.Equal(t, fixedpoint.Units(100).Sub(plTotal).String(), s.Pool.LpTotalDepositedLiquidity.String())
}

func TestUpdateGlobalPositionData_Guards(t *testing.T) {
	v, _, _ := newTestVault(t)
	ctx := context.Background()
	seed(v, 100, 20, 10)

	err := v.UpdateGlobalPositionData(ctx, module, fixedpoint.Zero(), fixedpoint.Zero(), fixedpoint.Zero())
	assert.ErrorIs(t, err, ErrInvalidValue)

	err = v.UpdateGlobalPositionData(ctx, module, fixedpoint.Units(1000), fixedpoint.Units(-21), fixedpoint.Zero())
	assert.ErrorIs(t, err, ErrInsufficientGlobalMargin)

	err = v.UpdateGlobalPositionData(ctx, module, fixedpoint.Units(1000), fixedpoint.Zero(), fixedpoint.Units(-11))
	assert.ErrorIs(t, err, perp.ErrInvariantViolation)

	// 失败不留痕
	assert.Equal(t, fixedpoint.Units(20).String(), v.Snapshot().Global.TotalDepositedMargin.String())
	assert.True(t, v.Snapshot().Global.LastPrice.IsZero())
}

func TestRemoveGlobalPosition(t *testing.T) {
	v, _, _ := newTestVault(t)
	seed(v, 100, 20, 10)
	v.state.Global.LastPrice = fixedpoint.Units(1000)

	anon, err := v.Begin(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, anon.RemoveGlobalPosition(fixedpoint.Units(1), fixedpoint.Units(1)), registry.ErrUnauthorized)
	anon.End()

	tx, err := v.BeginAs(context.Background(), module)
	require.NoError(t, err)
	assert.ErrorIs(t, tx.RemoveGlobalPosition(fixedpoint.Units(21), fixedpoint.Zero()), ErrInsufficientGlobalMargin)
	assert.ErrorIs(t, tx.RemoveGlobalPosition(fixedpoint.Zero(), fixedpoint.Units(11)), perp.ErrInvariantViolation)
	assert.ErrorIs(t, tx.RemoveGlobalPosition(fixedpoint.Zero(), fixedpoint.Units(-1)), ErrInvalidValue)
	require.NoError(t, tx.RemoveGlobalPosition(fixedpoint.Units(5), fixedpoint.Units(4)))
	require.NoError(t, tx.Commit())
	tx.End()

	// 不重新标记: LastPrice 和 LP 流动性不变
	s := v.Snapshot()
	assert.Equal(t, fixedpoint.Units(15).String(), s.Global.TotalDepositedMargin.String())
	assert.Equal(t, fixedpoint.Units(6).String(), s.Global.TotalOpenedPositions.String())
	assert.Equal(t, fixedpoint.Units(1000).String(), s.Global.LastPrice.String())
	assert.Equal(t, fixedpoint.Units(100).String(), s.Pool.LpTotalDepositedLiquidity.String())
}

func TestTx_CommitRejectsNegativeGlobalMargin(t *testing.T) {
	v, _, rec := newTestVault(t)
	seed(v, 100, 3, 1)

	tx, err := v.Begin(context.Background())
	require.NoError(t, err)
	v.state.Global.TotalDepositedMargin = sdkmath.NewInt(-1)
	tx.Emit(event.Deposit{Account: "a"})

	err = tx.Commit()
	assert.ErrorIs(t, err, perp.ErrInvariantViolation)
	assert.ErrorIs(t, err, ErrInsufficientGlobalMargin)
	tx.End()

	assert.Equal(t, fixedpoint.Units(3).String(), v.Snapshot().Global.TotalDepositedMargin.String())
	assert.Empty(t, rec.Events())
}

func TestCheckCollateralCapAndSkewMax(t *testing.T) {
	v, _, _ := newTestVault(t)
	seed(v, 100, 0, 100)
	v.state.Pool.LpTotalDepositedLiquidityCap = fixedpoint.Units(150)

	tx, err := v.Begin(context.Background())
	require.NoError(t, err)
	defer tx.End()

	assert.NoError(t, tx.CheckCollateralCap(fixedpoint.Units(50)))
	assert.ErrorIs(t, tx.CheckCollateralCap(fixedpoint.Units(51)), ErrDepositCapReached)

	// 100 + 20 = 1.2 × 100，恰好等于上限
	assert.NoError(t, tx.CheckSkewMax(fixedpoint.Units(20)))
	assert.ErrorIs(t, tx.CheckSkewMax(fixedpoint.Units(21)), ErrMaxSkewReached)
}

func TestOwnerSetters(t *testing.T) {
	v, clock, rec := newTestVault(t)
	ctx := context.Background()
	seed(v, 100, 120, 50)

	err := v.SetMaxFundingVelocity(ctx, module, fixedpoint.Units(1))
	assert.ErrorIs(t, err, registry.ErrUnauthorized)

	err = v.SetMaxSkewVelocity(ctx, owner, fixedpoint.Zero())
	assert.ErrorIs(t, err, ErrInvalidValue)

	// 修改速度前按旧参数结算
	clock.Advance(time.Hour)
	require.NoError(t, v.SetMaxFundingVelocity(ctx, owner, fixedpoint.MustFromDecimalString("0.05")))
	assert.Equal(t, clock.now, v.Snapshot().Funding.LastRecomputedFundingTimestamp)
	assert.Len(t, event.OfType[event.FundingFeesSettled](rec), 1)

	require.NoError(t, v.SetLpTotalDepositedLiquidityCap(ctx, owner, fixedpoint.Units(7)))
	require.NoError(t, v.SetSkewFractionMax(ctx, owner, fixedpoint.MustFromDecimalString("1.5")))

	s := v.Snapshot()
	assert.Equal(t, fixedpoint.MustFromDecimalString("0.05").String(), s.Funding.MaxFundingVelocity.String())
	assert.Equal(t, fixedpoint.Units(7).String(), s.Pool.LpTotalDepositedLiquidityCap.String())
	assert.Equal(t, fixedpoint.MustFromDecimalString("1.5").String(), s.SkewFractionMax.String())
}

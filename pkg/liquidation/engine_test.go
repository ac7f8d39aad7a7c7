package liquidation

import (
	"context"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"max.com/perpvault/pkg/collateral"
	"max.com/perpvault/pkg/event"
	"max.com/perpvault/pkg/fixedpoint"
	"max.com/perpvault/pkg/oracle"
	"max.com/perpvault/pkg/perp"
	"max.com/perpvault/pkg/position"
	"max.com/perpvault/pkg/registry"
	"max.com/perpvault/pkg/vault"
)

const (
	owner      registry.Address = "owner"
	engineAddr registry.Address = "liquidation"
	trader     registry.Address = "trader"
	liquidator registry.Address = "liquidator"
	startTime  int64            = 1_700_000_000
	tokenID    uint64           = 7
)

type testClock struct{ now int64 }

func (c *testClock) Now() time.Time { return time.Unix(c.now, 0) }

type fixture struct {
	clock     *testClock
	reg       *registry.Registry
	vault     *vault.Vault
	custody   *collateral.Ledger
	positions *position.MemoryStore
	oracle    *oracle.MemoryOracle
	engine    *Engine
	events    *event.Recorder
}

// newFixture LP 流动性 100，一个 10 倍杠杆多头: 开仓价 1000，保证金 1，仓位 10
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		clock:     &testClock{now: startTime},
		reg:       registry.NewRegistry(owner),
		custody:   collateral.NewLedger(),
		positions: position.NewMemoryStore(),
		events:    event.NewRecorder(),
	}

	var err error
	f.vault, err = vault.New(f.reg, vault.DefaultParams(), vault.WithClock(f.clock.Now), vault.WithEmitter(f.events))
	require.NoError(t, err)

	f.oracle = oracle.NewMemoryOracle(oracle.DefaultConfig(), f.clock.Now)
	f.engine, err = NewEngine(engineAddr, f.vault, f.positions, f.custody, DefaultParams(), zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, f.reg.Register(owner, registry.KeyLiquidation, engineAddr, f.engine))
	require.NoError(t, f.reg.Register(owner, registry.KeyOracle, "oracle", f.oracle))

	require.NoError(t, f.vault.UpdateLpTotalDepositedLiquidity(ctx, engineAddr, fixedpoint.Units(100)))
	require.NoError(t, f.vault.UpdateGlobalPositionData(ctx, engineAddr, fixedpoint.Units(1000), fixedpoint.Unit, fixedpoint.Units(10)))

	require.NoError(t, f.custody.Mint(trader, fixedpoint.Units(101)))
	require.NoError(t, f.custody.TransferIn(ctx, trader, fixedpoint.Units(101)))

	require.NoError(t, f.positions.Save(ctx, tokenID, perp.Position{
		AverageEntryPrice:      fixedpoint.Units(1000),
		MarginDeposited:        fixedpoint.Unit,
		AdditionalSize:         fixedpoint.Units(10),
		EntryCumulativeFunding: fixedpoint.Zero(),
	}))
	return f
}

func (f *fixture) setPrice(units int64) {
	f.oracle.SetPrice(fixedpoint.Units(units), f.clock.now)
}

func (f *fixture) collateralOf(addr registry.Address) sdkmath.Int {
	b, _ := f.custody.BalanceOf(context.Background(), addr)
	return b
}

func TestLiquidate(t *testing.T) {
	tests := []struct {
		name      string
		price     int64
		fee       string
		poolDelta string
		pnl       string
	}{
		{
			// 预期强平费 0.05 超过剩余保证金，清算人只拿剩余部分
			name:      "fee capped by settled margin",
			price:     910,
			fee:       "10989010989010989",
			poolDelta: "989010989010989011",
			pnl:       "-989010989010989011",
		},
		{
			name:      "underwater position pays no fee",
			price:     800,
			fee:       "0",
			poolDelta: "1000000000000000000",
			pnl:       "-2500000000000000000",
		},
		{
			name:      "full fee",
			price:     915,
			fee:       "50000000000000000",
			poolDelta: "950000000000000000",
			pnl:       "-928961748633879782",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.setPrice(tt.price)

			ok, err := f.engine.IsLiquidatable(ctx, tokenID)
			require.NoError(t, err)
			require.True(t, ok)

			res, err := f.engine.Liquidate(ctx, liquidator, tokenID)
			require.NoError(t, err)
			assert.Equal(t, tt.fee, res.Fee.String())
			assert.Equal(t, tt.poolDelta, res.PoolDelta.String())
			assert.Equal(t, tt.pnl, res.Recap.ProfitLoss.String())

			s := f.vault.Snapshot()
			assert.Equal(t, fixedpoint.Units(100).Add(res.PoolDelta).String(), s.Pool.LpTotalDepositedLiquidity.String())
			assert.True(t, s.Global.TotalDepositedMargin.IsZero())
			assert.True(t, s.Global.TotalOpenedPositions.IsZero())
			assert.Equal(t, tt.fee, f.collateralOf(liquidator).String())

			_, err = f.positions.Get(ctx, tokenID)
			assert.ErrorIs(t, err, position.ErrPositionNotFound)

			liquidated := event.OfType[event.PositionLiquidated](f.events)
			require.Len(t, liquidated, 1)
			assert.Equal(t, tokenID, liquidated[0].TokenID)
			assert.Equal(t, liquidator, liquidated[0].Liquidator)
			assert.Equal(t, tt.fee, liquidated[0].LiquidationFee.String())
		})
	}
}

func TestLiquidate_HealthyPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setPrice(1000)

	ok, err := f.engine.IsLiquidatable(ctx, tokenID)
	require.NoError(t, err)
	assert.False(t, ok)

	before := f.vault.Snapshot()
	_, err = f.engine.Liquidate(ctx, liquidator, tokenID)
	assert.ErrorIs(t, err, ErrNotLiquidatable)

	after := f.vault.Snapshot()
	assert.Equal(t, before.Pool.LpTotalDepositedLiquidity.String(), after.Pool.LpTotalDepositedLiquidity.String())
	assert.Equal(t, before.Global.TotalOpenedPositions.String(), after.Global.TotalOpenedPositions.String())

	_, err = f.positions.Get(ctx, tokenID)
	assert.NoError(t, err)
	assert.Empty(t, event.OfType[event.PositionLiquidated](f.events))
}

func TestLiquidate_Twice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setPrice(800)

	_, err := f.engine.Liquidate(ctx, liquidator, tokenID)
	require.NoError(t, err)

	_, err = f.engine.Liquidate(ctx, liquidator, tokenID)
	assert.ErrorIs(t, err, ErrNotLiquidatable)

	ok, err := f.engine.IsLiquidatable(ctx, tokenID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLiquidate_RollbackOnPayoutFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setPrice(915)

	// 托管余额不足以支付强平费
	require.NoError(t, f.custody.TransferOut(ctx, trader, fixedpoint.Units(101)))

	before := f.vault.Snapshot()
	_, err := f.engine.Liquidate(ctx, liquidator, tokenID)
	assert.ErrorIs(t, err, collateral.ErrInsufficientReserve)

	after := f.vault.Snapshot()
	assert.Equal(t, before.Pool.LpTotalDepositedLiquidity.String(), after.Pool.LpTotalDepositedLiquidity.String())
	assert.Equal(t, before.Global.TotalDepositedMargin.String(), after.Global.TotalDepositedMargin.String())

	pos, err := f.positions.Get(ctx, tokenID)
	require.NoError(t, err)
	assert.Equal(t, fixedpoint.Units(10).String(), pos.AdditionalSize.String())
	assert.Empty(t, f.events.Events())
}

func TestLiquidate_OtherPositionsKeepTheirMark(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 第二个多头在 500 开仓，全局仓位标记到 500
	require.NoError(t, f.vault.UpdateGlobalPositionData(ctx, engineAddr, fixedpoint.Units(500), fixedpoint.Units(10), fixedpoint.Units(10)))
	require.NoError(t, f.positions.Save(ctx, tokenID+1, perp.Position{
		AverageEntryPrice:      fixedpoint.Units(500),
		MarginDeposited:        fixedpoint.Units(10),
		AdditionalSize:         fixedpoint.Units(10),
		EntryCumulativeFunding: fixedpoint.Zero(),
	}))
	f.setPrice(800)

	before := f.vault.Snapshot()
	require.Equal(t, fixedpoint.Units(110).String(), before.Pool.LpTotalDepositedLiquidity.String())

	res, err := f.engine.Liquidate(ctx, liquidator, tokenID)
	require.NoError(t, err)
	assert.Equal(t, fixedpoint.Unit.String(), res.PoolDelta.String())

	after := f.vault.Snapshot()
	assert.Equal(t, before.Pool.LpTotalDepositedLiquidity.Add(res.PoolDelta).String(), after.Pool.LpTotalDepositedLiquidity.String())
	assert.Equal(t, before.Global.LastPrice.String(), after.Global.LastPrice.String())
	assert.Equal(t, before.Global.TotalDepositedMargin.Sub(fixedpoint.Unit).String(), after.Global.TotalDepositedMargin.String())
	assert.Equal(t, fixedpoint.Units(10).String(), after.Global.TotalOpenedPositions.String())

	_, err = f.positions.Get(ctx, tokenID+1)
	assert.NoError(t, err)
}

func TestLiquidate_PoolWouldGoNegative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setPrice(1000)

	// LP 流动性只剩 5，仓位欠 10 的资金费: 结算保证金 -9 全部由 LP 池吸收
	require.NoError(t, f.vault.UpdateLpTotalDepositedLiquidity(ctx, engineAddr, fixedpoint.Units(-95)))
	indebted := perp.Position{
		AverageEntryPrice:      fixedpoint.Units(1000),
		MarginDeposited:        fixedpoint.Unit,
		AdditionalSize:         fixedpoint.Units(10),
		EntryCumulativeFunding: fixedpoint.Unit.Neg(),
	}
	require.NoError(t, f.positions.Save(ctx, tokenID, indebted))

	ok, err := f.engine.IsLiquidatable(ctx, tokenID)
	require.NoError(t, err)
	require.True(t, ok)

	before := f.vault.Snapshot()
	reserve := f.custody.Reserve()

	_, err = f.engine.Liquidate(ctx, liquidator, tokenID)
	assert.ErrorIs(t, err, vault.ErrLiquidityNegative)

	after := f.vault.Snapshot()
	assert.Equal(t, before.Pool.LpTotalDepositedLiquidity.String(), after.Pool.LpTotalDepositedLiquidity.String())
	assert.Equal(t, before.Global.TotalDepositedMargin.String(), after.Global.TotalDepositedMargin.String())
	assert.Equal(t, before.Global.TotalOpenedPositions.String(), after.Global.TotalOpenedPositions.String())
	assert.Equal(t, before.Global.LastPrice.String(), after.Global.LastPrice.String())
	assert.Equal(t, before.Funding.CumulativeFundingRate.String(), after.Funding.CumulativeFundingRate.String())

	pos, err := f.positions.Get(ctx, tokenID)
	require.NoError(t, err)
	assert.Equal(t, indebted.EntryCumulativeFunding.String(), pos.EntryCumulativeFunding.String())
	assert.Equal(t, indebted.MarginDeposited.String(), pos.MarginDeposited.String())

	assert.Equal(t, reserve.String(), f.custody.Reserve().String())
	assert.True(t, f.collateralOf(liquidator).IsZero())
	assert.Empty(t, f.events.Events())
}

func TestLiquidate_Guards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setPrice(800)

	_, err := f.engine.Liquidate(ctx, registry.ZeroAddress, tokenID)
	assert.ErrorIs(t, err, registry.ErrZeroAddress)

	require.NoError(t, f.reg.SetPaused(owner, registry.KeyLiquidation, true))
	_, err = f.engine.Liquidate(ctx, liquidator, tokenID)
	assert.ErrorIs(t, err, registry.ErrPaused)
	require.NoError(t, f.reg.SetPaused(owner, registry.KeyLiquidation, false))

	// 价格过期
	f.clock.now += int64((25 * time.Hour).Seconds())
	_, err = f.engine.Liquidate(ctx, liquidator, tokenID)
	assert.ErrorIs(t, err, oracle.ErrPriceStale)
}

func TestSetters(t *testing.T) {
	f := newFixture(t)

	err := f.engine.SetLiquidationFeeRatio(trader, fixedpoint.MustFromDecimalString("0.01"))
	assert.ErrorIs(t, err, registry.ErrUnauthorized)

	require.NoError(t, f.engine.SetLiquidationFeeRatio(owner, fixedpoint.MustFromDecimalString("0.01")))
	require.NoError(t, f.engine.SetLiquidationBufferRatio(owner, fixedpoint.MustFromDecimalString("0.02")))
	assert.ErrorIs(t, f.engine.SetLiquidationBufferRatio(owner, fixedpoint.Zero()), ErrInvalidValue)

	assert.ErrorIs(t, f.engine.SetLiquidationFeeBounds(owner, fixedpoint.Units(10), fixedpoint.Units(5)), ErrInvalidBounds)
	assert.ErrorIs(t, f.engine.SetLiquidationFeeBounds(owner, fixedpoint.Zero(), fixedpoint.Units(5)), ErrInvalidValue)
	require.NoError(t, f.engine.SetLiquidationFeeBounds(owner, fixedpoint.Units(2), fixedpoint.Units(50)))

	p := f.engine.Params()
	assert.Equal(t, fixedpoint.MustFromDecimalString("0.01").String(), p.FeeRatio.String())
	assert.Equal(t, fixedpoint.MustFromDecimalString("0.02").String(), p.BufferRatio.String())
	assert.Equal(t, fixedpoint.Units(2).String(), p.FeeLowerBound.String())
	assert.Equal(t, fixedpoint.Units(50).String(), p.FeeUpperBound.String())
}

func TestNewEngine_InvalidParams(t *testing.T) {
	f := newFixture(t)
	params := DefaultParams()
	params.FeeLowerBound = fixedpoint.Units(200)

	_, err := NewEngine(engineAddr, f.vault, f.positions, f.custody, params, zerolog.Nop())
	assert.ErrorIs(t, err, ErrInvalidBounds)
}

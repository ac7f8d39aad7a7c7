package collateral

import (
	"context"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_TransferInOut(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	require.NoError(t, l.Mint("alice", sdkmath.NewInt(100)))

	require.NoError(t, l.TransferIn(ctx, "alice", sdkmath.NewInt(60)))
	bal, _ := l.BalanceOf(ctx, "alice")
	assert.Equal(t, "40", bal.String())
	assert.Equal(t, "60", l.Reserve().String())

	require.NoError(t, l.TransferOut(ctx, "bob", sdkmath.NewInt(25)))
	bal, _ = l.BalanceOf(ctx, "bob")
	assert.Equal(t, "25", bal.String())
	assert.Equal(t, "35", l.Reserve().String())
}

func TestLedger_Insufficient(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	require.NoError(t, l.Mint("alice", sdkmath.NewInt(10)))

	err := l.TransferIn(ctx, "alice", sdkmath.NewInt(11))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	err = l.TransferOut(ctx, "alice", sdkmath.NewInt(1))
	assert.ErrorIs(t, err, ErrInsufficientReserve)

	// 零金额为空操作
	assert.NoError(t, l.TransferOut(ctx, "alice", sdkmath.ZeroInt()))
	assert.ErrorIs(t, l.TransferIn(ctx, "alice", sdkmath.NewInt(-1)), ErrInvalidAmount)
	assert.ErrorIs(t, l.Mint("alice", sdkmath.ZeroInt()), ErrInvalidAmount)
}

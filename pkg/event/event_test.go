package event

import (
	"context"
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	in := Deposit{
		Account:       "alice",
		DepositAmount: sdkmath.NewInt(1_000_000),
		MintedAmount:  sdkmath.NewInt(999_000),
	}
	data, err := Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"Deposit"`)

	out, err := Unmarshal(data)
	require.NoError(t, err)
	dep, ok := out.(Deposit)
	require.True(t, ok)
	assert.Equal(t, in.Account, dep.Account)
	assert.True(t, in.MintedAmount.Equal(dep.MintedAmount))

	_, err = Unmarshal([]byte(`{"type":"Nope","payload":{}}`))
	assert.Error(t, err)
}

func TestMulti_ContinuesOnError(t *testing.T) {
	boom := errors.New("boom")
	rec := NewRecorder()
	m := Multi{
		EmitterFunc(func(context.Context, Event) error { return boom }),
		rec,
	}

	err := m.Emit(context.Background(), OrderCancelled{OrderID: 1})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []Type{TypeOrderCancelled}, rec.Types())
}

func TestRecorder_OfType(t *testing.T) {
	rec := NewRecorder()
	ctx := context.Background()
	_ = rec.Emit(ctx, Deposit{Account: "a"})
	_ = rec.Emit(ctx, Withdraw{Account: "b"})
	_ = rec.Emit(ctx, Deposit{Account: "c"})

	deps := OfType[Deposit](rec)
	require.Len(t, deps, 2)
	assert.Equal(t, "c", string(deps[1].Account))

	rec.Reset()
	assert.Empty(t, rec.Events())
}

func TestKey(t *testing.T) {
	assert.Equal(t, "alice", Key(Deposit{Account: "alice"}))
	assert.Equal(t, "bob", Key(OrderCancelled{Account: "bob"}))
	assert.Equal(t, "position-7", Key(PositionLiquidated{TokenID: 7}))
	assert.Equal(t, "FundingFeesSettled", Key(FundingFeesSettled{}))
}

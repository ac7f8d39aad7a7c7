package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"max.com/perpvault/pkg/fixedpoint"
	"max.com/perpvault/pkg/liquidation"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	params, err := cfg.VaultParams()
	require.NoError(t, err)
	assert.Equal(t, fixedpoint.MustFromDecimalString("0.03").String(), params.MaxFundingVelocity.String())
	assert.Equal(t, fixedpoint.Units(1_000_000).String(), params.LpTotalDepositedLiquidityCap.String())

	oc, err := cfg.OrderConfig()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, oc.MinExecutabilityAge)
	assert.Equal(t, 60*time.Second, oc.MaxExecutabilityAge)
	assert.Equal(t, "1000000", oc.MinDeposit.String())

	lp, err := cfg.LiquidationParams()
	require.NoError(t, err)
	assert.Equal(t, fixedpoint.Units(100).String(), lp.FeeUpperBound.String())

	fee, err := cfg.WithdrawFee()
	require.NoError(t, err)
	assert.Equal(t, fixedpoint.MustFromDecimalString("0.005").String(), fee.String())
	assert.False(t, cfg.Nats.Enabled)
	assert.Equal(t, []string{"127.0.0.1:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perpvault.yml")
	yml := `
app:
  log_level: debug
vault:
  max_skew_velocity: "0.2"
order:
  min_executability_age: 5s
redis:
  enabled: true
  market: BTC-USD
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))
	t.Setenv("PERPVAULT_VAULT_MAX_FUNDING_VELOCITY", "0.05")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "BTC-USD", cfg.Redis.Market)
	assert.Equal(t, 5*time.Second, cfg.Order.MinExecutabilityAge)

	params, err := cfg.VaultParams()
	require.NoError(t, err)
	assert.Equal(t, fixedpoint.MustFromDecimalString("0.05").String(), params.MaxFundingVelocity.String())
	assert.Equal(t, fixedpoint.MustFromDecimalString("0.2").String(), params.MaxSkewVelocity.String())
}

func TestConvert_Errors(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Vault.SkewFractionMax = "abc"
	_, err = cfg.VaultParams()
	assert.ErrorContains(t, err, "vault.skew_fraction_max")

	cfg.Order.MinDeposit = "1.5"
	_, err = cfg.OrderConfig()
	assert.Error(t, err)

	cfg.Liquidation.FeeLowerBound = "500"
	_, err = cfg.LiquidationParams()
	assert.ErrorIs(t, err, liquidation.ErrInvalidBounds)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "DEVELOPMENT", cfg.Env)
	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, 2, cfg.SellerCountCutoff)
	assert.Equal(t, float64(1000), cfg.TotalSharesCutoff)
	assert.Equal(t, 7*24*time.Hour, cfg.RoundLength)
	assert.Equal(t, 2, cfg.SellOrderPerRoundLimit)
	assert.Equal(t, 1, cfg.BuyOrderPerRoundLimit)
	assert.Equal(t, 48*time.Hour, cfg.JWTExpiry)
	assert.False(t, cfg.MailgunEnable)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ROUND_START_NUMBER_OF_SELLERS_CUTOFF", "5")
	t.Setenv("ROUND_LENGTH", "24h")
	t.Setenv("PORT", "9000")

	cfg := Load()

	assert.Equal(t, 5, cfg.SellerCountCutoff)
	assert.Equal(t, 24*time.Hour, cfg.RoundLength)
	assert.Equal(t, 9000, cfg.Port)
}

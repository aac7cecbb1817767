package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProvisionConfigDefaultsAreValid(t *testing.T) {
	cfg, err := NewProvisionConfig()
	require.NoError(t, err)
	require.Equal(t, 6*time.Minute+4500*time.Millisecond, cfg.StageBudget())
	require.Greater(t, cfg.LeaseTTL, cfg.StageBudget())
}

func TestProvisionConfigRejectsLeaseShorterThanStage(t *testing.T) {
	t.Setenv("PROVISION_LEASE_TTL", "5m")

	_, err := NewProvisionConfig()
	require.ErrorContains(t, err, "PROVISION_LEASE_TTL")
}

func TestStageBudgetCapsBackoff(t *testing.T) {
	cfg := &ProvisionConfig{
		StageTimeout:   time.Second,
		MaxAttempts:    4,
		InitialBackoff: time.Second,
		MaxBackoff:     2 * time.Second,
	}
	// 4 timeouts, then 1s, 2s and 2s of backoff at 1.5x
	require.Equal(t, 4*time.Second+7500*time.Millisecond, cfg.StageBudget())

	cfg.LeaseTTL = cfg.StageBudget()
	require.Error(t, cfg.Validate())
	cfg.LeaseTTL++
	require.NoError(t, cfg.Validate())
}

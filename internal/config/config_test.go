package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ESCALATION_INTERVAL", "ESCALATION_ENABLED", "ZERO_RULE_POLICY", "USER_CACHE_TTL", "AUTH_MODE"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "8099", cfg.Port)
	assert.Equal(t, time.Hour, cfg.EscalationInterval)
	assert.Equal(t, 30*time.Second, cfg.EscalationStartDelay)
	assert.True(t, cfg.EscalationEnabled)
	assert.Equal(t, "auto_approve", cfg.ZeroRulePolicy)
	assert.Equal(t, 5*time.Minute, cfg.UserCacheTTL)
	assert.Equal(t, AuthModeJWT, cfg.AuthMode)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ESCALATION_INTERVAL", "15m")
	t.Setenv("ESCALATION_START_DELAY", "5")
	t.Setenv("ESCALATION_ENABLED", "false")
	t.Setenv("AUTH_TRUST_HEADERS", "true")
	t.Setenv("AUTH_MODE", "istio")
	t.Setenv("MATRIX_CACHE_TTL", "not-a-duration")
	t.Setenv("ZERO_RULE_POLICY", "reject")

	cfg := Load()
	assert.Equal(t, 15*time.Minute, cfg.EscalationInterval)
	assert.Equal(t, 5*time.Second, cfg.EscalationStartDelay)
	assert.False(t, cfg.EscalationEnabled)
	assert.True(t, cfg.AuthTrustHeaders)
	assert.Equal(t, AuthModeIstio, cfg.AuthMode)
	assert.Equal(t, time.Minute, cfg.MatrixCacheTTL)
	assert.Equal(t, "reject", cfg.ZeroRulePolicy)
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"STARTING_GRANT", "DEFAULT_META_GOAL", "DISCRETE_COST_PER_MINUTE", "DISCRETE_INTERVAL", "OAUTH_CLIENT_ID"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int64(1000), cfg.StartingGrant)
	assert.Equal(t, int64(5000), cfg.DefaultMetaGoal)
	assert.Equal(t, int64(10), cfg.DiscreteCostPerMinute)
	assert.Equal(t, time.Minute, cfg.DiscreteInterval)
	assert.Equal(t, "platform", cfg.PlatformAccountID)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"STARTING_GRANT", "lots"},
		{"STARTING_GRANT", "-5"},
		{"DISCRETE_INTERVAL", "soon"},
		{"DISCRETE_COST_PER_MINUTE", "0"},
		{"RATE_LIMIT_PER_SECOND", "fast"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestExtractBaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://localhost:3000/api/auth/callback", "http://localhost:3000"},
		{"https://amantes.example/api/auth/callback", "https://amantes.example"},
		{"not a url", "http://localhost:3000"},
	}
	for _, tt := range tests {
		if got := extractBaseURL(tt.in); got != tt.want {
			t.Errorf("extractBaseURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

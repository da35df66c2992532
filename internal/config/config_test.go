package config

import (
	"testing"
	"time"

	"github.com/psds-microservice/voice-supervisor/internal/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0.0.0.0:8090", cfg.Addr())
	assert.True(t, cfg.HistoryEnabled)
	assert.Equal(t, 25, cfg.BatchMaxItems)
	assert.Equal(t, 50, cfg.MinTokenLength)

	p := cfg.Policy()
	assert.Equal(t, 15*time.Second, p.LivenessInterval)
	assert.Equal(t, supervisor.ModeHybrid, p.Mode)
	assert.Equal(t, 6*time.Hour, p.MaxLifetime)
	assert.Equal(t, 6, p.Backoff.MaxAttempts)

	bp := cfg.BatchPolicy()
	assert.Equal(t, supervisor.Sequential, bp.Mode)
	assert.Equal(t, time.Second, bp.Delay)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("LIVENESS_INTERVAL", "5s")
	t.Setenv("LIVENESS_MODE", "poll")
	t.Setenv("BATCH_MODE", "parallel")
	t.Setenv("BATCH_PARALLELISM", "8")
	t.Setenv("HISTORY_ENABLED", "false")
	t.Setenv("DB_HOST", "")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0.0.0.0:9000", cfg.Addr())
	assert.False(t, cfg.HistoryEnabled)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, time.Minute, cfg.Redis.LeaseTTL)
	assert.Equal(t, supervisor.ModePoll, cfg.Policy().Mode)
	assert.Equal(t, 5*time.Second, cfg.Policy().LivenessInterval)
	assert.Equal(t, supervisor.Parallel, cfg.BatchPolicy().Mode)
	assert.Equal(t, 8, cfg.BatchPolicy().Parallelism)
}

func TestLoad_BadDuration(t *testing.T) {
	t.Setenv("CONNECT_TIMEOUT", "soon")
	_, err := Load()
	assert.ErrorContains(t, err, "CONNECT_TIMEOUT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "unknown liveness mode", env: map[string]string{"LIVENESS_MODE": "psychic"}, wantErr: "LIVENESS_MODE"},
		{name: "unknown batch mode", env: map[string]string{"BATCH_MODE": "burst"}, wantErr: "BATCH_MODE"},
		{name: "lease shorter than liveness", env: map[string]string{"REDIS_ADDR": "r:6379", "LEASE_TTL": "10s"}, wantErr: "LEASE_TTL"},
		{name: "lease shorter than a check plus a gateway call", env: map[string]string{"REDIS_ADDR": "r:6379", "LEASE_TTL": "30s"}, wantErr: "LEASE_TTL"},
		{name: "history disabled needs no database", env: map[string]string{"HISTORY_ENABLED": "0"}},
		{name: "inverted backoff", env: map[string]string{"RECONNECT_BASE_DELAY": "2m"}, wantErr: "RECONNECT_MAX_DELAY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load()
			require.NoError(t, err)
			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Load_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "measurements", cfg.MeasurementsTopic)
	assert.Equal(t, 15, cfg.OfflineThresholdMinutes)
	assert.Equal(t, 5*time.Minute, cfg.OfflineSweepInterval)
	assert.Equal(t, 1, cfg.AggregationHour)
	assert.Equal(t, 50.0, cfg.LeakThresholdLPerHour)
	assert.Equal(t, "https://fcm.googleapis.com/fcm/send", cfg.FCMEndpoint)
}

func Test_Load_EnvOverrides(t *testing.T) {
	t.Setenv("TANKWATCH_OFFLINE_THRESHOLD_MINUTES", "30")
	t.Setenv("TANKWATCH_LEAK_THRESHOLD_L_PER_HOUR", "75.5")
	t.Setenv("TANKWATCH_OFFLINE_SWEEP_INTERVAL", "1m")
	t.Setenv("TANKWATCH_HTTP_ADDR", ":9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.OfflineThresholdMinutes)
	assert.Equal(t, 75.5, cfg.LeakThresholdLPerHour)
	assert.Equal(t, time.Minute, cfg.OfflineSweepInterval)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
}

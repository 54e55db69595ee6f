package db

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var DBPool *DB

// Setup the testcontainer DB before running any dbOps tests
func TestMain(m *testing.M) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
	)
	if err != nil {
		panic(err)
	}
	defer pgContainer.Terminate(ctx)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		panic(err)
	}
	migrationsPath := "./migrations"

	DBPool, err = Init(ctx, Config{
		ConnString:     connStr,
		MigrationsPath: migrationsPath,
	})
	if err != nil {
		panic(err)
	}

	m.Run()

	pgContainer.Terminate(ctx)
	DBPool.Close()
}

// newFixture provisions a tenant and a device row the way the (out of scope)
// admin surface would.
func newFixture(t *testing.T) (tenantID, deviceRowID, deviceID string) {
	t.Helper()
	ctx := context.Background()

	err := DBPool.pool.QueryRow(ctx,
		`INSERT INTO tenants (name) VALUES ($1) RETURNING id`, "test-tenant").Scan(&tenantID)
	require.NoError(t, err)

	deviceID = "tank-" + uuid.NewString()
	err = DBPool.pool.QueryRow(ctx,
		`INSERT INTO devices (device_id, tenant_id, status) VALUES ($1, $2, 'online') RETURNING id`,
		deviceID, tenantID).Scan(&deviceRowID)
	require.NoError(t, err)
	return tenantID, deviceRowID, deviceID
}

func TestMeasurementOps(t *testing.T) {
	ctx := context.Background()
	_, deviceRowID, _ := newFixture(t)

	battery := 3.7
	first, err := DBPool.InsertMeasurement(ctx, Measurement{
		DeviceID: deviceRowID,
		LevelCM:  42.5,
		VolumeL:  500,
		BatteryV: &battery,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.False(t, first.Timestamp.IsZero(), "timestamp is server-assigned")

	second, err := DBPool.InsertMeasurement(ctx, Measurement{
		DeviceID: deviceRowID,
		LevelCM:  41.0,
		VolumeL:  480,
	})
	require.NoError(t, err)

	got, err := DBPool.LoadMeasurementsBetween(ctx, deviceRowID,
		first.Timestamp.Add(-time.Minute), second.Timestamp.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 500.0, got[0].VolumeL, "ascending timestamp order")
	assert.Equal(t, 480.0, got[1].VolumeL)
	require.NotNil(t, got[0].BatteryV)
	assert.Equal(t, 3.7, *got[0].BatteryV)
	assert.Nil(t, got[1].BatteryV, "absent sensor fields stay absent, not zero")
}

func TestTouchDevice(t *testing.T) {
	ctx := context.Background()
	_, deviceRowID, deviceID := newFixture(t)

	_, err := DBPool.pool.Exec(ctx, `UPDATE devices SET status = 'offline' WHERE id = $1`, deviceRowID)
	require.NoError(t, err)

	fw := "1.2.3"
	require.NoError(t, DBPool.TouchDevice(ctx, deviceRowID, &fw))

	device, err := DBPool.FindDevice(ctx, deviceID)
	require.NoError(t, err)
	assert.Equal(t, StatusOnline, device.Status)
	require.NotNil(t, device.LastSeen)
	require.NotNil(t, device.FirmwareVersion)
	assert.Equal(t, "1.2.3", *device.FirmwareVersion)
	firstSeen := *device.LastSeen

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, DBPool.TouchDevice(ctx, deviceRowID, nil))

	device, err = DBPool.FindDevice(ctx, deviceID)
	require.NoError(t, err)
	assert.True(t, device.LastSeen.After(firstSeen), "last_seen strictly increases per ingestion")
	require.NotNil(t, device.FirmwareVersion)
	assert.Equal(t, "1.2.3", *device.FirmwareVersion, "nil firmware never clears the stored version")
}

func TestFindDevice_NotFound(t *testing.T) {
	_, err := DBPool.FindDevice(context.Background(), "tank-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertAlertDedup(t *testing.T) {
	ctx := context.Background()
	tenantID, deviceRowID, _ := newFixture(t)

	alert := Alert{
		ID:       uuid.NewString(),
		DeviceID: deviceRowID,
		TenantID: tenantID,
		Type:     AlertTankLow,
		Severity: SeverityCritical,
		Message:  "Tank is low (90.0L)",
		Payload:  `{"volume_l": 90}`,
	}

	created, err := DBPool.InsertAlertDedup(ctx, alert)
	require.NoError(t, err)
	assert.True(t, created)

	// Same (device, type) inside the window is suppressed.
	dup := alert
	dup.ID = uuid.NewString()
	created, err = DBPool.InsertAlertDedup(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)

	// A different type for the same device is independent.
	full := alert
	full.ID = uuid.NewString()
	full.Type = AlertTankFull
	full.Severity = SeverityHigh
	created, err = DBPool.InsertAlertDedup(ctx, full)
	require.NoError(t, err)
	assert.True(t, created)

	// Once the blocking alert ages out of the window, a new one is allowed.
	_, err = DBPool.pool.Exec(ctx,
		`UPDATE alerts SET created_at = now() - interval '61 minutes' WHERE device_id = $1 AND type = $2`,
		deviceRowID, AlertTankLow)
	require.NoError(t, err)

	aged := alert
	aged.ID = uuid.NewString()
	created, err = DBPool.InsertAlertDedup(ctx, aged)
	require.NoError(t, err)
	assert.True(t, created)

	// Acknowledging the open alerts lifts suppression immediately.
	_, err = DBPool.pool.Exec(ctx,
		`UPDATE alerts SET acknowledged = true WHERE device_id = $1 AND type = $2`,
		deviceRowID, AlertTankLow)
	require.NoError(t, err)

	acked := alert
	acked.ID = uuid.NewString()
	created, err = DBPool.InsertAlertDedup(ctx, acked)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestMarkAlertDelivered(t *testing.T) {
	ctx := context.Background()
	tenantID, deviceRowID, _ := newFixture(t)

	alert := Alert{
		ID:       uuid.NewString(),
		DeviceID: deviceRowID,
		TenantID: tenantID,
		Type:     AlertBatteryLow,
		Severity: SeverityMedium,
		Message:  "Battery is low (3.10V)",
	}
	created, err := DBPool.InsertAlertDedup(ctx, alert)
	require.NoError(t, err)
	require.True(t, created)

	require.NoError(t, DBPool.MarkAlertDelivered(ctx, alert.ID))

	var delivered bool
	err = DBPool.pool.QueryRow(ctx,
		`SELECT delivered_to_firebase FROM alerts WHERE id = $1`, alert.ID).Scan(&delivered)
	require.NoError(t, err)
	assert.True(t, delivered)
}

func TestUpsertDailySummary_Idempotent(t *testing.T) {
	ctx := context.Background()
	_, deviceRowID, _ := newFixture(t)
	date := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	require.NoError(t, DBPool.UpsertDailySummary(ctx, DailySummary{
		DeviceID:     deviceRowID,
		Date:         date,
		TotalUsageL:  70,
		MinVolumeL:   480,
		MaxVolumeL:   650,
		AvgVolumeL:   557.5,
		RefillEvents: 1,
	}))

	// Re-running for the same date overwrites in place.
	require.NoError(t, DBPool.UpsertDailySummary(ctx, DailySummary{
		DeviceID:      deviceRowID,
		Date:          date,
		TotalUsageL:   75,
		MinVolumeL:    470,
		MaxVolumeL:    650,
		AvgVolumeL:    550,
		RefillEvents:  1,
		LeakSuspected: false,
	}))

	var count int
	var total float64
	err := DBPool.pool.QueryRow(ctx,
		`SELECT count(*), max(total_usage_l) FROM daily_summaries WHERE device_id = $1`,
		deviceRowID).Scan(&count, &total)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "one row per (device, date)")
	assert.Equal(t, 75.0, total)
}

func TestOfflineSweepOps(t *testing.T) {
	ctx := context.Background()
	_, deviceRowID, deviceID := newFixture(t)

	_, err := DBPool.pool.Exec(ctx,
		`UPDATE devices SET last_seen = now() - interval '20 minutes' WHERE id = $1`, deviceRowID)
	require.NoError(t, err)

	cutoff := time.Now().Add(-15 * time.Minute)
	stale, err := DBPool.ListStaleOnlineDevices(ctx, cutoff)
	require.NoError(t, err)

	var found bool
	for _, d := range stale {
		if d.ID == deviceRowID {
			found = true
		}
	}
	assert.True(t, found, "silent online device is selected for demotion")

	require.NoError(t, DBPool.MarkDeviceOffline(ctx, deviceRowID))

	device, err := DBPool.FindDevice(ctx, deviceID)
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, device.Status)

	stale, err = DBPool.ListStaleOnlineDevices(ctx, cutoff)
	require.NoError(t, err)
	for _, d := range stale {
		assert.NotEqual(t, deviceRowID, d.ID, "offline devices are not re-selected")
	}
}

func TestListTenantTokens(t *testing.T) {
	ctx := context.Background()
	tenantID, _, _ := newFixture(t)

	_, err := DBPool.pool.Exec(ctx,
		`INSERT INTO users (tenant_id, email, fcm_token) VALUES ($1, 'a@test.com', 'token-a')`, tenantID)
	require.NoError(t, err)
	_, err = DBPool.pool.Exec(ctx,
		`INSERT INTO users (tenant_id, email) VALUES ($1, 'b@test.com')`, tenantID)
	require.NoError(t, err)

	tokens, err := DBPool.ListTenantTokens(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, []string{"token-a"}, tokens, "only users with a registered token are fanned out to")
}

func TestGetDeviceConfig(t *testing.T) {
	ctx := context.Background()
	_, deviceRowID, _ := newFixture(t)

	_, err := DBPool.GetDeviceConfig(ctx, deviceRowID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = DBPool.pool.Exec(ctx, `
			INSERT INTO device_configs (device_id, tank_full_threshold_l, tank_low_threshold_l, config_json)
			VALUES ($1, 900, 100, '{"ota_channel":"stable"}')
		`, deviceRowID)
	require.NoError(t, err)

	cfg, err := DBPool.GetDeviceConfig(ctx, deviceRowID)
	require.NoError(t, err)
	assert.Equal(t, 60000, cfg.MeasurementIntervalMS)
	require.NotNil(t, cfg.TankFullThresholdL)
	assert.Equal(t, 900.0, *cfg.TankFullThresholdL)
	assert.Nil(t, cfg.BatteryLowThresholdV)
	assert.JSONEq(t, `{"ota_channel":"stable"}`, string(cfg.ConfigJSON))
}

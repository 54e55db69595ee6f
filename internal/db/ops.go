package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/pgxscan"
	"github.com/jackc/pgx/v4"
)

var (
	ErrInsertFailed = errors.New("insert operation failed")
	ErrUpdateFailed = errors.New("update operation failed")
	ErrSelectFailed = errors.New("select operation failed")
	ErrNotFound     = errors.New("row not found")
)

// FindDevice resolves the stable device identity string assigned at
// provisioning to its registry row.
func (db *DB) FindDevice(ctx context.Context, deviceID string) (*Device, error) {
	const fn = "DB:FindDevice"
	var device Device
	err := pgxscan.Get(ctx, db.pool, &device, `
			SELECT
				id,
				device_id,
				tenant_id,
				name,
				firmware_version,
				last_seen,
				status
			FROM devices
			WHERE device_id = $1
		`, deviceID)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, fmt.Errorf("%s:%w", fn, ErrNotFound)
		}
		return nil, fmt.Errorf("%s:%w:%w", fn, ErrSelectFailed, err)
	}
	return &device, nil
}

func (db *DB) ListDevices(ctx context.Context) ([]Device, error) {
	const fn = "DB:ListDevices"
	var devices []Device
	err := pgxscan.Select(ctx, db.pool, &devices, `
			SELECT
				id,
				device_id,
				tenant_id,
				name,
				firmware_version,
				last_seen,
				status
			FROM devices
		`)
	if err != nil {
		return nil, fmt.Errorf("%s:%w:%w", fn, ErrSelectFailed, err)
	}
	return devices, nil
}

// ListStaleOnlineDevices returns devices still marked online whose last_seen
// is older than the cutoff. Devices that never reported stay untouched.
func (db *DB) ListStaleOnlineDevices(ctx context.Context, cutoff time.Time) ([]Device, error) {
	const fn = "DB:ListStaleOnlineDevices"
	var devices []Device
	err := pgxscan.Select(ctx, db.pool, &devices, `
			SELECT
				id,
				device_id,
				tenant_id,
				name,
				firmware_version,
				last_seen,
				status
			FROM devices
			WHERE status = 'online'
			AND last_seen < $1
		`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("%s:%w:%w", fn, ErrSelectFailed, err)
	}
	return devices, nil
}

// TouchDevice records a successful transmission: the device is online, seen
// now, and its firmware version is updated only when the report carries one.
func (db *DB) TouchDevice(ctx context.Context, id string, firmwareVersion *string) error {
	const fn = "DB:TouchDevice"
	_, err := db.pool.Exec(ctx, `
			UPDATE devices
			SET last_seen = now(),
				status = 'online',
				firmware_version = COALESCE($1, firmware_version),
				updated_at = now()
			WHERE id = $2
		`, firmwareVersion, id)
	if err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrUpdateFailed, err)
	}
	return nil
}

func (db *DB) MarkDeviceOffline(ctx context.Context, id string) error {
	const fn = "DB:MarkDeviceOffline"
	_, err := db.pool.Exec(ctx, `
			UPDATE devices
			SET status = 'offline',
				updated_at = now()
			WHERE id = $1
		`, id)
	if err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrUpdateFailed, err)
	}
	return nil
}

// InsertMeasurement appends one reading with a server-assigned timestamp and
// returns the stored row id and timestamp.
func (db *DB) InsertMeasurement(ctx context.Context, m Measurement) (Measurement, error) {
	const fn = "DB:InsertMeasurement"
	err := db.pool.QueryRow(ctx, `
			INSERT INTO measurements (
				device_id,
				timestamp,
				level_cm,
				volume_l,
				temperature_c,
				battery_v,
				rssi
			) VALUES ($1, now(), $2, $3, $4, $5, $6)
			RETURNING id, timestamp
		`, m.DeviceID, m.LevelCM, m.VolumeL, m.TemperatureC, m.BatteryV, m.RSSI).
		Scan(&m.ID, &m.Timestamp)
	if err != nil {
		return Measurement{}, fmt.Errorf("%s:%w:%w", fn, ErrInsertFailed, err)
	}
	return m, nil
}

func (db *DB) LoadMeasurementsBetween(ctx context.Context, deviceID string, start, end time.Time) ([]Measurement, error) {
	const fn = "DB:LoadMeasurementsBetween"
	var measurements []Measurement
	err := pgxscan.Select(ctx, db.pool, &measurements, `
			SELECT
				id,
				device_id,
				timestamp,
				level_cm,
				volume_l,
				temperature_c,
				battery_v,
				rssi
			FROM measurements
			WHERE device_id = $1
			AND timestamp >= $2
			AND timestamp <= $3
			ORDER BY timestamp ASC
		`, deviceID, start, end)
	if err != nil {
		return nil, fmt.Errorf("%s:%w:%w", fn, ErrSelectFailed, err)
	}
	return measurements, nil
}

func (db *DB) GetDeviceConfig(ctx context.Context, deviceID string) (*DeviceConfig, error) {
	const fn = "DB:GetDeviceConfig"
	var cfg DeviceConfig
	err := pgxscan.Get(ctx, db.pool, &cfg, `
			SELECT
				device_id,
				measurement_interval_ms,
				report_interval_ms,
				tank_full_threshold_l,
				tank_low_threshold_l,
				battery_low_threshold_v,
				level_empty_cm,
				level_full_cm,
				config_json
			FROM device_configs
			WHERE device_id = $1
		`, deviceID)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, fmt.Errorf("%s:%w", fn, ErrNotFound)
		}
		return nil, fmt.Errorf("%s:%w:%w", fn, ErrSelectFailed, err)
	}
	return &cfg, nil
}

// InsertAlertDedup creates an alert unless an unacknowledged alert of the
// same (device, type) pair exists within the rolling one-hour suppression
// window. Check and insert run as a single statement so two near-simultaneous
// measurements cannot both slip past the window. Returns false when
// suppressed.
func (db *DB) InsertAlertDedup(ctx context.Context, a Alert) (bool, error) {
	const fn = "DB:InsertAlertDedup"
	var id string
	err := db.pool.QueryRow(ctx, `
			INSERT INTO alerts (
				id,
				device_id,
				tenant_id,
				type,
				severity,
				message,
				payload
			)
			SELECT $1, $2, $3, $4, $5, $6, $7
			WHERE NOT EXISTS (
				SELECT 1 FROM alerts
				WHERE device_id = $2
				AND type = $4
				AND acknowledged = false
				AND created_at > now() - interval '1 hour'
			)
			RETURNING id
		`, a.ID, a.DeviceID, a.TenantID, a.Type, a.Severity, a.Message, a.Payload).
		Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("%s:%w:%w", fn, ErrInsertFailed, err)
	}
	return true, nil
}

func (db *DB) MarkAlertDelivered(ctx context.Context, alertID string) error {
	const fn = "DB:MarkAlertDelivered"
	_, err := db.pool.Exec(ctx, `
			UPDATE alerts
			SET delivered_to_firebase = true
			WHERE id = $1
		`, alertID)
	if err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrUpdateFailed, err)
	}
	return nil
}

// UpsertDailySummary writes one rollup row per (device, date); re-running the
// aggregation for the same date overwrites every field in place.
func (db *DB) UpsertDailySummary(ctx context.Context, s DailySummary) error {
	const fn = "DB:UpsertDailySummary"
	_, err := db.pool.Exec(ctx, `
			INSERT INTO daily_summaries (
				device_id,
				date,
				total_usage_l,
				min_volume_l,
				max_volume_l,
				avg_volume_l,
				refill_events,
				leak_suspected
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (device_id, date)
			DO UPDATE SET
				total_usage_l = EXCLUDED.total_usage_l,
				min_volume_l = EXCLUDED.min_volume_l,
				max_volume_l = EXCLUDED.max_volume_l,
				avg_volume_l = EXCLUDED.avg_volume_l,
				refill_events = EXCLUDED.refill_events,
				leak_suspected = EXCLUDED.leak_suspected,
				updated_at = now()
		`, s.DeviceID, s.Date, s.TotalUsageL, s.MinVolumeL, s.MaxVolumeL, s.AvgVolumeL, s.RefillEvents, s.LeakSuspected)
	if err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrInsertFailed, err)
	}
	return nil
}

// ListTenantTokens returns the notification tokens of every user in the
// tenant that has one registered.
func (db *DB) ListTenantTokens(ctx context.Context, tenantID string) ([]string, error) {
	const fn = "DB:ListTenantTokens"
	var tokens []string
	err := pgxscan.Select(ctx, db.pool, &tokens, `
			SELECT fcm_token
			FROM users
			WHERE tenant_id = $1
			AND fcm_token IS NOT NULL
		`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w:%w", fn, ErrSelectFailed, err)
	}
	return tokens, nil
}

package db

import "time"

// Alert types raised by the core pipeline. AlertSensorFault is part of the
// stored enum but no pipeline path raises it yet.
const (
	AlertTankFull      = "tank_full"
	AlertTankLow       = "tank_low"
	AlertBatteryLow    = "battery_low"
	AlertDeviceOffline = "device_offline"
	AlertLeakDetected  = "leak_detected"
	AlertSensorFault   = "sensor_fault"
)

const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

type Device struct {
	ID              string     `db:"id"`
	DeviceID        string     `db:"device_id"`
	TenantID        string     `db:"tenant_id"`
	Name            *string    `db:"name"`
	FirmwareVersion *string    `db:"firmware_version"`
	LastSeen        *time.Time `db:"last_seen"`
	Status          string     `db:"status"`
}

type DeviceConfig struct {
	DeviceID              string   `db:"device_id"`
	MeasurementIntervalMS int      `db:"measurement_interval_ms"`
	ReportIntervalMS      int      `db:"report_interval_ms"`
	TankFullThresholdL    *float64 `db:"tank_full_threshold_l"`
	TankLowThresholdL     *float64 `db:"tank_low_threshold_l"`
	BatteryLowThresholdV  *float64 `db:"battery_low_threshold_v"`
	LevelEmptyCM          *float64 `db:"level_empty_cm"`
	LevelFullCM           *float64 `db:"level_full_cm"`
	ConfigJSON            []byte   `db:"config_json"`
}

type Measurement struct {
	ID           string    `db:"id"`
	DeviceID     string    `db:"device_id"`
	Timestamp    time.Time `db:"timestamp"`
	LevelCM      float64   `db:"level_cm"`
	VolumeL      float64   `db:"volume_l"`
	TemperatureC *float64  `db:"temperature_c"`
	BatteryV     *float64  `db:"battery_v"`
	RSSI         *int      `db:"rssi"`
}

type Alert struct {
	ID                  string    `db:"id"`
	DeviceID            string    `db:"device_id"`
	TenantID            string    `db:"tenant_id"`
	Type                string    `db:"type"`
	Severity            string    `db:"severity"`
	Message             string    `db:"message"`
	Payload             string    `db:"payload"`
	Acknowledged        bool      `db:"acknowledged"`
	DeliveredToFirebase bool      `db:"delivered_to_firebase"`
	CreatedAt           time.Time `db:"created_at"`
}

type DailySummary struct {
	DeviceID      string    `db:"device_id"`
	Date          time.Time `db:"date"`
	TotalUsageL   float64   `db:"total_usage_l"`
	MinVolumeL    float64   `db:"min_volume_l"`
	MaxVolumeL    float64   `db:"max_volume_l"`
	AvgVolumeL    float64   `db:"avg_volume_l"`
	RefillEvents  int       `db:"refill_events"`
	LeakSuspected bool      `db:"leak_suspected"`
}

package api

// MeasurementRequest is one telemetry report from a device. Required fields
// are pointers so a missing field is distinguishable from a zero reading.
// The client timestamp is a hint only; the store assigns the authoritative
// one.
type MeasurementRequest struct {
	LevelCM         *float64 `json:"level_cm"`
	VolumeL         *float64 `json:"volume_l"`
	TemperatureC    *float64 `json:"temperature_c,omitempty"`
	BatteryV        *float64 `json:"battery_v,omitempty"`
	RSSI            *int     `json:"rssi,omitempty"`
	FirmwareVersion *string  `json:"firmware_version,omitempty"`
	Timestamp       *int64   `json:"timestamp,omitempty"`
}

// MeasurementResponse acknowledges a stored measurement and echoes the
// effective device configuration when one exists, so the device can
// self-reconfigure without polling.
type MeasurementResponse struct {
	Success       bool           `json:"success"`
	MeasurementID string         `json:"measurement_id"`
	Config        map[string]any `json:"config,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

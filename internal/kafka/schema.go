package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// MeasurementEvent is the handoff record published by the ingestion handler
// after a measurement is durably stored. The alert evaluator consumes it on
// its own schedule; a crash there never reaches the device's request.
// Tenant id is resolved at ingest so the evaluator does not join tenants.
type MeasurementEvent struct {
	MeasurementID string   `json:"measurement_id"`
	DeviceID      string   `json:"device_id"`
	TenantID      string   `json:"tenant_id"`
	VolumeL       float64  `json:"volume_l"`
	BatteryV      *float64 `json:"battery_v,omitempty"`
	Timestamp     int64    `json:"timestamp"`
}

type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

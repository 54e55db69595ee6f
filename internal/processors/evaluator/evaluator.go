package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"tankwatch/internal/db"
	"tankwatch/internal/worker"

	k "tankwatch/internal/kafka" // alias to avoid name conflict

	"github.com/segmentio/kafka-go"
)

type repository interface {
	GetDeviceConfig(ctx context.Context, deviceID string) (*db.DeviceConfig, error)
}

type raiser interface {
	Raise(ctx context.Context, deviceID, tenantID, alertType, severity, message string, payload map[string]any) error
}

type Config struct {
	Brokers         string
	ConsumerGroupID string
	ConsumerTopic   string
	Repo            repository
	Alerts          raiser
}

// Evaluator consumes measurement events off the handoff topic and checks
// each against the device's configured thresholds. The rules fire
// independently; one measurement can raise several alerts. Every failure is
// logged and swallowed so the ingestion path never sees it.
type Evaluator struct {
	worker *worker.Worker
	reader k.Reader
	repo   repository
	alerts raiser
}

func New(cfg Config) *Evaluator {
	evaluator := &Evaluator{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: []string{cfg.Brokers},
			GroupID: cfg.ConsumerGroupID,
			Topic:   cfg.ConsumerTopic,
		}),
		repo:   cfg.Repo,
		alerts: cfg.Alerts,
	}

	evaluator.worker = worker.New(worker.Config{
		Name:      "alert-evaluator-worker",
		Processor: evaluator,
	})
	return evaluator
}

func (e *Evaluator) Run(ctx context.Context) {
	e.worker.Run(ctx)
}

func (e *Evaluator) Close(ctx context.Context) {
	slog.InfoContext(ctx, "Closing evaluator resources...")
	e.reader.Close()
}

// Auto-commit active
func (e *Evaluator) ProcessMessage(ctx context.Context) {
	m, err := e.reader.ReadMessage(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Error reading message", "error", err)
		return
	}
	var event k.MeasurementEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		slog.ErrorContext(ctx, "Error parsing JSON", "error", err)
		return
	}
	e.Evaluate(ctx, event)
}

// Evaluate applies the threshold rules to one measurement event. A rule only
// fires when its threshold is configured; battery additionally requires the
// reading to be present.
func (e *Evaluator) Evaluate(ctx context.Context, event k.MeasurementEvent) {
	cfg, err := e.repo.GetDeviceConfig(ctx, event.DeviceID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			// No config, no thresholds to breach.
			return
		}
		slog.ErrorContext(ctx, "Error loading device config", "device_id", event.DeviceID, "error", err)
		return
	}

	if cfg.TankFullThresholdL != nil && event.VolumeL >= *cfg.TankFullThresholdL {
		e.raise(ctx, event, db.AlertTankFull, db.SeverityHigh,
			fmt.Sprintf("Tank is full (%.1fL)", event.VolumeL),
			map[string]any{"volume_l": event.VolumeL, "threshold": *cfg.TankFullThresholdL},
		)
	}

	if cfg.TankLowThresholdL != nil && event.VolumeL <= *cfg.TankLowThresholdL {
		e.raise(ctx, event, db.AlertTankLow, db.SeverityCritical,
			fmt.Sprintf("Tank is low (%.1fL)", event.VolumeL),
			map[string]any{"volume_l": event.VolumeL, "threshold": *cfg.TankLowThresholdL},
		)
	}

	if event.BatteryV != nil && cfg.BatteryLowThresholdV != nil && *event.BatteryV < *cfg.BatteryLowThresholdV {
		e.raise(ctx, event, db.AlertBatteryLow, db.SeverityMedium,
			fmt.Sprintf("Battery is low (%.2fV)", *event.BatteryV),
			map[string]any{"battery_v": *event.BatteryV, "threshold": *cfg.BatteryLowThresholdV},
		)
	}
}

func (e *Evaluator) raise(ctx context.Context, event k.MeasurementEvent, alertType, severity, message string, payload map[string]any) {
	if err := e.alerts.Raise(ctx, event.DeviceID, event.TenantID, alertType, severity, message, payload); err != nil {
		slog.ErrorContext(ctx, "Error raising alert",
			"device_id", event.DeviceID,
			"type", alertType,
			"error", err,
		)
	}
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"tankwatch/internal/db"

	k "tankwatch/internal/kafka"

	"github.com/segmentio/kafka-go"
)

const publishTimeout = 5 * time.Second

// deviceHeader carries the device identity established by the upstream
// authenticator. Credential verification itself happens outside the core.
const deviceHeader = "X-Device-ID"

type repository interface {
	FindDevice(ctx context.Context, deviceID string) (*db.Device, error)
	InsertMeasurement(ctx context.Context, m db.Measurement) (db.Measurement, error)
	TouchDevice(ctx context.Context, id string, firmwareVersion *string) error
	GetDeviceConfig(ctx context.Context, deviceID string) (*db.DeviceConfig, error)
}

type API struct {
	repo repository
	bus  k.Writer
}

type Config struct {
	Repo repository
	Bus  k.Writer
}

func New(cfg Config) *API {
	return &API{repo: cfg.Repo, bus: cfg.Bus}
}

// CreateMeasurement stores one reading, refreshes device liveness and hands
// the measurement off to the alert evaluator. Only the two storage writes
// can fail the request; the handoff is fire-and-forget.
func (a *API) CreateMeasurement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	device, ok := a.authenticateDevice(w, r)
	if !ok {
		return
	}

	var req MeasurementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.LevelCM == nil || req.VolumeL == nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "level_cm and volume_l are required"})
		return
	}

	measurement, err := a.repo.InsertMeasurement(ctx, db.Measurement{
		DeviceID:     device.ID,
		LevelCM:      *req.LevelCM,
		VolumeL:      *req.VolumeL,
		TemperatureC: req.TemperatureC,
		BatteryV:     req.BatteryV,
		RSSI:         req.RSSI,
	})
	if err != nil {
		slog.ErrorContext(ctx, "Error inserting measurement", "device_id", device.DeviceID, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to process measurement"})
		return
	}

	if err := a.repo.TouchDevice(ctx, device.ID, req.FirmwareVersion); err != nil {
		slog.ErrorContext(ctx, "Error updating device liveness", "device_id", device.DeviceID, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to process measurement"})
		return
	}

	resp := MeasurementResponse{
		Success:       true,
		MeasurementID: measurement.ID,
	}

	cfg, err := a.repo.GetDeviceConfig(ctx, device.ID)
	switch {
	case err == nil:
		resp.Config = configPayload(cfg)
	case errors.Is(err, db.ErrNotFound):
		// No config row yet; ingestion still succeeds without one.
	default:
		slog.ErrorContext(ctx, "Error loading device config", "device_id", device.DeviceID, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to process measurement"})
		return
	}

	go a.publishMeasurement(k.MeasurementEvent{
		MeasurementID: measurement.ID,
		DeviceID:      device.ID,
		TenantID:      device.TenantID,
		VolumeL:       measurement.VolumeL,
		BatteryV:      measurement.BatteryV,
		Timestamp:     measurement.Timestamp.UnixMilli(),
	})

	writeJSON(w, http.StatusCreated, resp)
}

// GetDeviceConfig serves the config-pull endpoint with documented defaults
// when no config row exists.
func (a *API) GetDeviceConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	device, ok := a.authenticateDevice(w, r)
	if !ok {
		return
	}

	cfg, err := a.repo.GetDeviceConfig(ctx, device.ID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeJSON(w, http.StatusOK, defaultConfigPayload())
			return
		}
		slog.ErrorContext(ctx, "Error loading device config", "device_id", device.DeviceID, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to fetch configuration"})
		return
	}

	writeJSON(w, http.StatusOK, configPayload(cfg))
}

func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (a *API) authenticateDevice(w http.ResponseWriter, r *http.Request) (*db.Device, bool) {
	deviceID := r.Header.Get(deviceHeader)
	if deviceID == "" {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "device not authenticated"})
		return nil, false
	}

	device, err := a.repo.FindDevice(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "device not authenticated"})
			return nil, false
		}
		slog.ErrorContext(r.Context(), "Error resolving device", "device_id", deviceID, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to resolve device"})
		return nil, false
	}
	return device, true
}

// publishMeasurement runs detached from the request: the device's response
// never waits on the bus, and a broker failure is logged, not surfaced.
func (a *API) publishMeasurement(event k.MeasurementEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	out, err := json.Marshal(event)
	if err != nil {
		slog.ErrorContext(ctx, "Error marshalling measurement event", "error", err)
		return
	}
	err = a.bus.WriteMessages(ctx, kafka.Message{Key: []byte(event.DeviceID), Value: out})
	if err != nil {
		slog.ErrorContext(ctx, "Error publishing measurement event",
			"measurement_id", event.MeasurementID,
			"device_id", event.DeviceID,
			"error", err,
		)
	}
}

// configPayload flattens a config row into the wire shape devices consume.
// Free-form extension fields from config_json are merged in last, matching
// how admin-set extras override the base keys.
func configPayload(cfg *db.DeviceConfig) map[string]any {
	out := map[string]any{
		"measurement_interval_ms": cfg.MeasurementIntervalMS,
		"report_interval_ms":      cfg.ReportIntervalMS,
		"tank_full_threshold_l":   cfg.TankFullThresholdL,
		"tank_low_threshold_l":    cfg.TankLowThresholdL,
		"battery_low_threshold_v": cfg.BatteryLowThresholdV,
		"level_empty_cm":          cfg.LevelEmptyCM,
		"level_full_cm":           cfg.LevelFullCM,
	}
	if len(cfg.ConfigJSON) > 0 {
		var extra map[string]any
		if err := json.Unmarshal(cfg.ConfigJSON, &extra); err == nil {
			for key, value := range extra {
				out[key] = value
			}
		}
	}
	return out
}

func defaultConfigPayload() map[string]any {
	return map[string]any{
		"measurement_interval_ms": 60000,
		"report_interval_ms":      300000,
		"tank_full_threshold_l":   900.0,
		"tank_low_threshold_l":    100.0,
		"battery_low_threshold_v": 3.3,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

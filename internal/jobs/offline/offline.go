package offline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tankwatch/internal/db"
)

type repository interface {
	ListStaleOnlineDevices(ctx context.Context, cutoff time.Time) ([]db.Device, error)
	MarkDeviceOffline(ctx context.Context, id string) error
}

type raiser interface {
	Raise(ctx context.Context, deviceID, tenantID, alertType, severity, message string, payload map[string]any) error
}

type Config struct {
	ThresholdMinutes int
	Repo             repository
	Alerts           raiser
}

// Sweeper demotes devices that have gone silent past the liveness threshold
// and raises device_offline alerts. One device's failure never aborts the
// rest of the batch, and re-running while an unacknowledged alert is inside
// the dedup window is a no-op.
type Sweeper struct {
	thresholdMinutes int
	repo             repository
	alerts           raiser
}

func New(cfg Config) *Sweeper {
	return &Sweeper{
		thresholdMinutes: cfg.ThresholdMinutes,
		repo:             cfg.Repo,
		alerts:           cfg.Alerts,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	slog.InfoContext(ctx, "Checking for offline devices...")

	cutoff := time.Now().Add(-time.Duration(s.thresholdMinutes) * time.Minute)
	devices, err := s.repo.ListStaleOnlineDevices(ctx, cutoff)
	if err != nil {
		slog.ErrorContext(ctx, "Error listing stale devices", "error", err)
		return
	}

	for _, device := range devices {
		if err := s.repo.MarkDeviceOffline(ctx, device.ID); err != nil {
			slog.ErrorContext(ctx, "Error marking device offline", "device_id", device.DeviceID, "error", err)
			continue
		}

		message := fmt.Sprintf("Device %s has been offline for %d minutes", device.DeviceID, s.thresholdMinutes)
		payload := map[string]any{"device_id": device.DeviceID, "last_seen": device.LastSeen}
		if err := s.alerts.Raise(ctx, device.ID, device.TenantID, db.AlertDeviceOffline, db.SeverityHigh, message, payload); err != nil {
			slog.ErrorContext(ctx, "Error raising offline alert", "device_id", device.DeviceID, "error", err)
		}
	}

	slog.InfoContext(ctx, "Offline sweep complete", "flipped", len(devices))
}

package summary

import (
	"context"
	"log/slog"
	"time"

	"tankwatch/internal/db"
)

// RefillThresholdL is the sudden volume increase, in liters, that counts as
// a refill rather than sensor drift.
const RefillThresholdL = 100.0

type repository interface {
	ListDevices(ctx context.Context) ([]db.Device, error)
	LoadMeasurementsBetween(ctx context.Context, deviceID string, start, end time.Time) ([]db.Measurement, error)
	UpsertDailySummary(ctx context.Context, s db.DailySummary) error
}

type raiser interface {
	Raise(ctx context.Context, deviceID, tenantID, alertType, severity, message string, payload map[string]any) error
}

type Config struct {
	LeakThresholdLPerHour float64
	Repo                  repository
	Alerts                raiser
}

// Aggregator computes the previous calendar day's usage rollup for every
// device: min/max/avg volume, refill count, usage accumulator and the leak
// heuristic. Upserts are keyed on (device, date) so re-runs overwrite
// instead of duplicating. Per-device failures are logged and skipped.
type Aggregator struct {
	leakThresholdLPerHour float64
	repo                  repository
	alerts                raiser
}

func New(cfg Config) *Aggregator {
	return &Aggregator{
		leakThresholdLPerHour: cfg.LeakThresholdLPerHour,
		repo:                  cfg.Repo,
		alerts:                cfg.Alerts,
	}
}

func (a *Aggregator) Run(ctx context.Context) {
	slog.InfoContext(ctx, "Starting daily aggregation...")

	devices, err := a.repo.ListDevices(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Error listing devices", "error", err)
		return
	}

	start, end := previousDayWindow(time.Now())
	for _, device := range devices {
		if err := a.aggregateDevice(ctx, device, start, end); err != nil {
			slog.ErrorContext(ctx, "Error aggregating device", "device_id", device.DeviceID, "error", err)
		}
	}

	slog.InfoContext(ctx, "Daily aggregation completed", "devices", len(devices))
}

func (a *Aggregator) aggregateDevice(ctx context.Context, device db.Device, start, end time.Time) error {
	measurements, err := a.repo.LoadMeasurementsBetween(ctx, device.ID, start, end)
	if err != nil {
		return err
	}
	if len(measurements) == 0 {
		slog.InfoContext(ctx, "No measurements for device", "device_id", device.DeviceID, "date", start.Format("2006-01-02"))
		return nil
	}

	stats := computeSummary(measurements, a.leakThresholdLPerHour)
	row := db.DailySummary{
		DeviceID:      device.ID,
		Date:          start,
		TotalUsageL:   stats.TotalUsageL,
		MinVolumeL:    stats.MinVolumeL,
		MaxVolumeL:    stats.MaxVolumeL,
		AvgVolumeL:    stats.AvgVolumeL,
		RefillEvents:  stats.RefillEvents,
		LeakSuspected: stats.LeakSuspected,
	}
	if err := a.repo.UpsertDailySummary(ctx, row); err != nil {
		return err
	}

	if stats.LeakSuspected {
		payload := map[string]any{
			"date":          start.Format("2006-01-02"),
			"total_usage_l": stats.TotalUsageL,
			"refill_events": stats.RefillEvents,
		}
		if err := a.alerts.Raise(ctx, device.ID, device.TenantID, db.AlertLeakDetected, db.SeverityCritical,
			"Possible leak detected based on unusual consumption pattern", payload); err != nil {
			slog.ErrorContext(ctx, "Error raising leak alert", "device_id", device.DeviceID, "error", err)
		}
	}

	slog.InfoContext(ctx, "Aggregated daily summary",
		"device_id", device.DeviceID,
		"date", start.Format("2006-01-02"),
		"total_usage_l", stats.TotalUsageL,
		"refill_events", stats.RefillEvents,
		"leak_suspected", stats.LeakSuspected,
	)
	return nil
}

type summaryStats struct {
	TotalUsageL   float64
	MinVolumeL    float64
	MaxVolumeL    float64
	AvgVolumeL    float64
	RefillEvents  int
	LeakSuspected bool
}

// computeSummary walks one day of measurements, ordered ascending by
// timestamp.
//
// A refill is a jump of at least RefillThresholdL between consecutive
// readings. Usage accumulates only decreases; a refill jump advances the
// running volume without counting as negative usage. The leak heuristic
// estimates hourly consumption across the day, crediting back the refill
// volume, and fires only when no refill was seen.
func computeSummary(measurements []db.Measurement, leakThresholdLPerHour float64) summaryStats {
	var stats summaryStats

	stats.MinVolumeL = measurements[0].VolumeL
	stats.MaxVolumeL = measurements[0].VolumeL
	var sum float64
	for _, m := range measurements {
		if m.VolumeL < stats.MinVolumeL {
			stats.MinVolumeL = m.VolumeL
		}
		if m.VolumeL > stats.MaxVolumeL {
			stats.MaxVolumeL = m.VolumeL
		}
		sum += m.VolumeL
	}
	stats.AvgVolumeL = sum / float64(len(measurements))

	for i := 1; i < len(measurements); i++ {
		if measurements[i].VolumeL-measurements[i-1].VolumeL >= RefillThresholdL {
			stats.RefillEvents++
		}
	}

	currentVolume := measurements[0].VolumeL
	for i := 1; i < len(measurements); i++ {
		next := measurements[i].VolumeL
		if change := currentVolume - next; change > 0 {
			stats.TotalUsageL += change
		}
		currentVolume = next
	}

	if len(measurements) >= 2 {
		first := measurements[0]
		last := measurements[len(measurements)-1]
		elapsedHours := last.Timestamp.Sub(first.Timestamp).Hours()
		if elapsedHours > 0 {
			totalConsumption := first.VolumeL - last.VolumeL + float64(stats.RefillEvents)*RefillThresholdL
			hourlyConsumption := totalConsumption / elapsedHours
			if hourlyConsumption > leakThresholdLPerHour && stats.RefillEvents == 0 {
				stats.LeakSuspected = true
			}
		}
	}

	return stats
}

// previousDayWindow returns [yesterday 00:00:00, yesterday 23:59:59.999]
// in now's location.
func previousDayWindow(now time.Time) (time.Time, time.Time) {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, -1)
	end := start.AddDate(0, 0, 1).Add(-time.Millisecond)
	return start, end
}

package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"tankwatch/internal/db"

	"github.com/google/uuid"
)

var (
	ErrCreateFailed = errors.New("alert creation failed")
)

type repository interface {
	InsertAlertDedup(ctx context.Context, a db.Alert) (bool, error)
}

type notifier interface {
	Send(ctx context.Context, alert db.Alert) error
}

type Config struct {
	Repo     repository
	Notifier notifier
}

// Creator is the single alert creation path shared by the evaluator, the
// offline sweeper and the daily aggregator: conditional insert under the
// one-hour suppression window, then notification dispatch. Dispatch failures
// are logged, never propagated.
type Creator struct {
	repo     repository
	notifier notifier
}

func New(cfg Config) *Creator {
	return &Creator{
		repo:     cfg.Repo,
		notifier: cfg.Notifier,
	}
}

func (c *Creator) Raise(ctx context.Context, deviceID, tenantID, alertType, severity, message string, payload map[string]any) error {
	const fn = "Creator:Raise"
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrCreateFailed, err)
	}

	alert := db.Alert{
		ID:       uuid.NewString(),
		DeviceID: deviceID,
		TenantID: tenantID,
		Type:     alertType,
		Severity: severity,
		Message:  message,
		Payload:  string(body),
	}

	created, err := c.repo.InsertAlertDedup(ctx, alert)
	if err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrCreateFailed, err)
	}
	if !created {
		slog.InfoContext(ctx, "Alert suppressed by dedup window",
			"device_id", deviceID,
			"type", alertType,
		)
		return nil
	}

	slog.InfoContext(ctx, "Alert created",
		"alert_id", alert.ID,
		"device_id", deviceID,
		"type", alertType,
		"severity", severity,
	)

	if err := c.notifier.Send(ctx, alert); err != nil {
		slog.ErrorContext(ctx, "Error dispatching notification", "alert_id", alert.ID, "error", err)
	}
	return nil
}

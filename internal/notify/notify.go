package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tankwatch/internal/db"

	"github.com/go-resty/resty/v2"
)

var (
	ErrTokenLookupFailed = errors.New("token lookup failed")
	ErrSendFailed        = errors.New("push send failed")
	ErrMarkFailed        = errors.New("mark delivered failed")
)

type repository interface {
	ListTenantTokens(ctx context.Context, tenantID string) ([]string, error)
	MarkAlertDelivered(ctx context.Context, alertID string) error
}

type Config struct {
	Endpoint  string
	ServerKey string
	Repo      repository
}

// Dispatcher fans an alert out to every registered token of the owning
// tenant with a single multicast send. Delivery is attempted, not guaranteed
// per recipient: the alert is marked delivered once regardless of per-token
// failures.
type Dispatcher struct {
	endpoint string
	client   *resty.Client
	repo     repository
}

type multicastRequest struct {
	RegistrationIDs []string          `json:"registration_ids"`
	Notification    notification      `json:"notification"`
	Data            map[string]string `json:"data"`
	Priority        string            `json:"priority"`
}

type notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type multicastResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
}

func New(cfg Config) *Dispatcher {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "key="+cfg.ServerKey)
	return &Dispatcher{
		endpoint: cfg.Endpoint,
		client:   client,
		repo:     cfg.Repo,
	}
}

func (d *Dispatcher) Send(ctx context.Context, alert db.Alert) error {
	const fn = "Dispatcher:Send"

	tokens, err := d.repo.ListTenantTokens(ctx, alert.TenantID)
	if err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrTokenLookupFailed, err)
	}

	if len(tokens) == 0 {
		slog.InfoContext(ctx, "No notification tokens for tenant", "tenant_id", alert.TenantID, "alert_id", alert.ID)
		return d.markDelivered(ctx, alert.ID)
	}

	req := multicastRequest{
		RegistrationIDs: tokens,
		Notification: notification{
			Title: "Water Tank Alert",
			Body:  alert.Message,
		},
		Data: map[string]string{
			"alert_id":  alert.ID,
			"device_id": alert.DeviceID,
			"type":      alert.Type,
			"severity":  alert.Severity,
		},
		Priority: "high",
	}

	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&multicastResponse{}).
		Post(d.endpoint)
	if err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrSendFailed, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%s:%w:status %d", fn, ErrSendFailed, resp.StatusCode())
	}

	result := resp.Result().(*multicastResponse)
	slog.InfoContext(ctx, "Sent push notifications",
		"alert_id", alert.ID,
		"tokens", len(tokens),
		"success", result.Success,
		"failure", result.Failure,
	)

	return d.markDelivered(ctx, alert.ID)
}

func (d *Dispatcher) markDelivered(ctx context.Context, alertID string) error {
	const fn = "Dispatcher:markDelivered"
	if err := d.repo.MarkAlertDelivered(ctx, alertID); err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrMarkFailed, err)
	}
	return nil
}

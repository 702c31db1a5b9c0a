// Package alerts delivers operator alerts to websocket clients, webhooks
// and Redis subscribers.
package alerts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nshruti113/traffic-sentinel/internal/models"
)

type Alerter interface {
	SendAlert(ctx context.Context, title, message string, severity models.Severity) error
}

func newAlert(title, message string, severity models.Severity) models.Alert {
	return models.Alert{
		ID:        uuid.New().String(),
		Severity:  severity,
		Title:     title,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// Multi fans an alert out to every channel and joins their errors
type Multi []Alerter

func (m Multi) SendAlert(ctx context.Context, title, message string, severity models.Severity) error {
	var errs []error
	for _, a := range m {
		if err := a.SendAlert(ctx, title, message, severity); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Publisher is the Redis side of alert delivery
type Publisher interface {
	PublishAlert(ctx context.Context, alert models.Alert) error
}

type RedisAlerter struct {
	pub Publisher
}

func NewRedisAlerter(pub Publisher) *RedisAlerter {
	return &RedisAlerter{pub: pub}
}

func (r *RedisAlerter) SendAlert(ctx context.Context, title, message string, severity models.Severity) error {
	return r.pub.PublishAlert(ctx, newAlert(title, message, severity))
}

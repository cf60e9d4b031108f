package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"bitbucket.org/edufocus/lending_backend/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Sender delivers one notification to its recipient. Transport mechanics are
// deliberately pluggable; the engine only depends on the dispatch contract.
type Sender interface {
	Send(ctx context.Context, notification *models.Notification) error
}

// WebhookSender posts the notification as JSON to a configured endpoint
// (typically the school's push gateway).
type WebhookSender struct {
	URL    string
	Client *http.Client
}

func (s *WebhookSender) Send(ctx context.Context, notification *models.Notification) error {
	payload, err := json.Marshal(map[string]interface{}{
		"recipient": notification.RecipientEmail,
		"title":     notification.Title,
		"message":   notification.Message,
		"severity":  notification.Severity,
		"category":  notification.Category,
		"link":      notification.Link,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification webhook returned %d", resp.StatusCode)
	}
	return nil
}

// LogSender writes deliveries to the log only. Used when no webhook is
// configured (local/dev).
type LogSender struct {
	Logger *logrus.Logger
}

func (s *LogSender) Send(ctx context.Context, notification *models.Notification) error {
	s.Logger.WithFields(logrus.Fields{
		"field":     "LogSender",
		"recipient": notification.RecipientEmail,
		"severity":  notification.Severity,
		"title":     notification.Title,
	}).Info(notification.Message)
	return nil
}

// NotificationDispatcher drains the notification outbox: claims pending rows,
// hands them to the Sender, retries with backoff and parks poison rows as
// DEAD after MaxAttempts.
type NotificationDispatcher struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	Sender       Sender
	DispatcherID string

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

func NewNotificationDispatcher(db *gorm.DB, logger *logrus.Logger) *NotificationDispatcher {
	var sender Sender
	if url := strings.TrimSpace(os.Getenv("NOTIFY_WEBHOOK_URL")); url != "" {
		sender = &WebhookSender{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
	} else {
		sender = &LogSender{Logger: logger}
	}
	return &NotificationDispatcher{
		DB:             db,
		Logger:         logger,
		Sender:         sender,
		DispatcherID:   uuid.NewString(),
		BatchSize:      50,
		PollInterval:   2 * time.Second,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    10,
		InitialBackoff: 5 * time.Second,
	}
}

func (d *NotificationDispatcher) Run(ctx context.Context) {
	if d == nil || d.DB == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.dispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

func (d *NotificationDispatcher) dispatchOnce(ctx context.Context) {
	now := time.Now().UTC()
	staleBefore := now.Add(-d.LockTimeout)

	var claimed []models.Notification
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Eligible:
		// - PENDING / FAILED and ready to retry
		// - PROCESSING with a stale lock (dispatcher crashed mid-batch)
		q := tx.
			Where(`
				(
					status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
				)
				OR
				(
					status = ? AND locked_at IS NOT NULL AND locked_at <= ?
				)
			`, []models.NotificationStatus{models.NotificationStatusPending, models.NotificationStatusFailed}, now, models.NotificationStatusProcessing, staleBefore).
			Order("id ASC").
			Limit(d.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		for i := range claimed {
			// Poison rows go terminal.
			if d.MaxAttempts > 0 && claimed[i].Attempts >= d.MaxAttempts {
				msg := fmt.Sprintf("max delivery attempts exceeded (%d)", d.MaxAttempts)
				claimed[i].Status = models.NotificationStatusDead
				if err := tx.Model(&models.Notification{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
					"status":          models.NotificationStatusDead,
					"last_error":      &msg,
					"next_attempt_at": nil,
					"locked_at":       nil,
					"locked_by":       nil,
				}).Error; err != nil {
					return err
				}
				continue
			}

			claimed[i].Status = models.NotificationStatusProcessing
			claimed[i].LockedAt = &now
			claimed[i].LockedBy = &d.DispatcherID
			claimed[i].Attempts = claimed[i].Attempts + 1
			if err := tx.Model(&models.Notification{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
				"status":          claimed[i].Status,
				"locked_at":       claimed[i].LockedAt,
				"locked_by":       claimed[i].LockedBy,
				"attempts":        gorm.Expr("attempts + 1"),
				"last_error":      nil,
				"next_attempt_at": nil,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil || len(claimed) == 0 {
		return
	}

	for i := range claimed {
		rec := &claimed[i]
		if rec.Status == models.NotificationStatusDead {
			continue
		}
		if sendErr := d.Sender.Send(ctx, rec); sendErr != nil {
			d.markDeliveryFailed(ctx, rec, sendErr)
			continue
		}
		d.markDelivered(ctx, rec.ID, now)
	}
}

func (d *NotificationDispatcher) markDelivered(ctx context.Context, recordID int, now time.Time) {
	_ = d.DB.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ?", recordID).
		Updates(map[string]interface{}{
			"status":          models.NotificationStatusSent,
			"sent_at":         &now,
			"locked_at":       nil,
			"locked_by":       nil,
			"next_attempt_at": nil,
		}).Error
}

func (d *NotificationDispatcher) markDeliveryFailed(ctx context.Context, rec *models.Notification, err error) {
	now := time.Now().UTC()
	msg := err.Error()

	if d.MaxAttempts > 0 && rec.Attempts >= d.MaxAttempts {
		_ = d.DB.WithContext(ctx).Model(&models.Notification{}).
			Where("id = ?", rec.ID).
			Updates(map[string]interface{}{
				"status":          models.NotificationStatusDead,
				"last_error":      &msg,
				"next_attempt_at": nil,
				"locked_at":       nil,
				"locked_by":       nil,
			}).Error
		d.Logger.WithFields(logrus.Fields{
			"field":     "NotificationDispatcher",
			"record_id": rec.ID,
			"recipient": rec.RecipientEmail,
			"attempt":   rec.Attempts,
		}).Error("notification moved to DEAD after max attempts: " + msg)
		return
	}

	backoff := d.InitialBackoff
	for i := 1; i < rec.Attempts; i++ {
		backoff *= 2
		if backoff > time.Minute*10 {
			backoff = time.Minute * 10
			break
		}
	}
	next := now.Add(backoff)
	_ = d.DB.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ?", rec.ID).
		Updates(map[string]interface{}{
			"status":          models.NotificationStatusFailed,
			"last_error":      &msg,
			"next_attempt_at": &next,
			"locked_at":       nil,
			"locked_by":       nil,
		}).Error

	d.Logger.WithFields(logrus.Fields{
		"field":           "NotificationDispatcher",
		"record_id":       rec.ID,
		"recipient":       rec.RecipientEmail,
		"attempt":         rec.Attempts,
		"next_attempt_at": next.Format(time.RFC3339Nano),
	}).Error("notification delivery failed: " + msg)
}

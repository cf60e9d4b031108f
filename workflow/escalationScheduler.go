package workflow

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/edufocus/lending_backend/config"
	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("lending-backend")

// EscalationScheduler drives the periodic sanction scan: an overdue warning
// pass followed by a reactivation pass, each inside its own transaction.
//
// Ticks never overlap in-process (one goroutine runs them to completion).
// Across replicas a redis lock keeps evaluation single-instance; running
// several replicas without redis is a deployment error and will duplicate
// notifications.
type EscalationScheduler struct {
	DB          *gorm.DB
	Logger      *logrus.Logger
	SchedulerID string
	Interval    time.Duration
	LockTTL     time.Duration
}

func NewEscalationScheduler(db *gorm.DB, logger *logrus.Logger) *EscalationScheduler {
	interval := 60 * time.Minute
	if v := strings.TrimSpace(os.Getenv("ESCALATION_INTERVAL_MINUTES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			interval = time.Duration(n) * time.Minute
		}
	}
	return &EscalationScheduler{
		DB:          db,
		Logger:      logger,
		SchedulerID: uuid.NewString(),
		Interval:    interval,
		LockTTL:     10 * time.Minute,
	}
}

func (s *EscalationScheduler) Run(ctx context.Context) {
	if s == nil || s.DB == nil {
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
		s.TickOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.Interval):
		}
	}
}

// TickOnce runs a single warning + reactivation cycle. Exported so the
// one-shot cmd tool can drive it without the loop.
func (s *EscalationScheduler) TickOnce(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "escalation.tick")
	defer span.End()

	// Single-instance guard. If another replica holds the lock, skip the
	// whole tick; it is doing the same work.
	redisLock := config.GetRedisLock()
	if redisLock != nil {
		lock, err := redisLock.Obtain(ctx, "lock:escalation-tick", s.LockTTL, nil)
		if err == redislock.ErrNotObtained {
			s.Logger.WithFields(logrus.Fields{
				"field":        "EscalationScheduler",
				"scheduler_id": s.SchedulerID,
			}).Info("escalation tick skipped; lock held by another instance")
			return
		} else if err != nil {
			s.Logger.WithFields(logrus.Fields{
				"field":        "EscalationScheduler",
				"scheduler_id": s.SchedulerID,
			}).Warn("error obtaining escalation lock; proceeding without it: " + err.Error())
		} else {
			defer func() {
				if releaseErr := lock.Release(ctx); releaseErr != nil {
					s.Logger.WithFields(logrus.Fields{
						"field":        "EscalationScheduler",
						"scheduler_id": s.SchedulerID,
					}).Warn("failed to release escalation lock: " + releaseErr.Error())
				}
			}()
		}
	} else {
		s.Logger.WithFields(logrus.Fields{
			"field":        "EscalationScheduler",
			"scheduler_id": s.SchedulerID,
		}).Warn("redis lock not ready; proceeding without single-instance guard")
	}

	now := time.Now().UTC()

	// Each pass is one transaction: a failure rolls the whole pass back
	// (fail-fast) so a partial tick never leaves half-written escalations.
	var warningReport *PassReport
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var passErr error
		warningReport, passErr = NewEngine(tx, s.Logger).RunOverdueWarningPass(ctx, now)
		return passErr
	})
	if err != nil {
		config.LogError(s.Logger, "escalationScheduler.go", "TickOnce", "overdue warning pass", nil, err)
	} else {
		s.Logger.WithFields(logrus.Fields{
			"field":            "EscalationScheduler",
			"pass":             "overdue-warnings",
			"loans_scanned":    warningReport.LoansScanned,
			"warnings_created": warningReport.WarningsCreated,
			"blocks_created":   warningReport.BlocksCreated,
		}).Info("overdue warning pass completed")
	}

	var reactivationReport *PassReport
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var passErr error
		reactivationReport, passErr = NewEngine(tx, s.Logger).RunReactivationPass(ctx, now)
		return passErr
	})
	if err != nil {
		config.LogError(s.Logger, "escalationScheduler.go", "TickOnce", "reactivation pass", nil, err)
	} else {
		s.Logger.WithFields(logrus.Fields{
			"field":               "EscalationScheduler",
			"pass":                "reactivation",
			"expired_blocks":      reactivationReport.ExpiredBlocksScanned,
			"users_reactivated":   reactivationReport.UsersReactivated,
			"indefinites_created": reactivationReport.IndefinitesCreated,
		}).Info("reactivation pass completed")
	}
}

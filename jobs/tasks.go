package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tallybook/tallybook/internal/credit"
	"github.com/tallybook/tallybook/internal/reminders"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskOverdueSweep flips stale pending credit statuses to overdue.
	TaskOverdueSweep = "credit:overdue_sweep"
	// TaskReminderDispatch sends bulk reminders for overdue credit records.
	TaskReminderDispatch = "reminders:dispatch_overdue"
)

// OverdueSweepPayload carries scheduling metadata.
type OverdueSweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewOverdueSweepTask constructs an Asynq task for the status sweep.
func NewOverdueSweepTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(OverdueSweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOverdueSweep, body, asynq.Queue(QueueDefault)), nil
}

// HandleOverdueSweep builds the handler for TaskOverdueSweep.
func HandleOverdueSweep(svc *credit.Service, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload OverdueSweepPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		updated, err := svc.RefreshStale(ctx)
		if err != nil {
			logger.Error("overdue sweep", slog.Any("error", err))
			return err
		}
		logger.Info("overdue sweep complete", slog.Int64("updated", updated))
		return nil
	}
}

// ReminderDispatchPayload selects the shop to dispatch for; zero means all.
type ReminderDispatchPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
	ShopkeeperID int64     `json:"shopkeeper_id"`
}

// NewReminderDispatchTask constructs an Asynq task for bulk reminders.
func NewReminderDispatchTask(at time.Time, shopkeeperID int64) (*asynq.Task, error) {
	body, err := json.Marshal(ReminderDispatchPayload{ScheduledFor: at, ShopkeeperID: shopkeeperID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReminderDispatch, body, asynq.Queue(QueueDefault)), nil
}

// HandleReminderDispatch builds the handler for TaskReminderDispatch.
func HandleReminderDispatch(svc *reminders.Service, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ReminderDispatchPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		created, err := svc.DispatchOverdue(ctx, payload.ShopkeeperID)
		if err != nil {
			logger.Error("reminder dispatch", slog.Any("error", err))
			return err
		}
		logger.Info("reminder dispatch complete", slog.Int("created", len(created)))
		return nil
	}
}

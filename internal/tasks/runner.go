package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"storefront_pay_echo/internal/models"
)

const (
	defaultRetryDelay = time.Minute
	dueBatchSize      = 100
)

// Runner executes due scheduled tasks and records their history
type Runner struct {
	db         *gorm.DB
	registry   *Registry
	logger     *slog.Logger
	now        func() time.Time
	retryDelay time.Duration
}

func NewRunner(db *gorm.DB, registry *Registry, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		db:         db,
		registry:   registry,
		logger:     logger,
		now:        time.Now,
		retryDelay: defaultRetryDelay,
	}
}

// RunDue executes every active task whose due time has passed and returns how many ran
func (r *Runner) RunDue(ctx context.Context) (int, error) {
	var pending []models.ScheduledTask
	err := r.db.WithContext(ctx).
		Where("status = ? AND due <= ?", models.ScheduledTaskStatusActive, r.now()).
		Order("due").
		Limit(dueBatchSize).
		Find(&pending).Error
	if err != nil {
		return 0, fmt.Errorf("failed to fetch pending tasks: %w", err)
	}

	ran := 0
	for _, task := range pending {
		if ctx.Err() != nil {
			return ran, ctx.Err()
		}
		r.Execute(ctx, task)
		ran++
	}
	return ran, nil
}

// Execute runs one task and moves it to its next state. A failed run is
// retried until MaxAttempt consecutive failures.
func (r *Runner) Execute(ctx context.Context, task models.ScheduledTask) {
	log := r.logger.With("task_id", task.ID, "task_name", task.TaskName)
	attempt := task.Attempts + 1

	handler, found := r.registry.Get(task.TaskName)
	if !found {
		log.ErrorContext(ctx, "task handler not found, marking as failure")
		now := r.now()
		r.update(ctx, task, map[string]interface{}{
			"status":   models.ScheduledTaskStatusFailure,
			"last_run": &now,
		})
		r.record(ctx, task, now, 0, "handler_not_found", attempt, map[string]interface{}{"error": "Handler not found"})
		return
	}

	start := r.now()
	began := time.Now()
	result, err := r.run(ctx, handler, task)
	runtimeMs := int(time.Since(began).Milliseconds())

	status := "success"
	if err != nil {
		status = "failure"
		result = map[string]interface{}{"error": err.Error()}
		log.WarnContext(ctx, "task failed", "attempt", attempt, "max_attempt", task.MaxAttempt, "error", err)
	} else {
		log.InfoContext(ctx, "task completed", "runtime_ms", runtimeMs)
	}
	r.record(ctx, task, start, runtimeMs, status, attempt, result)

	updates := map[string]interface{}{"last_run": &start}
	if err == nil {
		updates["attempts"] = 0
		r.advance(task, updates)
	} else if attempt < max(task.MaxAttempt, 1) {
		updates["attempts"] = attempt
		updates["due"] = r.now().Add(r.retryDelay * time.Duration(attempt))
	} else {
		log.ErrorContext(ctx, "task exhausted its attempts", "attempts", attempt)
		updates["attempts"] = 0
		if task.TaskType == models.ScheduledTaskTypeRecurring {
			r.advance(task, updates)
		} else {
			updates["status"] = models.ScheduledTaskStatusFailure
		}
	}
	r.update(ctx, task, updates)
}

func (r *Runner) run(ctx context.Context, handler TaskHandler, task models.ScheduledTask) (result map[string]interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task panicked: %v", rec)
		}
	}()
	return handler(ctx, r.db.WithContext(ctx), task)
}

// advance schedules the next occurrence of a recurring task or finishes a one-time task
func (r *Runner) advance(task models.ScheduledTask, updates map[string]interface{}) {
	if task.TaskType != models.ScheduledTaskTypeRecurring {
		updates["status"] = models.ScheduledTaskStatusDone
		return
	}
	now := r.now()
	next := task.NextDue(now)
	if next.After(now) {
		updates["status"] = models.ScheduledTaskStatusActive
		updates["due"] = next
		return
	}
	updates["status"] = models.ScheduledTaskStatusDone
}

func (r *Runner) update(ctx context.Context, task models.ScheduledTask, updates map[string]interface{}) {
	err := r.db.WithContext(ctx).Model(&models.ScheduledTask{}).Where("id = ?", task.ID).Updates(updates).Error
	if err != nil {
		r.logger.ErrorContext(ctx, "task update failed", "task_id", task.ID, "error", err)
	}
}

func (r *Runner) record(ctx context.Context, task models.ScheduledTask, runAt time.Time, runtimeMs int, status string, attempt int, result map[string]interface{}) {
	history := models.ScheduledTaskHistory{
		ScheduledTaskID: task.ID,
		TaskName:        task.TaskName,
		RunAt:           runAt,
		RuntimeMs:       runtimeMs,
		Status:          status,
		AttemptNumber:   attempt,
		Arguments:       task.Arguments,
		Result:          result,
	}
	if err := r.db.WithContext(ctx).Create(&history).Error; err != nil {
		r.logger.ErrorContext(ctx, "task history write failed", "task_id", task.ID, "error", err)
	}
}

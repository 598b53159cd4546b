package services

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/litlb/coupon-api/internal/apperrors"
	domain "github.com/litlb/coupon-api/internal/domain"
	"github.com/litlb/coupon-api/internal/repositories"
)

// WritePipelineDeps bundles the collaborators shared by every retrying write.
type WritePipelineDeps struct {
	DeadLetters repositories.DeadLetterStore
	Notifier    DeadLetterNotifier
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
	IDGenerator func() string
	Sleep       func(ctx context.Context, d time.Duration) error
}

func (d WritePipelineDeps) normalised() WritePipelineDeps {
	out := d
	if out.Clock == nil {
		out.Clock = time.Now
	}
	if out.Logger == nil {
		out.Logger = func(context.Context, string, map[string]any) {}
	}
	if out.IDGenerator == nil {
		out.IDGenerator = func() string { return ulid.Make().String() }
	}
	if out.Sleep == nil {
		out.Sleep = sleepContext
	}
	return out
}

// WritePlan describes one optimistic-concurrency write. The payload is
// rebuilt by Attempt against every freshly fetched state; stale actions are
// never replayed.
type WritePlan[T any] struct {
	EntityID   string
	EntityType string
	Step       string

	// MaxAttempts bounds the conflict retries: at most MaxAttempts+1 fetch
	// and attempt rounds happen before the write is dead-lettered.
	MaxAttempts int

	// Backoff returns the delay applied after the given failed attempt
	// (1-based). Nil means retry immediately.
	Backoff func(attempt int) time.Duration

	Fetch   func(ctx context.Context) (T, error)
	Attempt func(ctx context.Context, latest T) (T, error)

	// PriorStateID identifies the record state the failed attempt was built
	// against, recorded in the dead letter.
	PriorStateID func(latest T) string
}

// ExecuteWrite runs the fetch/attempt state machine. Version conflicts are
// retried with a fresh fetch; on exhaustion a dead-letter record is persisted
// and a retries-exhausted error referencing it is returned. Non-conflict
// errors pass through untouched.
func ExecuteWrite[T any](ctx context.Context, deps WritePipelineDeps, plan WritePlan[T]) (T, error) {
	var zero T
	if plan.Fetch == nil || plan.Attempt == nil {
		return zero, errors.New("write pipeline: fetch and attempt are required")
	}
	if deps.DeadLetters == nil {
		return zero, errors.New("write pipeline: dead letter store is required")
	}
	d := deps.normalised()

	maxAttempts := plan.MaxAttempts
	if maxAttempts < 0 {
		maxAttempts = 0
	}

	var latest T
	var lastErr error

	for attempt := 1; attempt <= maxAttempts+1; attempt++ {
		var err error
		latest, err = plan.Fetch(ctx)
		if err != nil {
			return zero, err
		}

		result, err := plan.Attempt(ctx, latest)
		if err == nil {
			return result, nil
		}
		if !apperrors.IsConflict(err) {
			return zero, err
		}
		lastErr = err

		d.Logger(ctx, "write_pipeline.conflict", map[string]any{
			"entity_id": plan.EntityID,
			"step":      plan.Step,
			"attempt":   attempt,
			"max":       maxAttempts,
		})

		if attempt > maxAttempts {
			break
		}
		if plan.Backoff != nil {
			if delay := plan.Backoff(attempt); delay > 0 {
				if err := d.Sleep(ctx, delay); err != nil {
					return zero, err
				}
			}
		}
	}

	return zero, deadLetter(ctx, d, plan, latest, lastErr)
}

func deadLetter[T any](ctx context.Context, d WritePipelineDeps, plan WritePlan[T], latest T, cause error) error {
	errorCode := "version_conflict"
	errorMessage := "retries exhausted"
	if appErr, ok := apperrors.As(cause); ok {
		errorCode = appErr.ErrorCode
		errorMessage = appErr.Message
	}

	priorStateID := ""
	if plan.PriorStateID != nil {
		priorStateID = plan.PriorStateID(latest)
	}

	record := domain.DeadLetterRecord{
		ID:           d.IDGenerator(),
		EntityID:     plan.EntityID,
		FailedStep:   plan.Step,
		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,
		PriorStateID: priorStateID,
		RecordedAt:   d.Clock().UTC(),
	}

	objectPath, putErr := d.DeadLetters.Put(ctx, record)
	if putErr != nil {
		// The mutation must never vanish silently; if the store itself is
		// down, the full record goes to the log as a last resort.
		d.Logger(ctx, "write_pipeline.dead_letter_store_failed", map[string]any{
			"entity_id":     record.EntityID,
			"record_id":     record.ID,
			"failed_step":   record.FailedStep,
			"error_code":    record.ErrorCode,
			"error_message": record.ErrorMessage,
			"store_error":   putErr.Error(),
		})
	} else {
		d.Logger(ctx, "write_pipeline.dead_lettered", map[string]any{
			"entity_id":   record.EntityID,
			"record_id":   record.ID,
			"failed_step": record.FailedStep,
			"object_path": objectPath,
		})
		if d.Notifier != nil {
			if _, alertErr := d.Notifier.PublishDeadLetterAlert(ctx, DeadLetterAlertMessage{
				RecordID:     record.ID,
				EntityID:     record.EntityID,
				EntityType:   plan.EntityType,
				FailedStep:   record.FailedStep,
				ErrorCode:    record.ErrorCode,
				ErrorMessage: record.ErrorMessage,
				ObjectPath:   objectPath,
				RecordedAt:   record.RecordedAt,
			}); alertErr != nil {
				d.Logger(ctx, "write_pipeline.alert_failed", map[string]any{
					"entity_id": record.EntityID,
					"record_id": record.ID,
					"error":     alertErr.Error(),
				})
			}
		}
	}

	return apperrors.RetriesExhausted("retries_exhausted", "write abandoned after retry budget", cause).WithData(map[string]any{
		"deadLetterId": record.ID,
		"entityId":     record.EntityID,
		"objectPath":   objectPath,
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ExponentialBackoff returns the order-path schedule: base * 2^(attempt-1).
func ExponentialBackoff(base time.Duration) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		return base << (attempt - 1)
	}
}

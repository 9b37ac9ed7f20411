package attendance

import (
	"context"
	"errors"
	"fmt"

	"github.com/siomalabs/attendance-backend/internal/workers"
	"go.uber.org/zap"
)

// Reconcile ingests an ordered batch of record intents accumulated by a
// device while offline. Each intent is resolved independently: an unknown
// worker or invalid record becomes a skip with a message and never aborts
// sibling intents. Replayed duplicates count as created so the device can
// drop them from its local queue. The batch is a weak transaction; partial
// success is reported, not rolled back.
//
// If the context is cancelled mid-batch, remaining intents are abandoned
// and the partial counts are returned alongside the error. The device may
// safely resubmit the whole batch later because appends are idempotent.
func (s *Service) Reconcile(ctx context.Context, intents []RecordIntent) (BatchResult, error) {
	if len(intents) > s.batchLimit {
		return BatchResult{}, newServiceError(opReconcile, "batch_too_large",
			fmt.Errorf("%w: %d records, limit %d", ErrBatchTooLarge, len(intents), s.batchLimit))
	}

	result := BatchResult{Errors: make([]string, 0)}
	for _, intent := range intents {
		if err := ctx.Err(); err != nil {
			s.logError(opReconcile, "batch_interrupted", err,
				zap.Int("created", result.Created),
				zap.Int("skipped", result.Skipped))
			return result, newServiceError(opReconcile, "batch_interrupted", err)
		}

		_, err := s.Append(ctx, intent)
		if err == nil {
			result.Created++
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.logError(opReconcile, "batch_interrupted", err,
				zap.Int("created", result.Created),
				zap.Int("skipped", result.Skipped))
			return result, newServiceError(opReconcile, "batch_interrupted", err)
		}

		result.Skipped++
		switch {
		case errors.Is(err, workers.ErrWorkerNotFound):
			result.Errors = append(result.Errors,
				fmt.Sprintf("worker not found: %s", intent.WorkerUUID.String()))
		case errors.Is(err, ErrFutureTimestamp):
			result.Errors = append(result.Errors,
				fmt.Sprintf("future timestamp for record %s", intent.UUID.String()))
		default:
			s.logError(opReconcile, "record_skipped", err,
				zap.String("record_uuid", intent.UUID.String()))
			result.Errors = append(result.Errors,
				fmt.Sprintf("failed to persist record %s", intent.UUID.String()))
		}
	}

	s.logger.Info("sync batch reconciled",
		zap.Int("created", result.Created),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

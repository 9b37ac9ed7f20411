package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/siomalabs/attendance-backend/internal/workers"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultBatchLimit   = 100
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries an operation.reason code alongside the root cause so
// callers can match sentinels with errors.Is while logs keep the full code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "attendance.service.new"
	opAppend     = "attendance.append"
	opHistory    = "attendance.history"
	opReconcile  = "attendance.reconcile"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies required by the ledger service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	BatchLimit int
	Logger     *zap.Logger
}

// Service appends attendance events and reconciles offline sync batches.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	batchLimit int
	logger     *zap.Logger
}

// NewService constructs the ledger service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	batchLimit := cfg.BatchLimit
	if batchLimit <= 0 {
		batchLimit = defaultBatchLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		batchLimit: batchLimit,
		logger:     logger,
	}, nil
}

// Append persists a single attendance event. Appending an intent whose uuid
// was already stored returns the existing row unchanged: resubmission after
// a partial sync failure must never create a second effect. The unique
// index on uuid decides concurrent duplicates; the early select is only a
// fast path.
func (s *Service) Append(ctx context.Context, intent RecordIntent) (AppendResult, error) {
	now := s.clock().UTC()
	if intent.Timestamp.After(now) {
		return AppendResult{}, newServiceError(opAppend, "future_timestamp",
			fmt.Errorf("%w: %s", ErrFutureTimestamp, intent.Timestamp.UTC().Format(time.RFC3339)))
	}

	var worker workers.Worker
	err := s.db.WithContext(ctx).Where("uuid = ?", intent.WorkerUUID.String()).Take(&worker).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return AppendResult{}, newServiceError(opAppend, "worker_not_found",
			fmt.Errorf("%w: %s", workers.ErrWorkerNotFound, intent.WorkerUUID.String()))
	}
	if err != nil {
		s.logError(opAppend, "worker_resolve_failed", err,
			zap.String("worker_uuid", intent.WorkerUUID.String()))
		return AppendResult{}, newServiceError(opAppend, "worker_resolve_failed", err)
	}

	var existing Record
	err = s.db.WithContext(ctx).Where("uuid = ?", intent.UUID.String()).Take(&existing).Error
	if err == nil {
		return AppendResult{Record: existing, WorkerName: worker.Name, Replayed: true}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opAppend, "replay_lookup_failed", err, zap.String("record_uuid", intent.UUID.String()))
		return AppendResult{}, newServiceError(opAppend, "replay_lookup_failed", err)
	}

	record := Record{
		UUID:       intent.UUID.String(),
		WorkerID:   worker.ID,
		Timestamp:  intent.Timestamp.UTC(),
		Type:       intent.Type,
		Confidence: intent.Confidence,
		DeviceID:   intent.DeviceID,
		SyncedAt:   now,
	}
	result := s.db.WithContext(ctx).
		Omit("Worker").
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&record)
	if result.Error != nil {
		s.logError(opAppend, "record_insert_failed", result.Error,
			zap.String("record_uuid", intent.UUID.String()))
		return AppendResult{}, newServiceError(opAppend, "record_insert_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		// Lost the race against a concurrent writer carrying the same uuid.
		// Return the winning row rather than erroring.
		var winner Record
		if err := s.db.WithContext(ctx).Where("uuid = ?", intent.UUID.String()).Take(&winner).Error; err != nil {
			s.logError(opAppend, "winner_lookup_failed", err,
				zap.String("record_uuid", intent.UUID.String()))
			return AppendResult{}, newServiceError(opAppend, "winner_lookup_failed", err)
		}
		return AppendResult{Record: winner, WorkerName: worker.Name, Replayed: true}, nil
	}

	s.logger.Debug("attendance recorded",
		zap.String("record_uuid", record.UUID),
		zap.String("worker_uuid", worker.UUID),
		zap.String("type", string(record.Type)))
	return AppendResult{Record: record, WorkerName: worker.Name}, nil
}

// History returns the most recent events for a worker, newest first.
func (s *Service) History(ctx context.Context, workerID uint, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	var records []Record
	err := s.db.WithContext(ctx).
		Where("worker_id = ?", workerID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		s.logError(opHistory, "query_failed", err, zap.Uint("worker_id", workerID))
		return nil, newServiceError(opHistory, "query_failed", err)
	}
	return records, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("attendance service error", attrs...)
}

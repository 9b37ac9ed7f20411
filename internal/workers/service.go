package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultPageLimit = 100

// summaryColumns lists the worker fields returned by List. The embedding
// blob is deliberately left out of list payloads.
var summaryColumns = []string{"id", "uuid", "name", "created_at", "updated_at"}

// ServiceConfig describes the dependencies required by the registry service.
type ServiceConfig struct {
	Database       *gorm.DB
	Clock          func() time.Time
	EmbeddingBytes int
	PageLimit      int
	Logger         *zap.Logger
}

// Service manages the worker identity registry.
type Service struct {
	db             *gorm.DB
	clock          func() time.Time
	embeddingBytes int
	pageLimit      int
	logger         *zap.Logger
}

// NewService constructs the registry service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("workers: database connection required")
	}
	if cfg.EmbeddingBytes <= 0 {
		return nil, fmt.Errorf("workers: embedding byte length required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	pageLimit := cfg.PageLimit
	if pageLimit <= 0 {
		pageLimit = defaultPageLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:             cfg.Database,
		clock:          clock,
		embeddingBytes: cfg.EmbeddingBytes,
		pageLimit:      pageLimit,
		logger:         logger,
	}, nil
}

// NewEmbedding validates a raw blob against the configured embedding length.
func (s *Service) NewEmbedding(raw []byte) (Embedding, error) {
	return NewEmbedding(raw, s.embeddingBytes)
}

// Create registers a new worker. A colliding uuid loses gracefully against
// the storage-level uniqueness constraint and reports ErrWorkerExists.
func (s *Service) Create(ctx context.Context, uuid WorkerUUID, name WorkerName, embedding Embedding) (Worker, error) {
	now := s.clock().UTC()
	worker := Worker{
		UUID:      uuid.String(),
		Name:      name.String(),
		Embedding: embedding.Bytes(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	// The unique index on uuid is the source of truth for collisions; the
	// insert races cleanly instead of check-then-insert.
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&worker)
	if result.Error != nil {
		s.logger.Error("worker insert failed", zap.String("worker_uuid", uuid.String()), zap.Error(result.Error))
		return Worker{}, result.Error
	}
	if result.RowsAffected == 0 {
		return Worker{}, fmt.Errorf("%w: %s", ErrWorkerExists, uuid.String())
	}

	s.logger.Info("worker registered",
		zap.String("worker_uuid", worker.UUID),
		zap.Uint("worker_id", worker.ID))
	return worker, nil
}

// Lookup returns the full worker record for the given uuid.
func (s *Service) Lookup(ctx context.Context, uuid WorkerUUID) (Worker, error) {
	var worker Worker
	err := s.db.WithContext(ctx).Where("uuid = ?", uuid.String()).Take(&worker).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Worker{}, fmt.Errorf("%w: %s", ErrWorkerNotFound, uuid.String())
	}
	if err != nil {
		s.logger.Error("worker lookup failed", zap.String("worker_uuid", uuid.String()), zap.Error(err))
		return Worker{}, err
	}
	return worker, nil
}

// List returns worker summaries in insertion order. The embedding column is
// never selected. The limit is clamped to the configured page cap.
func (s *Service) List(ctx context.Context, skip, limit int) ([]Worker, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 || limit > s.pageLimit {
		limit = s.pageLimit
	}

	var results []Worker
	err := s.db.WithContext(ctx).
		Select(summaryColumns).
		Order("id ASC").
		Offset(skip).
		Limit(limit).
		Find(&results).Error
	if err != nil {
		s.logger.Error("worker list failed", zap.Error(err))
		return nil, err
	}
	return results, nil
}

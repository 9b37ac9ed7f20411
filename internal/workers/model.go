package workers

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidWorkerUUID indicates that a worker identifier is empty or exceeds storage bounds.
	ErrInvalidWorkerUUID = errors.New("workers: invalid worker uuid")
	// ErrInvalidWorkerName indicates that a display name is empty or exceeds storage bounds.
	ErrInvalidWorkerName = errors.New("workers: invalid worker name")
	// ErrInvalidEmbedding indicates that an embedding blob does not match the configured length.
	ErrInvalidEmbedding = errors.New("workers: invalid embedding")
	// ErrWorkerExists indicates that a worker with the same uuid is already registered.
	ErrWorkerExists = errors.New("workers: worker already exists")
	// ErrWorkerNotFound indicates that no worker carries the requested uuid.
	ErrWorkerNotFound = errors.New("workers: worker not found")
)

var titleCaser = cases.Title(language.Und)

// WorkerUUID represents a validated client-generated worker identifier.
type WorkerUUID string

// NewWorkerUUID validates raw input and returns a WorkerUUID.
func NewWorkerUUID(rawInput string) (WorkerUUID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidWorkerUUID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidWorkerUUID, maxIdentifierLength)
	}
	return WorkerUUID(trimmed), nil
}

// String returns the underlying string identifier.
func (id WorkerUUID) String() string {
	return string(id)
}

// WorkerName represents a validated, title-cased display name.
type WorkerName string

// NewWorkerName trims and title-cases raw input and returns a WorkerName.
func NewWorkerName(rawInput string) (WorkerName, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidWorkerName)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidWorkerName, maxIdentifierLength)
	}
	return WorkerName(titleCaser.String(strings.ToLower(trimmed))), nil
}

// String returns the normalized display name.
func (name WorkerName) String() string {
	return string(name)
}

// Embedding stores a validated fixed-length face embedding blob.
// The byte content is opaque to this service; only the length is checked.
type Embedding []byte

// NewEmbedding validates the blob against the expected byte length.
func NewEmbedding(raw []byte, expectedBytes int) (Embedding, error) {
	if expectedBytes <= 0 {
		return nil, fmt.Errorf("%w: expected length not configured", ErrInvalidEmbedding)
	}
	if len(raw) != expectedBytes {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidEmbedding, len(raw), expectedBytes)
	}
	return Embedding(append([]byte(nil), raw...)), nil
}

// Bytes returns the raw embedding content.
func (e Embedding) Bytes() []byte {
	return []byte(e)
}

// Worker models a registered worker with its biometric embedding.
type Worker struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	UUID      string    `gorm:"column:uuid;size:190;not null;uniqueIndex:idx_workers_uuid"`
	Name      string    `gorm:"column:name;size:190;not null"`
	Embedding []byte    `gorm:"column:face_embedding;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Worker) TableName() string {
	return "workers"
}

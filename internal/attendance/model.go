package attendance

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/siomalabs/attendance-backend/internal/workers"
)

// EventType enumerates the two attendance event kinds.
type EventType string

const (
	// EventTypeIn marks a worker checking in.
	EventTypeIn EventType = "IN"
	// EventTypeOut marks a worker checking out.
	EventTypeOut EventType = "OUT"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidRecordUUID indicates that a record identifier is empty or exceeds storage bounds.
	ErrInvalidRecordUUID = errors.New("attendance: invalid record uuid")
	// ErrInvalidEventType indicates an event type outside the IN/OUT set.
	ErrInvalidEventType = errors.New("attendance: invalid event type")
	// ErrInvalidConfidence indicates a recognition confidence outside [0, 1].
	ErrInvalidConfidence = errors.New("attendance: invalid confidence")
	// ErrFutureTimestamp indicates an event timestamp ahead of the server clock.
	ErrFutureTimestamp = errors.New("attendance: timestamp is in the future")
	// ErrBatchTooLarge indicates a sync batch over the configured cap.
	ErrBatchTooLarge = errors.New("attendance: batch exceeds configured limit")
)

// ParseEventType validates raw input against the closed IN/OUT set.
func ParseEventType(rawInput string) (EventType, error) {
	switch strings.ToUpper(strings.TrimSpace(rawInput)) {
	case string(EventTypeIn):
		return EventTypeIn, nil
	case string(EventTypeOut):
		return EventTypeOut, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEventType, rawInput)
	}
}

// RecordUUID represents a validated client-generated record identifier.
// It is the idempotency key for offline sync.
type RecordUUID string

// NewRecordUUID validates raw input and returns a RecordUUID.
func NewRecordUUID(rawInput string) (RecordUUID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRecordUUID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidRecordUUID, maxIdentifierLength)
	}
	return RecordUUID(trimmed), nil
}

// String returns the underlying string identifier.
func (id RecordUUID) String() string {
	return string(id)
}

// NewConfidence validates a recognition confidence score.
func NewConfidence(value float64) (float64, error) {
	if value < 0.0 || value > 1.0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidConfidence, value)
	}
	return value, nil
}

// Record models a persisted check-in/check-out event. Rows are immutable
// once written; the unique index on uuid backs idempotent replay.
type Record struct {
	ID         uint           `gorm:"column:id;primaryKey;autoIncrement"`
	UUID       string         `gorm:"column:uuid;size:190;not null;uniqueIndex:idx_attendance_uuid"`
	WorkerID   uint           `gorm:"column:worker_id;not null;index:idx_attendance_worker_time,priority:1"`
	Timestamp  time.Time      `gorm:"column:timestamp;not null;index:idx_attendance_worker_time,priority:2"`
	Type       EventType      `gorm:"column:type;size:8;not null"`
	Confidence *float64       `gorm:"column:confidence"`
	DeviceID   string         `gorm:"column:device_id;size:190"`
	SyncedAt   time.Time      `gorm:"column:synced_at;not null"`
	Worker     workers.Worker `gorm:"foreignKey:WorkerID;constraint:OnDelete:CASCADE"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "attendance_records"
}

// RecordIntent describes a single client-submitted event before resolution
// against the registry and the ledger.
type RecordIntent struct {
	UUID       RecordUUID
	WorkerUUID workers.WorkerUUID
	Timestamp  time.Time
	Type       EventType
	Confidence *float64
	DeviceID   string
}

// AppendResult reports the outcome of a single ledger append.
type AppendResult struct {
	Record     Record
	WorkerName string
	Replayed   bool
}

// BatchResult aggregates per-record outcomes of a sync batch.
type BatchResult struct {
	Created int
	Skipped int
	Errors  []string
}

package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/restaurant-liveops/pkg/enums"
)

// ChangeEvent is a row-level change captured by database triggers and relayed
// to the per-stream topics.
type ChangeEvent struct {
	ID           uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Stream       enums.Stream          `gorm:"column:stream;not null"`
	Operation    enums.ChangeOperation `gorm:"column:operation;not null"`
	EntityID     uuid.UUID             `gorm:"column:entity_id;type:uuid;not null"`
	OldRow       json.RawMessage       `gorm:"column:old_row;type:jsonb"`
	NewRow       json.RawMessage       `gorm:"column:new_row;type:jsonb;not null"`
	OccurredAt   time.Time             `gorm:"column:occurred_at;not null"`
	PublishedAt  *time.Time            `gorm:"column:published_at"`
	AttemptCount int                   `gorm:"column:attempt_count;not null;default:0"`
	LastError    *string               `gorm:"column:last_error"`
}

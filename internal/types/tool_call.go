package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ToolCall records one tool invocation requested by the model. The ID is the
// provider-assigned call identifier, not a UUID.
type ToolCall struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	MessageID uuid.UUID `gorm:"type:uuid;not null;index" json:"message_id"`

	Name      string         `gorm:"column:name;not null" json:"name"`
	Arguments datatypes.JSON `gorm:"column:arguments;not null" json:"arguments"`

	// Validated is nil while a human-in-the-loop decision is pending,
	// then set exactly once to true (approved) or false (rejected).
	Validated *bool `gorm:"column:validated" json:"validated"`

	CreatedAt time.Time `gorm:"column:creation_date;not null" json:"creation_date"`
}

func (ToolCall) TableName() string { return "tool_calls" }

// Validation states surfaced to clients.
const (
	ValidationPending     = "pending"
	ValidationAccepted    = "accepted"
	ValidationRejected    = "rejected"
	ValidationNotRequired = "not_required"
)

package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Entity identifies who produced a message.
const (
	EntityUser      = "user"
	EntityAIMessage = "ai_message"
	EntityTool      = "tool"
)

type Message struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ThreadID uuid.UUID `gorm:"type:uuid;not null;index:idx_message_thread_created" json:"thread_id"`

	Entity string `gorm:"column:entity;not null;index" json:"entity"`

	// Content is the role-tagged JSON payload; its shape varies by entity.
	Content datatypes.JSON `gorm:"column:content;not null" json:"content"`

	// IsComplete is false for an AI message whose stream was interrupted
	// before finishing. The client flags it and the server may resume.
	IsComplete bool `gorm:"column:is_complete;not null;default:true" json:"is_complete"`

	CreatedAt time.Time `gorm:"column:creation_date;not null;index:idx_message_thread_created" json:"creation_date"`
}

func (Message) TableName() string { return "messages" }

// UserContent is the payload stored for EntityUser messages.
type UserContent struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AIContent is the payload stored for EntityAIMessage messages.
type AIContent struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Reasoning string `json:"reasoning,omitempty"`
}

// ToolContent is the payload stored for EntityTool messages. Results are
// matched back to the originating request by ToolCallID, never by position.
type ToolContent struct {
	Role       string `json:"role"`
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
}

package types

import (
	"time"

	"github.com/google/uuid"
)

// TokenConsumption is an append-only usage accounting record attached to a
// message.
type TokenConsumption struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	MessageID uuid.UUID `gorm:"type:uuid;not null;index" json:"message_id"`

	Model        string `gorm:"column:model;not null" json:"model"`
	InputTokens  int64  `gorm:"column:input_tokens;not null" json:"input_tokens"`
	OutputTokens int64  `gorm:"column:output_tokens;not null" json:"output_tokens"`

	CreatedAt time.Time `gorm:"column:creation_date;not null" json:"creation_date"`
}

func (TokenConsumption) TableName() string { return "token_consumption" }

// ComplexityEstimation records the auxiliary model's self-reported query
// complexity for a message. Append-only.
type ComplexityEstimation struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	MessageID uuid.UUID `gorm:"type:uuid;not null;index" json:"message_id"`

	Model      string `gorm:"column:model;not null" json:"model"`
	Complexity string `gorm:"column:complexity;not null" json:"complexity"`

	CreatedAt time.Time `gorm:"column:creation_date;not null" json:"creation_date"`
}

func (ComplexityEstimation) TableName() string { return "complexity_estimation" }

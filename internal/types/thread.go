package types

import (
	"time"

	"github.com/google/uuid"
)

type Thread struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	// Optional virtual-lab / project scoping. A thread created inside a
	// project is only reachable by members of that project.
	VlabID    *string `gorm:"column:vlab_id;index" json:"vlab_id,omitempty"`
	ProjectID *string `gorm:"column:project_id;index" json:"project_id,omitempty"`

	Title string `gorm:"column:title;not null;default:'New chat'" json:"title"`

	CreatedAt time.Time `gorm:"column:creation_date;not null;index" json:"creation_date"`
	UpdatedAt time.Time `gorm:"column:update_date;not null;index" json:"update_date"`
}

func (Thread) TableName() string { return "threads" }

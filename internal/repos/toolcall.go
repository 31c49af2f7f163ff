package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/neuroagent-backend/internal/apperrors"
	"github.com/yungbote/neuroagent-backend/internal/logger"
	"github.com/yungbote/neuroagent-backend/internal/types"
)

type ToolCallRepo interface {
	Create(ctx context.Context, tx *gorm.DB, calls []*types.ToolCall) ([]*types.ToolCall, error)
	GetByID(ctx context.Context, tx *gorm.DB, callID string) (*types.ToolCall, error)
	ListByMessage(ctx context.Context, tx *gorm.DB, messageID uuid.UUID) ([]*types.ToolCall, error)
	// ResolveValidation transitions validated from NULL to the given value.
	// The transition happens at most once; resolving an already-resolved
	// call returns a conflict error.
	ResolveValidation(ctx context.Context, tx *gorm.DB, callID string, validated bool) error
	// UpdateArguments replaces the stored arguments with the human-edited
	// input on approval.
	UpdateArguments(ctx context.Context, tx *gorm.DB, callID string, args datatypes.JSON) error
}

type toolCallRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewToolCallRepo(db *gorm.DB, baseLog *logger.Logger) ToolCallRepo {
	return &toolCallRepo{db: db, log: baseLog.With("repo", "ToolCallRepo")}
}

func (r *toolCallRepo) Create(ctx context.Context, tx *gorm.DB, calls []*types.ToolCall) ([]*types.ToolCall, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(calls) == 0 {
		return []*types.ToolCall{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&calls).Error; err != nil {
		return nil, err
	}
	return calls, nil
}

func (r *toolCallRepo) GetByID(ctx context.Context, tx *gorm.DB, callID string) (*types.ToolCall, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var row types.ToolCall
	err := transaction.WithContext(ctx).
		Where("id = ?", callID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *toolCallRepo) ListByMessage(ctx context.Context, tx *gorm.DB, messageID uuid.UUID) ([]*types.ToolCall, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.ToolCall
	if err := transaction.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("creation_date ASC, id ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *toolCallRepo) ResolveValidation(ctx context.Context, tx *gorm.DB, callID string, validated bool) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	res := transaction.WithContext(ctx).
		Model(&types.ToolCall{}).
		Where("id = ? AND validated IS NULL", callID).
		Update("validated", validated)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	existing, err := r.GetByID(ctx, transaction, callID)
	if err != nil {
		return err
	}
	if existing == nil {
		return apperrors.NotFound("tool call not found")
	}
	return apperrors.Conflict("tool call already validated")
}

func (r *toolCallRepo) UpdateArguments(ctx context.Context, tx *gorm.DB, callID string, args datatypes.JSON) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.ToolCall{}).
		Where("id = ?", callID).
		Update("arguments", args).Error
}

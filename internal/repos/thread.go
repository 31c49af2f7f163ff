package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/neuroagent-backend/internal/logger"
	"github.com/yungbote/neuroagent-backend/internal/types"
)

type ThreadRepo interface {
	Create(ctx context.Context, tx *gorm.DB, threads []*types.Thread) ([]*types.Thread, error)
	GetByID(ctx context.Context, tx *gorm.DB, threadID uuid.UUID) (*types.Thread, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID, limit int) ([]*types.Thread, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, threadID uuid.UUID, fields map[string]interface{}) error
	// DeleteCascade removes the thread and every dependent row (messages,
	// tool calls, token consumption, complexity estimations) in one
	// transaction. The explicit child deletes keep the cascade working on
	// stores without enforced foreign keys.
	DeleteCascade(ctx context.Context, tx *gorm.DB, threadID uuid.UUID) error
}

type threadRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewThreadRepo(db *gorm.DB, baseLog *logger.Logger) ThreadRepo {
	return &threadRepo{db: db, log: baseLog.With("repo", "ThreadRepo")}
}

func (r *threadRepo) Create(ctx context.Context, tx *gorm.DB, threads []*types.Thread) ([]*types.Thread, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(threads) == 0 {
		return []*types.Thread{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&threads).Error; err != nil {
		return nil, err
	}
	return threads, nil
}

func (r *threadRepo) GetByID(ctx context.Context, tx *gorm.DB, threadID uuid.UUID) (*types.Thread, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var row types.Thread
	err := transaction.WithContext(ctx).
		Where("id = ?", threadID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *threadRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID, limit int) ([]*types.Thread, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var results []*types.Thread
	if err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("update_date DESC").
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *threadRepo) UpdateFields(ctx context.Context, tx *gorm.DB, threadID uuid.UUID, fields map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Thread{}).
		Where("id = ?", threadID).
		Updates(fields).Error
}

func (r *threadRepo) DeleteCascade(ctx context.Context, tx *gorm.DB, threadID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		messageIDs := txx.Model(&types.Message{}).
			Select("id").
			Where("thread_id = ?", threadID)

		if err := txx.Where("message_id IN (?)", messageIDs).
			Delete(&types.ToolCall{}).Error; err != nil {
			return err
		}
		if err := txx.Where("message_id IN (?)", messageIDs).
			Delete(&types.TokenConsumption{}).Error; err != nil {
			return err
		}
		if err := txx.Where("message_id IN (?)", messageIDs).
			Delete(&types.ComplexityEstimation{}).Error; err != nil {
			return err
		}
		if err := txx.Where("thread_id = ?", threadID).
			Delete(&types.Message{}).Error; err != nil {
			return err
		}
		return txx.Where("id = ?", threadID).
			Delete(&types.Thread{}).Error
	})
}

// Touch bumps the thread's update timestamp on message append.
func Touch(ctx context.Context, repo ThreadRepo, tx *gorm.DB, threadID uuid.UUID, at time.Time) error {
	return repo.UpdateFields(ctx, tx, threadID, map[string]interface{}{
		"update_date": at,
	})
}

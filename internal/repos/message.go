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

type MessageRepo interface {
	Create(ctx context.Context, tx *gorm.DB, messages []*types.Message) ([]*types.Message, error)
	GetByID(ctx context.Context, tx *gorm.DB, messageID uuid.UUID) (*types.Message, error)
	// ListByThread returns up to limit messages ordered oldest-first. When
	// before is set, only messages created strictly before it are returned,
	// which is how clients page backward through history.
	ListByThread(ctx context.Context, tx *gorm.DB, threadID uuid.UUID, limit int, before *time.Time) ([]*types.Message, error)
	// Latest returns the newest message in the thread, or nil.
	Latest(ctx context.Context, tx *gorm.DB, threadID uuid.UUID) (*types.Message, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, messageID uuid.UUID, fields map[string]interface{}) error
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, baseLog *logger.Logger) MessageRepo {
	return &messageRepo{db: db, log: baseLog.With("repo", "MessageRepo")}
}

func (r *messageRepo) Create(ctx context.Context, tx *gorm.DB, messages []*types.Message) ([]*types.Message, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(messages) == 0 {
		return []*types.Message{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *messageRepo) GetByID(ctx context.Context, tx *gorm.DB, messageID uuid.UUID) (*types.Message, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var row types.Message
	err := transaction.WithContext(ctx).
		Where("id = ?", messageID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *messageRepo) ListByThread(ctx context.Context, tx *gorm.DB, threadID uuid.UUID, limit int, before *time.Time) ([]*types.Message, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	q := transaction.WithContext(ctx).
		Model(&types.Message{}).
		Where("thread_id = ?", threadID)
	if before != nil {
		q = q.Where("creation_date < ?", *before)
	}

	// Fetch the newest page, then reverse so callers always see strict
	// creation-time order oldest-first.
	var msgs []*types.Message
	if err := q.Order("creation_date DESC, id DESC").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *messageRepo) Latest(ctx context.Context, tx *gorm.DB, threadID uuid.UUID) (*types.Message, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var row types.Message
	err := transaction.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("creation_date DESC, id DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *messageRepo) UpdateFields(ctx context.Context, tx *gorm.DB, messageID uuid.UUID, fields map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Message{}).
		Where("id = ?", messageID).
		Updates(fields).Error
}

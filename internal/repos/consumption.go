package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/neuroagent-backend/internal/logger"
	"github.com/yungbote/neuroagent-backend/internal/types"
)

// ConsumptionRepo persists the append-only accounting records attached to
// messages. Rows are never mutated after creation.
type ConsumptionRepo interface {
	CreateTokenConsumption(ctx context.Context, tx *gorm.DB, rows []*types.TokenConsumption) error
	CreateComplexityEstimation(ctx context.Context, tx *gorm.DB, rows []*types.ComplexityEstimation) error
	ListTokenConsumptionByMessage(ctx context.Context, tx *gorm.DB, messageID uuid.UUID) ([]*types.TokenConsumption, error)
}

type consumptionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConsumptionRepo(db *gorm.DB, baseLog *logger.Logger) ConsumptionRepo {
	return &consumptionRepo{db: db, log: baseLog.With("repo", "ConsumptionRepo")}
}

func (r *consumptionRepo) CreateTokenConsumption(ctx context.Context, tx *gorm.DB, rows []*types.TokenConsumption) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(rows) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).Create(&rows).Error
}

func (r *consumptionRepo) CreateComplexityEstimation(ctx context.Context, tx *gorm.DB, rows []*types.ComplexityEstimation) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(rows) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).Create(&rows).Error
}

func (r *consumptionRepo) ListTokenConsumptionByMessage(ctx context.Context, tx *gorm.DB, messageID uuid.UUID) ([]*types.TokenConsumption, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.TokenConsumption
	if err := transaction.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("creation_date ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

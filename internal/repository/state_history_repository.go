package repository

import (
	"github.com/mautops/moneylens/internal/model"
	"gorm.io/gorm"
)

// StateHistoryRepository 状态流转记录仓储，记录只追加
type StateHistoryRepository interface {
	Create(history *model.StateHistoryModel) error
	FindByEntryID(entryID uint) ([]*model.StateHistoryModel, error)
}

type stateHistoryRepository struct {
	db *gorm.DB
}

// NewStateHistoryRepository 创建状态流转记录仓储
func NewStateHistoryRepository(db *gorm.DB) StateHistoryRepository {
	return &stateHistoryRepository{db: db}
}

// Create 追加一条流转记录
func (r *stateHistoryRepository) Create(history *model.StateHistoryModel) error {
	if err := history.Validate(); err != nil {
		return err
	}
	return r.db.Create(history).Error
}

// FindByEntryID 账目的流转记录，按发生顺序排列
func (r *stateHistoryRepository) FindByEntryID(entryID uint) ([]*model.StateHistoryModel, error) {
	histories := make([]*model.StateHistoryModel, 0)
	err := r.db.Where("entry_id = ?", entryID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&histories).Error
	return histories, err
}

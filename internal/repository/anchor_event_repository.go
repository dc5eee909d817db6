package repository

import (
	"time"

	"github.com/mautops/moneylens/internal/model"
	"gorm.io/gorm"
)

// AnchorEventRepository 锚定事件仓储接口
type AnchorEventRepository interface {
	Save(event *model.AnchorEventModel) error
	FindByEntryID(entryID uint) ([]*model.AnchorEventModel, error)
	FindByID(id string) (*model.AnchorEventModel, error)
	FindPending(limit int) ([]*model.AnchorEventModel, error)
	CountPending() (int64, error)
	Claim(id string) (bool, error)
	Reclaim(id string) (bool, error)
	ResetProcessing() (int64, error)
}

// anchorEventRepository 锚定事件仓储实现
type anchorEventRepository struct {
	db *gorm.DB
}

// NewAnchorEventRepository 创建锚定事件仓储
func NewAnchorEventRepository(db *gorm.DB) AnchorEventRepository {
	return &anchorEventRepository{db: db}
}

// Save 保存事件
func (r *anchorEventRepository) Save(event *model.AnchorEventModel) error {
	return r.db.Save(event).Error
}

// FindByEntryID 根据账目 ID 查找事件
func (r *anchorEventRepository) FindByEntryID(entryID uint) ([]*model.AnchorEventModel, error) {
	var events []*model.AnchorEventModel
	err := r.db.Where("entry_id = ?", entryID).Order("created_at ASC").Find(&events).Error
	return events, err
}

// FindByID 根据 ID 查找事件
func (r *anchorEventRepository) FindByID(id string) (*model.AnchorEventModel, error) {
	var event model.AnchorEventModel
	if err := r.db.Where("id = ?", id).First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// FindPending 按创建顺序查找待处理的事件
func (r *anchorEventRepository) FindPending(limit int) ([]*model.AnchorEventModel, error) {
	var events []*model.AnchorEventModel
	query := r.db.Where("status = ?", model.AnchorEventPending).Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&events).Error
	return events, err
}

// CountPending 统计待处理事件数
func (r *anchorEventRepository) CountPending() (int64, error) {
	var count int64
	err := r.db.Model(&model.AnchorEventModel{}).
		Where("status IN ?", []string{model.AnchorEventPending, model.AnchorEventProcessing}).
		Count(&count).Error
	return count, err
}

// Claim 将事件从 pending 置为 processing 并累加尝试次数，返回是否抢占成功
func (r *anchorEventRepository) Claim(id string) (bool, error) {
	result := r.db.Model(&model.AnchorEventModel{}).
		Where("id = ? AND status = ?", id, model.AnchorEventPending).
		Updates(map[string]interface{}{
			"status":     model.AnchorEventProcessing,
			"attempts":   gorm.Expr("attempts + ?", 1),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Reclaim 将已失败的事件重新置为 processing（手动重试）
func (r *anchorEventRepository) Reclaim(id string) (bool, error) {
	result := r.db.Model(&model.AnchorEventModel{}).
		Where("id = ? AND status = ?", id, model.AnchorEventFailed).
		Updates(map[string]interface{}{
			"status":     model.AnchorEventProcessing,
			"attempts":   gorm.Expr("attempts + ?", 1),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ResetProcessing 进程重启时把遗留的 processing 事件放回队列
func (r *anchorEventRepository) ResetProcessing() (int64, error) {
	result := r.db.Model(&model.AnchorEventModel{}).
		Where("status = ?", model.AnchorEventProcessing).
		Updates(map[string]interface{}{
			"status":     model.AnchorEventPending,
			"updated_at": time.Now(),
		})
	return result.RowsAffected, result.Error
}

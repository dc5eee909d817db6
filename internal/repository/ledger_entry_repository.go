package repository

import (
	"time"

	"github.com/mautops/moneylens/internal/model"
	"gorm.io/gorm"
)

// LedgerEntryRepository 账目仓储接口
type LedgerEntryRepository interface {
	Create(entry *model.LedgerEntryModel) error
	Save(entry *model.LedgerEntryModel) error
	FindByID(id uint) (*model.LedgerEntryModel, error)
	FindAll() ([]*model.LedgerEntryModel, error)
	FindByFilter(filter *LedgerFilter) ([]*model.LedgerEntryModel, error)
	FindLatest() (*model.LedgerEntryModel, error)
	FindAnchored() ([]*model.LedgerEntryModel, error)
	ClaimedChainIndexes() (map[uint64]uint, error)
	UpdateAnchor(id uint, fields map[string]interface{}) error
}

// LedgerFilter 账目查询过滤器
type LedgerFilter struct {
	DeptID      *string
	Status      *string
	AnchorState *string
	CreatedByID *string
	// ExcludeStatus 排除某一状态（例如统计部门支出时排除 Rejected）
	ExcludeStatus *string
	StartTime     *time.Time
	EndTime       *time.Time
	// OrderBy 已经过白名单校验的排序子句，为空时按创建时间倒序
	OrderBy string
}

// ledgerEntryRepository 账目仓储实现
type ledgerEntryRepository struct {
	db *gorm.DB
}

// NewLedgerEntryRepository 创建账目仓储
func NewLedgerEntryRepository(db *gorm.DB) LedgerEntryRepository {
	return &ledgerEntryRepository{db: db}
}

// Create 新建账目，写入后回填自增 ID
func (r *ledgerEntryRepository) Create(entry *model.LedgerEntryModel) error {
	return r.db.Create(entry).Error
}

// Save 保存账目
func (r *ledgerEntryRepository) Save(entry *model.LedgerEntryModel) error {
	return r.db.Save(entry).Error
}

// FindByID 根据 ID 查找账目
func (r *ledgerEntryRepository) FindByID(id uint) (*model.LedgerEntryModel, error) {
	var entry model.LedgerEntryModel
	if err := r.db.Where("transaction_id = ?", id).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// FindAll 按 ID 升序返回全部账目
func (r *ledgerEntryRepository) FindAll() ([]*model.LedgerEntryModel, error) {
	var entries []*model.LedgerEntryModel
	err := r.db.Order("transaction_id ASC").Find(&entries).Error
	return entries, err
}

// FindByFilter 根据过滤器查找账目，按创建时间倒序
func (r *ledgerEntryRepository) FindByFilter(filter *LedgerFilter) ([]*model.LedgerEntryModel, error) {
	var entries []*model.LedgerEntryModel
	query := r.db.Model(&model.LedgerEntryModel{})

	if filter != nil {
		if filter.DeptID != nil {
			query = query.Where("dept_id = ?", *filter.DeptID)
		}
		if filter.Status != nil {
			query = query.Where("status = ?", *filter.Status)
		}
		if filter.ExcludeStatus != nil {
			query = query.Where("status <> ?", *filter.ExcludeStatus)
		}
		if filter.AnchorState != nil {
			query = query.Where("anchor_state = ?", *filter.AnchorState)
		}
		if filter.CreatedByID != nil {
			query = query.Where("created_by_id = ?", *filter.CreatedByID)
		}
		if filter.StartTime != nil {
			query = query.Where("created_at >= ?", *filter.StartTime)
		}
		if filter.EndTime != nil {
			query = query.Where("created_at <= ?", *filter.EndTime)
		}
	}

	if filter != nil && filter.OrderBy != "" {
		query = query.Order(filter.OrderBy)
	} else {
		query = query.Order("created_at DESC")
	}
	err := query.Order("transaction_id DESC").Find(&entries).Error
	return entries, err
}

// FindLatest 查找最新一条账目（哈希链尾），没有账目时返回 gorm.ErrRecordNotFound
func (r *ledgerEntryRepository) FindLatest() (*model.LedgerEntryModel, error) {
	var entry model.LedgerEntryModel
	if err := r.db.Order("transaction_id DESC").First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// FindAnchored 查找已锚定的账目
func (r *ledgerEntryRepository) FindAnchored() ([]*model.LedgerEntryModel, error) {
	var entries []*model.LedgerEntryModel
	err := r.db.Where("anchor_state = ?", model.AnchorAnchored).
		Order("transaction_id ASC").
		Find(&entries).Error
	return entries, err
}

// ClaimedChainIndexes 已被账目占用的链上下标 -> 账目 ID
func (r *ledgerEntryRepository) ClaimedChainIndexes() (map[uint64]uint, error) {
	var rows []struct {
		TransactionID uint
		ChainIndex    uint64
	}
	err := r.db.Model(&model.LedgerEntryModel{}).
		Select("transaction_id, chain_index").
		Where("chain_index IS NOT NULL").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	claimed := make(map[uint64]uint, len(rows))
	for _, row := range rows {
		claimed[row.ChainIndex] = row.TransactionID
	}
	return claimed, nil
}

// UpdateAnchor 更新锚定相关字段
func (r *ledgerEntryRepository) UpdateAnchor(id uint, fields map[string]interface{}) error {
	return r.db.Model(&model.LedgerEntryModel{}).
		Where("transaction_id = ?", id).
		Updates(fields).Error
}

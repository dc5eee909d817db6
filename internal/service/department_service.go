package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/moneylens/internal/auth"
	"github.com/mautops/moneylens/internal/model"
	"github.com/mautops/moneylens/internal/repository"
	"github.com/mautops/moneylens/internal/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DepartmentService 部门服务
type DepartmentService interface {
	List(ctx context.Context) ([]*model.DepartmentModel, error)
	Get(ctx context.Context, id string) (*model.DepartmentModel, error)
	Hierarchy(ctx context.Context) (*DepartmentHierarchy, error)
	Create(ctx context.Context, actor Actor, req *CreateDepartmentRequest) (*CreateDepartmentResult, error)
}

// CreateDepartmentRequest 创建部门请求，填写 head_email 时同时创建部门负责人账号
type CreateDepartmentRequest struct {
	Name            string           `json:"name" binding:"required"`
	Description     string           `json:"description"`
	ParentDeptID    *string          `json:"parent_dept_id"`
	AllocatedBudget *decimal.Decimal `json:"allocated_budget"`
	HeadName        string           `json:"head_name"`
	HeadEmail       string           `json:"head_email" binding:"omitempty,email"`
	HeadPassword    string           `json:"head_password"`
}

// CreateDepartmentResult 创建部门结果
type CreateDepartmentResult struct {
	Department *model.DepartmentModel `json:"department"`
	Head       *UserView              `json:"head,omitempty"`
}

// DepartmentNode 部门树节点
type DepartmentNode struct {
	DeptID          string            `json:"dept_id"`
	Name            string            `json:"name"`
	Description     string            `json:"description"`
	AllocatedBudget decimal.Decimal   `json:"allocated_budget"`
	ParentDeptID    *string           `json:"parent_dept_id"`
	HeadUserID      *string           `json:"head_user_id,omitempty"`
	Children        []*DepartmentNode `json:"children"`
}

// DepartmentHierarchy 部门树
type DepartmentHierarchy struct {
	Departments      []*DepartmentNode `json:"departments"`
	TotalDepartments int               `json:"total_departments"`
}

// departmentService 部门服务实现
type departmentService struct {
	db       *gorm.DB
	deptRepo repository.DepartmentRepository
	now      func() time.Time
}

// NewDepartmentService 创建部门服务
func NewDepartmentService(db *gorm.DB) DepartmentService {
	return &departmentService{
		db:       db,
		deptRepo: repository.NewDepartmentRepository(db),
		now:      time.Now,
	}
}

// List 部门列表
func (s *departmentService) List(ctx context.Context) ([]*model.DepartmentModel, error) {
	return s.deptRepo.FindAll()
}

// Get 获取部门
func (s *departmentService) Get(ctx context.Context, id string) (*model.DepartmentModel, error) {
	dept, err := s.deptRepo.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDepartmentNotFound
		}
		return nil, err
	}
	return dept, nil
}

// Hierarchy 构建部门树，上级缺失的部门作为根节点
func (s *departmentService) Hierarchy(ctx context.Context) (*DepartmentHierarchy, error) {
	depts, err := s.deptRepo.FindAll()
	if err != nil {
		return nil, fmt.Errorf("failed to load departments: %w", err)
	}
	return BuildHierarchy(depts), nil
}

// BuildHierarchy 将扁平部门列表组装为树，保持输入顺序
func BuildHierarchy(depts []*model.DepartmentModel) *DepartmentHierarchy {
	nodes := make(map[string]*DepartmentNode, len(depts))
	for _, d := range depts {
		nodes[d.DeptID] = &DepartmentNode{
			DeptID:          d.DeptID,
			Name:            d.Name,
			Description:     d.Description,
			AllocatedBudget: d.AllocatedBudget,
			ParentDeptID:    d.ParentDeptID,
			HeadUserID:      d.HeadUserID,
			Children:        []*DepartmentNode{},
		}
	}

	roots := []*DepartmentNode{}
	for _, d := range depts {
		node := nodes[d.DeptID]
		if d.ParentDeptID != nil {
			if parent, ok := nodes[*d.ParentDeptID]; ok {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}

	return &DepartmentHierarchy{
		Departments:      roots,
		TotalDepartments: len(depts),
	}
}

// Create 创建部门（仅管理员）
func (s *departmentService) Create(ctx context.Context, actor Actor, req *CreateDepartmentRequest) (*CreateDepartmentResult, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if req == nil {
		return nil, invalid("request body is required")
	}

	name, err := utils.TrimAndValidate(req.Name, 255)
	if err != nil {
		return nil, invalid("name: %s", err.Error())
	}
	description, err := utils.TrimOptional(req.Description, 2000)
	if err != nil {
		return nil, invalid("description: %s", err.Error())
	}

	budget := decimal.Zero
	if req.AllocatedBudget != nil {
		budget = *req.AllocatedBudget
	}
	switch {
	case budget.IsNegative():
		return nil, invalid("allocated_budget must not be negative")
	case !budget.Equal(budget.Round(4)):
		return nil, invalid("allocated_budget must have at most 4 decimal places")
	case budget.GreaterThanOrEqual(maxAmount):
		return nil, invalid("allocated_budget is too large")
	}

	var parentID *string
	if req.ParentDeptID != nil && strings.TrimSpace(*req.ParentDeptID) != "" {
		id := strings.TrimSpace(*req.ParentDeptID)
		parentID = &id
	}

	head, err := s.prepareHead(req)
	if err != nil {
		return nil, err
	}

	now := s.now()
	dept := &model.DepartmentModel{
		DeptID:          uuid.New().String(),
		Name:            name,
		Description:     description,
		ParentDeptID:    parentID,
		AllocatedBudget: budget,
		CreatedAt:       now,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		depts := repository.NewDepartmentRepository(tx)

		if _, err := depts.FindByName(name); err == nil {
			return fmt.Errorf("%w: %s", ErrDepartmentExists, name)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if parentID != nil {
			if err := checkBudgetFits(depts, *parentID, budget); err != nil {
				return err
			}
		}

		if err := dept.Validate(); err != nil {
			return invalid("%s", err.Error())
		}
		if err := depts.Save(dept); err != nil {
			return fmt.Errorf("failed to create department: %w", err)
		}

		details := map[string]interface{}{
			"name":             dept.Name,
			"parent_dept_id":   dept.ParentDeptID,
			"allocated_budget": dept.AllocatedBudget.String(),
		}

		if head != nil {
			users := repository.NewUserRepository(tx)
			if _, err := users.FindByEmail(head.Email); err == nil {
				return fmt.Errorf("%w: %s", ErrEmailTaken, head.Email)
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			head.DeptID = &dept.DeptID
			head.CreatedAt = now
			if err := users.Save(head); err != nil {
				return fmt.Errorf("failed to create department head: %w", err)
			}
			if err := depts.SetHead(dept.DeptID, head.UserID); err != nil {
				return err
			}
			dept.HeadUserID = &head.UserID
			details["head_user_id"] = head.UserID
		}

		log, err := newAuditLog(ctx, actor.UserID, ActionCreateDepartment, ResourceDepartment, dept.DeptID, details)
		if err != nil {
			return err
		}
		return repository.NewAuditLogRepository(tx).Create(log)
	})
	if err != nil {
		return nil, err
	}

	result := &CreateDepartmentResult{Department: dept}
	if head != nil {
		result.Head = NewUserView(head)
	}
	return result, nil
}

// prepareHead 校验负责人参数并计算密码哈希，未填写邮箱时返回 nil
func (s *departmentService) prepareHead(req *CreateDepartmentRequest) (*model.UserModel, error) {
	email := strings.ToLower(strings.TrimSpace(req.HeadEmail))
	if email == "" {
		return nil, nil
	}
	if !strings.Contains(email, "@") {
		return nil, invalid("head_email is not a valid email address")
	}

	name, err := utils.TrimOptional(req.HeadName, 255)
	if err != nil {
		return nil, invalid("head_name: %s", err.Error())
	}
	if name == "" {
		name = email
	}

	hash, err := auth.HashPassword(req.HeadPassword)
	if err != nil {
		return nil, invalid("head_password: %s", err.Error())
	}

	return &model.UserModel{
		UserID:       uuid.New().String(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         model.RoleDeptHead,
	}, nil
}

// checkBudgetFits 子部门预算之和加上新预算不得超过上级部门
func checkBudgetFits(depts repository.DepartmentRepository, parentID string, budget decimal.Decimal) error {
	parent, err := depts.FindByID(parentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return invalid("parent department %s not found", parentID)
		}
		return err
	}

	children, err := depts.FindChildren(parentID)
	if err != nil {
		return err
	}
	allocated := decimal.Zero
	for _, child := range children {
		allocated = allocated.Add(child.AllocatedBudget)
	}

	if allocated.Add(budget).GreaterThan(parent.AllocatedBudget) {
		return fmt.Errorf("%w: %s already allocated of %s", ErrBudgetExceeded,
			allocated.StringFixed(2), parent.AllocatedBudget.StringFixed(2))
	}
	return nil
}

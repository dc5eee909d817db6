package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mautops/moneylens/internal/auth"
	"github.com/mautops/moneylens/internal/model"
	"github.com/mautops/moneylens/internal/repository"
	"github.com/mautops/moneylens/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDepartmentService_Create 测试创建部门与预算约束
func TestDepartmentService_Create(t *testing.T) {
	db := setupTestDB(t)
	svc := service.NewDepartmentService(db)
	ctx := context.Background()

	root, err := svc.Create(ctx, admin(), &service.CreateDepartmentRequest{
		Name:            " Treasury ",
		AllocatedBudget: amount("1000"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Treasury", root.Department.Name)
	assert.Nil(t, root.Head)

	parentID := root.Department.DeptID
	health, err := svc.Create(ctx, admin(), &service.CreateDepartmentRequest{
		Name:            "Health",
		ParentDeptID:    &parentID,
		AllocatedBudget: amount("600"),
		HeadName:        "Dr. Rao",
		HeadEmail:       "Rao@Example.org",
		HeadPassword:    "s3cret-pass",
	})
	require.NoError(t, err)
	require.NotNil(t, health.Head)
	assert.Equal(t, "rao@example.org", health.Head.Email)
	assert.Equal(t, model.RoleDeptHead, health.Head.Role)
	require.NotNil(t, health.Head.DeptID)
	assert.Equal(t, health.Department.DeptID, *health.Head.DeptID)
	require.NotNil(t, health.Department.HeadUserID)

	user, err := repository.NewUserRepository(db).FindByEmail("rao@example.org")
	require.NoError(t, err)
	assert.True(t, auth.CheckPassword(user.PasswordHash, "s3cret-pass"))

	// 400 + 600 = 1000 仍在上级预算内
	_, err = svc.Create(ctx, admin(), &service.CreateDepartmentRequest{
		Name:            "Roads",
		ParentDeptID:    &parentID,
		AllocatedBudget: amount("400"),
	})
	require.NoError(t, err)

	_, err = svc.Create(ctx, admin(), &service.CreateDepartmentRequest{
		Name:            "Parks",
		ParentDeptID:    &parentID,
		AllocatedBudget: amount("0.01"),
	})
	assert.True(t, errors.Is(err, service.ErrBudgetExceeded))

	_, err = svc.Create(ctx, admin(), &service.CreateDepartmentRequest{Name: "Health"})
	assert.True(t, errors.Is(err, service.ErrDepartmentExists))

	missing := "nope"
	_, err = svc.Create(ctx, admin(), &service.CreateDepartmentRequest{Name: "Orphan", ParentDeptID: &missing})
	assert.True(t, errors.Is(err, service.ErrValidation))

	_, err = svc.Create(ctx, admin(), &service.CreateDepartmentRequest{Name: "Neg", AllocatedBudget: amount("-1")})
	assert.True(t, errors.Is(err, service.ErrValidation))

	_, err = svc.Create(ctx, admin(), &service.CreateDepartmentRequest{
		Name: "Water", HeadEmail: "rao@example.org", HeadPassword: "another-pass",
	})
	assert.True(t, errors.Is(err, service.ErrEmailTaken))

	// 失败的事务不留下部门
	_, err = repository.NewDepartmentRepository(db).FindByName("Water")
	assert.Error(t, err)

	_, err = svc.Create(ctx, admin(), &service.CreateDepartmentRequest{
		Name: "Short", HeadEmail: "x@example.org", HeadPassword: "short",
	})
	assert.True(t, errors.Is(err, service.ErrValidation))

	_, err = svc.Create(ctx, deptHead(parentID), &service.CreateDepartmentRequest{Name: "Nope"})
	assert.True(t, errors.Is(err, service.ErrForbidden))
}

// TestDepartmentService_Hierarchy 测试部门树
func TestDepartmentService_Hierarchy(t *testing.T) {
	db := setupTestDB(t)
	svc := service.NewDepartmentService(db)

	root := seedDepartment(t, db, "Treasury", "1000", nil)
	health := seedDepartment(t, db, "Health", "600", &root.DeptID)
	seedDepartment(t, db, "Clinics", "100", &health.DeptID)
	seedDepartment(t, db, "Archive", "0", nil)

	tree, err := svc.Hierarchy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, tree.TotalDepartments)
	require.Len(t, tree.Departments, 2)

	var treasury *service.DepartmentNode
	for _, n := range tree.Departments {
		if n.Name == "Treasury" {
			treasury = n
		}
	}
	require.NotNil(t, treasury)
	require.Len(t, treasury.Children, 1)
	assert.Equal(t, "Health", treasury.Children[0].Name)
	require.Len(t, treasury.Children[0].Children, 1)
	assert.Equal(t, "Clinics", treasury.Children[0].Children[0].Name)
	assert.True(t, decimal.NewFromInt(600).Equal(treasury.Children[0].AllocatedBudget))

	_, err = svc.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, service.ErrDepartmentNotFound))
}

// TestBuildHierarchy_OrphanBecomesRoot 测试上级缺失时作为根节点
func TestBuildHierarchy_OrphanBecomesRoot(t *testing.T) {
	gone := "gone"
	tree := service.BuildHierarchy([]*model.DepartmentModel{
		{DeptID: "a", Name: "A", ParentDeptID: &gone},
	})
	require.Len(t, tree.Departments, 1)
	assert.Equal(t, "A", tree.Departments[0].Name)
	assert.NotNil(t, tree.Departments[0].Children)
}

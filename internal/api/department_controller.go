package api

import (
	"github.com/gin-gonic/gin"
	"github.com/mautops/moneylens/internal/service"
	"github.com/mautops/moneylens/internal/utils"
)

// DepartmentController 部门控制器
type DepartmentController struct {
	departments service.DepartmentService
}

// NewDepartmentController 创建部门控制器
func NewDepartmentController(departments service.DepartmentService) *DepartmentController {
	return &DepartmentController{departments: departments}
}

// List 部门列表
// @Summary      部门列表
// @Description  列出全部部门
// @Tags         部门
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /departments [get]
// @Security     BearerAuth
func (d *DepartmentController) List(c *gin.Context) {
	depts, err := d.departments.List(requestContext(c))
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, gin.H{
		"count":       len(depts),
		"departments": depts,
	})
}

// Get 部门详情
// @Summary      部门详情
// @Description  根据 ID 获取部门
// @Tags         部门
// @Accept       json
// @Produce      json
// @Param        id path string true "部门 ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /departments/{id} [get]
// @Security     BearerAuth
func (d *DepartmentController) Get(c *gin.Context) {
	id := c.Param("id")
	if err := utils.ValidateID(id); err != nil {
		handleError(c, service.ErrDepartmentNotFound)
		return
	}
	dept, err := d.departments.Get(requestContext(c), id)
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, gin.H{"department": dept})
}

// Hierarchy 公开的部门树
// @Summary      部门树
// @Description  公开的部门层级结构
// @Tags         部门
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      500  {object}  ErrorResponse
// @Router       /departments/hierarchy [get]
func (d *DepartmentController) Hierarchy(c *gin.Context) {
	tree, err := d.departments.Hierarchy(requestContext(c))
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, gin.H{
		"departments":       tree.Departments,
		"total_departments": tree.TotalDepartments,
	})
}

// Create 创建部门，可同时创建部门负责人
// @Summary      创建部门
// @Description  创建部门，可同时创建部门负责人
// @Tags         部门
// @Accept       json
// @Produce      json
// @Param        request body service.CreateDepartmentRequest true "部门信息"
// @Success      201  {object}  map[string]interface{}
// @Failure      400  {object}  ErrorResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse
// @Router       /departments [post]
// @Security     BearerAuth
func (d *DepartmentController) Create(c *gin.Context) {
	var req service.CreateDepartmentRequest
	if err := bindJSON(c, &req); err != nil {
		respondBindError(c, err)
		return
	}

	result, err := d.departments.Create(requestContext(c), actorFrom(c), &req)
	if err != nil {
		handleError(c, err)
		return
	}

	body := gin.H{"department": result.Department}
	if result.Head != nil {
		body["head"] = result.Head
	}
	Created(c, body)
}

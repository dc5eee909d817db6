package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mautops/moneylens/internal/service"
)

// LedgerController 链下账目控制器
type LedgerController struct {
	ledger service.LedgerService
}

// NewLedgerController 创建账目控制器
func NewLedgerController(ledger service.LedgerService) *LedgerController {
	return &LedgerController{ledger: ledger}
}

// entryID 解析路径中的账目 ID，非法值按不存在处理
func entryID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		handleError(c, service.ErrEntryNotFound)
		return 0, false
	}
	return uint(id), true
}

// Create 创建账目
// @Summary      创建账目
// @Description  创建待审批账目并排队上链
// @Tags         账目
// @Accept       json
// @Produce      json
// @Param        request body service.CreateEntryRequest true "账目信息"
// @Success      201  {object}  map[string]interface{}
// @Failure      400  {object}  ErrorResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse
// @Router       /ledger [post]
// @Security     BearerAuth
func (l *LedgerController) Create(c *gin.Context) {
	var req service.CreateEntryRequest
	if err := bindJSON(c, &req); err != nil {
		respondBindError(c, err)
		return
	}

	entry, err := l.ledger.Create(requestContext(c), actorFrom(c), &req)
	if err != nil {
		handleError(c, err)
		return
	}
	Created(c, gin.H{"transaction": entry})
}

// List 账目列表
// @Summary      账目列表
// @Description  按部门与状态过滤账目
// @Tags         账目
// @Accept       json
// @Produce      json
// @Param        request query service.ListEntriesQuery false "过滤条件"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  ErrorResponse
// @Failure      401  {object}  ErrorResponse
// @Router       /ledger [get]
// @Security     BearerAuth
func (l *LedgerController) List(c *gin.Context) {
	var query service.ListEntriesQuery
	if err := bindQuery(c, &query); err != nil {
		respondBindError(c, err)
		return
	}

	entries, err := l.ledger.List(requestContext(c), actorFrom(c), &query)
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, gin.H{
		"count":        len(entries),
		"transactions": entries,
	})
}

// Get 账目详情
// @Summary      账目详情
// @Description  根据 ID 获取账目
// @Tags         账目
// @Accept       json
// @Produce      json
// @Param        id path int true "账目 ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /ledger/{id} [get]
// @Security     BearerAuth
func (l *LedgerController) Get(c *gin.Context) {
	id, ok := entryID(c)
	if !ok {
		return
	}
	entry, err := l.ledger.Get(requestContext(c), actorFrom(c), id)
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, gin.H{"transaction": entry})
}

// History 状态变更历史
// @Summary      状态历史
// @Description  账目的状态变更记录
// @Tags         账目
// @Accept       json
// @Produce      json
// @Param        id path int true "账目 ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /ledger/{id}/history [get]
// @Security     BearerAuth
func (l *LedgerController) History(c *gin.Context) {
	id, ok := entryID(c)
	if !ok {
		return
	}
	history, err := l.ledger.History(requestContext(c), actorFrom(c), id)
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, gin.H{
		"count":   len(history),
		"history": history,
	})
}

// Approve 审批通过
// @Summary      审批通过
// @Description  Pending 变为 Approved
// @Tags         账目
// @Accept       json
// @Produce      json
// @Param        id path int true "账目 ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse
// @Router       /ledger/{id}/approve [post]
// @Security     BearerAuth
func (l *LedgerController) Approve(c *gin.Context) {
	id, ok := entryID(c)
	if !ok {
		return
	}
	l.respondEntry(c)(l.ledger.Approve(requestContext(c), actorFrom(c), id))
}

// Reject 驳回，必须填写原因
// @Summary      驳回
// @Description  Pending 或 Approved 变为 Rejected
// @Tags         账目
// @Accept       json
// @Produce      json
// @Param        id path int true "账目 ID"
// @Param        request body service.RejectEntryRequest true "驳回原因"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  ErrorResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse
// @Router       /ledger/{id}/reject [post]
// @Security     BearerAuth
func (l *LedgerController) Reject(c *gin.Context) {
	id, ok := entryID(c)
	if !ok {
		return
	}
	var req service.RejectEntryRequest
	if err := bindJSON(c, &req); err != nil {
		respondBindError(c, err)
		return
	}
	l.respondEntry(c)(l.ledger.Reject(requestContext(c), actorFrom(c), id, req.Reason))
}

// Settle 结算
// @Summary      结算
// @Description  Approved 变为 Settled
// @Tags         账目
// @Accept       json
// @Produce      json
// @Param        id path int true "账目 ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse
// @Router       /ledger/{id}/settle [post]
// @Security     BearerAuth
func (l *LedgerController) Settle(c *gin.Context) {
	id, ok := entryID(c)
	if !ok {
		return
	}
	l.respondEntry(c)(l.ledger.Settle(requestContext(c), actorFrom(c), id))
}

// Anchor 立即上链，失败的锚定会重新执行
// @Summary      立即上链
// @Description  同步锚定账目，失败的锚定重新执行
// @Tags         账目
// @Accept       json
// @Produce      json
// @Param        id path int true "账目 ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse
// @Failure      503  {object}  ErrorResponse
// @Router       /ledger/{id}/anchor [post]
// @Security     BearerAuth
func (l *LedgerController) Anchor(c *gin.Context) {
	id, ok := entryID(c)
	if !ok {
		return
	}
	l.respondEntry(c)(l.ledger.Anchor(requestContext(c), actorFrom(c), id))
}

// Verify 校验哈希链
// @Summary      校验哈希链
// @Description  重新计算哈希链并返回第一处断裂
// @Tags         账目
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /ledger/verify [get]
// @Security     BearerAuth
func (l *LedgerController) Verify(c *gin.Context) {
	result, err := l.ledger.Verify(requestContext(c))
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, gin.H{"verification": result})
}

// Reconcile 对比已锚定账目与链上记录
// @Summary      链上对账
// @Description  对比已锚定账目与链上记录
// @Tags         账目
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse
// @Failure      503  {object}  ErrorResponse
// @Router       /ledger/reconcile [get]
// @Security     BearerAuth
func (l *LedgerController) Reconcile(c *gin.Context) {
	report, err := l.ledger.Reconcile(requestContext(c))
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, gin.H{
		"ok":     report.OK(),
		"report": report,
	})
}

func (l *LedgerController) respondEntry(c *gin.Context) func(interface{}, error) {
	return func(entry interface{}, err error) {
		if err != nil {
			handleError(c, err)
			return
		}
		Success(c, gin.H{"transaction": entry})
	}
}

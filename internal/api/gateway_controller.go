package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/moneylens/internal/auth"
	"github.com/mautops/moneylens/internal/service"
)

// GatewayController 链上账本网关控制器
type GatewayController struct {
	gateway service.GatewayService
}

// NewGatewayController 创建网关控制器
func NewGatewayController(gateway service.GatewayService) *GatewayController {
	return &GatewayController{gateway: gateway}
}

// Health 存活检查，不访问节点
// @Summary      存活检查
// @Description  不访问节点的存活检查
// @Tags         链上网关
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /health [get]
func (g *GatewayController) Health(c *gin.Context) {
	c.JSON(http.StatusOK, g.gateway.Health())
}

// List 读取全部链上记录
// @Summary      链上记录列表
// @Description  读取合约中的全部记录
// @Tags         链上网关
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      500  {object}  ErrorResponse
// @Failure      503  {object}  ErrorResponse
// @Failure      504  {object}  ErrorResponse
// @Router       /transactions [get]
func (g *GatewayController) List(c *gin.Context) {
	transactions, err := g.gateway.ListTransactions(requestContext(c))
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, gin.H{
		"count":        len(transactions),
		"transactions": transactions,
	})
}

// Get 按下标读取记录
// @Summary      链上记录详情
// @Description  按下标读取记录
// @Tags         链上网关
// @Accept       json
// @Produce      json
// @Param        id path int true "记录下标"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  ErrorResponse
// @Failure      503  {object}  ErrorResponse
// @Failure      504  {object}  ErrorResponse
// @Router       /transactions/{id} [get]
func (g *GatewayController) Get(c *gin.Context) {
	transaction, err := g.gateway.GetTransaction(requestContext(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, gin.H{"transaction": transaction})
}

// Add 写入链上记录并等待确认
// @Summary      写入链上记录
// @Description  写入合约并等待一次确认
// @Tags         链上网关
// @Accept       json
// @Produce      json
// @Param        request body service.AddTransactionRequest true "记录内容"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  ErrorResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Failure      503  {object}  ErrorResponse
// @Failure      504  {object}  ErrorResponse
// @Router       /transactions [post]
// @Security     BearerAuth
func (g *GatewayController) Add(c *gin.Context) {
	var req service.AddTransactionRequest
	if err := bindJSON(c, &req); err != nil {
		respondBindError(c, err)
		return
	}

	result, err := g.gateway.AddTransaction(requestContext(c), c.GetString(auth.ContextUserID), &req)
	if err != nil {
		handleError(c, err)
		return
	}

	body := gin.H{
		"message":         "Transaction added successfully",
		"transactionHash": result.TransactionHash,
		"gasUsed":         result.GasUsed,
	}
	if result.Index != nil {
		body["index"] = *result.Index
	}
	Success(c, body)
}

// Stats 合约统计
// @Summary      合约统计
// @Description  记录总数与合约地址
// @Tags         链上网关
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      500  {object}  ErrorResponse
// @Failure      503  {object}  ErrorResponse
// @Failure      504  {object}  ErrorResponse
// @Router       /stats [get]
func (g *GatewayController) Stats(c *gin.Context) {
	stats, err := g.gateway.Stats(requestContext(c))
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, gin.H{
		"totalTransactions": stats.TotalTransactions,
		"contractAddress":   stats.ContractAddress,
	})
}

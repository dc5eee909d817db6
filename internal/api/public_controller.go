package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/moneylens/internal/service"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// PublicController 公开账本控制器，无需认证
type PublicController struct {
	public service.PublicService
	export service.ExportService
}

// NewPublicController 创建公开账本控制器
func NewPublicController(public service.PublicService, export service.ExportService) *PublicController {
	return &PublicController{public: public, export: export}
}

// Transactions 过滤后的公开账目与统计
// @Summary      公开账目
// @Description  过滤后的账目、统计与链上校验标记
// @Tags         公开
// @Accept       json
// @Produce      json
// @Param        request query service.PublicQuery false "过滤条件"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /public/transactions [get]
func (p *PublicController) Transactions(c *gin.Context) {
	var query service.PublicQuery
	if err := bindQuery(c, &query); err != nil {
		respondBindError(c, err)
		return
	}

	result, err := p.public.Transactions(requestContext(c), &query)
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, gin.H{
		"count":           result.Count,
		"transactions":    result.Transactions,
		"stats":           result.Stats,
		"currency":        result.Currency,
		"chain_available": result.ChainAvailable,
	})
}

// Stats 只返回统计
// @Summary      公开统计
// @Description  只返回过滤后的统计
// @Tags         公开
// @Accept       json
// @Produce      json
// @Param        request query service.PublicQuery false "过滤条件"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /public/stats [get]
func (p *PublicController) Stats(c *gin.Context) {
	var query service.PublicQuery
	if err := bindQuery(c, &query); err != nil {
		respondBindError(c, err)
		return
	}

	stats, err := p.public.Stats(requestContext(c), &query)
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, gin.H{"stats": stats})
}

// Currencies 静态汇率表
// @Summary      汇率表
// @Description  静态货币换算表
// @Tags         公开
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /public/currencies [get]
func (p *PublicController) Currencies(c *gin.Context) {
	table := p.public.Currencies()
	Success(c, gin.H{
		"canonical":  table.Canonical,
		"currencies": table.Currencies,
		"note":       table.Note,
	})
}

// Export 导出过滤后的账目为 XLSX
// @Summary      导出账目
// @Description  过滤后的账目导出为 XLSX
// @Tags         公开
// @Accept       json
// @Produce      application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param        request query service.PublicQuery false "过滤条件"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /public/transactions/export.xlsx [get]
func (p *PublicController) Export(c *gin.Context) {
	var query service.PublicQuery
	if err := bindQuery(c, &query); err != nil {
		respondBindError(c, err)
		return
	}

	buf, filename, err := p.export.ExportXLSX(requestContext(c), &query)
	if err != nil {
		handleError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

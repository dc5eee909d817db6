package service

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

// ExportService 公开账本导出服务
type ExportService interface {
	ExportXLSX(ctx context.Context, query *PublicQuery) (*bytes.Buffer, string, error)
}

// exportService 导出服务实现
type exportService struct {
	public PublicService
	logger *logrus.Logger
	now    func() time.Time
}

// NewExportService 创建导出服务
func NewExportService(public PublicService, logger *logrus.Logger) ExportService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &exportService{public: public, logger: logger, now: time.Now}
}

var exportHeaders = []interface{}{
	"ID", "From", "To", "Purpose", "Amount", "Display Amount", "Status",
	"Anomaly", "Transaction Hash", "Chain Index", "Chain Verified", "Created At (UTC)",
}

// ExportXLSX 按公开查询条件导出 XLSX，包含明细与统计两个工作表
func (s *exportService) ExportXLSX(ctx context.Context, query *PublicQuery) (*bytes.Buffer, string, error) {
	result, err := s.public.Transactions(ctx, query)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Ledger"
	idx, err := f.NewSheet(sheet)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	_ = f.DeleteSheet("Sheet1")

	_ = f.SetColWidth(sheet, "A", "A", 8)
	_ = f.SetColWidth(sheet, "B", "D", 28)
	_ = f.SetColWidth(sheet, "E", "H", 16)
	_ = f.SetColWidth(sheet, "I", "I", 68)
	_ = f.SetColWidth(sheet, "J", "L", 22)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})

	if err := f.SetSheetRow(sheet, "A1", &exportHeaders); err != nil {
		return nil, "", err
	}
	last, _ := excelize.ColumnNumberToName(len(exportHeaders))
	_ = f.SetCellStyle(sheet, "A1", last+"1", headerStyle)

	for i, e := range result.Transactions {
		hash := ""
		if e.TransactionHash != nil {
			hash = *e.TransactionHash
		}
		var index interface{} = ""
		if e.ChainIndex != nil {
			index = *e.ChainIndex
		}
		row := []interface{}{
			e.ID, e.FromDept, e.ToDept, e.Purpose, e.Amount, e.DisplayAmount, e.Status,
			e.Anomaly, hash, index, e.ChainVerified, e.CreatedAt.UTC().Format(time.RFC3339),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, "", err
		}
	}

	if err := s.writeSummary(f, result); err != nil {
		return nil, "", err
	}

	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		s.logger.WithError(err).Error("failed to write xlsx")
		return nil, "", fmt.Errorf("failed to write workbook: %w", err)
	}

	filename := fmt.Sprintf("moneylens_ledger_%s.xlsx", s.now().UTC().Format("20060102_150405"))
	return buf, filename, nil
}

func (s *exportService) writeSummary(f *excelize.File, result *PublicLedger) error {
	const sheet = "Summary"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	_ = f.SetColWidth(sheet, "A", "A", 24)
	_ = f.SetColWidth(sheet, "B", "D", 20)

	rows := [][]interface{}{
		{"Currency", result.Currency.Code},
		{"Rate", result.Currency.Rate.String()},
		{"Count", result.Stats.Count},
		{"Total Amount", result.Stats.TotalAmount},
		{"Display Total", result.Stats.DisplayTotalAmount},
		{"Settled Ratio", result.Stats.SettledRatio},
		{"Chain Available", result.ChainAvailable},
		{},
		{"Date", "Count", "Amount", "Display Amount"},
	}
	for _, d := range result.Stats.Last7Days {
		rows = append(rows, []interface{}{d.Date, d.Count, d.Amount, d.DisplayAmount})
	}
	for i := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return err
		}
	}
	return nil
}

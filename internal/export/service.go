// Package export renders impact analyses and integration reports as XLSX
// workbooks for operators.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/opsbridge/cmdb/internal/graph"
	"github.com/opsbridge/cmdb/internal/mapping"
)

// Service writes report workbooks into a configured directory.
type Service struct {
	exportDir string
	now       func() time.Time
}

// NewService creates the export service, ensuring the directory exists.
func NewService(exportDir string) (*Service, error) {
	dir := filepath.Clean(exportDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}
	return &Service{exportDir: dir, now: time.Now}, nil
}

// WriteImpactReport renders one impact analysis as a workbook and returns
// the file path.
func (s *Service) WriteImpactReport(analysis graph.ImpactAnalysis) (string, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Impact"
	f.SetSheetName(f.GetSheetName(0), sheet)

	headers := []string{"CI ID", "Name", "Depth", "Band", "Severity", "Status"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}

	row := 2
	writeBand := func(band string, hits []graph.ImpactedCI) {
		for _, hit := range hits {
			values := []any{hit.CI.CIID, hit.CI.Name, hit.Depth, band, string(hit.Severity), hit.CI.Status}
			for i, v := range values {
				cell, _ := excelize.CoordinatesToCellName(i+1, row)
				f.SetCellValue(sheet, cell, v)
			}
			row++
		}
	}
	writeBand("direct", analysis.Direct)
	writeBand("indirect", analysis.Indirect)
	writeBand("extended", analysis.Extended)

	svcSheet := "Services"
	if _, err := f.NewSheet(svcSheet); err != nil {
		return "", fmt.Errorf("add services sheet: %w", err)
	}
	svcHeaders := []string{"Service", "Max Severity", "Impacted CIs"}
	for i, h := range svcHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(svcSheet, cell, h)
	}
	for i, impact := range analysis.Services {
		names := make([]string, 0, len(impact.ImpactedCIs))
		for _, ci := range impact.ImpactedCIs {
			names = append(names, ci.CIID)
		}
		values := []any{impact.Service.Name, string(impact.MaxSeverity), strings.Join(names, ", ")}
		for j, v := range values {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+2)
			f.SetCellValue(svcSheet, cell, v)
		}
	}

	name := fmt.Sprintf("impact_%s_%s.xlsx", analysis.Root.CIID, s.now().Format("20060102T150405"))
	path := filepath.Join(s.exportDir, name)
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save impact report: %w", err)
	}
	return path, nil
}

// WriteIntegrationReport renders match suggestions as a workbook and
// returns the file path.
func (s *Service) WriteIntegrationReport(analysis mapping.IntegrationAnalysis) (string, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Suggestions"
	f.SetSheetName(f.GetSheetName(0), sheet)

	headers := []string{"Asset", "Serial", "CI ID", "CI Name", "Confidence", "Matched On"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}
	for i, sug := range analysis.Suggestions {
		values := []any{
			sug.Asset.Name, sug.Asset.SerialNumber,
			sug.CI.CIID, sug.CI.Name,
			sug.Confidence, strings.Join(sug.MatchedOn, ", "),
		}
		for j, v := range values {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+2)
			f.SetCellValue(sheet, cell, v)
		}
	}

	name := fmt.Sprintf("integration_%s.xlsx", s.now().Format("20060102T150405"))
	path := filepath.Join(s.exportDir, name)
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save integration report: %w", err)
	}
	return path, nil
}

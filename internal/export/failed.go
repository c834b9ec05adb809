// Package export produces Excel reports of terminally failed operations so
// a crew lead can review what never reached the server.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fieldsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Failed operations"

// Exporter writes reports into a configured directory.
type Exporter struct {
	dir    string
	logger *zerolog.Logger
}

func NewExporter(dir string, logger *zerolog.Logger) *Exporter {
	return &Exporter{dir: dir, logger: logger}
}

// FailedOperations writes one row per failed operation and returns the file
// path. An empty slice still produces a file with headers only.
func (e *Exporter) FailedOperations(ops []*models.QueuedOperation) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headers := []string{
		"ID", "Type", "Parcel", "Priority", "Retries", "Created", "Last update", "Errors",
	}
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, header)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	for i, op := range ops {
		row := i + 2
		_ = f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), op.ID)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), op.Type)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), models.ParcelKeyFromPayload(op.Payload))
		_ = f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), op.Priority)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("E%d", row), fmt.Sprintf("%d/%d", op.RetryCount, op.MaxRetries))
		_ = f.SetCellValue(sheetName, fmt.Sprintf("F%d", row), op.CreatedAt.Format("02.01.2006 15:04"))
		_ = f.SetCellValue(sheetName, fmt.Sprintf("G%d", row), op.UpdatedAt.Format("02.01.2006 15:04"))
		_ = f.SetCellValue(sheetName, fmt.Sprintf("H%d", row), strings.Join(op.Errors, "\n"))
	}

	_ = f.SetColWidth(sheetName, "A", "A", 38)
	_ = f.SetColWidth(sheetName, "B", "C", 16)
	_ = f.SetColWidth(sheetName, "D", "E", 10)
	_ = f.SetColWidth(sheetName, "F", "G", 18)
	_ = f.SetColWidth(sheetName, "H", "H", 60)

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("failed_operations_%s.xlsx", time.Now().Format("2006-01-02_15-04-05"))
	filePath := filepath.Join(e.dir, fileName)

	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("save file: %w", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("operations", len(ops)).Msg("failed-operations report created")
	return filePath, nil
}

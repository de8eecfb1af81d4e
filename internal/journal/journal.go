package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/pyramid-bot/internal/logger"
	"github.com/ducminhle1904/pyramid-bot/pkg/types"
)

const sheetName = "Positions"

var headers = []string{
	"Timestamp", "Symbol", "Event", "Pyramid Level", "Exit Count",
	"Current Size", "Average Entry", "Margin Used",
}

// Journal records every confirmed position update into an Excel
// workbook. Writes are serialized and fire-and-forget; a journal failure
// never blocks trading.
type Journal struct {
	path string
	log  *logger.Logger
	mu   sync.Mutex
	row  int
	fx   *excelize.File
}

// New opens (or creates) a journal workbook under dir, one file per day.
func New(dir string, log *logger.Logger) (*Journal, error) {
	if dir == "" {
		dir = "journal"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("trades_%s.xlsx", time.Now().Format("2006-01-02")))

	j := &Journal{path: path, log: log}
	if err := j.open(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) open() error {
	if _, err := os.Stat(j.path); err == nil {
		fx, err := excelize.OpenFile(j.path)
		if err != nil {
			return fmt.Errorf("failed to open journal workbook: %w", err)
		}
		rows, err := fx.GetRows(sheetName)
		if err != nil {
			fx.Close()
			return fmt.Errorf("failed to read journal sheet: %w", err)
		}
		j.fx = fx
		j.row = len(rows)
		return nil
	}

	fx := excelize.NewFile()
	fx.SetSheetName(fx.GetSheetName(0), sheetName)

	headerStyle, err := fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold:   true,
			Size:   11,
			Color:  "FFFFFF",
			Family: "Calibri",
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"2F4F4F"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		fx.Close()
		return err
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		fx.SetCellValue(sheetName, cell, h)
	}
	endCell, _ := excelize.CoordinatesToCellName(len(headers), 1)
	fx.SetCellStyle(sheetName, "A1", endCell, headerStyle)
	fx.SetColWidth(sheetName, "A", "A", 20)
	fx.SetColWidth(sheetName, "B", "H", 14)

	if err := fx.SaveAs(j.path); err != nil {
		fx.Close()
		return fmt.Errorf("failed to create journal workbook: %w", err)
	}
	j.fx = fx
	j.row = 1
	return nil
}

// RecordUpdate appends one position update to the workbook. Implements
// the engine's update sink.
func (j *Journal) RecordUpdate(update types.PositionUpdate) {
	go func() {
		if err := j.append(update); err != nil {
			j.log.LogError("journal write", err)
		}
	}()
}

func (j *Journal) append(update types.PositionUpdate) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.fx == nil {
		return fmt.Errorf("journal workbook is closed")
	}

	j.row++
	values := []interface{}{
		update.Timestamp.Format("2006-01-02 15:04:05"),
		update.Symbol,
		update.Event,
		update.PyramidLevel,
		update.ExitCount,
		update.CurrentSize,
		update.AverageEntry,
		update.MarginUsed,
	}
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, j.row)
		if err != nil {
			return err
		}
		if err := j.fx.SetCellValue(sheetName, cell, v); err != nil {
			return err
		}
	}
	return j.fx.Save()
}

// Close saves and closes the workbook.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.fx == nil {
		return nil
	}
	err := j.fx.Save()
	closeErr := j.fx.Close()
	j.fx = nil
	if err != nil {
		return err
	}
	return closeErr
}

// Path returns the workbook location.
func (j *Journal) Path() string {
	return j.path
}

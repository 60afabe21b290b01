package audit

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// TableSource provides the tables to export.
type TableSource interface {
	GetTableNames(ctx context.Context) ([]string, error)
	GetTableData(ctx context.Context, table string) ([]map[string]any, []string, error)
}

// Exporter dumps every table into its own sheet.
type Exporter struct {
	source TableSource
	logger zerolog.Logger
}

func NewExporter(source TableSource, logger zerolog.Logger) *Exporter {
	return &Exporter{source: source, logger: logger.With().Str("component", "audit").Logger()}
}

// Export writes an XLSX workbook with one sheet per table to out.
func (e *Exporter) Export(ctx context.Context, out io.Writer) error {
	tables, err := e.source.GetTableNames(ctx)
	if err != nil {
		return fmt.Errorf("get table names: %w", err)
	}

	wb := NewWorkbook()
	defer wb.Close()

	for _, table := range tables {
		rows, columns, err := e.source.GetTableData(ctx, table)
		if err != nil {
			return fmt.Errorf("get table %s: %w", table, err)
		}
		if err := wb.AddSheet(table); err != nil {
			return err
		}
		if err := wb.WriteHeader(columns); err != nil {
			return err
		}
		for _, row := range rows {
			values := make([]any, len(columns))
			for i, col := range columns {
				values[i] = cellValue(row[col])
			}
			if err := wb.WriteRow(values); err != nil {
				return err
			}
		}
		e.logger.Debug().Str("table", table).Int("rows", len(rows)).Msg("exported table")
	}

	if _, err := wb.WriteTo(out); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// Filename is "vehiql_export_20240610_150405.xlsx".
func Filename(t time.Time) string {
	return fmt.Sprintf("vehiql_export_%s.xlsx", t.Format("20060102_150405"))
}

func cellValue(v any) any {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return val
	}
}

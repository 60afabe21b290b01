package db

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
)

// ExportTableNames are the tables included in spreadsheet exports.
var ExportTableNames = []string{
	"users",
	"dealerships",
	"working_hours",
	"cars",
	"test_drive_bookings",
	"user_saved_cars",
}

// GetTableNames returns the tables to export.
func (db *DB) GetTableNames(ctx context.Context) ([]string, error) {
	return ExportTableNames, nil
}

// GetTableData returns the columns and all rows of an exported table.
func (db *DB) GetTableData(ctx context.Context, table string) ([]map[string]any, []string, error) {
	if !slices.Contains(ExportTableNames, table) {
		return nil, nil, fmt.Errorf("invalid table name: %s", table)
	}

	rows, err := db.conn(ctx).QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, nil, fmt.Errorf("table info %s: %w", table, err)
	}
	var columns []string
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("scan table info: %w", err)
		}
		columns = append(columns, name)
	}
	rows.Close()
	if len(columns) == 0 {
		return nil, nil, fmt.Errorf("table %s has no columns", table)
	}

	dataRows, err := db.conn(ctx).QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s", table))
	if err != nil {
		return nil, nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer dataRows.Close()

	var data []map[string]any
	for dataRows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := dataRows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("scan %s: %w", table, err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		data = append(data, row)
	}
	return data, columns, dataRows.Err()
}

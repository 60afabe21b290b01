package audit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type stubSource struct {
	tables map[string][]map[string]any
	cols   map[string][]string
	order  []string
	err    error
}

func (s *stubSource) GetTableNames(context.Context) ([]string, error) {
	return s.order, nil
}

func (s *stubSource) GetTableData(_ context.Context, table string) ([]map[string]any, []string, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.tables[table], s.cols[table], nil
}

func TestExport(t *testing.T) {
	created := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	src := &stubSource{
		order: []string{"cars", "test_drive_bookings"},
		cols: map[string][]string{
			"cars":                {"id", "make", "price"},
			"test_drive_bookings": {"id", "car_id", "notes", "created_at"},
		},
		tables: map[string][]map[string]any{
			"cars": {
				{"id": "c1", "make": "Toyota", "price": 18500.5},
				{"id": "c2", "make": []byte("Honda"), "price": int64(21000)},
			},
			"test_drive_bookings": {
				{"id": "b1", "car_id": "c1", "notes": nil, "created_at": created},
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, NewExporter(src, zerolog.New(io.Discard)).Export(context.Background(), &buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"cars", "test_drive_bookings"}, f.GetSheetList())

	rows, err := f.GetRows("cars")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"id", "make", "price"}, rows[0])
	assert.Equal(t, []string{"c2", "Honda", "21000"}, rows[2])

	rows, err = f.GetRows("test_drive_bookings")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2024-06-10T09:00:00Z", rows[1][3])
}

func TestExport_SourceError(t *testing.T) {
	src := &stubSource{order: []string{"cars"}, err: errors.New("boom")}
	err := NewExporter(src, zerolog.New(io.Discard)).Export(context.Background(), io.Discard)
	assert.Error(t, err)
}

func TestWorkbook_RowBeforeSheet(t *testing.T) {
	wb := NewWorkbook()
	defer wb.Close()
	assert.ErrorIs(t, wb.WriteRow([]any{"x"}), errNoSheet)
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "vehiql_export_20240610_150405.xlsx", Filename(time.Date(2024, 6, 10, 15, 4, 5, 0, time.UTC)))
}

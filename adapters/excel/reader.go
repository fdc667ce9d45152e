// Package excel reads experiment datasets from CSV and Excel workbooks and writes
// result tables back out.
package excel

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"proxima/internal/errors"
)

const defaultSheet = "Sheet1"

// DefaultMaxRows bounds the data rows of one file, the same cap as synthetic users.
const DefaultMaxRows = 1_000_000

// DataReader handles reading Excel and CSV files
type DataReader struct {
	filePath string
	fileType string // "xlsx" or "csv"
	maxRows  int
	logger   *zap.Logger
}

// FileType maps a file name to "csv" or "xlsx"
func FileType(name string) (string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "csv", nil
	case ".xlsx", ".xlsm":
		return "xlsx", nil
	default:
		return "", errors.InvalidInputf("unsupported file type %q (want .csv or .xlsx)", filepath.Ext(name))
	}
}

// NewDataReader creates a reader for a CSV or Excel file on disk
func NewDataReader(filePath string, logger *zap.Logger) *DataReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	fileType, _ := FileType(filePath)
	return &DataReader{filePath: filePath, fileType: fileType, maxRows: DefaultMaxRows, logger: logger}
}

// WithMaxRows sets the data row cap; n <= 0 restores DefaultMaxRows
func (r *DataReader) WithMaxRows(n int) *DataReader {
	if n <= 0 {
		n = DefaultMaxRows
	}
	r.maxRows = n
	return r
}

// ReadData reads the file into a raw table
func (r *DataReader) ReadData() (*Table, error) {
	if r.fileType == "" {
		_, err := FileType(r.filePath)
		return nil, err
	}
	f, err := os.Open(r.filePath)
	if os.IsNotExist(err) {
		return nil, errors.InvalidInputf("%s file not found: %s", strings.ToUpper(r.fileType), r.filePath)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", r.filePath)
	}
	defer f.Close()
	return r.read(f)
}

// ReadUpload reads an uploaded file, using its name to pick the format
func ReadUpload(src io.Reader, filename string, logger *zap.Logger) (*Table, error) {
	fileType, err := FileType(filename)
	if err != nil {
		return nil, err
	}
	r := &DataReader{filePath: filename, fileType: fileType, maxRows: DefaultMaxRows, logger: logger}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r.read(src)
}

func (r *DataReader) read(src io.Reader) (*Table, error) {
	start := time.Now()
	var (
		rows [][]string
		err  error
	)
	// header plus data rows
	limit := r.maxRows + 1
	switch r.fileType {
	case "csv":
		rows, err = readCSV(src, limit)
	case "xlsx":
		rows, err = readWorkbook(src, limit)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, errors.InvalidInputf("%s file must have a header row and at least one data row", strings.ToUpper(r.fileType))
	}

	t := processRows(rows)
	r.logger.Info("dataset file read",
		zap.String("file", r.filePath),
		zap.String("type", r.fileType),
		zap.Int("columns", len(t.Headers)),
		zap.Int("rows", len(t.Rows)),
		zap.Duration("elapsed", time.Since(start)))
	return t, nil
}

func tooManyRows(limit int) error {
	return errors.InvalidInputf("file has more than %d data rows", limit-1)
}

func readCSV(src io.Reader, limit int) ([][]string, error) {
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = false

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, errors.WithCode(errors.CodeInvalidInput, errors.Wrap(err, "failed to read CSV file"))
		}
		if len(rows) == limit {
			return nil, tooManyRows(limit)
		}
		rows = append(rows, record)
	}
}

// readWorkbook reads Sheet1, or the first sheet when there is no Sheet1
func readWorkbook(src io.Reader, limit int) ([][]string, error) {
	f, err := excelize.OpenReader(src)
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, errors.Wrap(err, "failed to open Excel file"))
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.InvalidInput("Excel file has no sheets")
	}
	sheet := sheets[0]
	for _, s := range sheets {
		if s == defaultSheet {
			sheet = s
			break
		}
	}
	iter, err := f.Rows(sheet)
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, errors.Wrapf(err, "failed to read sheet %s", sheet))
	}
	defer iter.Close()

	var rows [][]string
	for iter.Next() {
		if len(rows) == limit {
			return nil, tooManyRows(limit)
		}
		row, err := iter.Columns()
		if err != nil {
			return nil, errors.WithCode(errors.CodeInvalidInput, errors.Wrapf(err, "failed to read sheet %s", sheet))
		}
		rows = append(rows, row)
	}
	if err := iter.Error(); err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, errors.Wrapf(err, "failed to read sheet %s", sheet))
	}
	return rows, nil
}

// processRows trims cells and drops fully blank rows
func processRows(rows [][]string) *Table {
	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	data := make([][]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		blank := true
		for j := range row {
			row[j] = strings.TrimSpace(row[j])
			if row[j] != "" {
				blank = false
			}
		}
		if !blank {
			data = append(data, row)
		}
	}
	return newTable(headers, data)
}

// columnName renders a 0-based column index as a spreadsheet column letter
func columnName(col int) string {
	name, err := excelize.ColumnNumberToName(col + 1)
	if err != nil {
		return fmt.Sprintf("#%d", col+1)
	}
	return name
}

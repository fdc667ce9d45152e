package excel

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/xuri/excelize/v2"

	"proxima/domain/experiment"
	"proxima/internal/config"
	"proxima/internal/errors"
)

// Sheet is one named result table
type Sheet struct {
	Name    string
	Headers []string
	Rows    [][]interface{}
}

// WriteFile writes sheets to path. A .csv path takes exactly one sheet; .xlsx gets one
// worksheet per sheet.
func WriteFile(path string, sheets []Sheet) error {
	if len(sheets) == 0 {
		return errors.InvalidInput("nothing to write")
	}
	fileType, err := FileType(path)
	if err != nil {
		return err
	}
	switch fileType {
	case "csv":
		if len(sheets) != 1 {
			return errors.InvalidInputf("CSV output holds one table, got %d", len(sheets))
		}
		f, err := os.Create(path)
		if err != nil {
			return errors.Wrapf(err, "failed to create %s", path)
		}
		if err := WriteCSV(f, sheets[0]); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	default:
		return writeWorkbook(path, sheets)
	}
}

// WriteCSV writes one sheet as CSV
func WriteCSV(w io.Writer, sheet Sheet) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(sheet.Headers); err != nil {
		return errors.Wrap(err, "failed to write CSV header")
	}
	record := make([]string, len(sheet.Headers))
	for _, row := range sheet.Rows {
		record = record[:0]
		for _, v := range row {
			record = append(record, formatCell(v))
		}
		if err := cw.Write(record); err != nil {
			return errors.Wrap(err, "failed to write CSV row")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "failed to flush CSV")
}

func writeWorkbook(path string, sheets []Sheet) error {
	f := excelize.NewFile()
	defer f.Close()

	for i, sheet := range sheets {
		name := sheet.Name
		if name == "" {
			name = fmt.Sprintf("Sheet%d", i+1)
		}
		if i == 0 {
			if err := f.SetSheetName(defaultSheet, name); err != nil {
				return errors.Wrapf(err, "failed to name sheet %s", name)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return errors.Wrapf(err, "failed to add sheet %s", name)
		}

		header := make([]interface{}, len(sheet.Headers))
		for j, h := range sheet.Headers {
			header[j] = h
		}
		if err := f.SetSheetRow(name, "A1", &header); err != nil {
			return errors.Wrap(err, "failed to write header row")
		}
		for r, row := range sheet.Rows {
			cell, err := excelize.CoordinatesToCellName(1, r+2)
			if err != nil {
				return errors.Wrap(err, "invalid cell coordinates")
			}
			values := row
			if err := f.SetSheetRow(name, cell, &values); err != nil {
				return errors.Wrapf(err, "failed to write row %d", r+2)
			}
		}
	}
	f.SetActiveSheet(0)
	if err := f.SaveAs(path); err != nil {
		return errors.Wrapf(err, "failed to save %s", path)
	}
	return nil
}

func formatCell(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// DatasetSheet lays a dataset out in the column order ToDataset reads with the default
// profile. Missing values become empty cells.
func DatasetSheet(ds *experiment.Dataset, name string) (Sheet, error) {
	schema := ds.Schema()
	profile := config.DefaultProfile()
	numeric := schema.NumericColumns()

	headers := []string{profile.ExpIDColumn, profile.TreatmentColumn}
	headers = append(headers, schema.SegmentKeys...)
	headers = append(headers, numeric...)

	segs, err := ds.SegmentColumns(schema.SegmentKeys)
	if err != nil {
		return Sheet{}, err
	}
	values := make([][]float64, len(numeric))
	for i, col := range numeric {
		if values[i], err = ds.Metric(col); err != nil {
			return Sheet{}, err
		}
	}

	rows := make([][]interface{}, ds.Len())
	for r := range rows {
		row := make([]interface{}, 0, len(headers))
		treated := 0
		if ds.Treated(r) {
			treated = 1
		}
		row = append(row, ds.ExpID(r), treated)
		for _, col := range segs {
			row = append(row, col[r])
		}
		for _, col := range values {
			if math.IsNaN(col[r]) {
				row = append(row, nil)
			} else {
				row = append(row, col[r])
			}
		}
		rows[r] = row
	}
	return Sheet{Name: name, Headers: headers, Rows: rows}, nil
}

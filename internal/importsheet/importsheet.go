// Package importsheet reads employee rosters from .xlsx and .xls files.
package importsheet

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

const maxRows = 100000

var (
	ErrNoWorksheet        = errors.New("no worksheet found")
	ErrMultipleWorksheets = errors.New("multiple worksheets found; please upload a file with a single sheet")
	ErrEmptyWorksheet     = errors.New("worksheet is empty")
)

// ReadRows returns every row of the only worksheet in the file. The format is
// chosen by the file extension.
func ReadRows(reader io.Reader, filename string) ([][]string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xls":
		workbook, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
		if err != nil {
			return nil, fmt.Errorf("open xls: %w", err)
		}
		if workbook.NumSheets() == 0 {
			return nil, ErrNoWorksheet
		}
		if workbook.NumSheets() > 1 {
			return nil, ErrMultipleWorksheets
		}
		rows := workbook.ReadAllCells(maxRows)
		if len(rows) == 0 {
			return nil, ErrEmptyWorksheet
		}
		return rows, nil
	case ".xlsx", ".xlsm":
		file, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open xlsx: %w", err)
		}
		defer func() { _ = file.Close() }()

		sheets := file.GetSheetList()
		if len(sheets) == 0 {
			return nil, ErrNoWorksheet
		}
		if len(sheets) > 1 {
			return nil, ErrMultipleWorksheets
		}
		// Raw values keep dates as serial numbers instead of locale formatted
		// text, which is ambiguous between day-first and month-first.
		rows, err := file.GetRows(sheets[0], excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, ErrEmptyWorksheet
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("unsupported file type %q (use .xlsx or .xls)", filepath.Ext(filename))
	}
}

// Employee is one roster row ready to be sent to the backend.
type Employee struct {
	Line            int
	NumeroDocumento string
	Nombre          string
	ApellidoPaterno string
	ApellidoMaterno string
	FechaNacimiento string
	Email           string
	Telefono        string
}

// RowError explains why a roster line was skipped.
type RowError struct {
	Line   int
	Reason string
}

func (e RowError) Error() string {
	return fmt.Sprintf("fila %d: %s", e.Line, e.Reason)
}

var headerAliases = map[string]string{
	"documento":           "documento",
	"numero_documento":    "documento",
	"nro_documento":       "documento",
	"dni":                 "documento",
	"nombre":              "nombre",
	"nombres":             "nombre",
	"apellido_paterno":    "paterno",
	"ap_paterno":          "paterno",
	"apellido_materno":    "materno",
	"ap_materno":          "materno",
	"fecha_nacimiento":    "nacimiento",
	"fecha_de_nacimiento": "nacimiento",
	"nacimiento":          "nacimiento",
	"email":               "email",
	"email_personal":      "email",
	"correo":              "email",
	"telefono":            "telefono",
	"telefono_celular":    "telefono",
	"celular":             "telefono",
}

// ParseEmployees maps the header row and turns the remaining rows into
// employees. Blank rows are ignored; rows missing a document or name are
// reported and skipped.
func ParseEmployees(rows [][]string) ([]Employee, []RowError, error) {
	if len(rows) == 0 {
		return nil, nil, ErrEmptyWorksheet
	}

	columns := map[string]int{}
	for i, header := range rows[0] {
		if key, ok := headerAliases[normalizeHeader(header)]; ok {
			if _, seen := columns[key]; !seen {
				columns[key] = i
			}
		}
	}
	for _, required := range []string{"documento", "nombre", "paterno"} {
		if _, ok := columns[required]; !ok {
			return nil, nil, fmt.Errorf("missing required column: %s", required)
		}
	}
	col := func(row []string, key string) string {
		idx, ok := columns[key]
		if !ok {
			return ""
		}
		return cellValue(row, idx)
	}

	var (
		employees []Employee
		problems  []RowError
		seen      = map[string]int{}
	)
	for i, row := range rows[1:] {
		line := i + 2
		if isBlank(row) {
			continue
		}
		emp := Employee{
			Line:            line,
			NumeroDocumento: normalizeDocument(col(row, "documento")),
			Nombre:          col(row, "nombre"),
			ApellidoPaterno: col(row, "paterno"),
			ApellidoMaterno: col(row, "materno"),
			Email:           strings.ToLower(col(row, "email")),
			Telefono:        col(row, "telefono"),
		}
		switch {
		case emp.NumeroDocumento == "":
			problems = append(problems, RowError{Line: line, Reason: "documento vacío"})
			continue
		case emp.Nombre == "" || emp.ApellidoPaterno == "":
			problems = append(problems, RowError{Line: line, Reason: "nombre o apellido vacío"})
			continue
		}
		if first, dup := seen[emp.NumeroDocumento]; dup {
			problems = append(problems, RowError{Line: line, Reason: fmt.Sprintf("documento repetido (fila %d)", first)})
			continue
		}
		if raw := col(row, "nacimiento"); raw != "" {
			date, ok := NormalizeDate(raw)
			if !ok {
				problems = append(problems, RowError{Line: line, Reason: fmt.Sprintf("fecha de nacimiento no reconocida %q", raw)})
			}
			emp.FechaNacimiento = date
		}
		seen[emp.NumeroDocumento] = line
		employees = append(employees, emp)
	}
	return employees, problems, nil
}

// NormalizeDate returns value as YYYY-MM-DD. Excel serials and day-first
// layouts are accepted.
func NormalizeDate(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}

	if serial, err := strconv.ParseFloat(value, 64); err == nil {
		// A realistic birth date range, so plain years are not read as serials.
		if serial >= 7000 && serial <= 80000 {
			if parsed, err := excelize.ExcelDateToTime(serial, false); err == nil {
				return parsed.Format(time.DateOnly), true
			}
		}
		return "", false
	}

	layouts := []string{
		time.DateOnly,
		"2006/01/02",
		"02/01/2006",
		"2/1/2006",
		"02-01-2006",
		"2-1-2006",
		"02.01.2006",
		"02/01/06",
		"2/1/06",
		time.DateTime,
		"2006-01-02T15:04:05",
		time.RFC3339,
		"02/01/2006 15:04:05",
		"02/01/2006 15:04",
	}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.Format(time.DateOnly), true
		}
	}
	return "", false
}

var accentReplacer = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ñ", "n",
	"Á", "a", "É", "e", "Í", "i", "Ó", "o", "Ú", "u", "Ñ", "n",
	"°", "", "º", "", ".", "",
)

func normalizeHeader(header string) string {
	h := accentReplacer.Replace(strings.TrimSpace(header))
	h = strings.ToLower(h)
	return strings.Join(strings.FieldsFunc(h, func(r rune) bool {
		return r == ' ' || r == '_' || r == '-' || r == '/'
	}), "_")
}

// normalizeDocument drops spaces and a trailing ".0" left by numeric cells.
func normalizeDocument(value string) string {
	value = strings.ReplaceAll(strings.TrimSpace(value), " ", "")
	return strings.TrimSuffix(value, ".0")
}

func cellValue(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

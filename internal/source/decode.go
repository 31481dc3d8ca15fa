package source

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/correlator-io/retail-analytics/internal/retail"
)

// Format is the payload encoding of a source.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

var (
	// ErrNoHeader is returned when a payload has no non-blank row.
	ErrNoHeader = errors.New("source has no header row")
	// ErrSheetNotFound is returned when the requested workbook sheet does not exist.
	ErrSheetNotFound = errors.New("workbook sheet not found")
)

// zipMagic prefixes every xlsx workbook.
var zipMagic = []byte("PK\x03\x04")

type (
	// DecodeOptions tune Decode. The zero value uses the built-in headers and the first sheet.
	DecodeOptions struct {
		Resolver *HeaderResolver
		Sheet    string
	}

	// Table is a decoded payload.
	Table struct {
		Records        []retail.RawRecord
		Headers        []string // Header row as found in the source.
		MissingColumns []string // Expected columns with no matching header.
		IgnoredHeaders []string // Headers that match no canonical column.
	}
)

// DetectFormat picks the decoder from the location's extension, falling back to
// sniffing the payload for the zip signature of a workbook.
func DetectFormat(location string, data []byte) Format {
	name := location
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}

	switch strings.ToLower(path.Ext(name)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	case ".csv", ".txt":
		return FormatCSV
	}

	if bytes.HasPrefix(data, zipMagic) {
		return FormatXLSX
	}

	return FormatCSV
}

// Decode parses a payload into raw records. SourceRow is the 1-based row number
// in the source, so the first data row under the header is row 2. Blank rows are
// skipped. Cells are kept verbatim; typing is left to the cleaner.
func Decode(location string, data []byte, opts DecodeOptions) (*Table, error) {
	var (
		rows [][]string
		err  error
	)

	switch DetectFormat(location, data) {
	case FormatXLSX:
		rows, err = readWorkbook(data, opts.Sheet)
	default:
		rows, err = readCSV(data)
	}

	if err != nil {
		return nil, err
	}

	resolver := opts.Resolver
	if resolver == nil {
		resolver = NewHeaderResolver(nil)
	}

	return buildTable(rows, resolver)
}

func readWorkbook(data []byte, sheet string) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}

	defer func() {
		_ = f.Close()
	}()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}

	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrSheetNotFound, sheet)
	}

	// Raw values keep dates as serial numbers and prices unformatted.
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}

	return rows, nil
}

func readCSV(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(sanitizeUTF8(data), []byte("\ufeff"))

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}

	return rows, nil
}

func buildTable(rows [][]string, resolver *HeaderResolver) (*Table, error) {
	headerAt := -1

	for i, row := range rows {
		if !blank(row) {
			headerAt = i

			break
		}
	}

	if headerAt < 0 {
		return nil, ErrNoHeader
	}

	table := &Table{Headers: rows[headerAt]}
	columns := make([]string, len(table.Headers))
	seen := make(map[string]bool, len(retail.ExpectedColumns))

	for i, header := range table.Headers {
		column, ok := resolver.Resolve(header)

		switch {
		case !ok:
			if strings.TrimSpace(header) != "" {
				table.IgnoredHeaders = append(table.IgnoredHeaders, header)
			}
		case seen[column]:
			table.IgnoredHeaders = append(table.IgnoredHeaders, header) // first match wins
		default:
			columns[i] = column
			seen[column] = true
		}
	}

	for _, column := range retail.ExpectedColumns {
		if !seen[column] {
			table.MissingColumns = append(table.MissingColumns, column)
		}
	}

	table.Records = make([]retail.RawRecord, 0, len(rows)-headerAt-1)

	for i := headerAt + 1; i < len(rows); i++ {
		if blank(rows[i]) {
			continue
		}

		rec := retail.RawRecord{SourceRow: int64(i + 1)}

		for j, cell := range rows[i] {
			if j < len(columns) && columns[j] != "" {
				rec.Set(columns[j], retail.Cell(cell))
			}
		}

		table.Records = append(table.Records, rec)
	}

	return table, nil
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}

	return true
}

// sanitizeUTF8 replaces invalid byte sequences, common in Latin-1 exports, with U+FFFD.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune(utf8.RuneError)
		} else {
			buf.WriteRune(r)
		}

		data = data[size:]
	}

	return buf.Bytes()
}

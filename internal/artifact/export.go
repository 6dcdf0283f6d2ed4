package artifact

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/Diegomcha/netquery/internal/apperrors"
	"github.com/Diegomcha/netquery/internal/domain"
)

// Format is an export file format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatTXT  Format = "txt"
	FormatHTML Format = "html"
)

// Formats lists every supported export format
var Formats = []Format{FormatCSV, FormatJSON, FormatTXT, FormatHTML}

// ParseFormat validates a format name. An empty name means CSV.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimPrefix(s, "."))); f {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatJSON, FormatTXT, FormatHTML:
		return f, nil
	case "jsonl":
		return FormatJSON, nil
	case "htm":
		return FormatHTML, nil
	}
	return "", apperrors.Validation("format", fmt.Sprintf("unknown export format %q", s))
}

// FormatFromFilename picks the format from a file extension, defaulting to CSV.
func FormatFromFilename(name string) Format {
	f, err := ParseFormat(filepath.Ext(name))
	if err != nil {
		return FormatCSV
	}
	return f
}

// ContentType returns the HTTP media type of f
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/x-ndjson"
	case FormatTXT:
		return "text/plain; charset=utf-8"
	case FormatHTML:
		return "text/html; charset=utf-8"
	}
	return "text/csv; charset=utf-8"
}

// FileName swaps the extension of name for f's
func (f Format) FileName(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name)) + "." + string(f)
}

// Write exports records in format f. Every format carries all Columns,
// the log included.
func Write(w io.Writer, f Format, records []domain.Record) error {
	switch f {
	case FormatCSV, "":
		return writeCSV(w, records)
	case FormatJSON:
		return writeJSONLines(w, records)
	case FormatTXT:
		return writeTable(w, records)
	case FormatHTML:
		return writeHTML(w, records)
	}
	return apperrors.Validation("format", fmt.Sprintf("unknown export format %q", f))
}

func writeCSV(w io.Writer, records []domain.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, rec := range records {
		if err := cw.Write(Row(rec)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeJSONLines(w io.Writer, records []domain.Record) error {
	enc := json.NewEncoder(w)
	for _, rec := range records {
		row := make(map[string]string, len(Columns))
		for _, col := range Columns {
			row[col] = Value(rec, col)
		}
		if err := enc.Encode(row); err != nil {
			return err
		}
	}
	return nil
}

// writeTable renders an aligned plain-text table; multi-line logs are
// flattened so rows stay on one line.
func writeTable(w io.Writer, records []domain.Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(Columns, "\t"))
	for _, rec := range records {
		row := Row(rec)
		for i, cell := range row {
			row[i] = strings.Join(strings.Fields(cell), " ")
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

var htmlTable = template.Must(template.New("table").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>netquery results</title></head>
<body>
<table>
<thead><tr>{{range .Columns}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>
{{range .Rows}}<tr>{{range .}}<td><pre>{{.}}</pre></td>{{end}}</tr>
{{end}}</tbody>
</table>
</body>
</html>
`))

func writeHTML(w io.Writer, records []domain.Record) error {
	rows := make([][]string, len(records))
	for i, rec := range records {
		rows[i] = Row(rec)
	}
	return htmlTable.Execute(w, struct {
		Columns []string
		Rows    [][]string
	}{Columns, rows})
}

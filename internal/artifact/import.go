package artifact

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Diegomcha/netquery/internal/apperrors"
	"github.com/Diegomcha/netquery/internal/domain"
)

// ReadCSV reads a result table written by Write or by a spreadsheet export
// of it. Columns are matched by header name, so order does not matter and
// extra columns (a leading row index, for instance) are ignored. Result and
// IP are required; everything else may be missing. Status is inferred from
// the result text.
func ReadCSV(r io.Reader) ([]domain.Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, apperrors.Validation("input", "empty table")
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, required := range []string{ColResult, ColIP} {
		if _, ok := index[required]; !ok {
			return nil, apperrors.Validation("input", fmt.Sprintf("table has no %q column", required))
		}
	}

	var records []domain.Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d: %w", line, err)
		}
		cell := func(col string) string {
			i, ok := index[col]
			if !ok || i >= len(row) {
				return ""
			}
			return row[i]
		}

		rec := domain.Record{
			Result:     cell(ColResult),
			File:       cell(ColFile),
			Group:      cell(ColGroup),
			Label:      cell(ColLabel),
			Hostname:   cell(ColHostname),
			Address:    cell(ColIP),
			DeviceType: cell(ColDeviceType),
			Log:        cell(ColLog),
		}
		rec.Status = domain.StatusSuccess
		if domain.IsFailureResult(rec.Result) {
			rec.Status = domain.StatusFailure
		}
		records = append(records, rec)
	}
	return records, nil
}

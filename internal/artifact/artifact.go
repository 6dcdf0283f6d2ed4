// Package artifact holds finished job results: the table model, export
// formats, CSV import and retention-bounded storage.
package artifact

import (
	"sort"
	"time"

	"github.com/Diegomcha/netquery/internal/domain"
)

// Column names of the result table, in export order
const (
	ColResult     = "Result"
	ColFile       = "File"
	ColGroup      = "Group"
	ColLabel      = "Label"
	ColHostname   = "Hostname"
	ColIP         = "IP"
	ColDeviceType = "Device Type"
	ColLog        = "Log"
)

// Columns is the fixed export column order
var Columns = []string{ColResult, ColFile, ColGroup, ColLabel, ColHostname, ColIP, ColDeviceType, ColLog}

// Artifact is the frozen record table of one job
type Artifact struct {
	JobID     string
	Name      string
	CreatedAt time.Time
	Records   []domain.Record
}

// Value returns the cell of rec under column col
func Value(rec domain.Record, col string) string {
	switch col {
	case ColResult:
		return rec.Result
	case ColFile:
		return rec.File
	case ColGroup:
		return rec.Group
	case ColLabel:
		return rec.Label
	case ColHostname:
		return rec.Hostname
	case ColIP:
		return rec.Address
	case ColDeviceType:
		return rec.DeviceType
	case ColLog:
		return rec.Log
	}
	return ""
}

// Row returns rec's cells in Columns order
func Row(rec domain.Record) []string {
	row := make([]string, len(Columns))
	for i, col := range Columns {
		row[i] = Value(rec, col)
	}
	return row
}

// Failures counts failed records
func (a *Artifact) Failures() int {
	n := 0
	for _, r := range a.Records {
		if r.Failed() {
			n++
		}
	}
	return n
}

// DisplayColumns returns the columns shown on screen: never the log, and
// File or Group only when the records span more than one value.
func DisplayColumns(records []domain.Record) []string {
	files := make(map[string]bool)
	groups := make(map[string]bool)
	for _, r := range records {
		files[r.File] = true
		groups[r.Group] = true
	}

	var cols []string
	for _, col := range Columns {
		switch {
		case col == ColLog:
		case col == ColFile && len(files) <= 1:
		case col == ColGroup && len(groups) <= 1:
		default:
			cols = append(cols, col)
		}
	}
	return cols
}

// SortForDisplay returns a copy of records ordered by every column but the log.
func SortForDisplay(records []domain.Record) []domain.Record {
	sorted := make([]domain.Record, len(records))
	copy(sorted, records)
	keys := Columns[:len(Columns)-1]
	sort.SliceStable(sorted, func(i, j int) bool {
		for _, col := range keys {
			a, b := Value(sorted[i], col), Value(sorted[j], col)
			if a != b {
				return a < b
			}
		}
		return false
	})
	return sorted
}

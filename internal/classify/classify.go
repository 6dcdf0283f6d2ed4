// Package classify groups and labels flat result tables using ordered regex rules.
package classify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Diegomcha/netquery/internal/apperrors"
	"github.com/Diegomcha/netquery/internal/artifact"
	"github.com/Diegomcha/netquery/internal/domain"
)

// Field names a column of the result table
type Field string

const (
	FieldFile       Field = artifact.ColFile
	FieldGroup      Field = artifact.ColGroup
	FieldLabel      Field = artifact.ColLabel
	FieldHostname   Field = artifact.ColHostname
	FieldIP         Field = artifact.ColIP
	FieldDeviceType Field = artifact.ColDeviceType
	FieldResult     Field = artifact.ColResult
	FieldLog        Field = artifact.ColLog
)

// Fields lists every classifiable column
var Fields = []Field{FieldFile, FieldGroup, FieldLabel, FieldHostname, FieldIP, FieldDeviceType, FieldResult, FieldLog}

// ParseField accepts a column name case-insensitively; "device_type",
// "device-type" and "address" are accepted too.
func ParseField(s string) (Field, error) {
	norm := strings.ToLower(strings.NewReplacer("_", " ", "-", " ").Replace(strings.TrimSpace(s)))
	if norm == "address" {
		return FieldIP, nil
	}
	for _, f := range Fields {
		if strings.ToLower(string(f)) == norm {
			return f, nil
		}
	}
	return "", apperrors.Validation("field", fmt.Sprintf("unknown field %q", s))
}

// Value returns rec's cell in column f
func (f Field) Value(rec domain.Record) string {
	return artifact.Value(rec, string(f))
}

// Rule maps values fully matching Pattern to a group and label.
type Rule struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Group   string `yaml:"group" json:"group"`
	Label   string `yaml:"label" json:"label"`
}

type compiledRule struct {
	Rule
	re *regexp.Regexp
}

// RuleSet is an ordered, compiled list of rules. The first match wins.
type RuleSet struct {
	rules []compiledRule
}

// Compile anchors and compiles every pattern. The first malformed pattern
// fails the whole set with apperrors.ErrInvalidRuleSet.
func Compile(rules []Rule) (*RuleSet, error) {
	rs := &RuleSet{rules: make([]compiledRule, 0, len(rules))}
	for i, r := range rules {
		// Compile alone first so the error names the user's pattern, not the anchored one.
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return nil, apperrors.InvalidRuleSet(i, r.Pattern, err)
		}
		re, err := regexp.Compile(`^(?:` + r.Pattern + `)$`)
		if err != nil {
			return nil, apperrors.InvalidRuleSet(i, r.Pattern, err)
		}
		rs.rules = append(rs.rules, compiledRule{Rule: r, re: re})
	}
	return rs, nil
}

// Match returns the group and label of the first rule whose pattern matches
// the entire value.
func (rs *RuleSet) Match(value string) (group, label string, ok bool) {
	for _, r := range rs.rules {
		if r.re.MatchString(value) {
			return r.Group, r.Label, true
		}
	}
	return "", "", false
}

// Apply returns copies of records with Group and Label set by the rules,
// matching on field. Unmatched records keep an empty group and label.
func (rs *RuleSet) Apply(records []domain.Record, field Field) []domain.Record {
	out := make([]domain.Record, len(records))
	for i, rec := range records {
		rec.Group, rec.Label, _ = rs.Match(field.Value(rec))
		out[i] = rec
	}
	return out
}

// Classify applies the rules and groups the result.
func (rs *RuleSet) Classify(records []domain.Record, field Field) []Group {
	return GroupRecords(rs.Apply(records, field))
}

// Group is one classified group in first-seen order
type Group struct {
	Name    string          `json:"name"`
	Records []domain.Record `json:"records"`
}

// GroupRecords groups records by their Group, keeping first-seen order of
// groups and of records within each group.
func GroupRecords(records []domain.Record) []Group {
	var groups []Group
	index := make(map[string]int)
	for _, rec := range records {
		i, ok := index[rec.Group]
		if !ok {
			i = len(groups)
			index[rec.Group] = i
			groups = append(groups, Group{Name: rec.Group})
		}
		groups[i].Records = append(groups[i].Records, rec)
	}
	return groups
}

// Regroup sets each record's Group and Label from two of its own columns.
func Regroup(records []domain.Record, groupBy, labelBy Field) []domain.Record {
	out := make([]domain.Record, len(records))
	for i, rec := range records {
		group, label := groupBy.Value(rec), labelBy.Value(rec)
		rec.Group, rec.Label = group, label
		out[i] = rec
	}
	return out
}

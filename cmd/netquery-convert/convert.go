package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Diegomcha/netquery/internal/apperrors"
	"github.com/Diegomcha/netquery/internal/artifact"
	"github.com/Diegomcha/netquery/internal/classify"
)

type options struct {
	input     string
	output    string
	rulesFile string
	rules     []string
	field     string
	groupBy   string
	labelBy   string
	format    string
}

// ruleSet collects the file rules followed by the inline ones.
// It returns nil when no rule was given.
func (o options) ruleSet() (*classify.RuleSet, error) {
	var rules []classify.Rule
	if o.rulesFile != "" {
		loaded, err := classify.LoadRules(o.rulesFile)
		if err != nil {
			return nil, err
		}
		rules = append(rules, loaded...)
	}
	for _, s := range o.rules {
		r, err := classify.ParseRule(s)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	if len(rules) == 0 {
		return nil, nil
	}
	return classify.Compile(rules)
}

func (o options) outputFormat() (string, error) {
	format := strings.ToLower(o.format)
	if format == "" {
		switch strings.ToLower(filepath.Ext(o.output)) {
		case ".yaml", ".yml":
			format = "yaml"
		default:
			format = "json"
		}
	}
	switch format {
	case "json", "yaml":
		return format, nil
	case "yml":
		return "yaml", nil
	}
	return "", apperrors.Validation("format", fmt.Sprintf("unknown output format %q", o.format))
}

// convert runs one classification from o.input to o.output. Nothing is
// written when the rules or the input are invalid.
func convert(o options) error {
	format, err := o.outputFormat()
	if err != nil {
		return err
	}
	rs, err := o.ruleSet()
	if err != nil {
		return err
	}

	f, err := os.Open(o.input)
	if err != nil {
		return err
	}
	records, err := artifact.ReadCSV(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", o.input, err)
	}

	var groups []classify.Group
	if rs != nil {
		field, err := classify.ParseField(o.field)
		if err != nil {
			return err
		}
		groups = rs.Classify(records, field)
	} else {
		groupBy, err := classify.ParseField(o.groupBy)
		if err != nil {
			return err
		}
		labelBy, err := classify.ParseField(o.labelBy)
		if err != nil {
			return err
		}
		groups = classify.GroupRecords(classify.Regroup(records, groupBy, labelBy))
	}

	var data []byte
	if format == "yaml" {
		data, err = classify.ToInventoryYAML(groups)
	} else {
		data, err = classify.ToInventoryJSON(groups)
	}
	if err != nil {
		return err
	}

	if o.output == "-" || o.output == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return writeFileAtomic(o.output, data)
}

// writeFileAtomic replaces path so a watcher on the output never sees half a file
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

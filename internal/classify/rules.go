package classify

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Diegomcha/netquery/internal/apperrors"
)

// LoadRules reads a rule file. YAML and JSON are both accepted, either as a
// bare list of rules or under a top-level "rules" key:
//
//	rules:
//	  - pattern: '10\..*'
//	    group: LAN
//	    label: core
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rules, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return rules, nil
}

// ParseRules decodes rule file content
func ParseRules(data []byte) ([]Rule, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, apperrors.Validation("rules", err.Error())
	}
	if len(root.Content) == 0 {
		return nil, nil
	}

	doc := root.Content[0]
	var rules []Rule
	switch doc.Kind {
	case yaml.SequenceNode:
		if err := doc.Decode(&rules); err != nil {
			return nil, apperrors.Validation("rules", err.Error())
		}
	case yaml.MappingNode:
		var wrapper struct {
			Rules []Rule `yaml:"rules"`
		}
		if err := doc.Decode(&wrapper); err != nil {
			return nil, apperrors.Validation("rules", err.Error())
		}
		rules = wrapper.Rules
	default:
		return nil, apperrors.Validation("rules", "expected a list of rules")
	}

	for i, r := range rules {
		if r.Pattern == "" {
			return nil, apperrors.Validation("rules", fmt.Sprintf("rule %d has no pattern", i))
		}
	}
	return rules, nil
}

// ParseRule parses the inline form "PATTERN=>GROUP,LABEL". The label is
// optional and the pattern may itself contain "=>" since the last one splits.
func ParseRule(s string) (Rule, error) {
	i := strings.LastIndex(s, "=>")
	if i <= 0 {
		return Rule{}, apperrors.Validation("rule", fmt.Sprintf("rule %q is not PATTERN=>GROUP,LABEL", s))
	}
	group, label, _ := strings.Cut(s[i+2:], ",")
	return Rule{
		Pattern: s[:i],
		Group:   strings.TrimSpace(group),
		Label:   strings.TrimSpace(label),
	}, nil
}

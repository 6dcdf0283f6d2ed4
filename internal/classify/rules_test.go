package classify

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Diegomcha/netquery/internal/apperrors"
)

func TestParseRules(t *testing.T) {
	tests := []struct {
		name string
		data string
		want int
	}{
		{"yaml wrapper", "rules:\n  - pattern: '10\\..*'\n    group: LAN\n    label: core\n  - pattern: '.*'\n    group: WAN\n", 2},
		{"yaml list", "- pattern: a\n  group: G\n", 1},
		{"json list", `[{"pattern": "a", "group": "G", "label": "L"}]`, 1},
		{"json wrapper", `{"rules": [{"pattern": "a", "group": "G"}]}`, 1},
		{"empty", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules, err := ParseRules([]byte(tt.data))
			if err != nil {
				t.Fatal(err)
			}
			if len(rules) != tt.want {
				t.Errorf("got %d rules, want %d", len(rules), tt.want)
			}
		})
	}
}

func TestParseRules_Order(t *testing.T) {
	rules, err := ParseRules([]byte("- {pattern: b, group: second}\n- {pattern: a, group: first}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if rules[0].Group != "second" || rules[1].Group != "first" {
		t.Errorf("rules out of order: %+v", rules)
	}
}

func TestParseRules_Invalid(t *testing.T) {
	for _, data := range []string{"just a string", "- group: G\n", "rules: [unclosed"} {
		if _, err := ParseRules([]byte(data)); !errors.Is(err, apperrors.ErrValidation) {
			t.Errorf("ParseRules(%q) = %v, want ErrValidation", data, err)
		}
	}
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte("rules:\n  - pattern: '10\\..*'\n    group: LAN\n    label: core\n"), 0644); err != nil {
		t.Fatal(err)
	}

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 1 || rules[0].Pattern != `10\..*` || rules[0].Label != "core" {
		t.Errorf("rules = %+v", rules)
	}

	if _, err := LoadRules(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should error")
	}
}

func TestParseRule(t *testing.T) {
	tests := []struct {
		in      string
		want    Rule
		wantErr bool
	}{
		{`10\..*=>LAN,core`, Rule{Pattern: `10\..*`, Group: "LAN", Label: "core"}, false},
		{`.*=>WAN`, Rule{Pattern: `.*`, Group: "WAN"}, false},
		{`a=>b=>G, L`, Rule{Pattern: `a=>b`, Group: "G", Label: "L"}, false},
		{`no arrow`, Rule{}, true},
		{`=>G,L`, Rule{}, true},
	}

	for _, tt := range tests {
		got, err := ParseRule(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRule(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRule(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

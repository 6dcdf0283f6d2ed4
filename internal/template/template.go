// Package template turns raw command output into structured rows using
// per-platform regex templates.
package template

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrNoTemplate = errors.New("no template")
	ErrNoMatch    = errors.New("template matched no lines")
)

// Parser extracts rows from the output of command on a deviceType platform.
type Parser interface {
	Parse(deviceType, command, raw string) ([]map[string]string, error)
}

// Definition is one template as written in the template file
type Definition struct {
	Command string `yaml:"command"`
	Pattern string `yaml:"pattern"`
}

type compiled struct {
	command *regexp.Regexp
	line    *regexp.Regexp
	fields  []string
}

// RegexParser matches each output line against the template line pattern.
// Every matching line yields one row keyed by the pattern's named groups.
type RegexParser struct {
	templates map[string][]compiled
}

// Load reads a template file.
//
// The file maps a device type to a list of templates:
//
//	cisco_ios:
//	  - command: 'sh(ow)? ip int(erface)? br(ief)?'
//	    pattern: '^(?P<intf>\S+)\s+(?P<ip>\S+)\s+\S+\s+\S+\s+(?P<status>up|down)'
func Load(path string) (*RegexParser, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse builds a RegexParser from template file contents
func Parse(data []byte) (*RegexParser, error) {
	var defs map[string][]Definition
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}
	return New(defs)
}

// New compiles template definitions keyed by device type
func New(defs map[string][]Definition) (*RegexParser, error) {
	p := &RegexParser{templates: make(map[string][]compiled, len(defs))}
	for deviceType, list := range defs {
		for i, d := range list {
			cmd, err := regexp.Compile(`^(?:` + d.Command + `)$`)
			if err != nil {
				return nil, fmt.Errorf("%s template %d: command: %w", deviceType, i, err)
			}
			line, err := regexp.Compile(d.Pattern)
			if err != nil {
				return nil, fmt.Errorf("%s template %d: pattern: %w", deviceType, i, err)
			}
			var fields []string
			for _, name := range line.SubexpNames() {
				if name != "" {
					fields = append(fields, name)
				}
			}
			if len(fields) == 0 {
				return nil, fmt.Errorf("%s template %d: pattern has no named groups", deviceType, i)
			}
			p.templates[deviceType] = append(p.templates[deviceType], compiled{
				command: cmd,
				line:    line,
				fields:  fields,
			})
		}
	}
	return p, nil
}

// Parse implements Parser
func (p *RegexParser) Parse(deviceType, command, raw string) ([]map[string]string, error) {
	tmpl, ok := p.lookup(deviceType, strings.TrimSpace(command))
	if !ok {
		return nil, fmt.Errorf("%w for %s %q", ErrNoTemplate, deviceType, command)
	}

	var rows []map[string]string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		m := tmpl.line.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		row := make(map[string]string, len(tmpl.fields))
		for i, name := range tmpl.line.SubexpNames() {
			if name != "" {
				row[name] = m[i]
			}
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w for %s %q", ErrNoMatch, deviceType, command)
	}
	return rows, nil
}

func (p *RegexParser) lookup(deviceType, command string) (compiled, bool) {
	for _, t := range p.templates[deviceType] {
		if t.command.MatchString(command) {
			return t, true
		}
	}
	return compiled{}, false
}

// DeviceTypes returns the device types that have at least one template
func (p *RegexParser) DeviceTypes() []string {
	types := make([]string, 0, len(p.templates))
	for t := range p.templates {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Package inventory loads device inventories.
//
// JSON and YAML files map group → label → device fields:
//
//	{"core": {"sw1": {"host": "10.0.0.1", "device_type": "cisco_ios"}}}
//
// Any other file is read as one address per line and lands in group "default".
package inventory

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Diegomcha/netquery/internal/apperrors"
	"github.com/Diegomcha/netquery/internal/domain"
)

// AllGroups selects every group of every file
const AllGroups = "all"

// DefaultGroup holds the devices of plain address lists
const DefaultGroup = "default"

// Group is a named, ordered set of devices within one file
type Group struct {
	Name    string
	Devices []domain.Device
}

// File is one parsed inventory file
type File struct {
	Name   string
	Groups []Group
}

// Inventory is the ordered union of one or more files
type Inventory struct {
	Files []File
}

type machine struct {
	Host       string `yaml:"host"`
	Hostname   string `yaml:"hostname"`
	DeviceType string `yaml:"device_type"`
	Port       int    `yaml:"port"`
}

// LoadFiles parses each path, keeping the given order
func LoadFiles(paths ...string) (*Inventory, error) {
	inv := &Inventory{}
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		file, err := Parse(filepath.Base(path), f)
		f.Close()
		if err != nil {
			return nil, err
		}
		inv.Files = append(inv.Files, file)
	}
	return inv, nil
}

// Parse reads one inventory file. The name decides the format and is recorded
// on every device.
func Parse(name string, r io.Reader) (File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return File{}, err
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return parseStructured(name, data)
	default:
		return parseList(name, data)
	}
}

// parseStructured walks the document node tree so groups and labels keep
// their order in the file. YAML is a superset of JSON, so one decoder serves both.
func parseStructured(name string, data []byte) (File, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return File{}, fmt.Errorf("%s: %w", name, err)
	}
	file := File{Name: name}
	if len(doc.Content) == 0 {
		return file, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return File{}, fmt.Errorf("%s: top level must map group names to devices", name)
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		groupName, labels := root.Content[i].Value, root.Content[i+1]
		if labels.Kind != yaml.MappingNode {
			return File{}, fmt.Errorf("%s: group %q must map labels to devices", name, groupName)
		}
		group := Group{Name: groupName}
		for j := 0; j+1 < len(labels.Content); j += 2 {
			label := labels.Content[j].Value
			var m machine
			if err := labels.Content[j+1].Decode(&m); err != nil {
				return File{}, fmt.Errorf("%s: %s/%s: %w", name, groupName, label, err)
			}
			if m.Host == "" {
				return File{}, fmt.Errorf("%s: %s/%s: missing host", name, groupName, label)
			}
			group.Devices = append(group.Devices, domain.Device{
				File:       name,
				Group:      groupName,
				Label:      label,
				Hostname:   m.Hostname,
				Address:    m.Host,
				Port:       m.Port,
				DeviceType: m.DeviceType,
			})
		}
		file.Groups = append(file.Groups, group)
	}
	return file, nil
}

func parseList(name string, data []byte) (File, error) {
	group := Group{Name: DefaultGroup}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		addr := strings.TrimSpace(sc.Text())
		if addr == "" || strings.HasPrefix(addr, "#") {
			continue
		}
		group.Devices = append(group.Devices, domain.Device{
			File:    name,
			Group:   DefaultGroup,
			Label:   addr,
			Address: addr,
		})
	}
	if err := sc.Err(); err != nil {
		return File{}, fmt.Errorf("%s: %w", name, err)
	}
	return File{Name: name, Groups: []Group{group}}, nil
}

// GroupNames returns every group name in first-seen order
func (inv *Inventory) GroupNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, f := range inv.Files {
		for _, g := range f.Groups {
			if !seen[g.Name] {
				seen[g.Name] = true
				names = append(names, g.Name)
			}
		}
	}
	return names
}

// GroupSizes returns the number of devices per group across all files
func (inv *Inventory) GroupSizes() map[string]int {
	sizes := make(map[string]int)
	for _, f := range inv.Files {
		for _, g := range f.Groups {
			sizes[g.Name] += len(g.Devices)
		}
	}
	return sizes
}

// ValidateGroups resolves "all" and rejects groups no file defines.
func (inv *Inventory) ValidateGroups(groups []string) ([]string, error) {
	if len(groups) == 0 || (len(groups) == 1 && groups[0] == AllGroups) {
		return inv.GroupNames(), nil
	}
	known := make(map[string]bool)
	for _, name := range inv.GroupNames() {
		known[name] = true
	}
	for _, g := range groups {
		if !known[g] {
			return nil, apperrors.Validation("groups", fmt.Sprintf("group %q is not present in any inventory file", g))
		}
	}
	return groups, nil
}

// Select returns the devices of the given groups, walking files in order and
// groups in the requested order. Devices without a device type get defaultType.
func (inv *Inventory) Select(groups []string, defaultType string) ([]domain.Device, error) {
	groups, err := inv.ValidateGroups(groups)
	if err != nil {
		return nil, err
	}

	var devices []domain.Device
	for _, f := range inv.Files {
		for _, name := range groups {
			for _, g := range f.Groups {
				if g.Name != name {
					continue
				}
				for _, d := range g.Devices {
					if d.DeviceType == "" {
						d.DeviceType = defaultType
					}
					devices = append(devices, d)
				}
			}
		}
	}
	return devices, nil
}

// Devices returns the devices of one group across all files
func (inv *Inventory) Devices(group string) ([]domain.Device, error) {
	return inv.Select([]string{group}, "")
}

// FileCount is the number of files the inventory was built from
func (inv *Inventory) FileCount() int {
	return len(inv.Files)
}

package classify

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/Diegomcha/netquery/internal/inventory"
)

type entry struct {
	Host       string `json:"host" yaml:"host"`
	Hostname   string `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	DeviceType string `json:"device_type" yaml:"device_type"`
}

type inventoryGroup struct {
	name    string
	labels  []string
	entries map[string]entry
}

// buildInventory folds groups into inventory shape. A record without a group
// lands in the default group and one without a label is keyed by its
// address. Every record keeps its own entry in first-seen order: a label
// already taken in the group is suffixed with the device address.
func buildInventory(groups []Group) []*inventoryGroup {
	var out []*inventoryGroup
	index := make(map[string]*inventoryGroup)
	for _, g := range groups {
		name := g.Name
		if name == "" {
			name = inventory.DefaultGroup
		}
		ig, ok := index[name]
		if !ok {
			ig = &inventoryGroup{name: name, entries: make(map[string]entry)}
			index[name] = ig
			out = append(out, ig)
		}
		for _, rec := range g.Records {
			label := rec.Label
			if label == "" {
				label = rec.Address
			}
			label = ig.uniqueLabel(label, rec.Address)
			ig.labels = append(ig.labels, label)
			e := entry{Host: rec.Address, DeviceType: rec.DeviceType}
			if rec.Hostname != rec.Address {
				e.Hostname = rec.Hostname
			}
			ig.entries[label] = e
		}
	}
	return out
}

func (ig *inventoryGroup) uniqueLabel(label, address string) string {
	if _, taken := ig.entries[label]; !taken {
		return label
	}
	base := label
	if address != "" && address != label {
		base = label + "-" + address
	}
	candidate := base
	for n := 2; ; n++ {
		if _, taken := ig.entries[candidate]; !taken {
			return candidate
		}
		candidate = fmt.Sprintf("%s-%d", base, n)
	}
}

// ToInventoryJSON renders groups as an inventory JSON document that
// netquery can load back, preserving group and label order.
func ToInventoryJSON(groups []Group) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, ig := range buildInventory(groups) {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(&buf, ig.name); err != nil {
			return nil, err
		}
		buf.WriteByte('{')
		for j, label := range ig.labels {
			if j > 0 {
				buf.WriteByte(',')
			}
			if err := writeKey(&buf, label); err != nil {
				return nil, err
			}
			v, err := json.Marshal(ig.entries[label])
			if err != nil {
				return nil, err
			}
			buf.Write(v)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte('}')

	var out bytes.Buffer
	if err := json.Indent(&out, buf.Bytes(), "", "    "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

func writeKey(buf *bytes.Buffer, key string) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	buf.Write(k)
	buf.WriteByte(':')
	return nil
}

// ToInventoryYAML is ToInventoryJSON for YAML inventories.
func ToInventoryYAML(groups []Group) ([]byte, error) {
	doc := &yaml.Node{Kind: yaml.MappingNode}
	for _, ig := range buildInventory(groups) {
		labels := &yaml.Node{Kind: yaml.MappingNode}
		for _, label := range ig.labels {
			var value yaml.Node
			if err := value.Encode(ig.entries[label]); err != nil {
				return nil, err
			}
			labels.Content = append(labels.Content, scalar(label), &value)
		}
		doc.Content = append(doc.Content, scalar(ig.name), labels)
	}
	return yaml.Marshal(doc)
}

func scalar(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

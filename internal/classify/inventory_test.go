package classify

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/Diegomcha/netquery/internal/artifact"
	"github.com/Diegomcha/netquery/internal/domain"
	"github.com/Diegomcha/netquery/internal/inventory"
)

func TestToInventoryJSON(t *testing.T) {
	groups := []Group{
		{Name: "LAN", Records: []domain.Record{
			{Label: "sw2", Hostname: "sw2.lab", Address: "10.0.0.2", DeviceType: "cisco_ios"},
			{Label: "sw1", Hostname: "10.0.0.1", Address: "10.0.0.1", DeviceType: "cisco_ios"},
		}},
		{Name: "", Records: []domain.Record{
			{Address: "8.8.8.8", Hostname: "8.8.8.8", DeviceType: "linux"},
		}},
	}

	got, err := ToInventoryJSON(groups)
	if err != nil {
		t.Fatal(err)
	}

	want := `{
    "LAN": {
        "sw2": {
            "host": "10.0.0.2",
            "hostname": "sw2.lab",
            "device_type": "cisco_ios"
        },
        "sw1": {
            "host": "10.0.0.1",
            "device_type": "cisco_ios"
        }
    },
    "default": {
        "8.8.8.8": {
            "host": "8.8.8.8",
            "device_type": "linux"
        }
    }
}
`
	if string(got) != want {
		t.Errorf("got\n%s\nwant\n%s", got, want)
	}
}

func TestToInventoryJSON_RepeatedLabelKeepsEveryRecord(t *testing.T) {
	groups := []Group{{Name: "G", Records: []domain.Record{
		{Label: "a", Address: "1.1.1.1"},
		{Label: "b", Address: "2.2.2.2"},
		{Label: "a", Address: "3.3.3.3"},
		{Label: "a", Address: "3.3.3.3"},
	}}}

	got, err := ToInventoryJSON(groups)
	if err != nil {
		t.Fatal(err)
	}
	var inv map[string]map[string]map[string]string
	if err := json.Unmarshal(got, &inv); err != nil {
		t.Fatalf("output is not an inventory: %v\n%s", err, got)
	}

	want := map[string]string{"a": "1.1.1.1", "b": "2.2.2.2", "a-3.3.3.3": "3.3.3.3", "a-3.3.3.3-2": "3.3.3.3"}
	if len(inv["G"]) != len(want) {
		t.Fatalf("got %d entries, want %d:\n%s", len(inv["G"]), len(want), got)
	}
	for label, host := range want {
		if inv["G"][label]["host"] != host {
			t.Errorf("entry %q host = %q, want %q", label, inv["G"][label]["host"], host)
		}
	}

	s := string(got)
	if !(strings.Index(s, `"a"`) < strings.Index(s, `"b"`) && strings.Index(s, `"b"`) < strings.Index(s, `"a-3.3.3.3"`)) {
		t.Errorf("entries should keep first-seen order:\n%s", s)
	}
}

// A result table exported by a job, classified and written back as an
// inventory must load with the same devices.
func TestRoundTripThroughInventory(t *testing.T) {
	records := []domain.Record{
		{Status: domain.StatusSuccess, Result: "ok", File: "lab.json", Group: "old", Label: "x", Hostname: "r1.lab", Address: "10.0.0.1", DeviceType: "cisco_ios"},
		{Status: domain.StatusFailure, Result: domain.ResultTimeout, File: "lab.json", Group: "old", Label: "y", Hostname: "192.168.1.9", Address: "192.168.1.9", DeviceType: "juniper_junos"},
	}
	var csv bytes.Buffer
	if err := artifact.Write(&csv, artifact.FormatCSV, records); err != nil {
		t.Fatal(err)
	}
	imported, err := artifact.ReadCSV(&csv)
	if err != nil {
		t.Fatal(err)
	}

	rs, _ := Compile([]Rule{{Pattern: `10\..*`, Group: "LAN", Label: "core"}})
	doc, err := ToInventoryJSON(rs.Classify(imported, FieldIP))
	if err != nil {
		t.Fatal(err)
	}

	file, err := inventory.Parse("converted.json", bytes.NewReader(doc))
	if err != nil {
		t.Fatalf("converted inventory does not parse: %v\n%s", err, doc)
	}
	var devices []domain.Device
	for _, g := range file.Groups {
		devices = append(devices, g.Devices...)
	}
	if len(devices) != 2 {
		t.Fatalf("got %d devices, want 2", len(devices))
	}
	for i, d := range devices {
		r := records[i]
		if d.Address != r.Address || d.DeviceType != r.DeviceType {
			t.Errorf("device %d = %+v, want address %s type %s", i, d, r.Address, r.DeviceType)
		}
	}
	if devices[0].Group != "LAN" || devices[0].Label != "core" || devices[0].Hostname != "r1.lab" {
		t.Errorf("classified device = %+v", devices[0])
	}
	if devices[1].Group != inventory.DefaultGroup || devices[1].Label != "192.168.1.9" {
		t.Errorf("unmatched device = %+v", devices[1])
	}
}

func TestToInventoryYAML(t *testing.T) {
	groups := []Group{{Name: "LAN", Records: []domain.Record{{Label: "sw1", Address: "10.0.0.1", Hostname: "10.0.0.1", DeviceType: "cisco_ios"}}}}
	got, err := ToInventoryYAML(groups)
	if err != nil {
		t.Fatal(err)
	}

	file, err := inventory.Parse("converted.yaml", bytes.NewReader(got))
	if err != nil {
		t.Fatalf("YAML output does not parse: %v\n%s", err, got)
	}
	if len(file.Groups) != 1 || file.Groups[0].Devices[0].Address != "10.0.0.1" {
		t.Errorf("parsed = %+v", file)
	}
}

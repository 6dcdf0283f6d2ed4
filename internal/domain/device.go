package domain

import "fmt"

// Device describes one network device to query.
// File and Group are empty unless the device came from an inventory.
type Device struct {
	File       string `json:"file,omitempty"`
	Group      string `json:"group,omitempty"`
	Label      string `json:"label,omitempty"`
	Hostname   string `json:"hostname,omitempty"`
	Address    string `json:"host"`
	Port       int    `json:"port,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
}

// Key identifies a device within a single job.
func (d Device) Key() string {
	return d.File + "\x00" + d.Group + "\x00" + d.Label + "\x00" + d.Address
}

// String returns a human-readable device reference
func (d Device) String() string {
	if d.Label == "" || d.Label == d.Address {
		return d.Address
	}
	return fmt.Sprintf("%s (%s)", d.Label, d.Address)
}

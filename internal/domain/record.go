package domain

// Record is the outcome of running one device task.
type Record struct {
	Status     Status `json:"status,omitempty"`
	Result     string `json:"result"`
	File       string `json:"file"`
	Group      string `json:"group"`
	Label      string `json:"label"`
	Hostname   string `json:"hostname"`
	Address    string `json:"ip"`
	DeviceType string `json:"device_type"`
	Log        string `json:"log"`
}

// NewRecord seeds a record with the identifying fields of d.
func NewRecord(d Device) Record {
	hostname := d.Hostname
	if hostname == "" {
		hostname = d.Address
	}
	return Record{
		File:       d.File,
		Group:      d.Group,
		Label:      d.Label,
		Hostname:   hostname,
		Address:    d.Address,
		DeviceType: d.DeviceType,
	}
}

// Failed reports whether the record describes a failed task
func (r Record) Failed() bool {
	return r.Status == StatusFailure
}

// Device reconstructs the descriptor the record was produced for.
func (r Record) Device() Device {
	return Device{
		File:       r.File,
		Group:      r.Group,
		Label:      r.Label,
		Hostname:   r.Hostname,
		Address:    r.Address,
		DeviceType: r.DeviceType,
	}
}

// Notification is one element of a job's progress stream.
// Every notification except the last carries a Record; the last one has
// Final set and names the job artifact.
type Notification struct {
	Seq       int      `json:"seq"`
	Progress  float64  `json:"progress"`
	Record    *Record  `json:"record,omitempty"`
	Final     bool     `json:"final,omitempty"`
	State     JobState `json:"state,omitempty"`
	Artifact  string   `json:"artifact,omitempty"`
	Completed int      `json:"completed"`
	Total     int      `json:"total"`
}

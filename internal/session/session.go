// Package session opens remote shell sessions to network devices.
package session

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"syscall"
)

// Failure classes surfaced by providers.
var (
	ErrTimeout     = errors.New("timeout")
	ErrAuth        = errors.New("authentication failed")
	ErrUnreachable = errors.New("host unreachable")
)

// Credentials authenticate a session
type Credentials struct {
	Username string
	Password string
}

// Target is everything a provider needs to reach one device
type Target struct {
	Address     string
	Port        int
	DeviceType  string
	Credentials Credentials
}

// Provider opens sessions. Implementations must be safe for concurrent use.
type Provider interface {
	Open(ctx context.Context, target Target) (Session, error)
}

// Session is a single open connection to a device. It is used by one goroutine.
type Session interface {
	// Run sends command and returns its raw output. A non-empty expect is a
	// regular expression that must appear in the output, usually the prompt.
	Run(ctx context.Context, command, expect string) (string, error)
	// Transcript returns everything sent and received so far.
	Transcript() string
	Close() error
}

// Classify maps transport errors onto ErrTimeout, ErrAuth or ErrUnreachable.
// Errors that already carry one of those classes, and unknown errors, are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrAuth) || errors.Is(err, ErrUnreachable) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return &classified{class: ErrTimeout, err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &classified{class: ErrTimeout, err: err}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &classified{class: ErrUnreachable, err: err}
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return &classified{class: ErrUnreachable, err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return &classified{class: ErrUnreachable, err: err}
	}

	if strings.Contains(err.Error(), "unable to authenticate") {
		return &classified{class: ErrAuth, err: err}
	}
	return err
}

// classified attaches a failure class to an underlying error
type classified struct {
	class error
	err   error
}

func (c *classified) Error() string {
	return c.class.Error() + ": " + c.err.Error()
}

func (c *classified) Unwrap() []error {
	return []error{c.class, c.err}
}

// SupportedDeviceTypes lists the platform names the CLI and web API accept.
var SupportedDeviceTypes = []string{
	"arista_eos",
	"cisco_asa",
	"cisco_ios",
	"cisco_nxos",
	"cisco_xe",
	"cisco_xr",
	"fortinet",
	"hp_comware",
	"hp_procurve",
	"juniper_junos",
	"linux",
	"mikrotik_routeros",
	"paloalto_panos",
	"vyos",
}

// IsSupported reports whether deviceType is a known platform name
func IsSupported(deviceType string) bool {
	for _, t := range SupportedDeviceTypes {
		if t == deviceType {
			return true
		}
	}
	return false
}

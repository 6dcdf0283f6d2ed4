// Package executor runs one command set against one device.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/Diegomcha/netquery/internal/domain"
	"github.com/Diegomcha/netquery/internal/session"
	"github.com/Diegomcha/netquery/internal/template"
)

// Resolver performs reverse DNS lookups. *net.Resolver satisfies it.
type Resolver interface {
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

// Task binds one device to the command set of a job
type Task struct {
	Device   domain.Device
	Commands []string
	// Expect holds one prompt pattern per command, or is empty.
	Expect      []string
	OutputRegex *regexp.Regexp
	// AccessCheck only opens and closes a session.
	AccessCheck bool
	Credentials session.Credentials
}

// Config configures the executor
type Config struct {
	Provider session.Provider
	// Parser is optional; without it raw output is returned.
	Parser template.Parser
	// Resolver is optional; without it the hostname falls back to the address.
	Resolver Resolver
	Logger   *slog.Logger
}

// Executor turns tasks into result records. It is safe for concurrent use.
type Executor struct {
	provider session.Provider
	parser   template.Parser
	resolver Resolver
	logger   *slog.Logger
}

// New creates an executor
func New(cfg Config) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		provider: cfg.Provider,
		parser:   cfg.Parser,
		resolver: cfg.Resolver,
		logger:   logger,
	}
}

// Run executes task and always returns a record; failures are reported in it.
func (e *Executor) Run(ctx context.Context, task Task) (rec domain.Record) {
	d := task.Device
	rec = domain.NewRecord(d)
	rec.Hostname = e.hostname(ctx, d)
	logger := e.logger.With("device", d.String(), "device_type", d.DeviceType)
	start := time.Now()

	var transcript string
	defer func() {
		if r := recover(); r != nil {
			logger.Error("device task panicked", "panic", r)
			rec = failed(rec, fmt.Errorf("panic: %v", r), transcript)
		}
	}()

	if d.DeviceType == "" {
		return failed(rec, errUnknownType, "")
	}

	out, err := e.execute(ctx, task, &transcript)
	if err != nil {
		logger.Debug("device task failed", "error", err, "duration", time.Since(start))
		return failed(rec, err, transcript)
	}

	rec.Status = domain.StatusSuccess
	rec.Log = transcript
	if task.OutputRegex != nil {
		if loc := task.OutputRegex.FindStringIndex(out); loc != nil {
			out = out[loc[0]:loc[1]]
		} else {
			rec.Log = fmt.Sprintf("output regex %q matched nothing, keeping full output\n", task.OutputRegex) + rec.Log
		}
	}
	rec.Result = strings.TrimRight(out, " \r\n")

	logger.Debug("device task succeeded", "duration", time.Since(start))
	return rec
}

// execute owns the session; it is closed on every path, panics included.
func (e *Executor) execute(ctx context.Context, task Task, transcript *string) (string, error) {
	d := task.Device
	sess, err := e.provider.Open(ctx, session.Target{
		Address:     d.Address,
		Port:        d.Port,
		DeviceType:  d.DeviceType,
		Credentials: task.Credentials,
	})
	if err != nil {
		return "", session.Classify(err)
	}
	defer func() {
		*transcript = sess.Transcript()
		if err := sess.Close(); err != nil {
			e.logger.Debug("closing session", "device", d.String(), "error", err)
		}
	}()

	if task.AccessCheck {
		return domain.ResultAccessible, nil
	}

	var outputs []string
	var rows []map[string]string
	for i, cmd := range task.Commands {
		raw, err := sess.Run(ctx, cmd, expectFor(task.Expect, i))
		if err != nil {
			return "", fmt.Errorf("%s: %w", cmd, session.Classify(err))
		}
		if e.parser == nil {
			outputs = append(outputs, raw)
			continue
		}
		parsed, err := e.parser.Parse(d.DeviceType, cmd, raw)
		if err != nil {
			return "", err
		}
		rows = append(rows, parsed...)
	}

	if e.parser == nil {
		return strings.Join(outputs, "\n"), nil
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func expectFor(patterns []string, i int) string {
	if i < len(patterns) {
		return patterns[i]
	}
	return ""
}

func (e *Executor) hostname(ctx context.Context, d domain.Device) string {
	if d.Hostname != "" {
		return d.Hostname
	}
	if e.resolver == nil || net.ParseIP(d.Address) == nil {
		return d.Address
	}
	names, err := e.resolver.LookupAddr(ctx, d.Address)
	if err != nil || len(names) == 0 {
		return d.Address
	}
	return strings.TrimSuffix(names[0], ".")
}

var errUnknownType = errors.New("device type not set and no default configured")

// failed fills rec as a failure; the log leads with the error class.
func failed(rec domain.Record, err error, transcript string) domain.Record {
	result, class := Classify(err)
	rec.Status = domain.StatusFailure
	rec.Result = result
	rec.Log = fmt.Sprintf("[%s] %v\n", class, err)
	if transcript != "" {
		rec.Log += "\n" + transcript
	}
	return rec
}

// Classify maps a task error onto its result marker and a short class name.
func Classify(err error) (result, class string) {
	switch {
	case errors.Is(err, session.ErrAuth):
		return domain.ResultUnauthorized, "auth"
	case errors.Is(err, session.ErrTimeout):
		return domain.ResultTimeout, "timeout"
	case errors.Is(err, session.ErrUnreachable):
		return domain.ResultUnreachable, "unreachable"
	case errors.Is(err, template.ErrNoTemplate):
		return domain.ResultNoTemplate, "no_template"
	case errors.Is(err, template.ErrNoMatch):
		return domain.ResultNoMatches, "no_match"
	case errors.Is(err, errUnknownType):
		return domain.ResultUnknownType, "unknown_device_type"
	default:
		return domain.ResultException, "exception"
	}
}

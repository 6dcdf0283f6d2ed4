package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"

	"github.com/Diegomcha/netquery/internal/artifact"
	"github.com/Diegomcha/netquery/internal/config"
	"github.com/Diegomcha/netquery/internal/executor"
	"github.com/Diegomcha/netquery/internal/session"
	"github.com/Diegomcha/netquery/internal/template"
)

// newExecutor wires the SSH provider, the template parser and reverse DNS
// according to cfg. The returned device types are those the templates cover.
func newExecutor(cfg *config.Config) (*executor.Executor, []string, error) {
	provider := &session.SSHProvider{
		Port:           cfg.Session.Port,
		DialTimeout:    cfg.Session.DialTimeout.Duration,
		CommandTimeout: cfg.Session.CommandTimeout.Duration,
		KnownHosts:     cfg.Session.KnownHosts,
	}

	execCfg := executor.Config{
		Provider: provider,
		Logger:   logger,
	}

	var deviceTypes []string
	if cfg.Templates.Path != "" {
		parser, err := template.Load(cfg.Templates.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("loading templates: %w", err)
		}
		execCfg.Parser = parser
		deviceTypes = parser.DeviceTypes()
	}
	if cfg.Session.ReverseDNS {
		execCfg.Resolver = net.DefaultResolver
	}
	return executor.New(execCfg), deviceTypes, nil
}

// newStore opens the configured artifact backend
func newStore(cfg *config.Config) (artifact.Store, error) {
	switch cfg.Artifacts.Backend {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Artifacts.DatabasePath), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		return artifact.NewSQLiteStore(cfg.Artifacts.DatabasePath)
	default:
		return artifact.NewMemoryStore(), nil
	}
}

// checkDeviceType rejects device types neither the session layer nor the
// templates know about.
func checkDeviceType(deviceType string, templateTypes []string) error {
	if session.IsSupported(deviceType) || slices.Contains(templateTypes, deviceType) {
		return nil
	}
	return fmt.Errorf("unsupported device type %q", deviceType)
}

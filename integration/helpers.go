//go:build integration

package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
)

var (
	buildOnce sync.Once
	binDir    string
	buildErr  error
	buildOut  []byte
)

// repoRoot returns the module root, one level above this file
func repoRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	return filepath.Dir(filepath.Dir(filename))
}

// binaryPath builds both CLIs once per test run and returns the path of name
func binaryPath(t *testing.T, name string) string {
	t.Helper()
	root := repoRoot(t)
	buildOnce.Do(func() {
		binDir, buildErr = os.MkdirTemp("", "netquery-bin-")
		if buildErr != nil {
			return
		}
		cmd := exec.Command("go", "build", "-o", binDir, "./cmd/netquery", "./cmd/netquery-convert")
		cmd.Dir = root
		buildOut, buildErr = cmd.CombinedOutput()
	})
	if buildErr != nil {
		t.Fatalf("Failed to build binaries: %v\n%s", buildErr, buildOut)
	}
	return filepath.Join(binDir, name)
}

// writeFile writes content under a fresh temp directory and returns its path
func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

// TempConfigPath writes a config that keeps logs and artifacts inside the test
func TempConfigPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	config := `[orchestrator]
workers = 2
default_device_type = "cisco_ios"

[session]
username = "tester"
dial_timeout = "1s"
reverse_dns = false

[artifacts]
dir = "` + filepath.Join(dir, "artifacts") + `"

[log]
level = "debug"
`
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(config), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

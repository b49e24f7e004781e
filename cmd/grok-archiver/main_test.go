package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/grokarchiver/archiver"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, logs bytes.Buffer
	cmd := newRootCommand(&logs)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stdout)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), logs.String(), err
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestVersionFlag(t *testing.T) {
	for _, flag := range []string{"--version", "-v"} {
		out, _, err := execute(t, flag)
		if err != nil {
			t.Fatalf("%s: %v", flag, err)
		}
		if strings.TrimSpace(out) != "grok-archiver "+archiver.Version {
			t.Errorf("%s printed %q", flag, out)
		}
	}
}

func TestMissingConfigWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	_, logs, err := execute(t, "--config", path)
	if !errors.Is(err, errReported) || !errors.Is(err, archiver.ErrDefaultsWritten) {
		t.Fatalf("err = %v, want a reported ErrDefaultsWritten", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("defaults not written: %v", err)
	}
	if !strings.Contains(logs, "review it") {
		t.Errorf("logs = %q, want a review hint", logs)
	}
}

func TestStats(t *testing.T) {
	dir := t.TempDir()
	root := filepath.ToSlash(filepath.Join(dir, "archive"))
	cfgPath := filepath.Join(dir, "config.json")
	writeFile(t, cfgPath, `{"debugPort":9222,"browserExecutablePath":"chrome","archiveRoot":"`+root+`"}`)
	writeFile(t, filepath.Join(root, "images", "2024", "12", "1", "1-a.jpg"), strings.Repeat("x", 2048))
	writeFile(t, filepath.Join(root, "images", "2024", "12", "1", "2-b.jpg"), "x")
	writeFile(t, filepath.Join(root, "images", "2025", "1", "15", "3-c.jpg"), "x")

	out, _, err := execute(t, "--config", cfgPath, "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	for _, want := range []string{"2024-12-01", "2025-01-15", "total", "2.0 kB"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "2024-12-01") > strings.Index(out, "2025-01-15") {
		t.Error("days not sorted oldest first")
	}
}

func TestStats_EmptyArchive(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, "debugPort: 9222\nbrowserExecutablePath: chrome\narchiveRoot: "+filepath.ToSlash(dir)+"\n")

	out, _, err := execute(t, "--config", cfgPath, "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(out, "No images archived") {
		t.Errorf("output = %q", out)
	}
}

func TestStats_DoesNotRegenerateConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if _, _, err := execute(t, "--config", path, "stats"); err == nil {
		t.Fatal("stats succeeded without a config")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("stats wrote a config file")
	}
}

func TestDebugEnv(t *testing.T) {
	tests := []struct {
		val  string
		set  bool
		want bool
	}{
		{"", false, false},
		{"1", true, true},
		{"true", true, true},
		{"0", true, false},
		{"yes", true, true},
	}
	t.Setenv("DEBUG", "")
	for _, tt := range tests {
		if tt.set {
			os.Setenv("DEBUG", tt.val)
		} else {
			os.Unsetenv("DEBUG")
		}
		if got := debugEnv(); got != tt.want {
			t.Errorf("DEBUG=%q set=%v: debugEnv = %v, want %v", tt.val, tt.set, got, tt.want)
		}
	}
}

// Package config loads the archiver configuration file and regenerates a
// default one when it is missing or invalid.
//
// The file is parsed as YAML, so the usual config.json is accepted as is.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file looked up in the working directory.
const DefaultPath = "config.json"

// DefaultMetadataTTL bounds how long unclaimed metadata is kept.
const DefaultMetadataTTL = 24 * time.Hour

var (
	// ErrDefaultsWritten is returned by Load after it replaced a missing or
	// invalid file with defaults. The caller should exit and let the user
	// review the file.
	ErrDefaultsWritten = errors.New("config: defaults written")
	// ErrInvalid wraps every validation failure.
	ErrInvalid = errors.New("config: invalid")
)

// Config is the archiver configuration.
type Config struct {
	DebugPort             int    `yaml:"debugPort" json:"debugPort"`
	BrowserExecutablePath string `yaml:"browserExecutablePath" json:"browserExecutablePath"`
	ArchiveRoot           string `yaml:"archiveRoot" json:"archiveRoot"`

	LogLevel      string `yaml:"logLevel,omitempty" json:"logLevel,omitempty"`
	StatusAddr    string `yaml:"statusAddr,omitempty" json:"statusAddr,omitempty"`
	MetadataTTL   string `yaml:"metadataTTL,omitempty" json:"metadataTTL,omitempty"`
	OpenEntryPage *bool  `yaml:"openEntryPage,omitempty" json:"openEntryPage,omitempty"`

	level slog.Level
	ttl   time.Duration
}

// Level returns the parsed log level.
func (c *Config) Level() slog.Level { return c.level }

// TTL returns the parsed metadata TTL; zero disables eviction.
func (c *Config) TTL() time.Duration { return c.ttl }

// ShouldOpenEntryPage reports whether the entry page is opened at startup.
func (c *Config) ShouldOpenEntryPage() bool {
	return c.OpenEntryPage == nil || *c.OpenEntryPage
}

// LoadFile reads and validates a configuration file without side effects.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads path. When the file is missing or invalid it writes defaults to
// path and returns an error wrapping ErrDefaultsWritten and the cause.
func Load(path string) (*Config, error) {
	cfg, err := LoadFile(path)
	if err == nil {
		return cfg, nil
	}
	if werr := WriteDefaults(path); werr != nil {
		return nil, fmt.Errorf("config: %v; writing defaults: %w", err, werr)
	}
	return nil, fmt.Errorf("%w to %s (%v)", ErrDefaultsWritten, path, err)
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.MetadataTTL == "" {
		c.MetadataTTL = DefaultMetadataTTL.String()
	}
}

func (c *Config) validate() error {
	if c.DebugPort <= 0 || c.DebugPort > 65535 {
		return fmt.Errorf("%w: debugPort %d out of range", ErrInvalid, c.DebugPort)
	}
	if c.BrowserExecutablePath == "" {
		return fmt.Errorf("%w: missing browserExecutablePath", ErrInvalid)
	}

	root := strings.TrimRight(c.ArchiveRoot, `/\`)
	if root == "" && strings.HasPrefix(c.ArchiveRoot, "/") {
		root = "/"
	}
	if root == "" {
		return fmt.Errorf("%w: missing archiveRoot", ErrInvalid)
	}
	if !filepath.IsAbs(root) {
		return fmt.Errorf("%w: archiveRoot must be absolute, not %q", ErrInvalid, c.ArchiveRoot)
	}
	c.ArchiveRoot = strings.ReplaceAll(root, `\`, "/")

	if err := c.level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("%w: logLevel: %v", ErrInvalid, err)
	}
	ttl, err := time.ParseDuration(c.MetadataTTL)
	if err != nil || ttl < 0 {
		return fmt.Errorf("%w: metadataTTL %q", ErrInvalid, c.MetadataTTL)
	}
	c.ttl = ttl
	return nil
}

// Defaults returns a configuration with a random debug port, the usual
// browser location for this OS and the working directory as archive root.
func Defaults() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: working directory: %w", err)
	}
	return &Config{
		DebugPort:             randomPort(rand.IntN),
		BrowserExecutablePath: defaultBrowserPath(),
		ArchiveRoot:           filepath.ToSlash(wd),
	}, nil
}

const (
	minDebugPort = 10000
	maxDebugPort = 65534
)

// randomPort picks a port in [minDebugPort, maxDebugPort] using intn.
func randomPort(intn func(int) int) int {
	return minDebugPort + intn(maxDebugPort-minDebugPort+1)
}

// WriteDefaults writes Defaults to path, as YAML for .yaml/.yml files and
// indented JSON otherwise.
func WriteDefaults(path string) error {
	cfg, err := Defaults()
	if err != nil {
		return err
	}
	var data []byte
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("config: encode defaults: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func defaultBrowserPath() string {
	switch runtime.GOOS {
	case "windows":
		candidates := []string{
			`%ProgramFiles%\Google\Chrome\Application\chrome.exe`,
			`%ProgramFiles(x86)%\Google\Chrome\Application\chrome.exe`,
			`%LocalAppData%\Google\Chrome\Application\chrome.exe`,
		}
		if p := firstExisting(candidates); p != "" {
			return p
		}
		return "c:/path/to/chromium-compatible-browser.exe"
	case "darwin":
		if p := firstExisting([]string{"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"}); p != "" {
			return p
		}
		return "/path/to/chromium-compatible-browser"
	}
	return "google-chrome"
}

func firstExisting(candidates []string) string {
	for _, c := range candidates {
		p := filepath.ToSlash(expandWindowsEnv(c))
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// expandWindowsEnv expands %VAR% references.
func expandWindowsEnv(s string) string {
	var b strings.Builder
	for {
		i := strings.IndexByte(s, '%')
		if i < 0 {
			break
		}
		j := strings.IndexByte(s[i+1:], '%')
		if j < 0 {
			break
		}
		b.WriteString(s[:i])
		b.WriteString(os.Getenv(s[i+1 : i+1+j]))
		s = s[i+j+2:]
	}
	b.WriteString(s)
	return b.String()
}

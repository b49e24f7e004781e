package archiver

import (
	"github.com/hazyhaar/grokarchiver/archiver/internal/archive"
	"github.com/hazyhaar/grokarchiver/archiver/internal/config"
)

// Config is the archiver configuration. Re-exported from internal.
type Config = config.Config

// DefaultConfigPath is the configuration file used when none is given.
const DefaultConfigPath = config.DefaultPath

// ErrDefaultsWritten is returned by LoadConfig after it regenerated the file.
var ErrDefaultsWritten = config.ErrDefaultsWritten

// LoadConfig reads the configuration file, replacing it with defaults when it
// is missing or invalid.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// LoadConfigFile reads the configuration file without touching it.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DaySummary aggregates the images archived on one day.
type DaySummary = archive.DaySummary

// Summarize counts the archived images per day under root, oldest first.
func Summarize(root string) ([]DaySummary, error) {
	return archive.Summarize(root)
}

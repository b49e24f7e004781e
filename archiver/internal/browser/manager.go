// Package browser connects to the user's browser over its debugging port,
// launching it first when nothing answers on that port.
//
// The browser belongs to the user: it runs headful with the default profile
// and outlives the archiver.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
)

var (
	// ErrLaunch is returned when the browser could not be started.
	ErrLaunch = errors.New("browser: launch failed")
	// ErrConnect is returned when the debugging endpoint refused the
	// connection.
	ErrConnect = errors.New("browser: connect failed")
)

// Config configures the browser manager.
type Config struct {
	// DebugPort is the remote debugging port to connect to or open.
	DebugPort int

	// ExecutablePath is the browser started when nothing listens on
	// DebugPort.
	ExecutablePath string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager connects to, or launches, the browser.
type Manager struct {
	cfg      Config
	browser  *rod.Browser
	launched bool
}

// NewManager creates a Manager. Call Start to connect.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start connects to the browser listening on DebugPort, or launches
// ExecutablePath with that port and connects to it.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	log := m.cfg.Logger
	addr := "127.0.0.1:" + strconv.Itoa(m.cfg.DebugPort)

	wsURL, err := launcher.ResolveURL(addr)
	if err != nil {
		log.Info("browser: nothing on debug port, launching", "port", m.cfg.DebugPort, "path", m.cfg.ExecutablePath)
		wsURL, err = m.launcher(ctx).Launch()
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v (is this the correct path? if not, change it in the config file)",
				ErrLaunch, m.cfg.ExecutablePath, err)
		}
		m.launched = true
		log.Info("browser: launched", "url", wsURL)
	} else {
		log.Info("browser: connecting to running browser", "url", wsURL)
	}

	b := rod.New().Context(ctx).ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("%w: %v (a browser already running without the debug port blocks this: close it and run again)",
			ErrConnect, err)
	}
	m.browser = b
	return b, nil
}

// Browser returns the connected browser, or nil before Start.
func (m *Manager) Browser() *rod.Browser { return m.browser }

// Launched reports whether Start had to launch the browser.
func (m *Manager) Launched() bool { return m.launched }

func (m *Manager) launcher(ctx context.Context) *launcher.Launcher {
	l := launcher.New().
		Context(ctx).
		Bin(m.cfg.ExecutablePath).
		Headless(false).
		Leakless(false).
		Set(flags.RemoteDebuggingPort, strconv.Itoa(m.cfg.DebugPort)).
		Delete(flags.UserDataDir).
		Delete("no-startup-window").
		Delete("enable-automation")

	// Anti-detection flags.
	return l.Set("disable-blink-features", "AutomationControlled")
}

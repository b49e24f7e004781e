// Package gateway decides which browser targets get an interception session
// and manages the life of those sessions.
//
// Session states:
//
//	(none) --qualifying target--> Attaching --Fetch.enable ok--> Active
//	Attaching --target gone or no longer qualifying--> Detached
//	Active --detach notification / target destroyed / no longer qualifying--> Detached
//
// Detached sessions are forgotten; a later qualifying event starts over.
package gateway

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hazyhaar/grokarchiver/archiver/internal/cdp"
)

// State is the state of an interception session.
type State int

const (
	Attaching State = iota + 1
	Active
	Detached
)

func (s State) String() string {
	switch s {
	case Attaching:
		return "attaching"
	case Active:
		return "active"
	case Detached:
		return "detached"
	}
	return "none"
}

// PatternFunc returns the interception patterns for a target and whether the
// target should be intercepted.
type PatternFunc func(cdp.Target) ([]cdp.Pattern, bool)

// Session is an interception session on one target.
type Session struct {
	TargetID  string
	SessionID string
	State     State
}

// Gateway tracks at most one session per target id.
type Gateway struct {
	transport cdp.Transport
	patterns  PatternFunc
	logger    *slog.Logger

	mu        sync.Mutex
	sessions  map[string]*Session // by target id
	bySession map[string]string   // session id -> target id

	wg sync.WaitGroup
}

// Config configures a Gateway.
type Config struct {
	Transport cdp.Transport
	Patterns  PatternFunc
	Logger    *slog.Logger
}

// New creates a Gateway.
func New(cfg Config) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gateway{
		transport: cfg.Transport,
		patterns:  cfg.Patterns,
		logger:    cfg.Logger,
		sessions:  make(map[string]*Session),
		bySession: make(map[string]string),
	}
}

// HandleTarget reacts to a created or changed target: it starts attaching
// when the target qualifies and has no session, and detaches an existing
// session when it no longer qualifies. Attaching continues in the
// background; Wait blocks until it settles.
func (g *Gateway) HandleTarget(ctx context.Context, t cdp.Target) {
	patterns, ok := g.patterns(t)

	g.mu.Lock()
	defer g.mu.Unlock()

	s, exists := g.sessions[t.ID]
	if ok {
		if exists {
			return
		}
		s = &Session{TargetID: t.ID, State: Attaching}
		g.sessions[t.ID] = s
		g.wg.Add(1)
		go g.attach(ctx, s, t, patterns)
		return
	}
	if exists {
		g.logger.Debug("gateway: target no longer qualifies", "target", t.ID, "url", t.URL)
		g.dropLocked(ctx, s)
	}
}

// HandleDestroyed forgets the session of a destroyed target.
func (g *Gateway) HandleDestroyed(targetID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.sessions[targetID]; ok {
		g.forgetLocked(s)
	}
}

// HandleDetached forgets the session the browser reports as detached.
func (g *Gateway) HandleDetached(sessionID, targetID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id, ok := g.bySession[sessionID]; ok {
		targetID = id
	}
	s, ok := g.sessions[targetID]
	if !ok || (s.SessionID != "" && s.SessionID != sessionID) {
		return
	}
	g.logger.Debug("gateway: stop monitor", "target", targetID, "session", sessionID)
	g.forgetLocked(s)
}

// Owns reports whether sessionID belongs to a tracked session. Sessions are
// owned from the moment attach returns, before interception is confirmed,
// because paused exchanges can arrive before Fetch.enable answers.
func (g *Gateway) Owns(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.bySession[sessionID]
	return ok
}

// Session returns a copy of the session for targetID.
func (g *Gateway) Session(targetID string) (Session, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[targetID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Len returns the number of tracked sessions.
func (g *Gateway) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// Wait blocks until every attach in progress has finished.
func (g *Gateway) Wait() {
	g.wg.Wait()
}

func (g *Gateway) attach(ctx context.Context, s *Session, t cdp.Target, patterns []cdp.Pattern) {
	defer g.wg.Done()

	g.logger.Debug("gateway: start monitor", "target", t.ID, "kind", t.Kind, "url", t.URL)
	sessionID, err := g.transport.Attach(ctx, t.ID)
	if err != nil {
		// Usually the target was destroyed while we were attaching.
		g.logger.Debug("gateway: attach failed", "target", t.ID, "error", err)
		g.mu.Lock()
		g.forgetLocked(s)
		g.mu.Unlock()
		return
	}

	g.mu.Lock()
	if s.State == Detached {
		g.mu.Unlock()
		g.detach(ctx, sessionID)
		return
	}
	s.SessionID = sessionID
	g.bySession[sessionID] = t.ID
	g.mu.Unlock()

	if err := g.transport.EnableInterception(ctx, sessionID, patterns); err != nil {
		g.logger.Debug("gateway: enable interception failed", "target", t.ID, "error", err)
		g.mu.Lock()
		g.forgetLocked(s)
		g.mu.Unlock()
		g.detach(ctx, sessionID)
		return
	}

	g.mu.Lock()
	gone := s.State == Detached
	if !gone {
		s.State = Active
	}
	g.mu.Unlock()
	if gone {
		g.detach(ctx, sessionID)
		return
	}
	g.logger.Info("gateway: intercepting", "target", t.ID, "kind", t.Kind, "url", t.URL)
}

// dropLocked detaches and forgets s. An attach still in progress sees the
// Detached state and cleans up its own session.
func (g *Gateway) dropLocked(ctx context.Context, s *Session) {
	sessionID, active := s.SessionID, s.State == Active
	g.forgetLocked(s)
	if active {
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			g.detach(ctx, sessionID)
		}()
	}
}

func (g *Gateway) forgetLocked(s *Session) {
	s.State = Detached
	if cur, ok := g.sessions[s.TargetID]; ok && cur == s {
		delete(g.sessions, s.TargetID)
	}
	if s.SessionID != "" {
		delete(g.bySession, s.SessionID)
	}
}

func (g *Gateway) detach(ctx context.Context, sessionID string) {
	if err := g.transport.Detach(context.WithoutCancel(ctx), sessionID); err != nil {
		g.logger.Debug("gateway: detach failed", "session", sessionID, "error", err)
	}
}

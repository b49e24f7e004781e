// Package archiver watches a user's browser session on Grok and archives
// every generated image it sees, together with the prompt that produced it.
//
// The archiver attaches to the browser's debugging protocol, pauses the
// responses of a handful of Grok endpoints, reads them, and lets them
// continue untouched. Completion streams and history documents yield
// (image id -> prompt) metadata; image responses are written to the archive
// root with a JSON sidecar. Each image is archived once, ever.
package archiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/grokarchiver/archiver/internal/archive"
	"github.com/hazyhaar/grokarchiver/archiver/internal/browser"
	"github.com/hazyhaar/grokarchiver/archiver/internal/cdp"
	"github.com/hazyhaar/grokarchiver/archiver/internal/correlate"
	"github.com/hazyhaar/grokarchiver/archiver/internal/gateway"
	"github.com/hazyhaar/grokarchiver/archiver/internal/grok"
	"github.com/hazyhaar/grokarchiver/archiver/internal/router"
	"github.com/hazyhaar/grokarchiver/archiver/internal/state"
	"github.com/hazyhaar/grokarchiver/archiver/internal/status"
)

// Version is reported in logs and on the status endpoint. Set at build time
// with -ldflags "-X github.com/hazyhaar/grokarchiver/archiver.Version=...".
var Version = "dev"

// LockFile is created in the archive root while an archiver runs on it.
const LockFile = ".grok-archiver.lock"

// evictInterval is how often expired metadata is dropped.
const evictInterval = time.Minute

var (
	// ErrConnectionClosed is returned by Run and Serve when the debugging
	// connection goes away. Running the archiver again reconnects.
	ErrConnectionClosed = errors.New("archiver: debug connection closed")
	// ErrLocked is returned when another archiver holds the archive root.
	ErrLocked = errors.New("archiver: archive root is used by another process")
)

// Browser is the debugging connection the archiver drives.
type Browser interface {
	cdp.Transport
	cdp.Subscriber
	// Discover asks the browser to report existing and future targets.
	Discover(ctx context.Context) error
}

// Archiver is one archiving run. Create it with New and call Run once.
type Archiver struct {
	cfg    *Config
	logger *slog.Logger
	runID  string
	state  *state.State

	writer *archive.Writer
	corr   *correlate.Correlator

	// Set by Serve.
	transport cdp.Transport
	router    *router.Router
	gw        *gateway.Gateway

	dispatch sync.WaitGroup

	// onReady runs once the event stream is live, before events are
	// consumed.
	onReady func(ctx context.Context)
}

// New creates an Archiver. Every log line carries the run id.
func New(cfg *Config, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	runID := uuid.Must(uuid.NewV7()).String()
	logger = logger.With("run_id", runID)

	st := state.New()
	return &Archiver{
		cfg:    cfg,
		logger: logger,
		runID:  runID,
		state:  st,
		writer: archive.NewWriter(archive.Config{Root: cfg.ArchiveRoot, State: st, Logger: logger}),
		corr:   correlate.New(correlate.Config{State: st, Logger: logger}),
	}
}

// RunID returns the identifier of this run.
func (a *Archiver) RunID() string { return a.runID }

// Run locks the archive root, rehydrates the dedup index, connects to (or
// launches) the browser and archives until ctx is cancelled or the
// connection drops.
func (a *Archiver) Run(ctx context.Context) error {
	a.logger.Info("archiver: starting", "version", Version, "archive_root", a.cfg.ArchiveRoot)

	unlock, err := a.lock()
	if err != nil {
		return err
	}
	defer unlock()

	if err := a.LoadIndex(); err != nil {
		return err
	}

	mgr := browser.NewManager(browser.Config{
		DebugPort:      a.cfg.DebugPort,
		ExecutablePath: a.cfg.BrowserExecutablePath,
		Logger:         a.logger,
	})
	b, err := mgr.Start(ctx)
	if err != nil {
		return fmt.Errorf("archiver: %w", err)
	}

	if a.cfg.ShouldOpenEntryPage() {
		a.onReady = func(ctx context.Context) {
			if err := browser.OpenEntryPage(ctx, b, grok.EntryURL, a.logger); err != nil {
				a.logger.Warn("archiver: open entry page", "error", err)
			}
		}
	}
	return a.Serve(ctx, cdp.NewRod(b, a.logger))
}

// LoadIndex seeds the dedup index from the sidecar records already on disk.
func (a *Archiver) LoadIndex() error {
	n, err := archive.LoadIndex(a.cfg.ArchiveRoot, a.state.Index())
	if err != nil {
		return fmt.Errorf("archiver: %w", err)
	}
	a.logger.Info("archiver: images archived", "count", n)
	return nil
}

// Serve wires the pipeline onto b and processes its events until ctx is
// cancelled (nil error) or the event stream ends (ErrConnectionClosed).
func (a *Archiver) Serve(ctx context.Context, b Browser) error {
	a.transport = b
	a.gw = gateway.New(gateway.Config{Transport: b, Patterns: grok.Patterns, Logger: a.logger})
	a.router = router.New(b, a.logger)
	a.router.Handle(grok.EndpointCompletion, a.handleCompletion)
	a.router.Handle(grok.EndpointConversation, a.handleConversation)
	a.router.Handle(grok.EndpointMediaHistory, a.handleMediaHistory)
	a.router.Handle(grok.EndpointImage, a.handleImage)

	events, unsubscribe := b.Subscribe(ctx)
	defer unsubscribe()

	if err := b.Discover(ctx); err != nil {
		return fmt.Errorf("archiver: %w", err)
	}
	if a.onReady != nil {
		a.onReady(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.loop(gctx, events) })
	if a.cfg.StatusAddr != "" {
		srv := status.NewServer(a.cfg.StatusAddr, a.Snapshot, a.logger)
		g.Go(func() error { return srv.Run(gctx) })
	}
	if ttl := a.cfg.TTL(); ttl > 0 {
		g.Go(func() error {
			a.evictLoop(gctx, ttl)
			return nil
		})
	}

	err := g.Wait()
	a.gw.Wait()
	a.dispatch.Wait()
	return err
}

// Snapshot reports the current progress of the run.
func (a *Archiver) Snapshot() status.Snapshot {
	st := a.state.Stats()
	snap := status.Snapshot{
		RunID:           a.runID,
		Version:         Version,
		Archived:        st.Archived,
		InFlight:        st.InFlight,
		PendingMetadata: st.PendingMetadata,
	}
	if a.gw != nil {
		snap.Sessions = a.gw.Len()
	}
	return snap
}

func (a *Archiver) loop(ctx context.Context, events <-chan cdp.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				a.logger.Error("archiver: the debug connection was closed, run the archiver again to reconnect")
				return ErrConnectionClosed
			}
			a.handleEvent(ctx, ev)
		}
	}
}

func (a *Archiver) handleEvent(ctx context.Context, ev cdp.Event) {
	switch ev.Kind {
	case cdp.EventTargetCreated, cdp.EventTargetInfoChanged:
		a.gw.HandleTarget(ctx, ev.Target)
	case cdp.EventTargetDestroyed:
		a.gw.HandleDestroyed(ev.Target.ID)
	case cdp.EventDetached:
		a.gw.HandleDetached(ev.SessionID, ev.Target.ID)
	case cdp.EventRequestPaused:
		ex := ev.Exchange
		a.dispatch.Add(1)
		go func() {
			defer a.dispatch.Done()
			if !a.gw.Owns(ex.SessionID) {
				a.logger.Debug("archiver: paused exchange on unknown session", "session", ex.SessionID, "url", ex.URL)
				a.router.Release(ctx, ex)
				return
			}
			a.router.Dispatch(ctx, ex)
		}()
	}
}

func (a *Archiver) evictLoop(ctx context.Context, ttl time.Duration) {
	ticker := time.NewTicker(evictInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.state.Evict(ttl); n > 0 {
				a.logger.Debug("archiver: evicted unclaimed metadata", "count", n, "ttl", ttl)
			}
		}
	}
}

func (a *Archiver) lock() (func(), error) {
	if err := os.MkdirAll(a.cfg.ArchiveRoot, 0o755); err != nil {
		return nil, fmt.Errorf("archiver: archive root: %w", err)
	}
	path := filepath.Join(a.cfg.ArchiveRoot, LockFile)
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("archiver: lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			a.logger.Warn("archiver: release lock", "error", err)
		}
	}, nil
}

func (a *Archiver) bodyText(ctx context.Context, ex cdp.Exchange) (string, error) {
	body, err := a.transport.ResponseBody(ctx, ex.SessionID, ex.RequestID)
	if err != nil {
		return "", err
	}
	return body.Text()
}

func (a *Archiver) handleCompletion(ctx context.Context, ex cdp.Exchange, _ *url.URL) error {
	text, err := a.bodyText(ctx, ex)
	if err != nil {
		return err
	}
	res, err := a.corr.Completion(text)
	if err != nil {
		return err
	}
	if len(res.Stored) > 0 {
		a.logger.Info("archiver: prompt recorded", "prompt", res.Prompt, "images", len(res.Stored))
	}
	return nil
}

func (a *Archiver) handleConversation(ctx context.Context, ex cdp.Exchange, _ *url.URL) error {
	text, err := a.bodyText(ctx, ex)
	if err != nil {
		return err
	}
	ids, err := a.corr.Conversation(text)
	if err != nil {
		return err
	}
	a.logger.Debug("archiver: conversation metadata", "images", len(ids))
	return nil
}

func (a *Archiver) handleMediaHistory(ctx context.Context, ex cdp.Exchange, _ *url.URL) error {
	text, err := a.bodyText(ctx, ex)
	if err != nil {
		return err
	}
	ids, err := a.corr.MediaHistory(text)
	if err != nil {
		return err
	}
	a.logger.Debug("archiver: media history metadata", "images", len(ids))
	return nil
}

func (a *Archiver) handleImage(ctx context.Context, ex cdp.Exchange, u *url.URL) error {
	if ct := mediaType(ex.Header("content-type")); ct != "image/jpeg" {
		a.logger.Debug("archiver: unexpected image content type, skipped", "content_type", ct, "url", ex.URL)
		return nil
	}
	id := u.Query().Get(grok.MediaIDParam)
	if id == "" {
		return fmt.Errorf("archiver: image url without %s: %s", grok.MediaIDParam, ex.URL)
	}

	res, err := a.writer.Archive(ctx, id, func(ctx context.Context) (cdp.Body, error) {
		return a.transport.ResponseBody(ctx, ex.SessionID, ex.RequestID)
	})
	if err != nil {
		return err
	}
	if res.Status == archive.StatusDuplicate {
		a.logger.Debug("archiver: already archived", "id", id)
		return nil
	}
	a.logger.Info("archiver: archived", "id", id, "path", res.ImagePath, "total", a.state.Index().Len())
	return nil
}

func mediaType(contentType string) string {
	ct, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(ct))
}

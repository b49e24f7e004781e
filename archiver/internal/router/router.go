// Package router dispatches paused network exchanges to the handler for
// their endpoint and guarantees that every exchange is resumed, whatever the
// handler does.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hazyhaar/grokarchiver/archiver/internal/cdp"
	"github.com/hazyhaar/grokarchiver/archiver/internal/grok"
)

// HandlerFunc handles one classified exchange. The exchange is still paused
// while it runs, so its body can be fetched.
type HandlerFunc func(ctx context.Context, ex cdp.Exchange, u *url.URL) error

// Router routes exchanges by endpoint.
type Router struct {
	transport cdp.Transport
	handlers  map[grok.Endpoint]HandlerFunc
	logger    *slog.Logger
}

// New creates a Router that resumes exchanges through t.
func New(t cdp.Transport, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		transport: t,
		handlers:  make(map[grok.Endpoint]HandlerFunc),
		logger:    logger,
	}
}

// Handle registers h for endpoint e, replacing any previous handler.
func (r *Router) Handle(e grok.Endpoint, h HandlerFunc) {
	r.handlers[e] = h
}

// Dispatch routes ex and resumes it before returning. Handler errors and
// panics are logged here and go no further.
func (r *Router) Dispatch(ctx context.Context, ex cdp.Exchange) {
	defer r.resume(ctx, ex)
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("router: handler panic", "url", ex.URL, "panic", fmt.Sprint(p))
		}
	}()

	switch ex.Method {
	case http.MethodGet, http.MethodPost:
	default:
		return
	}
	if ex.Status != http.StatusOK {
		r.logger.Info("router: bad response code", "status", ex.Status, "url", ex.URL)
		return
	}

	u, err := url.Parse(ex.URL)
	if err != nil {
		r.logger.Warn("router: unparsable url", "url", ex.URL, "error", err)
		return
	}

	endpoint := grok.Classify(u)
	switch endpoint {
	case grok.EndpointPartial:
		return
	case grok.EndpointUnknown:
		r.logger.Debug("router: unhandled endpoint", "segment", grok.LastSegment(u))
		return
	}

	h, ok := r.handlers[endpoint]
	if !ok {
		r.logger.Debug("router: no handler registered", "endpoint", endpoint)
		return
	}
	if err := h(ctx, ex, u); err != nil {
		r.logger.Warn("router: handler failed", "endpoint", endpoint, "url", ex.URL, "error", err)
	}
}

// Release resumes ex without handling it.
func (r *Router) Release(ctx context.Context, ex cdp.Exchange) {
	r.resume(ctx, ex)
}

func (r *Router) resume(ctx context.Context, ex cdp.Exchange) {
	// Detached sessions and closed tabs make this fail; nothing is left to
	// unblock in that case.
	if err := r.transport.Resume(context.WithoutCancel(ctx), ex.SessionID, ex.RequestID); err != nil {
		r.logger.Debug("router: resume failed", "request_id", ex.RequestID, "error", err)
	}
}

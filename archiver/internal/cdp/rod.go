package cdp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Rod implements Transport and Subscriber over a connected go-rod browser.
// Sessions are flattened, so every session shares the browser's websocket.
type Rod struct {
	browser *rod.Browser
	logger  *slog.Logger
}

// NewRod wraps a connected browser.
func NewRod(b *rod.Browser, logger *slog.Logger) *Rod {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rod{browser: b, logger: logger}
}

// Discover turns on target discovery. The browser answers with one
// targetCreated event per existing target, then keeps reporting changes.
func (r *Rod) Discover(ctx context.Context) error {
	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(r.browser.Context(ctx)); err != nil {
		return fmt.Errorf("cdp: discover targets: %w", err)
	}
	return nil
}

func (r *Rod) Attach(ctx context.Context, targetID string) (string, error) {
	res, err := proto.TargetAttachToTarget{
		TargetID: proto.TargetTargetID(targetID),
		Flatten:  true,
	}.Call(r.browser.Context(ctx))
	if err != nil {
		return "", fmt.Errorf("cdp: attach %s: %w", targetID, err)
	}
	return string(res.SessionID), nil
}

func (r *Rod) Detach(ctx context.Context, sessionID string) error {
	err := proto.TargetDetachFromTarget{
		SessionID: proto.TargetSessionID(sessionID),
	}.Call(r.browser.Context(ctx))
	if err != nil {
		return fmt.Errorf("cdp: detach %s: %w", sessionID, err)
	}
	return nil
}

func (r *Rod) EnableInterception(ctx context.Context, sessionID string, patterns []Pattern) error {
	pats := make([]*proto.FetchRequestPattern, 0, len(patterns))
	for _, p := range patterns {
		pats = append(pats, &proto.FetchRequestPattern{
			URLPattern:   p.URLPattern,
			RequestStage: proto.FetchRequestStageResponse,
		})
	}
	if err := (proto.FetchEnable{Patterns: pats}).Call(r.session(ctx, sessionID)); err != nil {
		return fmt.Errorf("cdp: Fetch.enable on %s: %w", sessionID, err)
	}
	return nil
}

func (r *Rod) ResponseBody(ctx context.Context, sessionID, requestID string) (Body, error) {
	res, err := proto.FetchGetResponseBody{
		RequestID: proto.FetchRequestID(requestID),
	}.Call(r.session(ctx, sessionID))
	if err != nil {
		return Body{}, fmt.Errorf("cdp: Fetch.getResponseBody %s: %w", requestID, err)
	}
	return Body{Data: res.Body, Base64: res.Base64Encoded}, nil
}

func (r *Rod) Resume(ctx context.Context, sessionID, requestID string) error {
	err := proto.FetchContinueRequest{
		RequestID: proto.FetchRequestID(requestID),
	}.Call(r.session(ctx, sessionID))
	if err != nil {
		return fmt.Errorf("cdp: Fetch.continueRequest %s: %w", requestID, err)
	}
	return nil
}

// Subscribe converts the browser's raw message stream into Events.
func (r *Rod) Subscribe(ctx context.Context) (<-chan Event, func()) {
	ctx, cancel := context.WithCancel(ctx)
	msgs := r.browser.Context(ctx).Event()
	out := make(chan Event, 64)

	go func() {
		defer close(out)
		for msg := range msgs {
			ev, ok := convert(msg)
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, cancel
}

func convert(msg *rod.Message) (Event, bool) {
	switch msg.Method {
	case "Target.targetCreated":
		var e proto.TargetTargetCreated
		if !msg.Load(&e) || e.TargetInfo == nil {
			return Event{}, false
		}
		return Event{Kind: EventTargetCreated, Target: targetFromInfo(e.TargetInfo)}, true

	case "Target.targetInfoChanged":
		var e proto.TargetTargetInfoChanged
		if !msg.Load(&e) || e.TargetInfo == nil {
			return Event{}, false
		}
		return Event{Kind: EventTargetInfoChanged, Target: targetFromInfo(e.TargetInfo)}, true

	case "Target.targetDestroyed":
		var e proto.TargetTargetDestroyed
		if !msg.Load(&e) {
			return Event{}, false
		}
		return Event{Kind: EventTargetDestroyed, Target: Target{ID: string(e.TargetID)}}, true

	case "Target.detachedFromTarget":
		var e proto.TargetDetachedFromTarget
		if !msg.Load(&e) {
			return Event{}, false
		}
		return Event{
			Kind:      EventDetached,
			SessionID: string(e.SessionID),
			Target:    Target{ID: string(e.TargetID)},
		}, true

	case "Fetch.requestPaused":
		var e proto.FetchRequestPaused
		if !msg.Load(&e) || e.Request == nil {
			return Event{}, false
		}
		return Event{
			Kind:      EventRequestPaused,
			SessionID: string(msg.SessionID),
			Exchange:  exchangeFromPaused(string(msg.SessionID), &e),
		}, true
	}
	return Event{}, false
}

func targetFromInfo(info *proto.TargetTargetInfo) Target {
	return Target{
		ID:   string(info.TargetID),
		Kind: TargetKind(info.Type),
		URL:  info.URL,
	}
}

func exchangeFromPaused(sessionID string, e *proto.FetchRequestPaused) Exchange {
	ex := Exchange{
		RequestID: string(e.RequestID),
		SessionID: sessionID,
		Method:    e.Request.Method,
		URL:       e.Request.URL,
		Headers:   make(map[string]string, len(e.ResponseHeaders)),
	}
	if e.ResponseStatusCode != nil {
		ex.Status = *e.ResponseStatusCode
	}
	for _, h := range e.ResponseHeaders {
		if h == nil {
			continue
		}
		ex.Headers[strings.ToLower(h.Name)] = h.Value
	}
	return ex
}

// session scopes proto calls to one flattened session.
func (r *Rod) session(ctx context.Context, sessionID string) sessionClient {
	return sessionClient{browser: r.browser, ctx: ctx, id: proto.TargetSessionID(sessionID)}
}

type sessionClient struct {
	browser *rod.Browser
	ctx     context.Context
	id      proto.TargetSessionID
}

func (s sessionClient) Call(ctx context.Context, sessionID, method string, params interface{}) ([]byte, error) {
	return s.browser.Call(ctx, sessionID, method, params)
}

func (s sessionClient) GetSessionID() proto.TargetSessionID { return s.id }

func (s sessionClient) GetContext() context.Context { return s.ctx }

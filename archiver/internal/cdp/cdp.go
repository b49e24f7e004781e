// Package cdp is the boundary between the archiver and the browser's debug
// protocol. The rest of the archiver only sees the types and interfaces
// declared here; Rod implements them on top of go-rod.
package cdp

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

// TargetKind is the CDP target type.
type TargetKind string

const (
	KindPage          TargetKind = "page"
	KindServiceWorker TargetKind = "service_worker"
)

// Target is a browser surface (tab or service worker).
type Target struct {
	ID   string
	Kind TargetKind
	URL  string
}

// Pattern is a Fetch interception URL glob. Interception always happens at
// the response stage.
type Pattern struct {
	URLPattern string
}

// Exchange is a request paused at the response stage. It must be resumed
// exactly once.
type Exchange struct {
	RequestID string
	SessionID string
	Method    string
	Status    int
	URL       string
	// Headers holds response headers keyed by lower-cased name.
	Headers map[string]string
}

// Header returns the response header name, case-insensitively.
func (e Exchange) Header(name string) string {
	return e.Headers[strings.ToLower(name)]
}

// Body is a response body as delivered by Fetch.getResponseBody.
type Body struct {
	Data   string
	Base64 bool
}

// Text returns the body as a string, decoding base64 when needed.
func (b Body) Text() (string, error) {
	if !b.Base64 {
		return b.Data, nil
	}
	raw, err := base64.StdEncoding.DecodeString(b.Data)
	if err != nil {
		return "", fmt.Errorf("cdp: decode body: %w", err)
	}
	return string(raw), nil
}

// EventKind tags an Event.
type EventKind int

const (
	EventTargetCreated EventKind = iota + 1
	EventTargetInfoChanged
	EventTargetDestroyed
	EventDetached
	EventRequestPaused
)

func (k EventKind) String() string {
	switch k {
	case EventTargetCreated:
		return "target_created"
	case EventTargetInfoChanged:
		return "target_info_changed"
	case EventTargetDestroyed:
		return "target_destroyed"
	case EventDetached:
		return "detached"
	case EventRequestPaused:
		return "request_paused"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is one notification from the browser. Which fields are set depends on
// Kind:
//
//	EventTargetCreated, EventTargetInfoChanged: Target
//	EventTargetDestroyed:                       Target.ID
//	EventDetached:                              SessionID, Target.ID when known
//	EventRequestPaused:                         SessionID, Exchange
type Event struct {
	Kind      EventKind
	Target    Target
	SessionID string
	Exchange  Exchange
}

// Transport issues commands to the browser.
type Transport interface {
	// Attach opens a flattened session on the target and returns its id.
	Attach(ctx context.Context, targetID string) (sessionID string, err error)
	// Detach closes a session.
	Detach(ctx context.Context, sessionID string) error
	// EnableInterception pauses responses matching patterns on the session.
	EnableInterception(ctx context.Context, sessionID string, patterns []Pattern) error
	// ResponseBody returns the body of a paused response.
	ResponseBody(ctx context.Context, sessionID, requestID string) (Body, error)
	// Resume lets a paused exchange continue to the page.
	Resume(ctx context.Context, sessionID, requestID string) error
}

// Subscriber delivers browser events. The channel is closed when the
// connection goes away or ctx is done; the returned func stops the
// subscription early.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan Event, func())
}

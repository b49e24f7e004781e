// Package cdptest provides an in-memory cdp.Transport and cdp.Subscriber for
// tests.
package cdptest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hazyhaar/grokarchiver/archiver/internal/cdp"
)

// ErrNoBody is returned by ResponseBody for requests without a stored body.
var ErrNoBody = errors.New("cdptest: no body for request")

// Transport records every call and serves canned bodies.
type Transport struct {
	mu sync.Mutex

	// AttachErr, when set, is returned by Attach for the keyed target id.
	AttachErr map[string]error
	// AttachHook runs inside Attach before it returns, to simulate events
	// racing with an attach in progress.
	AttachHook func(targetID string)
	// EnableErr, when set, is returned by EnableInterception.
	EnableErr error
	// DiscoverErr, when set, is returned by Discover.
	DiscoverErr error

	bodies   map[string]cdp.Body
	resumed  map[string]int
	detached []string
	enabled  map[string][]cdp.Pattern
	nextID   int
	discover int

	events chan cdp.Event
}

// New creates an empty Transport.
func New() *Transport {
	return &Transport{
		AttachErr: make(map[string]error),
		bodies:    make(map[string]cdp.Body),
		resumed:   make(map[string]int),
		enabled:   make(map[string][]cdp.Pattern),
		events:    make(chan cdp.Event, 256),
	}
}

// SetBody makes ResponseBody return b for requestID.
func (t *Transport) SetBody(requestID string, b cdp.Body) {
	t.mu.Lock()
	t.bodies[requestID] = b
	t.mu.Unlock()
}

// Discover counts calls and returns DiscoverErr.
func (t *Transport) Discover(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.discover++
	return t.DiscoverErr
}

// Discovered returns how many times Discover was called.
func (t *Transport) Discovered() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.discover
}

// Attach returns session ids "S1", "S2", ... in call order.
func (t *Transport) Attach(_ context.Context, targetID string) (string, error) {
	if t.AttachHook != nil {
		t.AttachHook(targetID)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.AttachErr[targetID]; err != nil {
		return "", err
	}
	t.nextID++
	return fmt.Sprintf("S%d", t.nextID), nil
}

func (t *Transport) Detach(_ context.Context, sessionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.detached = append(t.detached, sessionID)
	return nil
}

func (t *Transport) EnableInterception(_ context.Context, sessionID string, patterns []cdp.Pattern) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.EnableErr != nil {
		return t.EnableErr
	}
	t.enabled[sessionID] = patterns
	return nil
}

func (t *Transport) ResponseBody(_ context.Context, _, requestID string) (cdp.Body, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.bodies[requestID]
	if !ok {
		return cdp.Body{}, ErrNoBody
	}
	return b, nil
}

func (t *Transport) Resume(_ context.Context, _, requestID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resumed[requestID]++
	return nil
}

// Resumed returns how many times requestID was resumed.
func (t *Transport) Resumed(requestID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resumed[requestID]
}

// Detached returns the detached session ids in call order.
func (t *Transport) Detached() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.detached...)
}

// Enabled returns the patterns registered on sessionID.
func (t *Transport) Enabled(sessionID string) ([]cdp.Pattern, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.enabled[sessionID]
	return p, ok
}

// Emit queues an event for subscribers.
func (t *Transport) Emit(ev cdp.Event) {
	t.events <- ev
}

// Close ends the event stream, like a dropped connection.
func (t *Transport) Close() {
	close(t.events)
}

// Subscribe forwards emitted events until Close, ctx, or cancel.
func (t *Transport) Subscribe(ctx context.Context) (<-chan cdp.Event, func()) {
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan cdp.Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-t.events:
				if !ok {
					return
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, cancel
}

// Package grok describes the one application the archiver understands: where
// it lives, which requests carry image metadata or binaries, and how their
// URLs are shaped.
package grok

import (
	"net/url"
	"strings"

	"github.com/hazyhaar/grokarchiver/archiver/internal/cdp"
)

const (
	// Origin is the application's origin.
	Origin = "https://x.com"
	// EntryURL is the page the generator runs on.
	EntryURL = "https://x.com/i/grok"
)

// Endpoint identifies a response shape the archiver handles.
type Endpoint int

const (
	EndpointUnknown Endpoint = iota
	// EndpointCompletion is the chat completion stream: concatenated JSON
	// objects carrying the prompt and the generated media ids.
	EndpointCompletion
	// EndpointImage is the JPEG binary of one generated image.
	EndpointImage
	// EndpointConversation is the GraphQL history of one conversation.
	EndpointConversation
	// EndpointMediaHistory is the GraphQL list of generated media.
	EndpointMediaHistory
	// EndpointPartial is an incomplete media-attachment transfer, ignored.
	EndpointPartial
)

func (e Endpoint) String() string {
	switch e {
	case EndpointCompletion:
		return "completion"
	case EndpointImage:
		return "image"
	case EndpointConversation:
		return "conversation"
	case EndpointMediaHistory:
		return "media_history"
	case EndpointPartial:
		return "partial"
	}
	return "unknown"
}

// Final path segments of the handled endpoints.
const (
	SegmentCompletion   = "add_response.json"
	SegmentImage        = "attachment.json"
	SegmentConversation = "GrokConversationItemsByRestId"
	SegmentMediaHistory = "GrokMediaHistory"

	// segmentPartial appears third from last in partial transfer URLs.
	segmentPartial = "media-attachment"
)

// MediaIDParam is the query parameter naming the media id on image URLs.
const MediaIDParam = "mediaId"

var pagePatterns = []cdp.Pattern{
	{URLPattern: "*" + SegmentCompletion},
	{URLPattern: "*" + SegmentImage + "?" + MediaIDParam + "*"},
	{URLPattern: "*" + SegmentConversation + "*"},
	{URLPattern: "*" + SegmentMediaHistory + "*"},
}

var workerPatterns = []cdp.Pattern{
	{URLPattern: "*" + SegmentCompletion},
}

// Patterns returns the interception patterns for t and whether t should be
// intercepted at all.
func Patterns(t cdp.Target) ([]cdp.Pattern, bool) {
	switch {
	case t.Kind == cdp.KindPage && strings.HasPrefix(t.URL, EntryURL):
		return pagePatterns, true
	case t.Kind == cdp.KindServiceWorker && strings.HasPrefix(t.URL, Origin):
		return workerPatterns, true
	}
	return nil, false
}

// Classify maps a request URL to the endpoint it belongs to.
func Classify(u *url.URL) Endpoint {
	segs := strings.Split(u.EscapedPath(), "/")
	if len(segs) >= 3 && segs[len(segs)-3] == segmentPartial {
		return EndpointPartial
	}
	switch segs[len(segs)-1] {
	case SegmentCompletion:
		return EndpointCompletion
	case SegmentImage:
		return EndpointImage
	case SegmentConversation:
		return EndpointConversation
	case SegmentMediaHistory:
		return EndpointMediaHistory
	}
	return EndpointUnknown
}

// LastSegment returns the final path segment of u, for logging.
func LastSegment(u *url.URL) string {
	p := u.EscapedPath()
	return p[strings.LastIndex(p, "/")+1:]
}

package cdp

import (
	"encoding/base64"
	"testing"

	"github.com/go-rod/rod/lib/proto"
)

func TestBodyText(t *testing.T) {
	plain := Body{Data: `{"a":1}`}
	if got, err := plain.Text(); err != nil || got != `{"a":1}` {
		t.Errorf("plain Text() = %q, %v", got, err)
	}

	enc := Body{Data: base64.StdEncoding.EncodeToString([]byte(`{"b":2}`)), Base64: true}
	if got, err := enc.Text(); err != nil || got != `{"b":2}` {
		t.Errorf("base64 Text() = %q, %v", got, err)
	}

	if _, err := (Body{Data: "%%%", Base64: true}).Text(); err == nil {
		t.Error("invalid base64: expected error")
	}
}

func TestExchangeFromPaused(t *testing.T) {
	status := 200
	e := &proto.FetchRequestPaused{
		RequestID: "interception-1",
		Request: &proto.NetworkRequest{
			URL:    "https://x.com/i/api/2/grok/attachment.json?mediaId=1",
			Method: "GET",
		},
		ResponseStatusCode: &status,
		ResponseHeaders: []*proto.FetchHeaderEntry{
			{Name: "Content-Type", Value: "image/jpeg"},
			nil,
		},
	}

	ex := exchangeFromPaused("S1", e)
	if ex.RequestID != "interception-1" || ex.SessionID != "S1" || ex.Method != "GET" || ex.Status != 200 {
		t.Errorf("unexpected exchange: %+v", ex)
	}
	if got := ex.Header("content-type"); got != "image/jpeg" {
		t.Errorf("Header(content-type) = %q", got)
	}
	if got := ex.Header("Content-Type"); got != "image/jpeg" {
		t.Errorf("Header(Content-Type) = %q", got)
	}
}

func TestTargetFromInfo(t *testing.T) {
	got := targetFromInfo(&proto.TargetTargetInfo{
		TargetID: "T1",
		Type:     "service_worker",
		URL:      "https://x.com/sw.js",
	})
	want := Target{ID: "T1", Kind: KindServiceWorker, URL: "https://x.com/sw.js"}
	if got != want {
		t.Errorf("targetFromInfo = %+v, want %+v", got, want)
	}
}

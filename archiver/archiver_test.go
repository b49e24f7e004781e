package archiver

import (
	"context"
	"encoding/base64"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hazyhaar/grokarchiver/archiver/internal/cdp"
	"github.com/hazyhaar/grokarchiver/archiver/internal/cdp/cdptest"
)

const (
	mediaID       = "1234567890123456789"
	completionURL = "https://grok.x.com/2/grok/add_response.json"
	imageURL      = "https://x.com/i/api/2/grok/attachment.json?mediaId=" + mediaID
)

var (
	grokPage = cdp.Target{ID: "T1", Kind: cdp.KindPage, URL: "https://x.com/i/grok"}
	jpeg     = []byte{0xff, 0xd8, 0xff, 0xdb, 0x00, 0x43, 0xff, 0xd9}
)

type harness struct {
	t    *testing.T
	a    *Archiver
	tr   *cdptest.Transport
	root string
	done chan error
	next int
}

func start(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	h := &harness{
		t:    t,
		a:    New(&Config{ArchiveRoot: root}, slog.New(slog.DiscardHandler)),
		tr:   cdptest.New(),
		root: root,
		done: make(chan error, 1),
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { h.done <- h.a.Serve(ctx, h.tr) }()

	h.tr.Emit(cdp.Event{Kind: cdp.EventTargetCreated, Target: grokPage})
	waitFor(t, "interception enabled", func() bool {
		_, ok := h.tr.Enabled("S1")
		return ok
	})
	return h
}

// pause emits one paused exchange on S1 and waits until it is resumed.
func (h *harness) pause(method, url, contentType string, body cdp.Body) {
	h.t.Helper()
	h.next++
	reqID := "R" + strconv.Itoa(h.next)
	h.tr.SetBody(reqID, body)
	h.tr.Emit(cdp.Event{
		Kind:      cdp.EventRequestPaused,
		SessionID: "S1",
		Exchange: cdp.Exchange{
			RequestID: reqID,
			SessionID: "S1",
			Method:    method,
			Status:    200,
			URL:       url,
			Headers:   map[string]string{"content-type": contentType},
		},
	})
	waitFor(h.t, "resume of "+reqID, func() bool { return h.tr.Resumed(reqID) == 1 })
}

func (h *harness) completion(prompt string) {
	h.t.Helper()
	body := `{"result":{"query":"` + prompt + `"}}` + "\n" +
		`{"result":{"imageAttachmentUpdate":{"mediaId":` + mediaID + `},"imageGenerationCount":1}}` + "\n" +
		`{"result":{"imageAttachment":{"mediaId":` + mediaID + `}}}`
	h.pause("POST", completionURL, "application/json", cdp.Body{Data: body})
}

func (h *harness) image() {
	h.t.Helper()
	h.pause("GET", imageURL, "image/jpeg", cdp.Body{Data: base64.StdEncoding.EncodeToString(jpeg), Base64: true})
}

func (h *harness) stop() error {
	h.t.Helper()
	h.tr.Close()
	select {
	case err := <-h.done:
		return err
	case <-time.After(5 * time.Second):
		h.t.Fatal("Serve did not return after the connection closed")
		return nil
	}
}

func (h *harness) files() []string {
	h.t.Helper()
	var out []string
	filepath.WalkDir(h.root, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.Type().IsRegular() {
			rel, _ := filepath.Rel(h.root, path)
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	sort.Strings(out)
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServe_CompletionThenImage(t *testing.T) {
	h := start(t)

	h.completion("A cat, sitting.")
	h.image()
	h.image()

	if err := h.stop(); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("Serve = %v, want ErrConnectionClosed", err)
	}

	files := h.files()
	if len(files) != 2 {
		t.Fatalf("files = %v, want one image and one record", files)
	}
	if !strings.HasPrefix(files[0], "database/") || !strings.HasSuffix(files[0], "/"+mediaID+".json") {
		t.Errorf("record path = %q", files[0])
	}
	if !strings.HasPrefix(files[1], "images/") || !strings.HasSuffix(files[1], "/"+mediaID+"-A-cat_sitting.jpg") {
		t.Errorf("image path = %q", files[1])
	}

	raw, err := os.ReadFile(filepath.Join(h.root, files[0]))
	if err != nil {
		t.Fatal(err)
	}
	rec := gjson.ParseBytes(raw)
	if rec.Get("id").String() != mediaID || rec.Get("prompt").String() != "A cat, sitting." {
		t.Errorf("record = %s", raw)
	}
	if data, _ := os.ReadFile(filepath.Join(h.root, files[1])); string(data) != string(jpeg) {
		t.Error("image bytes differ")
	}

	snap := h.a.Snapshot()
	if snap.Archived != 1 || snap.InFlight != 0 || snap.PendingMetadata != 0 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.RunID != h.a.RunID() || snap.RunID == "" {
		t.Errorf("run id = %q", snap.RunID)
	}
}

func TestServe_ImageBeforeMetadata(t *testing.T) {
	h := start(t)

	h.image()
	h.completion("too late")
	h.stop()

	files := h.files()
	if len(files) != 2 {
		t.Fatalf("files = %v", files)
	}
	if !strings.HasSuffix(files[1], "/"+mediaID+"-.jpg") {
		t.Errorf("image path = %q, want empty prompt", files[1])
	}
	raw, _ := os.ReadFile(filepath.Join(h.root, files[0]))
	if p := gjson.GetBytes(raw, "prompt"); !p.Exists() || p.String() != "" {
		t.Errorf("record = %s, want empty prompt", raw)
	}
}

func TestServe_SkipsUnexpectedContentType(t *testing.T) {
	h := start(t)
	h.pause("GET", imageURL, "image/png", cdp.Body{Data: base64.StdEncoding.EncodeToString(jpeg), Base64: true})
	h.stop()

	if files := h.files(); len(files) != 0 {
		t.Errorf("files = %v, want none", files)
	}
}

func TestServe_UnknownSessionIsReleased(t *testing.T) {
	h := start(t)
	h.tr.SetBody("X1", cdp.Body{Data: base64.StdEncoding.EncodeToString(jpeg), Base64: true})
	h.tr.Emit(cdp.Event{
		Kind:      cdp.EventRequestPaused,
		SessionID: "S-other",
		Exchange:  cdp.Exchange{RequestID: "X1", SessionID: "S-other", Method: "GET", Status: 200, URL: imageURL},
	})
	waitFor(t, "release of X1", func() bool { return h.tr.Resumed("X1") == 1 })
	h.stop()

	if files := h.files(); len(files) != 0 {
		t.Errorf("files = %v, want none", files)
	}
}

func TestServe_CancelIsClean(t *testing.T) {
	a := New(&Config{ArchiveRoot: t.TempDir()}, slog.New(slog.DiscardHandler))
	tr := cdptest.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, tr) }()

	waitFor(t, "discover", func() bool { return tr.Discovered() == 1 })
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServe_DiscoverFailure(t *testing.T) {
	a := New(&Config{ArchiveRoot: t.TempDir()}, slog.New(slog.DiscardHandler))
	tr := cdptest.New()
	tr.DiscoverErr = errors.New("no")
	if err := a.Serve(context.Background(), tr); err == nil {
		t.Fatal("Serve succeeded without discovery")
	}
}

func TestLoadIndex_SkipsArchived(t *testing.T) {
	h := start(t)
	dir := filepath.Join(h.root, "database", "2024", "1", "2")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, mediaID+".json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := h.a.LoadIndex(); err != nil {
		t.Fatal(err)
	}

	h.image()
	h.stop()

	if files := h.files(); len(files) != 1 {
		t.Errorf("files = %v, want only the pre-existing record", files)
	}
}

func TestLock_Exclusive(t *testing.T) {
	root := t.TempDir()
	first := New(&Config{ArchiveRoot: root}, slog.New(slog.DiscardHandler))
	unlock, err := first.lock()
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}

	second := New(&Config{ArchiveRoot: root}, slog.New(slog.DiscardHandler))
	if _, err := second.lock(); !errors.Is(err, ErrLocked) {
		t.Errorf("second lock = %v, want ErrLocked", err)
	}

	unlock()
	unlock2, err := second.lock()
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	unlock2()
}

func TestMediaType(t *testing.T) {
	tests := map[string]string{
		"image/jpeg":                 "image/jpeg",
		"Image/JPEG; charset=binary": "image/jpeg",
		"":                           "",
	}
	for in, want := range tests {
		if got := mediaType(in); got != want {
			t.Errorf("mediaType(%q) = %q, want %q", in, got, want)
		}
	}
}

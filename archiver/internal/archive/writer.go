// Package archive writes generated images and their sidecar records under a
// date-bucketed directory tree, and rebuilds the dedup index from that tree.
//
// Layout:
//
//	<root>/images/<YYYY>/<M>/<D>/<id>-<sanitized prompt>.jpg
//	<root>/database/<YYYY>/<M>/<D>/<id>.json
package archive

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hazyhaar/grokarchiver/archiver/internal/cdp"
	"github.com/hazyhaar/grokarchiver/archiver/internal/state"
	"github.com/hazyhaar/grokarchiver/pathguard"
)

var (
	// ErrNotBase64 is returned when the transport did not deliver the body
	// base64-encoded, which it always does for binary payloads.
	ErrNotBase64 = errors.New("archive: body is not base64 encoded")
	// ErrEmptyBody is returned when the decoded body has no bytes.
	ErrEmptyBody = errors.New("archive: empty body")
)

// Record is the sidecar written next to every image. Field order is part of
// the on-disk format.
type Record struct {
	CreatedAt int64  `json:"createdAt"`
	ID        string `json:"id"`
	Prompt    string `json:"prompt"`
}

// Time returns CreatedAt as a time.Time.
func (r Record) Time() time.Time {
	return time.Unix(r.CreatedAt, 0)
}

// Status is the outcome of one Archive call.
type Status int

const (
	StatusArchived Status = iota
	StatusDuplicate
)

func (s Status) String() string {
	switch s {
	case StatusArchived:
		return "archived"
	case StatusDuplicate:
		return "duplicate"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Result describes what Archive did.
type Result struct {
	Status     Status
	Record     Record
	ImagePath  string
	RecordPath string
}

// FetchFunc retrieves the response body for the image being archived.
type FetchFunc func(ctx context.Context) (cdp.Body, error)

// Writer archives images under Root. Safe for concurrent use.
type Writer struct {
	root   string
	state  *state.State
	now    func() time.Time
	logger *slog.Logger
}

// Config configures a Writer.
type Config struct {
	Root   string
	State  *state.State
	Now    func() time.Time
	Logger *slog.Logger
}

// NewWriter creates a Writer.
func NewWriter(cfg Config) *Writer {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Writer{root: cfg.Root, state: cfg.State, now: cfg.Now, logger: cfg.Logger}
}

// Archive stores the image for id, fetching its body with fetch. Ids that are
// already archived or in flight are a no-op reported as StatusDuplicate.
// Stored metadata for id is consumed once the body is known to be usable,
// whatever happens afterwards.
func (w *Writer) Archive(ctx context.Context, id string, fetch FetchFunc) (Result, error) {
	if err := pathguard.ValidateID(id); err != nil {
		return Result{}, fmt.Errorf("archive: %w", err)
	}
	if !w.state.Begin(id) {
		return Result{Status: StatusDuplicate}, nil
	}

	res, err := w.archive(ctx, id, fetch)
	if err != nil {
		w.state.Release(id)
		return Result{}, err
	}
	w.state.Complete(id)
	return res, nil
}

func (w *Writer) archive(ctx context.Context, id string, fetch FetchFunc) (Result, error) {
	body, err := fetch(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("archive: fetch body %s: %w", id, err)
	}
	if !body.Base64 {
		return Result{}, fmt.Errorf("%w: %s", ErrNotBase64, id)
	}
	data, err := base64.StdEncoding.DecodeString(body.Data)
	if err != nil {
		return Result{}, fmt.Errorf("archive: decode body %s: %w", id, err)
	}
	if len(data) == 0 {
		return Result{}, fmt.Errorf("%w: %s", ErrEmptyBody, id)
	}

	rec := Record{ID: id, CreatedAt: w.now().Unix()}
	if meta, ok := w.state.Take(id); ok {
		rec.Prompt = meta.Prompt
		if !meta.CreatedAt.IsZero() {
			rec.CreatedAt = meta.CreatedAt.Unix()
		}
	}

	prompt := rec.Prompt
	if prompt == "" {
		prompt = "[prompt unknown]"
	}
	w.logger.Info("archive: archiving", "id", id, "prompt", prompt)

	imgPath, err := ImagePath(w.root, rec)
	if err != nil {
		return Result{}, fmt.Errorf("archive: image path %s: %w", id, err)
	}
	recPath, err := RecordPath(w.root, rec)
	if err != nil {
		return Result{}, fmt.Errorf("archive: record path %s: %w", id, err)
	}

	if err := writeFile(imgPath, data); err != nil {
		return Result{}, err
	}
	encoded, err := EncodeRecord(rec)
	if err == nil {
		err = writeFile(recPath, encoded)
	}
	if err != nil {
		// An image without its record would be archived again under another name.
		if rmErr := os.Remove(imgPath); rmErr != nil {
			w.logger.Warn("archive: remove orphaned image", "path", imgPath, "error", rmErr)
		}
		return Result{}, fmt.Errorf("archive: record %s: %w", id, err)
	}

	return Result{Status: StatusArchived, Record: rec, ImagePath: imgPath, RecordPath: recPath}, nil
}

// EncodeRecord renders rec with two-space indentation, no HTML escaping and
// no trailing newline.
func EncodeRecord(rec Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("archive: mkdir %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("archive: write %s: %w", path, err)
	}
	return nil
}

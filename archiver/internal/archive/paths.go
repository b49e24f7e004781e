package archive

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hazyhaar/grokarchiver/pathguard"
)

// Directory names under the archive root.
const (
	ImagesDir   = "images"
	DatabaseDir = "database"
)

// MaxStemLen caps "<id>-<prompt>" before the extension is added.
const MaxStemLen = 240

const truncationMarker = "…"

var promptReplacer = strings.NewReplacer(
	". ", "_",
	", ", "_",
	".", "_",
	",", "_",
	" ", "-",
)

// SanitizePrompt turns a prompt into a file-name fragment: sentence
// punctuation becomes '_', spaces become '-', everything outside
// [A-Za-z0-9_-] is dropped, and one trailing separator is removed.
func SanitizePrompt(prompt string) string {
	s := promptReplacer.Replace(prompt)
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return -1
	}, s)
	if strings.HasSuffix(s, "_") || strings.HasSuffix(s, "-") {
		s = s[:len(s)-1]
	}
	return s
}

// FileStem returns "<id>-<sanitized prompt>", truncated to MaxStemLen bytes
// with a marker when longer.
func FileStem(id, prompt string) string {
	stem := id + "-" + SanitizePrompt(prompt)
	if len(stem) > MaxStemLen {
		return stem[:MaxStemLen] + truncationMarker
	}
	return stem
}

// DateDir returns the "<YYYY>/<M>/<D>" bucket for t in local time, without
// zero padding.
func DateDir(t time.Time) string {
	t = t.Local()
	return fmt.Sprintf("%d/%d/%d", t.Year(), int(t.Month()), t.Day())
}

// ImagePath returns the path of the image file for rec under root.
func ImagePath(root string, rec Record) (string, error) {
	return pathguard.Join(root, ImagesDir, filepath.FromSlash(DateDir(rec.Time())), FileStem(rec.ID, rec.Prompt)+".jpg")
}

// RecordPath returns the path of the sidecar record for rec under root.
func RecordPath(root string, rec Record) (string, error) {
	return pathguard.Join(root, DatabaseDir, filepath.FromSlash(DateDir(rec.Time())), rec.ID+".json")
}

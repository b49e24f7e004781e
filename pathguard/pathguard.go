// Package pathguard validates the identifiers and relative paths that end up
// as file names under the archive root. Media identifiers arrive from the
// network, so nothing derived from them is trusted until it passes here.
package pathguard

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// MaxIDLen caps identifier length. Real media ids are 19-20 digit snowflakes.
const MaxIDLen = 128

// ErrPathTraversal is returned when a joined path escapes its base.
var ErrPathTraversal = errors.New("pathguard: path traversal detected")

// ErrInvalidID is returned for identifiers that cannot be used as a file name.
var ErrInvalidID = errors.New("pathguard: invalid identifier")

// ValidateID rejects identifiers that are empty, too long, dot-only, or that
// contain anything besides ASCII letters, digits, underscore, hyphen and dot.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if len(id) > MaxIDLen {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidID, MaxIDLen)
	}
	if strings.Trim(id, ".") == "" {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	for _, r := range id {
		if !isIDChar(r) {
			return fmt.Errorf("%w: character %q in %q", ErrInvalidID, r, id)
		}
	}
	return nil
}

// Join joins elem onto base and verifies the result stays under base.
func Join(base string, elem ...string) (string, error) {
	cleanBase := filepath.Clean(base)
	joined := filepath.Join(append([]string{cleanBase}, elem...)...)
	if joined == cleanBase {
		return joined, nil
	}
	if !strings.HasPrefix(joined, cleanBase+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return joined, nil
}

func isIDChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}

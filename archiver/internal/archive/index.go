package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/grokarchiver/archiver/internal/state"
)

// LoadIndex walks <root>/database at any depth and adds the id named by every
// "*.json" file to idx. A missing database directory yields no ids. It
// returns the number of ids added.
func LoadIndex(root string, idx *state.Index) (int, error) {
	dir := filepath.Join(root, DatabaseDir)
	added := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		name := d.Name()
		if !strings.HasSuffix(name, ".json") {
			return nil
		}
		if idx.Add(strings.TrimSuffix(name, ".json")) {
			added++
		}
		return nil
	})
	if err != nil {
		return added, fmt.Errorf("archive: scan %s: %w", dir, err)
	}
	return added, nil
}

package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DaySummary aggregates the images stored in one date bucket.
type DaySummary struct {
	Year, Month, Day int
	Images           int
	Bytes            int64
}

// Date returns the bucket as "YYYY-MM-DD".
func (d DaySummary) Date() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Summarize counts the images under <root>/images per date bucket, oldest
// first. Files outside a YYYY/M/D bucket are ignored.
func Summarize(root string) ([]DaySummary, error) {
	dir := filepath.Join(root, ImagesDir)
	byDay := make(map[[3]int]*DaySummary)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if !d.Type().IsRegular() || !strings.HasSuffix(d.Name(), ".jpg") {
			return nil
		}
		rel, err := filepath.Rel(dir, filepath.Dir(path))
		if err != nil {
			return nil
		}
		key, ok := parseDateDir(filepath.ToSlash(rel))
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		s := byDay[key]
		if s == nil {
			s = &DaySummary{Year: key[0], Month: key[1], Day: key[2]}
			byDay[key] = s
		}
		s.Images++
		s.Bytes += info.Size()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive: summarize %s: %w", dir, err)
	}

	out := make([]DaySummary, 0, len(byDay))
	for _, s := range byDay {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.Month != b.Month {
			return a.Month < b.Month
		}
		return a.Day < b.Day
	})
	return out, nil
}

func parseDateDir(rel string) ([3]int, bool) {
	parts := strings.Split(rel, "/")
	if len(parts) != 3 {
		return [3]int{}, false
	}
	var key [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return [3]int{}, false
		}
		key[i] = n
	}
	return key, true
}

// Package loader reads seed URL lists.
package loader

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"urlscan/packages/domain"
)

var ErrInputNotFound = errors.New("input not found")

// LoadURLFile reads one URL per line. Blank lines and lines starting with
// "#" are skipped. A missing file yields ErrInputNotFound.
func LoadURLFile(path string) ([]*domain.URLRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrInputNotFound, path)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	recs, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return recs, nil
}

// Parse reads newline-delimited URLs from r, dropping repeats.
func Parse(r io.Reader) ([]*domain.URLRecord, error) {
	seen := make(map[string]struct{})
	var recs []*domain.URLRecord
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		rec, err := domain.NewURLRecord(line)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, scanner.Err()
}

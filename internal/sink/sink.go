// Package sink adapts a completed transfer's bytes onto the local
// filesystem (or, for a sender, reads the file to be sent off it).
package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileSink accepts a completed receiver-side transfer's bytes.
type FileSink interface {
	Deliver(filename string, data []byte) error
}

// FileSource supplies a sender-side transfer's bytes.
type FileSource interface {
	Read(path string) (filename string, data []byte, err error)
}

// DirSink writes delivered files under Dir, resolving a same-named
// collision by appending a numeric suffix rather than overwriting.
type DirSink struct {
	Dir  string
	Perm os.FileMode
}

// NewDirSink returns a DirSink rooted at dir, creating it if necessary.
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sink: create %s: %w", dir, err)
	}
	return &DirSink{Dir: dir, Perm: 0o644}, nil
}

func (d *DirSink) Deliver(filename string, data []byte) error {
	path := uniquePath(d.Dir, filename)
	if err := os.WriteFile(path, data, d.Perm); err != nil {
		return fmt.Errorf("sink: write %s: %w", path, err)
	}
	return nil
}

// uniquePath returns dir/name, or dir/name (2), dir/name (3), ... if name
// is already taken, so a completed transfer never clobbers an existing
// file of the same name.
func uniquePath(dir, name string) string {
	candidate := filepath.Join(dir, name)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for n := 2; ; n++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, n, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// DirSource reads a file from disk to seed an outbound transfer.
type DirSource struct{}

func (DirSource) Read(path string) (string, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("sink: read %s: %w", path, err)
	}
	return filepath.Base(path), data, nil
}

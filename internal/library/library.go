// Package library exposes the served media directory: listing, substring
// search, and safe opens of the files the server is willing to stream.
package library

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
)

// ExtMarker marks a file as servable. Matching is containment, not suffix,
// so "live.mp3.backup" is still served; existing deployments rely on this.
const ExtMarker = ".mp3"

// ErrInvalidName rejects names that are not a bare filename.
var ErrInvalidName = fmt.Errorf("invalid filename: %w", fs.ErrInvalid)

// Library is a read-only view over one flat media directory.
type Library struct {
	root string
}

// New creates a library over the directory at root. The directory is probed
// lazily; a missing directory surfaces on the first operation.
func New(root string) *Library {
	return &Library{root: root}
}

// Root returns the served directory path.
func (l *Library) Root() string { return l.root }

// List returns the names of all served files: regular files whose name
// contains the extension marker, in directory enumeration order.
func (l *Library) List() ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("read media directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, ent := range entries {
		if !ent.Type().IsRegular() {
			continue
		}
		if strings.Contains(ent.Name(), ExtMarker) {
			names = append(names, ent.Name())
		}
	}
	return names, nil
}

// Search returns the served files whose name contains term. Matching is
// case-sensitive, so every result is also a List result.
func (l *Library) Search(term string) ([]string, error) {
	names, err := l.List()
	if err != nil {
		return nil, err
	}
	return lo.Filter(names, func(name string, _ int) bool {
		return strings.Contains(name, term)
	}), nil
}

// Open opens a served file by its bare name for reading. Names carrying
// path separators or directory references are rejected before touching the
// filesystem.
func (l *Library) Open(name string) (*os.File, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(l.root, name))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

// ValidateName ensures name is a plain filename: not empty, no path
// separators, no directory references.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return ErrInvalidName
	}
	if strings.ContainsAny(name, "/\\") {
		return ErrInvalidName
	}
	return nil
}

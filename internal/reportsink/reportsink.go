// Package reportsink stores rendered quality reports.
package reportsink

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by Get for an unknown report.
var ErrNotFound = errors.New("report not found")

// Sink receives report documents.
type Sink interface {
	Put(ctx context.Context, name, contentType string, data []byte) error
}

// File writes reports under a directory.
type File struct {
	dir string
}

// NewFile creates the directory if needed.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	return &File{dir: dir}, nil
}

// Dir returns the report directory.
func (f *File) Dir() string { return f.dir }

// Put writes data atomically through a temp file and rename.
func (f *File) Put(_ context.Context, name, _ string, data []byte) error {
	path, err := f.path(name)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.dir, ".report-*")
	if err != nil {
		return fmt.Errorf("create temp report: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write report %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close report %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("store report %s: %w", name, err)
	}
	return nil
}

// Get reads a stored report.
func (f *File) Get(_ context.Context, name string) ([]byte, error) {
	path, err := f.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return data, err
}

func (f *File) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid report name %q", name)
	}
	return filepath.Join(f.dir, name), nil
}

// Multi fans a report out to several sinks. Every sink is tried; the
// errors are joined.
type Multi []Sink

// Put implements Sink.
func (m Multi) Put(ctx context.Context, name, contentType string, data []byte) error {
	var errs []error
	for _, s := range m {
		if err := s.Put(ctx, name, contentType, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Get returns the report from the first sink that can read it.
func (m Multi) Get(ctx context.Context, name string) ([]byte, error) {
	for _, s := range m {
		r, ok := s.(interface {
			Get(ctx context.Context, name string) ([]byte, error)
		})
		if !ok {
			continue
		}
		data, err := r.Get(ctx, name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return data, err
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

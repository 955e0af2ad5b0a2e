// Package gallery implements record-set storage. A gallery is addressed by
// a template.File whose suffix selects the format; reads and writes happen
// in blocks so arbitrarily large sets can be streamed.
package gallery

import (
	"context"
	"fmt"
	"os"

	"github.com/cognicore/openbr/pkg/br/brerr"
	"github.com/cognicore/openbr/pkg/br/template"
)

// DefaultBlockSize is the number of templates per block when the gallery
// file carries no blockSize argument.
const DefaultBlockSize = 1000

// Gallery is a readable and writable record set.
type Gallery interface {
	// ReadBlock returns the next block and whether more blocks follow.
	ReadBlock(ctx context.Context) (block template.List, more bool, err error)
	// WriteBlock appends templates. The first write truncates the set
	// unless the gallery file carries the append flag.
	WriteBlock(ctx context.Context, block template.List) error
	// TotalSize is the number of templates currently stored.
	TotalSize(ctx context.Context) (int64, error)
	Close() error
}

// MetadataReader is implemented by galleries that can list identities
// without decoding payloads.
type MetadataReader interface {
	Files(ctx context.Context) (template.FileList, error)
}

// Open selects a gallery implementation by suffix.
func Open(f template.File) (Gallery, error) {
	if f.Name == "" {
		return nil, fmt.Errorf("%w: empty gallery name", brerr.ErrInvalidArgument)
	}
	blockSize := f.GetInt("blockSize", DefaultBlockSize)
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}

	switch f.Suffix() {
	case "mem":
		return openMemory(f, blockSize), nil
	case "gal", "template":
		return openBinary(f, blockSize), nil
	case "db":
		return openSQLite(f, blockSize)
	case "txt":
		return openList(f, blockSize), nil
	}

	if info, err := os.Stat(f.Name); err == nil && info.IsDir() {
		return openDirectory(f, blockSize)
	}
	return &single{file: f}, nil
}

// IsEnrolled reports whether the suffix denotes a gallery of already
// enrolled templates.
func IsEnrolled(f template.File) bool {
	switch f.Suffix() {
	case "gal", "template", "mem", "db":
		return true
	}
	return false
}

// Exists reports whether the gallery already holds data.
func Exists(f template.File) bool {
	if f.Suffix() == "mem" {
		return memorySize(f.Name) > 0
	}
	return f.Exists()
}

// Read loads every template of the gallery.
func Read(ctx context.Context, f template.File) (template.List, error) {
	g, err := Open(f)
	if err != nil {
		return nil, err
	}
	defer g.Close()

	var out template.List
	for {
		block, more, err := g.ReadBlock(ctx)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		out = append(out, block...)
		if !more {
			return out, nil
		}
	}
}

// Files loads the identities of every template of the gallery.
func Files(ctx context.Context, f template.File) (template.FileList, error) {
	g, err := Open(f)
	if err != nil {
		return nil, err
	}
	defer g.Close()

	if mr, ok := g.(MetadataReader); ok {
		return mr.Files(ctx)
	}

	var out template.FileList
	for {
		block, more, err := g.ReadBlock(ctx)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		out = append(out, block.Files()...)
		if !more {
			return out, nil
		}
	}
}

// Size returns the template count of the gallery.
func Size(ctx context.Context, f template.File) (int64, error) {
	g, err := Open(f)
	if err != nil {
		return 0, err
	}
	defer g.Close()
	return g.TotalSize(ctx)
}

// Write replaces (or, with the append flag, extends) the gallery's contents.
func Write(ctx context.Context, f template.File, list template.List) error {
	g, err := Open(f)
	if err != nil {
		return err
	}
	if err := g.WriteBlock(ctx, list); err != nil {
		g.Close()
		return fmt.Errorf("write %s: %w", f.Name, err)
	}
	return g.Close()
}

// single is a gallery of exactly one record: the file itself.
type single struct {
	file template.File
	done bool
}

func (s *single) ReadBlock(ctx context.Context) (template.List, bool, error) {
	if s.done {
		return nil, false, nil
	}
	s.done = true
	return template.List{template.New(s.file)}, false, nil
}

func (s *single) WriteBlock(ctx context.Context, block template.List) error {
	return fmt.Errorf("%w: cannot write templates to %s", brerr.ErrUnrecognizedFileType, s.file.Name)
}

func (s *single) TotalSize(ctx context.Context) (int64, error) { return 1, nil }

func (s *single) Close() error { return nil }

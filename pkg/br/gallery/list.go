package gallery

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cognicore/openbr/pkg/br/brerr"
	"github.com/cognicore/openbr/pkg/br/template"
)

// listGallery is a text file with one record descriptor per line. Relative
// names resolve against the list's directory.
type listGallery struct {
	file      template.File
	blockSize int
	appending bool
	written   bool
	items     template.List
	loaded    bool
	pos       int
}

func openList(f template.File, blockSize int) *listGallery {
	return &listGallery{file: f, blockSize: blockSize, appending: f.GetBool("append", false)}
}

func (g *listGallery) load() error {
	if g.loaded {
		return nil
	}
	fh, err := os.Open(g.file.Name)
	if err != nil {
		return err
	}
	defer fh.Close()

	dir := filepath.Dir(g.file.Name)
	scanner := bufio.NewScanner(fh)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		f := template.ParseFile(line)
		if !filepath.IsAbs(f.Name) {
			f.Name = filepath.Join(dir, f.Name)
		}
		g.items = append(g.items, template.New(f))
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	g.loaded = true
	return nil
}

func (g *listGallery) ReadBlock(ctx context.Context) (template.List, bool, error) {
	if err := g.load(); err != nil {
		return nil, false, err
	}
	return nextBlock(g.items, &g.pos, g.blockSize)
}

func (g *listGallery) WriteBlock(ctx context.Context, block template.List) error {
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if !g.written && !g.appending {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	fh, err := os.OpenFile(g.file.Name, flags, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(fh)
	for _, t := range block {
		fmt.Fprintln(w, t.File.Flat())
	}
	if err := w.Flush(); err != nil {
		fh.Close()
		return err
	}
	g.written = true
	return fh.Close()
}

func (g *listGallery) TotalSize(ctx context.Context) (int64, error) {
	if err := g.load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	return int64(len(g.items)), nil
}

func (g *listGallery) Close() error { return nil }

// dirGallery enumerates the regular, non-hidden files of a directory in
// lexical order.
type dirGallery struct {
	path      string
	blockSize int
	items     template.List
	pos       int
}

func openDirectory(f template.File, blockSize int) (*dirGallery, error) {
	entries, err := os.ReadDir(f.Name)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	g := &dirGallery{path: f.Name, blockSize: blockSize}
	for _, name := range names {
		g.items = append(g.items, template.New(template.File{Name: filepath.Join(f.Name, name)}))
	}
	return g, nil
}

func (g *dirGallery) ReadBlock(ctx context.Context) (template.List, bool, error) {
	return nextBlock(g.items, &g.pos, g.blockSize)
}

func (g *dirGallery) WriteBlock(ctx context.Context, block template.List) error {
	return fmt.Errorf("%w: cannot write templates to directory %s", brerr.ErrUnrecognizedFileType, g.path)
}

func (g *dirGallery) TotalSize(ctx context.Context) (int64, error) {
	return int64(len(g.items)), nil
}

func (g *dirGallery) Close() error { return nil }

func nextBlock(items template.List, pos *int, blockSize int) (template.List, bool, error) {
	end := *pos + blockSize
	if end > len(items) {
		end = len(items)
	}
	block := items[*pos:end].Clone()
	*pos = end
	return block, *pos < len(items), nil
}

// Package br is the entry point of the orchestration core. It keeps a
// process-wide algorithm manager and exposes the operations the command
// line tool offers: train, enroll, project, compare, pairwise compare,
// deduplicate, convert and cat.
package br

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/cognicore/openbr/pkg/br/algorithm"
	"github.com/cognicore/openbr/pkg/br/brerr"
	"github.com/cognicore/openbr/pkg/br/config"
	"github.com/cognicore/openbr/pkg/br/gallery"
	"github.com/cognicore/openbr/pkg/br/logger"
	"github.com/cognicore/openbr/pkg/br/output"
	"github.com/cognicore/openbr/pkg/br/pipeline"
	"github.com/cognicore/openbr/pkg/br/template"
)

var (
	mu      sync.RWMutex
	manager = algorithm.NewManager(config.Default())
	log     logger.Logger = logger.NewNoopLogger()
)

// Configure replaces the default manager. Cores built by the previous
// manager are released.
func Configure(cfg config.Config, l logger.Logger, opts ...algorithm.Option) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if l == nil {
		l = logger.NewNoopLogger()
	}
	opts = append([]algorithm.Option{algorithm.WithLogger(l)}, opts...)

	mu.Lock()
	old := manager
	manager = algorithm.NewManager(cfg, opts...)
	log = l
	mu.Unlock()
	return old.Close()
}

// Manager returns the default manager.
func Manager() *algorithm.Manager {
	mu.RLock()
	defer mu.RUnlock()
	return manager
}

// Shutdown releases every algorithm the default manager built.
func Shutdown() error {
	return Manager().Close()
}

func currentLogger() logger.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

func core(desc string) (*algorithm.Core, error) {
	return Manager().Get(desc)
}

// Train fits algorithm on input and stores it to model when model is not
// empty.
func Train(ctx context.Context, desc, input, model string) error {
	return Manager().Train(ctx, desc, template.ParseFile(input), template.ParseFile(model))
}

// Enroll enrolls input into gallery and returns the identities written. An
// empty gallery enrolls into memory.
func Enroll(ctx context.Context, desc, input, gal string) (template.FileList, error) {
	c, err := core(desc)
	if err != nil {
		return nil, err
	}
	return c.Enroll(ctx, template.ParseFile(input), template.ParseFile(gal))
}

// EnrollList enrolls records in memory.
func EnrollList(ctx context.Context, desc string, records template.List) (template.List, error) {
	c, err := core(desc)
	if err != nil {
		return nil, err
	}
	return c.EnrollList(ctx, records)
}

// Project runs the unsimplified enrollment stage from input to output.
func Project(ctx context.Context, desc, input, out string) error {
	c, err := core(desc)
	if err != nil {
		return err
	}
	return c.Project(ctx, template.ParseFile(input), template.ParseFile(out))
}

// Compare writes the target by query score matrix to out.
func Compare(ctx context.Context, desc, target, query, out string) error {
	c, err := core(desc)
	if err != nil {
		return err
	}
	return c.Compare(ctx, template.ParseFile(target), template.ParseFile(query), template.ParseFile(out))
}

// PairwiseCompare scores target i against query i.
func PairwiseCompare(ctx context.Context, desc, target, query, out string) error {
	c, err := core(desc)
	if err != nil {
		return err
	}
	return c.PairwiseCompare(ctx, template.ParseFile(target), template.ParseFile(query), template.ParseFile(out))
}

// Deduplicate copies input to out without near-duplicate records.
func Deduplicate(ctx context.Context, desc, input, out, threshold string) error {
	t, err := strconv.ParseFloat(threshold, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", brerr.ErrInvalidThreshold, threshold)
	}
	c, err := core(desc)
	if err != nil {
		return err
	}
	return c.Deduplicate(ctx, template.ParseFile(input), template.ParseFile(out), t)
}

// IsClassifier reports whether desc only enrolls.
func IsClassifier(desc string) (bool, error) {
	c, err := core(desc)
	if err != nil {
		return false, err
	}
	return c.IsClassifier(), nil
}

// ServeWorker runs a worker process for the default manager.
func ServeWorker(ctx context.Context, r io.Reader, w io.Writer) error {
	return pipeline.ServeWorker(ctx, r, w, Manager().Builder())
}

// Convert rewrites input as out. kind is "Gallery" for record sets or
// "Output" for .mtx score matrices.
func Convert(ctx context.Context, kind, input, out string) error {
	in, dst := template.ParseFile(input), template.ParseFile(out)
	currentLogger().Info("converting", zap.String("kind", kind), zap.String("input", in.Flat()), zap.String("output", dst.Flat()))

	switch kind {
	case "Gallery":
		return copyGalleries(ctx, []template.File{in}, dst)
	case "Output":
		return convertOutput(ctx, in, dst)
	}
	return fmt.Errorf("%w: cannot convert %q", brerr.ErrUnrecognizedFileType, kind)
}

// convertOutput rewrites an .mtx matrix into any output. A single row or
// column whose length matches both galleries is a pairwise result and
// lands on the diagonal.
func convertOutput(ctx context.Context, in, dst template.File) error {
	m, err := output.ReadMTX(in.Name)
	if err != nil {
		return err
	}
	target, err := gallery.Files(ctx, template.ParseFile(m.TargetGallery))
	if err != nil {
		return err
	}
	query, err := gallery.Files(ctx, template.ParseFile(m.QueryGallery))
	if err != nil {
		return err
	}

	full := m.Rows == len(target) && m.Cols == len(query)
	pairwise := len(target) == len(query) &&
		((m.Cols == 1 && m.Rows == len(target)) || (m.Rows == 1 && m.Cols == len(target)))
	if !full && !pairwise {
		return fmt.Errorf("%w: %s is %dx%d but %s has %d records and %s has %d",
			brerr.ErrDimensionMismatch, in.Name, m.Rows, m.Cols,
			m.TargetGallery, len(target), m.QueryGallery, len(query))
	}

	sink, err := output.Make(dst, target, query)
	if err != nil {
		return err
	}
	sink.SetBlock(0, 0)
	for i, row := range m.Scores {
		for j, score := range row {
			switch {
			case full:
				err = sink.SetRelative(score, i, j)
			default:
				k := i + j
				err = sink.SetRelative(score, k, k)
			}
			if err != nil {
				_ = output.Abort(sink)
				return err
			}
		}
	}
	return sink.Close()
}

// Cat concatenates galleries into out, which must not be one of them.
func Cat(ctx context.Context, inputs []string, out string) error {
	dst := template.ParseFile(out)
	files := make([]template.File, len(inputs))
	for i, input := range inputs {
		files[i] = template.ParseFile(input)
		if files[i].Name == dst.Name {
			return fmt.Errorf("%w: output %s is also an input", brerr.ErrInvalidArgument, dst.Name)
		}
	}
	return copyGalleries(ctx, files, dst)
}

func copyGalleries(ctx context.Context, inputs []template.File, dst template.File) error {
	w, err := gallery.Open(dst)
	if err != nil {
		return err
	}
	for _, in := range inputs {
		if err := copyBlocks(ctx, in, w); err != nil {
			_ = w.Close()
			return err
		}
	}
	return w.Close()
}

func copyBlocks(ctx context.Context, in template.File, w gallery.Gallery) error {
	r, err := gallery.Open(in)
	if err != nil {
		return err
	}
	defer r.Close()
	for {
		block, more, err := r.ReadBlock(ctx)
		if err != nil {
			return fmt.Errorf("read %s: %w", in.Name, err)
		}
		if len(block) > 0 {
			if err := w.WriteBlock(ctx, block); err != nil {
				return err
			}
		}
		if !more {
			return nil
		}
	}
}

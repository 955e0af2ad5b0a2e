// Package plugin defines the capabilities the orchestration core consumes
// from pluggable stages and distances, the name-keyed factory that builds
// them from descriptions, and the serialization stream they persist to.
package plugin

import (
	"context"
	"io"

	"github.com/cognicore/openbr/pkg/br/template"
)

// Stage transforms batches of templates: feature extraction, scoring and
// I/O are all stages.
type Stage interface {
	// Description is the text the factory can rebuild the stage from.
	Description() string
	// Process consumes a batch and produces zero or more templates.
	Process(ctx context.Context, in template.List) (template.List, error)
	// Train fits the stage's internal state on a batch.
	Train(ctx context.Context, data template.List) error
	// Store and Load persist the trained state, not the description.
	Store(s *Stream) error
	Load(s *Stream) error
}

// Simplifier is implemented by stages that can replace themselves with a
// cheaper equivalent for inference. fresh reports whether the replacement
// is a new instance the caller now owns; when false the replacement is an
// alias owned elsewhere.
type Simplifier interface {
	Simplify() (replacement Stage, fresh bool)
}

// Configurable stages accept runtime configuration. applied reports
// whether the key was recognized.
type Configurable interface {
	SetConfig(key, value string) (applied bool, err error)
}

// Parent is implemented by stages wrapping other stages.
type Parent interface {
	Children() []Stage
}

// Finisher is implemented by stages holding buffered output that must be
// flushed once a stream is exhausted.
type Finisher interface {
	Finish(ctx context.Context) error
}

// Noop marks stages that pass their input through untouched.
type Noop interface {
	Noop() bool
}

// Distance scores a pair of enrolled templates. Higher means more similar.
type Distance interface {
	Description() string
	Compare(a, b template.Template) (float64, error)
	Train(ctx context.Context, data template.List) error
	Store(s *Stream) error
	Load(s *Stream) error
}

// GalleryComparer is the escape hatch for distances that operate directly
// on gallery files. handled=false falls through to the regular pipeline.
type GalleryComparer interface {
	CompareGalleries(ctx context.Context, target, query, output template.File) (handled bool, err error)
}

// Base carries a stage's name and arguments and supplies no-op Train,
// Store and Load.
type Base struct {
	name string
	args Args
}

// NewBase copies args so later SetArg calls stay local to the stage.
func NewBase(name string, args Args) Base {
	if args == nil {
		args = Args{}
	}
	return Base{name: name, args: args.clone()}
}

func (b *Base) Name() string { return b.name }

func (b *Base) Args() Args { return b.args }

func (b *Base) Description() string {
	if len(b.args) == 0 {
		return b.name
	}
	return b.name + "(" + b.args.Encode() + ")"
}

// SetArg records a configuration change so Description reflects it.
func (b *Base) SetArg(key, value string) {
	if b.args == nil {
		b.args = Args{}
	}
	b.args[key] = value
}

func (b *Base) Train(ctx context.Context, data template.List) error { return nil }

func (b *Base) Store(s *Stream) error { return nil }

func (b *Base) Load(s *Stream) error { return nil }

// Simplify asks s for a simplified replacement.
func Simplify(s Stage) (Stage, bool) {
	if sim, ok := s.(Simplifier); ok {
		return sim.Simplify()
	}
	return s, false
}

// SetConfig applies key=value to s and every nested stage.
func SetConfig(s Stage, key, value string) (bool, error) {
	applied := false
	if c, ok := s.(Configurable); ok {
		ok, err := c.SetConfig(key, value)
		if err != nil {
			return applied, err
		}
		applied = applied || ok
	}
	if p, ok := s.(Parent); ok {
		for _, child := range p.Children() {
			ok, err := SetConfig(child, key, value)
			if err != nil {
				return applied, err
			}
			applied = applied || ok
		}
	}
	return applied, nil
}

// Finish flushes s. A Finisher is trusted to finish its own children.
func Finish(ctx context.Context, s Stage) error {
	if f, ok := s.(Finisher); ok {
		return f.Finish(ctx)
	}
	if p, ok := s.(Parent); ok {
		for _, child := range p.Children() {
			if err := Finish(ctx, child); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close releases s if it holds resources.
func Close(s Stage) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// IsNoop reports whether s is a pass-through.
func IsNoop(s Stage) bool {
	n, ok := s.(Noop)
	return ok && n.Noop()
}

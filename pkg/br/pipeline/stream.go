package pipeline

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"

	"github.com/cognicore/openbr/pkg/br/gallery"
	"github.com/cognicore/openbr/pkg/br/plugin"
	"github.com/cognicore/openbr/pkg/br/template"
)

// Mode selects how a Stream feeds its stage.
type Mode int

const (
	// DistributeFrames processes every template of a batch as an
	// independent unit on a bounded goroutine pool. Output order matches
	// input order.
	DistributeFrames Mode = iota
	// StreamGallery treats every input template as a gallery and feeds its
	// blocks to the stage strictly in order, then finishes the stage.
	StreamGallery
)

func (m Mode) String() string {
	switch m {
	case DistributeFrames:
		return "DistributeFrames"
	case StreamGallery:
		return "StreamGallery"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Stream wraps a stage with an execution strategy. It is transparent to
// serialization: its description and state are the wrapped stage's.
type Stream struct {
	inner       plugin.Stage
	mode        Mode
	parallelism int
	blockSize   int
}

// StreamOption configures a Stream.
type StreamOption func(*Stream)

// WithParallelism bounds the DistributeFrames pool.
func WithParallelism(n int) StreamOption {
	return func(s *Stream) { s.parallelism = n }
}

// WithBlockSize sets the block size of galleries opened by StreamGallery
// when they do not carry one.
func WithBlockSize(n int) StreamOption {
	return func(s *Stream) { s.blockSize = n }
}

func NewStream(inner plugin.Stage, mode Mode, opts ...StreamOption) *Stream {
	s := &Stream{inner: inner, mode: mode, parallelism: 1, blockSize: gallery.DefaultBlockSize}
	for _, opt := range opts {
		opt(s)
	}
	if s.parallelism < 1 {
		s.parallelism = 1
	}
	return s
}

func (s *Stream) Description() string { return s.inner.Description() }

func (s *Stream) Process(ctx context.Context, in template.List) (template.List, error) {
	if s.mode == StreamGallery {
		return s.streamGalleries(ctx, in)
	}
	return s.distribute(ctx, in)
}

func (s *Stream) distribute(ctx context.Context, in template.List) (template.List, error) {
	if s.parallelism == 1 || len(in) <= 1 {
		return s.inner.Process(ctx, in)
	}

	results := make([]template.List, len(in))
	p := pool.New().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(s.parallelism)
	for i := range in {
		p.Go(func(ctx context.Context) error {
			out, err := s.inner.Process(ctx, in[i:i+1])
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	var out template.List
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

func (s *Stream) streamGalleries(ctx context.Context, in template.List) (template.List, error) {
	var out template.List
	for _, t := range in {
		f := t.File
		if !f.Contains("blockSize") {
			f = f.With("blockSize", fmt.Sprint(s.blockSize))
		}
		g, err := gallery.Open(f)
		if err != nil {
			return nil, err
		}
		for {
			if err := ctx.Err(); err != nil {
				g.Close()
				return nil, err
			}
			block, more, err := g.ReadBlock(ctx)
			if err != nil {
				g.Close()
				return nil, fmt.Errorf("read %s: %w", f.Name, err)
			}
			if len(block) > 0 {
				processed, err := s.inner.Process(ctx, block)
				if err != nil {
					g.Close()
					return nil, err
				}
				out = append(out, processed...)
			}
			if !more {
				break
			}
		}
		if err := g.Close(); err != nil {
			return nil, err
		}
	}
	if err := plugin.Finish(ctx, s.inner); err != nil {
		return nil, err
	}
	return out, nil
}

// Train fits the wrapped stage. StreamGallery reads every input gallery
// first.
func (s *Stream) Train(ctx context.Context, data template.List) error {
	if s.mode != StreamGallery {
		return s.inner.Train(ctx, data)
	}
	var all template.List
	for _, t := range data {
		l, err := gallery.Read(ctx, t.File)
		if err != nil {
			return err
		}
		all = append(all, l...)
	}
	return s.inner.Train(ctx, all)
}

func (s *Stream) Store(st *plugin.Stream) error { return s.inner.Store(st) }

func (s *Stream) Load(st *plugin.Stream) error { return s.inner.Load(st) }

func (s *Stream) Children() []plugin.Stage { return []plugin.Stage{s.inner} }

// Finish is a no-op for StreamGallery, which finishes its stage itself.
func (s *Stream) Finish(ctx context.Context) error {
	if s.mode == StreamGallery {
		return nil
	}
	return plugin.Finish(ctx, s.inner)
}

func (s *Stream) Close() error { return plugin.Close(s.inner) }

package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/cognicore/openbr/pkg/br/brerr"
	"github.com/cognicore/openbr/pkg/br/gallery"
	"github.com/cognicore/openbr/pkg/br/output"
	"github.com/cognicore/openbr/pkg/br/plugin"
	"github.com/cognicore/openbr/pkg/br/template"
)

// GalleryOutput writes every block it sees to a gallery and passes the
// block on. The gallery is opened on the first block and closed by Finish.
type GalleryOutput struct {
	plugin.Base

	mu      sync.Mutex
	file    template.File
	g       gallery.Gallery
	written template.FileList
}

func NewGalleryOutput(f template.File) *GalleryOutput {
	return &GalleryOutput{Base: plugin.NewBase("GalleryOutput", nil), file: f}
}

func (s *GalleryOutput) Process(ctx context.Context, in template.List) (template.List, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.g == nil {
		g, err := gallery.Open(s.file)
		if err != nil {
			return nil, err
		}
		s.g = g
	}
	if err := s.g.WriteBlock(ctx, in); err != nil {
		return nil, fmt.Errorf("write %s: %w", s.file.Name, err)
	}
	s.written = append(s.written, in.Files()...)
	return in, nil
}

// Written lists the identities of every template written so far.
func (s *GalleryOutput) Written() template.FileList {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(template.FileList(nil), s.written...)
}

func (s *GalleryOutput) Finish(ctx context.Context) error {
	return s.Close()
}

func (s *GalleryOutput) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.g == nil {
		return nil
	}
	err := s.g.Close()
	s.g = nil
	return err
}

// OutputStage writes score rows into an output in canonical orientation.
// Each incoming template is one streamed record whose features are its
// scores against the resident records. When transposed the streamed records
// are queries, so row i lands in column i.
type OutputStage struct {
	plugin.Base

	mu        sync.Mutex
	out       output.Output
	streamed  int
	resident  int
	transpose bool
	next      int
}

// NewOutputStage expects streamed rows of resident scores each.
func NewOutputStage(out output.Output, streamed, resident int, transpose bool) *OutputStage {
	out.SetBlock(0, 0)
	return &OutputStage{
		Base:      plugin.NewBase("OutputStage", nil),
		out:       out,
		streamed:  streamed,
		resident:  resident,
		transpose: transpose,
	}
}

func (s *OutputStage) Process(ctx context.Context, in template.List) (template.List, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range in {
		if s.next >= s.streamed {
			return nil, fmt.Errorf("%w: more than the %d expected score rows (at %s)", brerr.ErrDimensionMismatch, s.streamed, t.File.Name)
		}
		if len(t.Features) != s.resident {
			return nil, fmt.Errorf("%w: %s has %d scores, expected %d", brerr.ErrDimensionMismatch, t.File.Name, len(t.Features), s.resident)
		}
		for j, score := range t.Features {
			var err error
			if s.transpose {
				err = s.out.SetRelative(score, j, s.next)
			} else {
				err = s.out.SetRelative(score, s.next, j)
			}
			if err != nil {
				return nil, err
			}
		}
		s.next++
	}
	return in, nil
}

// Finish checks that every expected row arrived.
func (s *OutputStage) Finish(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next != s.streamed {
		return fmt.Errorf("%w: %d score rows written, expected %d", brerr.ErrDimensionMismatch, s.next, s.streamed)
	}
	return nil
}

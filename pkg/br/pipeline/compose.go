// Package pipeline assembles and drives throwaway execution pipelines:
// gallery streaming, frame distribution across goroutines or worker
// processes, output writing and progress reporting.
package pipeline

import (
	"context"

	"github.com/cognicore/openbr/pkg/br/plugin"
	"github.com/cognicore/openbr/pkg/br/template"
)

// Compose chains stages sequentially, flattening nested pipes. Nil stages
// are skipped. The pipe owns every stage passed in except those wrapped
// with plugin.Borrowed.
func Compose(stages ...plugin.Stage) *plugin.Pipe {
	var flat []plugin.Stage
	for _, s := range stages {
		if p, ok := s.(*plugin.Pipe); ok {
			flat = append(flat, p.Children()...)
			continue
		}
		if s != nil {
			flat = append(flat, s)
		}
	}
	return plugin.NewPipe(flat...)
}

// Discard terminates a pipeline, dropping everything it receives.
type Discard struct{ plugin.Base }

func NewDiscard() *Discard {
	return &Discard{Base: plugin.NewBase("Discard", nil)}
}

func (d *Discard) Process(ctx context.Context, in template.List) (template.List, error) {
	return nil, nil
}

// FileExclusion drops templates whose name is already present in a
// gallery, so appending never duplicates a record.
type FileExclusion struct {
	plugin.Base
	exclude map[string]struct{}
}

func NewFileExclusion(existing template.FileList) *FileExclusion {
	exclude := make(map[string]struct{}, len(existing))
	for _, f := range existing {
		exclude[f.Name] = struct{}{}
	}
	return &FileExclusion{Base: plugin.NewBase("FileExclusion", nil), exclude: exclude}
}

func (s *FileExclusion) Process(ctx context.Context, in template.List) (template.List, error) {
	out := make(template.List, 0, len(in))
	for _, t := range in {
		if _, skip := s.exclude[t.File.Name]; !skip {
			out = append(out, t)
		}
	}
	return out, nil
}

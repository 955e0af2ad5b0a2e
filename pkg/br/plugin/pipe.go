package plugin

import (
	"context"
	"errors"
	"strings"

	"github.com/cognicore/openbr/pkg/br/template"
)

// Pipe feeds each batch through its stages in order.
// Closing a pipe closes every stage it holds except Borrowed ones.
type Pipe struct {
	stages []Stage
}

// NewPipe composes stages sequentially; nil stages are skipped.
func NewPipe(stages ...Stage) *Pipe {
	p := &Pipe{}
	for _, s := range stages {
		if s != nil {
			p.stages = append(p.stages, s)
		}
	}
	return p
}

func (p *Pipe) Description() string {
	parts := make([]string, len(p.stages))
	for i, s := range p.stages {
		parts[i] = s.Description()
	}
	return strings.Join(parts, "+")
}

func (p *Pipe) Process(ctx context.Context, in template.List) (template.List, error) {
	data := in
	for _, s := range p.stages {
		if len(data) == 0 {
			break
		}
		out, err := s.Process(ctx, data)
		if err != nil {
			return nil, err
		}
		data = out
	}
	return data, nil
}

// Train fits each stage on the output of the stages before it.
func (p *Pipe) Train(ctx context.Context, data template.List) error {
	for i, s := range p.stages {
		if err := s.Train(ctx, data); err != nil {
			return err
		}
		if i == len(p.stages)-1 {
			break
		}
		out, err := s.Process(ctx, data)
		if err != nil {
			return err
		}
		data = out
	}
	return nil
}

func (p *Pipe) Store(s *Stream) error {
	for _, st := range p.stages {
		if err := st.Store(s); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipe) Load(s *Stream) error {
	for _, st := range p.stages {
		if err := st.Load(s); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipe) Children() []Stage { return p.stages }

// Simplify drops pass-through stages and simplifies the rest. A new pipe
// only borrows the stages it shares with p, which keeps ownership with p.
func (p *Pipe) Simplify() (Stage, bool) {
	var (
		kept    []Stage
		owned   []bool
		changed bool
	)
	for _, s := range p.stages {
		if IsNoop(s) {
			changed = true
			continue
		}
		replacement, fresh := Simplify(s)
		kept = append(kept, replacement)
		owned = append(owned, fresh)
		changed = changed || fresh
	}

	if !changed {
		return p, false
	}
	if len(kept) == 1 {
		return kept[0], owned[0]
	}

	out := &Pipe{stages: make([]Stage, len(kept))}
	for i, s := range kept {
		if owned[i] {
			out.stages[i] = s
		} else {
			out.stages[i] = Borrowed(s)
		}
	}
	return out, true
}

func (p *Pipe) Noop() bool {
	for _, s := range p.stages {
		if !IsNoop(s) {
			return false
		}
	}
	return true
}

func (p *Pipe) Close() error {
	var errs []error
	for _, s := range p.stages {
		if err := Close(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

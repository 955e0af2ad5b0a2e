package plugin

import (
	"context"

	"github.com/cognicore/openbr/pkg/br/template"
)

// Handle records whether its holder owns the stage (must release it) or
// borrows it from an owner kept alive elsewhere.
type Handle struct {
	stage Stage
	owned bool
}

// Own wraps a stage the holder is responsible for releasing.
func Own(s Stage) Handle { return Handle{stage: s, owned: true} }

// Borrow wraps a stage owned by someone else.
func Borrow(s Stage) Handle { return Handle{stage: s} }

// SimplifyHandle simplifies s and wraps the result with the ownership the
// simplification implies.
func SimplifyHandle(s Stage) Handle {
	replacement, fresh := Simplify(s)
	if fresh {
		return Own(replacement)
	}
	return Borrow(replacement)
}

func (h Handle) Stage() Stage { return h.stage }

func (h Handle) Owned() bool { return h.owned }

func (h Handle) IsNull() bool { return h.stage == nil }

// Release closes the stage only when owned.
func (h Handle) Release() error {
	if !h.owned || h.stage == nil {
		return nil
	}
	return Close(h.stage)
}

// Borrowed returns a view of s that composition will never close. Use it
// for long-lived shared stages that must outlive a throwaway pipeline.
func Borrowed(s Stage) Stage {
	if b, ok := s.(*borrowed); ok {
		return b
	}
	return &borrowed{inner: s}
}

type borrowed struct {
	inner Stage
}

func (b *borrowed) Description() string { return b.inner.Description() }

func (b *borrowed) Process(ctx context.Context, in template.List) (template.List, error) {
	return b.inner.Process(ctx, in)
}

func (b *borrowed) Train(ctx context.Context, data template.List) error {
	return b.inner.Train(ctx, data)
}

func (b *borrowed) Store(s *Stream) error { return b.inner.Store(s) }

func (b *borrowed) Load(s *Stream) error { return b.inner.Load(s) }

// Children exposes the inner stage to SetConfig and Finish, but not Close.
func (b *borrowed) Children() []Stage { return []Stage{b.inner} }

func (b *borrowed) Noop() bool { return IsNoop(b.inner) }

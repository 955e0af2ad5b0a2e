// Package distance provides the built-in similarity measures. Every measure
// returns a similarity: higher scores mean closer templates.
package distance

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/cognicore/openbr/pkg/br/brerr"
	"github.com/cognicore/openbr/pkg/br/output"
	"github.com/cognicore/openbr/pkg/br/plugin"
	"github.com/cognicore/openbr/pkg/br/template"
)

func init() {
	register := func(name string, score func(a, b []float64) float64) {
		plugin.RegisterDistance(name, func(args plugin.Args) (plugin.Distance, error) {
			return &metric{Base: plugin.NewBase(name, args), score: score}, nil
		})
	}
	register("L1", negated(1))
	register("Manhattan", negated(1))
	register("L2", negated(2))
	register("Euclidean", negated(2))
	register("Cosine", cosine)
	register("Dot", floats.Dot)
}

// metric adapts a stateless vector score to plugin.Distance.
type metric struct {
	plugin.Base
	score func(a, b []float64) float64
}

func (m *metric) Compare(a, b template.Template) (float64, error) {
	if len(a.Features) != len(b.Features) {
		return 0, fmt.Errorf("%w: %s compares %d against %d features (%s, %s)",
			brerr.ErrDimensionMismatch, m.Description(), len(a.Features), len(b.Features), a.File.Name, b.File.Name)
	}
	return m.score(a.Features, b.Features), nil
}

func negated(norm float64) func(a, b []float64) float64 {
	return func(a, b []float64) float64 {
		return -floats.Distance(a, b, norm)
	}
}

func cosine(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}

// CompareLists scores every target against every query into out, in
// canonical orientation.
func CompareLists(ctx context.Context, d plugin.Distance, target, query template.List, out output.Output) error {
	out.SetBlock(0, 0)
	for i := range target {
		if err := ctx.Err(); err != nil {
			return err
		}
		for j := range query {
			score, err := d.Compare(target[i], query[j])
			if err != nil {
				return err
			}
			if math.IsNaN(score) {
				score = math.Inf(-1)
			}
			if err := out.SetRelative(score, i, j); err != nil {
				return err
			}
		}
	}
	return nil
}

package distance

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/cognicore/openbr/pkg/br/brerr"
	"github.com/cognicore/openbr/pkg/br/output"
	"github.com/cognicore/openbr/pkg/br/plugin"
	"github.com/cognicore/openbr/pkg/br/template"
)

func tmpl(name string, features ...float64) template.Template {
	return template.Template{File: template.File{Name: name}, Features: features}
}

func TestBuiltins(t *testing.T) {
	a, b := tmpl("a", 0, 3), tmpl("b", 4, 0)
	tests := []struct {
		desc string
		want float64
	}{
		{"L1", -7},
		{"Manhattan", -7},
		{"L2", -5},
		{"Euclidean", -5},
		{"Dot", 0},
		{"Cosine", 0},
	}
	for _, tt := range tests {
		d, err := plugin.MakeDistance(tt.desc)
		if err != nil {
			t.Fatalf("MakeDistance(%s): %v", tt.desc, err)
		}
		got, err := d.Compare(a, b)
		if err != nil {
			t.Fatalf("%s: %v", tt.desc, err)
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s = %v, want %v", tt.desc, got, tt.want)
		}
	}
}

func TestCosineZeroVector(t *testing.T) {
	d, _ := plugin.MakeDistance("Cosine")
	got, err := d.Compare(tmpl("a", 0, 0), tmpl("b", 1, 1))
	if err != nil || got != 0 {
		t.Errorf("got %v, %v", got, err)
	}
}

func TestHigherIsCloser(t *testing.T) {
	d, _ := plugin.MakeDistance("L2")
	near, _ := d.Compare(tmpl("a", 1), tmpl("b", 1.1))
	far, _ := d.Compare(tmpl("a", 1), tmpl("c", 5))
	if near <= far {
		t.Errorf("expected near (%v) > far (%v)", near, far)
	}
}

func TestDimensionMismatch(t *testing.T) {
	d, _ := plugin.MakeDistance("L2")
	_, err := d.Compare(tmpl("a", 1, 2), tmpl("b", 1))
	if !errors.Is(err, brerr.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestCompareLists(t *testing.T) {
	d, _ := plugin.MakeDistance("Dot")
	target := template.List{tmpl("t0", 1), tmpl("t1", 2)}
	query := template.List{tmpl("q0", 1), tmpl("q1", 10), tmpl("q2", 100)}
	m := output.NewMatrix(target.Files(), query.Files())

	if err := CompareLists(context.Background(), d, target, query, m); err != nil {
		t.Fatal(err)
	}
	if m.Scores[1][2] != 200 || m.Scores[0][1] != 10 {
		t.Errorf("unexpected matrix %v", m.Scores)
	}
}

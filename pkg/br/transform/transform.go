// Package transform provides the built-in stages: record loading, feature
// conditioning and gallery comparison. They are small on purpose; the
// orchestration core treats every stage as opaque.
package transform

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/cognicore/openbr/pkg/br/plugin"
	"github.com/cognicore/openbr/pkg/br/template"
)

func init() {
	plugin.Register("Identity", func(args plugin.Args) (plugin.Stage, error) {
		return &Identity{Base: plugin.NewBase("Identity", args)}, nil
	})
	plugin.Register("Read", func(args plugin.Args) (plugin.Stage, error) {
		return &Read{Base: plugin.NewBase("Read", args)}, nil
	})
	plugin.Register("Normalize", func(args plugin.Args) (plugin.Stage, error) {
		return &Normalize{Base: plugin.NewBase("Normalize", args)}, nil
	})
	plugin.Register("Scale", newScale)
	plugin.Register("Center", func(args plugin.Args) (plugin.Stage, error) {
		return &Center{Base: plugin.NewBase("Center", args)}, nil
	})
	plugin.Register("GalleryCompare", newGalleryCompare)
}

// Identity passes templates through untouched.
type Identity struct{ plugin.Base }

func (s *Identity) Process(ctx context.Context, in template.List) (template.List, error) {
	return in, nil
}

func (s *Identity) Noop() bool { return true }

// Read loads feature vectors for templates that have none. Values come
// from the "features" metadata key when present, otherwise from the file
// named by the template, as numbers separated by whitespace, commas or
// semicolons.
type Read struct{ plugin.Base }

func (s *Read) Process(ctx context.Context, in template.List) (template.List, error) {
	out := make(template.List, len(in))
	for i, t := range in {
		out[i] = t
		if len(t.Features) > 0 {
			continue
		}
		var (
			features []float64
			err      error
		)
		if v, ok := t.File.Args["features"]; ok {
			features, err = parseFeatures(strings.NewReader(v))
		} else {
			features, err = readFeatures(t.File.Name)
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", t.File.Name, err)
		}
		out[i].Features = features
	}
	return out, nil
}

func readFeatures(path string) ([]float64, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return parseFeatures(fh)
}

func parseFeatures(r io.Reader) ([]float64, error) {
	scanner := bufio.NewScanner(r)
	scanner.Split(bufio.ScanWords)
	var out []float64
	for scanner.Scan() {
		for _, field := range strings.FieldsFunc(scanner.Text(), func(r rune) bool { return r == ',' || r == ';' }) {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
	}
	return out, scanner.Err()
}

// Normalize scales every vector to unit L2 norm. Zero vectors are left alone.
type Normalize struct{ plugin.Base }

func (s *Normalize) Process(ctx context.Context, in template.List) (template.List, error) {
	out := in.Clone()
	for i := range out {
		if n := floats.Norm(out[i].Features, 2); n > 0 {
			floats.Scale(1/n, out[i].Features)
		}
	}
	return out, nil
}

// Scale multiplies features by a configurable factor.
type Scale struct {
	plugin.Base
	factor float64
}

func newScale(args plugin.Args) (plugin.Stage, error) {
	factor, err := args.Float("factor", 1)
	if err != nil {
		return nil, err
	}
	return &Scale{Base: plugin.NewBase("Scale", args), factor: factor}, nil
}

func (s *Scale) Process(ctx context.Context, in template.List) (template.List, error) {
	out := in.Clone()
	for i := range out {
		floats.Scale(s.factor, out[i].Features)
	}
	return out, nil
}

func (s *Scale) SetConfig(key, value string) (bool, error) {
	if key != "factor" {
		return false, nil
	}
	f, err := plugin.Args{key: value}.Float(key, 1)
	if err != nil {
		return false, err
	}
	s.factor = f
	s.SetArg(key, value)
	return true, nil
}

// Noop reports true for a unit factor.
func (s *Scale) Noop() bool { return s.factor == 1 }

// Center subtracts the mean vector learned in training.
type Center struct {
	plugin.Base
	mean []float64
}

func (s *Center) Train(ctx context.Context, data template.List) error {
	if len(data) == 0 {
		s.mean = nil
		return nil
	}
	mean := make([]float64, len(data[0].Features))
	for _, t := range data {
		if len(t.Features) != len(mean) {
			return fmt.Errorf("center: %s has %d features, expected %d", t.File.Name, len(t.Features), len(mean))
		}
		floats.Add(mean, t.Features)
	}
	floats.Scale(1/float64(len(data)), mean)
	s.mean = mean
	return nil
}

func (s *Center) Process(ctx context.Context, in template.List) (template.List, error) {
	if s.mean == nil {
		return in, nil
	}
	out := in.Clone()
	for i := range out {
		if len(out[i].Features) != len(s.mean) {
			return nil, fmt.Errorf("center: %s has %d features, trained on %d", out[i].File.Name, len(out[i].Features), len(s.mean))
		}
		floats.Sub(out[i].Features, s.mean)
	}
	return out, nil
}

func (s *Center) Store(st *plugin.Stream) error { return st.Write(s.mean) }

func (s *Center) Load(st *plugin.Stream) error { return st.Read(&s.mean) }

package transform

import (
	"context"
	"fmt"
	"math"

	"github.com/cognicore/openbr/pkg/br/brerr"
	"github.com/cognicore/openbr/pkg/br/gallery"
	"github.com/cognicore/openbr/pkg/br/plugin"
	"github.com/cognicore/openbr/pkg/br/template"
)

// GalleryCompare scores each incoming template against a resident gallery.
// The output template keeps the input's identity and carries one score per
// resident template, in resident order. NaN scores become -Inf.
//
// The residents come from Train, or are loaded from galleryName the first
// time a batch is processed.
type GalleryCompare struct {
	plugin.Base
	distance  plugin.Distance
	residents template.List
}

func newGalleryCompare(args plugin.Args) (plugin.Stage, error) {
	desc := args.String("distance", "")
	if desc == "" {
		return nil, fmt.Errorf("%w: GalleryCompare requires a distance", brerr.ErrNullDistance)
	}
	d, err := plugin.MakeDistance(desc)
	if err != nil {
		return nil, err
	}
	return &GalleryCompare{Base: plugin.NewBase("GalleryCompare", args), distance: d}, nil
}

// NewGalleryCompare wraps an existing distance, sharing its trained state.
func NewGalleryCompare(d plugin.Distance) *GalleryCompare {
	args := plugin.Args{"distance": d.Description()}
	return &GalleryCompare{Base: plugin.NewBase("GalleryCompare", args), distance: d}
}

// Distance returns the wrapped measure.
func (s *GalleryCompare) Distance() plugin.Distance { return s.distance }

// Residents returns the templates scored against.
func (s *GalleryCompare) Residents() template.List { return s.residents }

func (s *GalleryCompare) Train(ctx context.Context, data template.List) error {
	if err := s.distance.Train(ctx, data); err != nil {
		return err
	}
	s.residents = data.Clone()
	return nil
}

func (s *GalleryCompare) Process(ctx context.Context, in template.List) (template.List, error) {
	if s.residents == nil {
		if name := s.Args().String("galleryName", ""); name != "" {
			residents, err := gallery.Read(ctx, template.ParseFile(name))
			if err != nil {
				return nil, err
			}
			s.residents = residents
		}
	}

	out := make(template.List, len(in))
	for i, t := range in {
		scores := make([]float64, len(s.residents))
		for j, r := range s.residents {
			score, err := s.distance.Compare(r, t)
			if err != nil {
				return nil, err
			}
			if math.IsNaN(score) {
				score = math.Inf(-1)
			}
			scores[j] = score
		}
		out[i] = template.Template{File: t.File, Features: scores}
	}
	return out, nil
}

func (s *GalleryCompare) SetConfig(key, value string) (bool, error) {
	if key != "galleryName" {
		return false, nil
	}
	if value == "" {
		delete(s.Args(), key)
	} else {
		s.SetArg(key, value)
	}
	return true, nil
}

func (s *GalleryCompare) Store(st *plugin.Stream) error {
	if err := s.distance.Store(st); err != nil {
		return err
	}
	return st.Write(s.residents)
}

func (s *GalleryCompare) Load(st *plugin.Stream) error {
	if err := s.distance.Load(st); err != nil {
		return err
	}
	return st.Read(&s.residents)
}

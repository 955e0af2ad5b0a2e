package transform

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/cognicore/openbr/pkg/br/distance"
	"github.com/cognicore/openbr/pkg/br/gallery"
	"github.com/cognicore/openbr/pkg/br/plugin"
	"github.com/cognicore/openbr/pkg/br/template"
)

func mustMake(t *testing.T, desc string) plugin.Stage {
	t.Helper()
	s, err := plugin.Make(desc)
	if err != nil {
		t.Fatalf("Make(%s): %v", desc, err)
	}
	return s
}

func TestReadFromMetadataAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vec.txt")
	if err := os.WriteFile(path, []byte("1.5 2\n3,4;5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	in := template.List{
		template.New(template.File{Name: "inline", Args: map[string]string{"features": "7;8"}}),
		template.New(template.File{Name: path}),
		{File: template.File{Name: "ready"}, Features: []float64{9}},
	}

	out, err := mustMake(t, "Read").Process(context.Background(), in)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(out[0].Features) != 2 || out[0].Features[1] != 8 {
		t.Errorf("inline features = %v", out[0].Features)
	}
	if len(out[1].Features) != 5 || out[1].Features[0] != 1.5 || out[1].Features[4] != 5 {
		t.Errorf("file features = %v", out[1].Features)
	}
	if out[2].Features[0] != 9 {
		t.Errorf("existing features overwritten: %v", out[2].Features)
	}
}

func TestReadMissingFile(t *testing.T) {
	in := template.List{template.New(template.File{Name: filepath.Join(t.TempDir(), "missing")})}
	if _, err := mustMake(t, "Read").Process(context.Background(), in); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestNormalize(t *testing.T) {
	in := template.List{{Features: []float64{3, 4}}, {Features: []float64{0, 0}}}
	out, _ := mustMake(t, "Normalize").Process(context.Background(), in)
	if math.Abs(out[0].Features[0]-0.6) > 1e-12 || out[1].Features[0] != 0 {
		t.Errorf("unexpected output %v", out)
	}
	if in[0].Features[0] != 3 {
		t.Error("input mutated")
	}
}

func TestScaleConfig(t *testing.T) {
	s := mustMake(t, "Scale")
	if !plugin.IsNoop(s) {
		t.Error("unit scale should be a pass-through")
	}
	applied, err := plugin.SetConfig(s, "factor", "3")
	if err != nil || !applied {
		t.Fatalf("SetConfig applied=%v err=%v", applied, err)
	}
	if s.Description() != "Scale(factor=3)" {
		t.Errorf("Description = %q", s.Description())
	}
	out, _ := s.Process(context.Background(), template.List{{Features: []float64{2}}})
	if out[0].Features[0] != 6 {
		t.Errorf("got %v", out[0].Features)
	}
	if _, err := plugin.SetConfig(s, "factor", "abc"); err == nil {
		t.Error("expected a parse error")
	}
}

func TestCenterTrainAndPersist(t *testing.T) {
	s := mustMake(t, "Center")
	data := template.List{{Features: []float64{1, 10}}, {Features: []float64{3, 20}}}
	if err := s.Train(context.Background(), data); err != nil {
		t.Fatal(err)
	}

	clone, err := plugin.Clone(s)
	if err != nil {
		t.Fatal(err)
	}
	out, err := clone.Process(context.Background(), template.List{{Features: []float64{2, 15}}})
	if err != nil {
		t.Fatal(err)
	}
	if out[0].Features[0] != 0 || out[0].Features[1] != 0 {
		t.Errorf("expected the mean to center to zero, got %v", out[0].Features)
	}
}

func TestGalleryCompareTrained(t *testing.T) {
	s := mustMake(t, "GalleryCompare(distance=L2)")
	residents := template.List{
		{File: template.File{Name: "r0"}, Features: []float64{0}},
		{File: template.File{Name: "r1"}, Features: []float64{10}},
	}
	if err := s.Train(context.Background(), residents); err != nil {
		t.Fatal(err)
	}
	out, err := s.Process(context.Background(), template.List{{File: template.File{Name: "p"}, Features: []float64{1}}})
	if err != nil {
		t.Fatal(err)
	}
	if out[0].File.Name != "p" {
		t.Errorf("identity lost: %v", out[0].File)
	}
	if len(out[0].Features) != 2 || out[0].Features[0] != -1 || out[0].Features[1] != -9 {
		t.Errorf("scores = %v", out[0].Features)
	}
}

func TestGalleryCompareLoadsNamedGallery(t *testing.T) {
	defer gallery.ResetMemory()
	residents := template.List{{File: template.File{Name: "r0"}, Features: []float64{2}}}
	if err := gallery.Write(context.Background(), template.File{Name: "residents.mem"}, residents); err != nil {
		t.Fatal(err)
	}

	s := mustMake(t, "GalleryCompare(distance=Dot,galleryName=residents.mem)")
	out, err := s.Process(context.Background(), template.List{{Features: []float64{3}}})
	if err != nil {
		t.Fatal(err)
	}
	if out[0].Features[0] != 6 {
		t.Errorf("scores = %v", out[0].Features)
	}

	if _, err := plugin.SetConfig(s, "galleryName", ""); err != nil {
		t.Fatal(err)
	}
	if s.Description() != "GalleryCompare(distance=Dot)" {
		t.Errorf("Description = %q", s.Description())
	}
}

func TestGalleryCompareRequiresDistance(t *testing.T) {
	if _, err := plugin.Make("GalleryCompare"); err == nil {
		t.Error("expected an error without a distance")
	}
}

func TestGalleryCompareMapsNaNToNegativeInf(t *testing.T) {
	s := mustMake(t, "GalleryCompare(distance=Dot)")
	residents := template.List{{File: template.File{Name: "r0"}, Features: []float64{math.Inf(1)}}}
	if err := s.Train(context.Background(), residents); err != nil {
		t.Fatal(err)
	}
	out, err := s.Process(context.Background(), template.List{{File: template.File{Name: "p"}, Features: []float64{0}}})
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsInf(out[0].Features[0], -1) {
		t.Errorf("score = %v, want -Inf", out[0].Features[0])
	}
}

package br

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/openbr/pkg/br/brerr"
	"github.com/cognicore/openbr/pkg/br/config"
	"github.com/cognicore/openbr/pkg/br/gallery"
	"github.com/cognicore/openbr/pkg/br/output"
	"github.com/cognicore/openbr/pkg/br/template"
)

func setup(t *testing.T) string {
	t.Helper()
	cfg := config.Default()
	cfg.Parallelism = 1
	cfg.Workers = 1
	cfg.Abbreviations = map[string]string{"Face": "Identity:L2"}
	require.NoError(t, Configure(cfg, nil))
	t.Cleanup(func() {
		assert.NoError(t, Shutdown())
		gallery.ResetMemory()
	})
	return t.TempDir()
}

func records(prefix string, values ...float64) template.List {
	out := make(template.List, len(values))
	for i, v := range values {
		out[i] = template.Template{
			File:     template.File{Name: prefix + string(rune('a'+i))},
			Features: []float64{v},
		}
	}
	return out
}

func TestEnrollAndCompareThroughAbbreviation(t *testing.T) {
	dir := setup(t)
	ctx := context.Background()
	require.NoError(t, gallery.Write(ctx, template.File{Name: "people.mem"}, records("p", 1, 2, 4)))

	gal := filepath.Join(dir, "people.gal")
	written, err := Enroll(ctx, "Face", "people.mem", gal)
	require.NoError(t, err)
	assert.Equal(t, []string{"pa", "pb", "pc"}, written.Names())

	require.NoError(t, Compare(ctx, "Face", gal, ".", "scores.mem"))
	defer output.Forget("scores.mem")
	m, ok := output.Lookup("scores.mem")
	require.True(t, ok)
	assert.Equal(t, -3.0, m.Scores[0][2])

	classifier, err := IsClassifier("Face")
	require.NoError(t, err)
	assert.False(t, classifier)
}

func TestDeduplicateRejectsBadThreshold(t *testing.T) {
	setup(t)
	err := Deduplicate(context.Background(), "Face", "in.mem", "out.mem", "high")
	assert.ErrorIs(t, err, brerr.ErrInvalidThreshold)
}

func TestConvertGallery(t *testing.T) {
	dir := setup(t)
	ctx := context.Background()
	require.NoError(t, gallery.Write(ctx, template.File{Name: "src.mem"}, records("r", 1, 2)))

	db := filepath.Join(dir, "copy.db")
	require.NoError(t, Convert(ctx, "Gallery", "src.mem", db))
	got, err := gallery.Read(ctx, template.File{Name: db})
	require.NoError(t, err)
	assert.Equal(t, records("r", 1, 2), got)

	err = Convert(ctx, "Histogram", "src.mem", db)
	assert.ErrorIs(t, err, brerr.ErrUnrecognizedFileType)
}

// writeMTX stores a matrix of the given shape for galleries tgt and qry.
func writeMTX(t *testing.T, path, tgt, qry string, scores [][]float64) {
	t.Helper()
	rows := make(template.FileList, len(scores))
	for i := range rows {
		rows[i] = template.File{Name: "row"}
	}
	cols := make(template.FileList, len(scores[0]))
	for j := range cols {
		cols[j] = template.File{Name: "col"}
	}
	f := template.File{Name: path}.With("targetGallery", tgt).With("queryGallery", qry)
	sink, err := output.Make(f, rows, cols)
	require.NoError(t, err)
	for i := range scores {
		for j, s := range scores[i] {
			require.NoError(t, sink.SetRelative(s, i, j))
		}
	}
	require.NoError(t, sink.Close())
}

func TestConvertOutput(t *testing.T) {
	dir := setup(t)
	ctx := context.Background()
	require.NoError(t, gallery.Write(ctx, template.File{Name: "tgt.mem"}, records("t", 1, 2)))
	require.NoError(t, gallery.Write(ctx, template.File{Name: "qry.mem"}, records("q", 1, 2)))

	full := filepath.Join(dir, "full.mtx")
	writeMTX(t, full, "tgt.mem", "qry.mem", [][]float64{{1, 2}, {3, 4}})
	csvPath := filepath.Join(dir, "full.csv")
	require.NoError(t, Convert(ctx, "Output", full, csvPath))
	target, query, scores, err := output.ReadCSV(csvPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"ta", "tb"}, target)
	assert.Equal(t, []string{"qa", "qb"}, query)
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}}, scores)

	pairwise := filepath.Join(dir, "pairwise.mtx")
	writeMTX(t, pairwise, "tgt.mem", "qry.mem", [][]float64{{5}, {6}})
	require.NoError(t, Convert(ctx, "Output", pairwise, "diag.mem"))
	defer output.Forget("diag.mem")
	diag, ok := output.Lookup("diag.mem")
	require.True(t, ok)
	assert.Equal(t, 5.0, diag.Scores[0][0])
	assert.Equal(t, 6.0, diag.Scores[1][1])

	wrong := filepath.Join(dir, "wrong.mtx")
	writeMTX(t, wrong, "tgt.mem", "qry.mem", [][]float64{{1, 2, 3}})
	err = Convert(ctx, "Output", wrong, filepath.Join(dir, "wrong.csv"))
	assert.ErrorIs(t, err, brerr.ErrDimensionMismatch)
}

func TestCat(t *testing.T) {
	setup(t)
	ctx := context.Background()
	require.NoError(t, gallery.Write(ctx, template.File{Name: "a.mem"}, records("a", 1)))
	require.NoError(t, gallery.Write(ctx, template.File{Name: "b.mem"}, records("b", 2, 3)))

	require.NoError(t, Cat(ctx, []string{"a.mem", "b.mem"}, "ab.mem"))
	files, err := gallery.Files(ctx, template.File{Name: "ab.mem"})
	require.NoError(t, err)
	assert.Equal(t, []string{"aa", "ba", "bb"}, files.Names())

	err = Cat(ctx, []string{"a.mem", "ab.mem"}, "ab.mem")
	assert.ErrorIs(t, err, brerr.ErrInvalidArgument)
}

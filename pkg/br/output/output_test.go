package output

import (
	"bytes"
	"encoding/csv"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/openbr/pkg/br/brerr"
	"github.com/cognicore/openbr/pkg/br/template"
)

func files(names ...string) template.FileList {
	out := make(template.FileList, len(names))
	for i, n := range names {
		out[i] = template.File{Name: n}
	}
	return out
}

func fill(t *testing.T, o Output, rows, cols int) {
	t.Helper()
	o.SetBlock(0, 0)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			require.NoError(t, o.SetRelative(float64(10*i+j), i, j))
		}
	}
}

func TestMemoryOutputPublishesOnClose(t *testing.T) {
	o, err := Make(template.File{Name: "scores.mem"}, files("t0", "t1"), files("q0", "q1", "q2"))
	require.NoError(t, err)
	defer Forget("scores.mem")

	fill(t, o, 2, 3)
	_, ok := Lookup("scores.mem")
	assert.False(t, ok, "matrix visible before Close")

	require.NoError(t, o.Close())
	m, ok := Lookup("scores.mem")
	require.True(t, ok)
	assert.Equal(t, 12.0, m.Scores[1][2])
	assert.True(t, Exists(template.File{Name: "scores.mem"}))
}

func TestSetBlockOffsets(t *testing.T) {
	m := NewMatrix(files("a", "b", "c"), files("x", "y"))
	m.SetBlock(2, 1)
	require.NoError(t, m.SetRelative(5, 0, 0))
	assert.Equal(t, 5.0, m.Scores[2][1])

	err := m.SetRelative(1, 1, 0)
	assert.True(t, errors.Is(err, brerr.ErrDimensionMismatch), "got %v", err)
}

func TestCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scores.csv")
	o, err := Make(template.File{Name: path}, files("t0", "t1"), files("q0", "q1", "q2"))
	require.NoError(t, err)
	fill(t, o, 2, 3)
	require.NoError(t, o.Close())

	target, query, scores, err := ReadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"t0", "t1"}, target)
	assert.Equal(t, []string{"q0", "q1", "q2"}, query)
	assert.Equal(t, [][]float64{{0, 1, 2}, {10, 11, 12}}, scores)
}

func TestMTXRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scores.mtx")
	f := template.File{Name: path}.With("targetGallery", "t.gal").With("queryGallery", "q.gal")
	o, err := Make(f, files("t0", "t1"), files("q0", "q1", "q2"))
	require.NoError(t, err)
	fill(t, o, 2, 3)
	require.NoError(t, o.Close())

	m, err := ReadMTX(path)
	require.NoError(t, err)
	assert.Equal(t, "t.gal", m.TargetGallery)
	assert.Equal(t, "q.gal", m.QueryGallery)
	assert.Equal(t, 2, m.Rows)
	assert.Equal(t, 3, m.Cols)
	assert.Equal(t, 11.0, m.Scores[1][1])
}

func TestUnknownSuffix(t *testing.T) {
	_, err := Make(template.File{Name: "scores.xyz"}, nil, nil)
	assert.True(t, errors.Is(err, brerr.ErrUnrecognizedFileType))
}

func TestEmptyOutputChecksShape(t *testing.T) {
	o, err := Make(template.File{}, files("a"), files("b"))
	require.NoError(t, err)
	assert.NoError(t, o.SetRelative(1, 0, 0))
	assert.True(t, errors.Is(o.SetRelative(1, 0, 1), brerr.ErrDimensionMismatch))
}

func TestTailSelfSimilar(t *testing.T) {
	names := files("a", "b", "c", "d")
	scores := [][]float64{
		{1, 0.9, 0.1, 0.2},
		{0.9, 1, 0.3, 0.95},
		{0.1, 0.3, 1, 0.4},
		{0.2, 0.95, 0.4, 1},
	}

	var buf bytes.Buffer
	tail := NewTail(&buf, names, names, TailOptions{SelfSimilar: true, Threshold: 0.5})
	tail.SetBlock(0, 0)
	for i := range scores {
		for j := range scores[i] {
			require.NoError(t, tail.SetRelative(scores[i][j], i, j))
		}
	}
	require.NoError(t, tail.Close())

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, TailHeader, records[0])
	assert.Equal(t, []string{"0.95", "d", "b"}, records[1])
	assert.Equal(t, []string{"0.9", "b", "a"}, records[2])
}

func TestTailAtLeastAtMost(t *testing.T) {
	var buf bytes.Buffer
	tail := NewTail(&buf, files("t"), files("a", "b", "c", "d"), TailOptions{Threshold: 10, AtLeast: 2})
	for j, s := range []float64{0.1, 0.7, 0.3, 0.5} {
		require.NoError(t, tail.SetRelative(s, 0, j))
	}
	require.NoError(t, tail.Close())
	records, _ := csv.NewReader(&buf).ReadAll()
	require.Len(t, records, 3)
	assert.Equal(t, "b", records[1][1])
	assert.Equal(t, "d", records[2][1])

	buf.Reset()
	tail = NewTail(&buf, files("t"), files("a", "b", "c"), TailOptions{Threshold: 0, AtMost: 1})
	for j, s := range []float64{0.1, 0.7, 0.3} {
		require.NoError(t, tail.SetRelative(s, 0, j))
	}
	require.NoError(t, tail.Close())
	records, _ = csv.NewReader(&buf).ReadAll()
	require.Len(t, records, 2)
	assert.Equal(t, "b", records[1][1])
}

func TestTailFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.tail")
	f := template.File{Name: path}.With("threshold", "0.5").With("atLeast", "0")
	o, err := Make(f, files("t"), files("a", "b"))
	require.NoError(t, err)
	require.NoError(t, o.SetRelative(0.9, 0, 1))
	require.NoError(t, o.SetRelative(0.1, 0, 0))
	require.NoError(t, o.Close())
	assert.True(t, Exists(template.File{Name: path}))
}

func TestAbortRemovesTailFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failed.tail")
	o, err := Make(template.File{Name: path}, files("t"), files("a"))
	require.NoError(t, err)
	require.True(t, Exists(template.File{Name: path}))
	require.NoError(t, o.SetRelative(0.3, 0, 0))

	require.NoError(t, Abort(o))
	assert.False(t, Exists(template.File{Name: path}))
}

func TestAbortLeavesMemoryUnpublished(t *testing.T) {
	o, err := Make(template.File{Name: "aborted.mem"}, files("t"), files("a"))
	require.NoError(t, err)
	require.NoError(t, o.SetRelative(1, 0, 0))

	require.NoError(t, Abort(o))
	_, ok := Lookup("aborted.mem")
	assert.False(t, ok)
}

package output

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/cognicore/openbr/pkg/br/brerr"
	"github.com/cognicore/openbr/pkg/br/template"
)

// TailHeader is the first line of every tail listing.
var TailHeader = []string{"Score", "Query", "Target"}

// TailOptions select which pairs a Tail keeps.
type TailOptions struct {
	// SelfSimilar skips the diagonal and the lower triangle, for a set
	// compared against itself.
	SelfSimilar bool
	// Threshold keeps pairs scoring strictly above it.
	Threshold float64
	// AtLeast keeps the best N pairs even below the threshold.
	AtLeast int
	// AtMost caps the listing at the best N pairs; 0 means no cap.
	AtMost int
}

type tailEntry struct {
	score    float64
	row, col int
}

// Tail lists the best scoring pairs as CSV lines "score,query,target",
// sorted by decreasing score.
type Tail struct {
	w      io.Writer
	closer io.Closer
	path   string
	target template.FileList
	query  template.FileList
	opts   TailOptions

	rowOffset, colOffset int

	above []tailEntry
	below []tailEntry
}

// NewTail writes its listing to w on Close.
func NewTail(w io.Writer, target, query template.FileList, opts TailOptions) *Tail {
	return &Tail{w: w, target: target, query: query, opts: opts}
}

func newTailFile(f template.File, target, query template.FileList) (*Tail, error) {
	threshold, err := strconv.ParseFloat(f.Get("threshold", "-Inf"), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: threshold of %s", brerr.ErrInvalidArgument, f.Name)
	}
	fh, err := os.Create(f.Name)
	if err != nil {
		return nil, err
	}
	t := NewTail(fh, target, query, TailOptions{
		SelfSimilar: f.GetBool("selfSimilar", false),
		Threshold:   threshold,
		AtLeast:     f.GetInt("atLeast", 1),
		AtMost:      f.GetInt("atMost", 0),
	})
	t.closer = fh
	t.path = f.Name
	return t, nil
}

func (t *Tail) SetBlock(row, col int) { t.rowOffset, t.colOffset = row, col }

func (t *Tail) SetRelative(score float64, row, col int) error {
	r, c := t.rowOffset+row, t.colOffset+col
	if r < 0 || r >= len(t.target) || c < 0 || c >= len(t.query) {
		return fmt.Errorf("%w: score (%d, %d) outside %dx%d output", brerr.ErrDimensionMismatch, r, c, len(t.target), len(t.query))
	}
	if t.opts.SelfSimilar && c <= r {
		return nil
	}

	e := tailEntry{score: score, row: r, col: c}
	if score > t.opts.Threshold {
		t.above = append(t.above, e)
		return nil
	}
	if t.opts.AtLeast > 0 {
		t.below = insertBest(t.below, e, t.opts.AtLeast)
	}
	return nil
}

// insertBest keeps the n highest scoring entries, sorted descending.
func insertBest(entries []tailEntry, e tailEntry, n int) []tailEntry {
	i := sort.Search(len(entries), func(i int) bool { return entries[i].score < e.score })
	if i >= n {
		return entries
	}
	entries = append(entries, tailEntry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

func (t *Tail) Close() error {
	entries := t.above
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].score > entries[j].score })
	if missing := t.opts.AtLeast - len(entries); missing > 0 {
		if missing > len(t.below) {
			missing = len(t.below)
		}
		entries = append(entries, t.below[:missing]...)
	}
	if t.opts.AtMost > 0 && len(entries) > t.opts.AtMost {
		entries = entries[:t.opts.AtMost]
	}

	w := csv.NewWriter(t.w)
	_ = w.Write(TailHeader)
	for _, e := range entries {
		_ = w.Write([]string{
			strconv.FormatFloat(e.score, 'g', -1, 64),
			t.query[e.col].Name,
			t.target[e.row].Name,
		})
	}
	w.Flush()
	err := w.Error()
	if t.closer != nil {
		if cerr := t.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Abort releases the listing file without writing it and removes it, so
// Exists never reports a failed run as a result.
func (t *Tail) Abort() error {
	var errs []error
	if t.closer != nil {
		errs = append(errs, t.closer.Close())
		t.closer = nil
	}
	if t.path != "" {
		if err := os.Remove(t.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	t.above, t.below = nil, nil
	return errors.Join(errs...)
}

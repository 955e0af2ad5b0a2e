package algorithm

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/cognicore/openbr/pkg/br/brerr"
	"github.com/cognicore/openbr/pkg/br/distance"
	"github.com/cognicore/openbr/pkg/br/gallery"
	"github.com/cognicore/openbr/pkg/br/output"
	"github.com/cognicore/openbr/pkg/br/pipeline"
	"github.com/cognicore/openbr/pkg/br/plugin"
	"github.com/cognicore/openbr/pkg/br/template"
)

// Compare scores every target record against every query record into dst,
// target rows by query columns. A query named "." compares target with
// itself. The larger set is streamed while the smaller one is enrolled once
// and kept resident; when the streamed set is the query the scores are
// written transposed. dst[cache] skips the comparison when dst exists.
//
// Sets of equal size stream the query, so swapping target and query gives
// the exact transpose only for symmetric distances.
func (c *Core) Compare(ctx context.Context, target, query, dst template.File) error {
	if c.comparison == nil {
		return fmt.Errorf("%w: %s cannot compare", brerr.ErrNullDistance, c.name)
	}
	if gc, ok := c.distance.(plugin.GalleryComparer); ok {
		handled, err := gc.CompareGalleries(ctx, target, query, dst)
		if err != nil || handled {
			return err
		}
	}

	selfCompare := false
	if query.Name == "." {
		query = target
		selfCompare = true
	}
	selfCompare = selfCompare || target.Equal(query)

	if dst.GetBool("cache", false) && output.Exists(dst) {
		c.log.Debug("comparison cached", zap.String("output", dst.Name))
		return nil
	}

	targetMeta, err := gallery.Files(ctx, target)
	if err != nil {
		return err
	}
	queryMeta, err := gallery.Files(ctx, query)
	if err != nil {
		return err
	}

	// Rows are streamed, columns are resident.
	streamTarget := len(targetMeta) > len(queryMeta)
	rowFile, colFile := query, target
	rowMeta, colMeta := queryMeta, targetMeta
	transposed := true
	if streamTarget {
		rowFile, colFile = target, query
		rowMeta, colMeta = targetMeta, queryMeta
		transposed = false
	}
	c.log.Info("comparing",
		zap.String("target", target.Flat()),
		zap.String("query", query.Flat()),
		zap.String("output", dst.Flat()))
	c.log.Debug("comparison layout",
		zap.Bool("transposed", transposed),
		zap.Bool("self", selfCompare),
		zap.Int("rows", len(rowMeta)),
		zap.Int("cols", len(colMeta)))

	colGallery, err := c.residentGallery(ctx, colFile)
	if err != nil {
		return err
	}
	rowGallery, enrollRows := rowFile, false
	if selfCompare {
		rowGallery = colGallery
	} else if !gallery.IsEnrolled(rowFile) {
		enrollRows = true
	}

	residents, err := gallery.Read(ctx, colGallery)
	if err != nil {
		return err
	}
	if len(residents) != len(colMeta) {
		return fmt.Errorf("%w: %s enrolled %d templates from %d records",
			brerr.ErrDimensionMismatch, colFile.Flat(), len(residents), len(colMeta))
	}

	cmp, err := c.cloneComparison()
	if err != nil {
		return err
	}
	if err := cmp.Train(ctx, residents); err != nil {
		_ = plugin.Close(cmp)
		return fmt.Errorf("train %s: %w", cmp.Description(), err)
	}
	if _, err := plugin.SetConfig(cmp, "galleryName", ""); err != nil {
		_ = plugin.Close(cmp)
		return err
	}

	var region []plugin.Stage
	if enrollRows {
		region = append(region, plugin.Borrowed(c.simplified.Stage()))
	}
	region = append(region, cmp)

	if !dst.Contains("targetGallery") {
		dst = dst.With("targetGallery", target.Flat())
	}
	if !dst.Contains("queryGallery") {
		dst = dst.With("queryGallery", query.Flat())
	}
	sink, err := output.Make(dst, targetMeta, queryMeta)
	if err != nil {
		_ = plugin.Close(cmp)
		return err
	}

	p := pipeline.NewStream(
		pipeline.Compose(
			c.distributed(pipeline.Compose(region...)),
			pipeline.NewOutputStage(sink, len(rowMeta), len(colMeta), transposed),
			plugin.Borrowed(c.progress),
			pipeline.NewDiscard(),
		),
		pipeline.StreamGallery,
		pipeline.WithBlockSize(c.mgr.cfg.BlockSize),
	)
	defer p.Close()

	if _, err := c.progress.SetConfig("totalProgress", strconv.Itoa(len(rowMeta))); err != nil {
		_ = output.Abort(sink)
		return err
	}
	_, err = p.Process(ctx, template.List{template.New(rowGallery)})
	if err != nil {
		// A partial matrix is never written out.
		_ = output.Abort(sink)
		return fmt.Errorf("compare %s with %s: %w", target.Flat(), query.Flat(), err)
	}
	return sink.Close()
}

// residentGallery returns a memory gallery holding the enrolled templates
// of f. Memory galleries are used as is, other enrolled galleries are
// copied into memory and raw record sets are enrolled.
func (c *Core) residentGallery(ctx context.Context, f template.File) (template.File, error) {
	switch {
	case f.Suffix() == "mem":
		return f, nil
	case gallery.IsEnrolled(f) && !f.GetBool("enroll", false):
		mem := template.File{Name: f.BaseName() + f.Hash() + ".mem"}
		if gallery.Exists(mem) {
			return mem, nil
		}
		list, err := gallery.Read(ctx, f)
		if err != nil {
			return template.File{}, err
		}
		if err := gallery.Write(ctx, mem, list); err != nil {
			return template.File{}, err
		}
		return mem, nil
	}
	return c.retrieveOrEnroll(ctx, f)
}

// cloneComparison copies the comparison stage so per-call training never
// touches the published core.
func (c *Core) cloneComparison() (plugin.Stage, error) {
	data, err := plugin.Marshal(c.comparison)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", brerr.ErrNotSerializable, err)
	}
	return plugin.Unmarshal(data, c.mgr.Builder())
}

// PairwiseCompare scores query i against target i for every i. Both sets
// must hold the same number of records. The scores form a single row.
func (c *Core) PairwiseCompare(ctx context.Context, target, query, dst template.File) error {
	if c.distance == nil {
		return fmt.Errorf("%w: %s cannot compare pairwise", brerr.ErrNullDistance, c.name)
	}
	if query.Name == "." {
		query = target
	}
	c.log.Info("pairwise comparing",
		zap.String("target", target.Flat()),
		zap.String("query", query.Flat()),
		zap.String("output", dst.Flat()))

	targetGallery, err := c.retrieveOrEnroll(ctx, target)
	if err != nil {
		return err
	}
	queryGallery, err := c.retrieveOrEnroll(ctx, query)
	if err != nil {
		return err
	}
	targets, err := gallery.Read(ctx, targetGallery)
	if err != nil {
		return err
	}
	queries, err := gallery.Read(ctx, queryGallery)
	if err != nil {
		return err
	}
	if len(targets) != len(queries) {
		return fmt.Errorf("%w: %s has %d templates, %s has %d",
			brerr.ErrCardinalityMismatch, target.Flat(), len(targets), query.Flat(), len(queries))
	}

	// The sink needs a row to write into; one placeholder target suffices.
	placeholder := template.FileList{target}
	if len(targets) > 0 {
		placeholder = template.FileList{targets[0].File}
	}
	sink, err := output.Make(dst, placeholder, queries.Files())
	if err != nil {
		return err
	}
	sink.SetBlock(0, 0)
	for i := range queries {
		if err := ctx.Err(); err != nil {
			_ = output.Abort(sink)
			return err
		}
		score, err := c.distance.Compare(queries[i], targets[i])
		if err != nil {
			_ = output.Abort(sink)
			return err
		}
		if math.IsNaN(score) {
			score = math.Inf(-1)
		}
		if err := sink.SetRelative(score, 0, i); err != nil {
			_ = output.Abort(sink)
			return err
		}
	}
	return sink.Close()
}

// Deduplicate writes the enrolled records of input to dst, leaving out
// every record scoring above threshold against an earlier record.
func (c *Core) Deduplicate(ctx context.Context, input, dst template.File, threshold float64) error {
	if c.distance == nil {
		return fmt.Errorf("%w: %s cannot deduplicate", brerr.ErrNullDistance, c.name)
	}
	c.log.Info("deduplicating",
		zap.String("input", input.Flat()),
		zap.String("gallery", dst.Flat()),
		zap.Float64("threshold", threshold))

	enrolled, err := c.retrieveOrEnroll(ctx, input)
	if err != nil {
		return err
	}
	templates, err := gallery.Read(ctx, enrolled)
	if err != nil {
		return err
	}
	files := templates.Files()

	var buf bytes.Buffer
	tail := output.NewTail(&buf, files, files, output.TailOptions{
		SelfSimilar: true,
		Threshold:   threshold,
	})
	if err := distance.CompareLists(ctx, c.distance, templates, templates, tail); err != nil {
		return err
	}
	if err := tail.Close(); err != nil {
		return err
	}

	duplicates, err := duplicateIndices(&buf, files)
	if err != nil {
		return err
	}
	c.log.Debug("duplicates found", zap.Int("count", len(duplicates)), zap.Int("records", len(templates)))
	return gallery.Write(ctx, dst, removeIndices(templates, duplicates))
}

// duplicateIndices reads a self-similar tail listing and returns the
// indices of the matched records, one per distinct name.
func duplicateIndices(r io.Reader, files template.FileList) ([]int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(output.TailHeader)
	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}

	seen := make(map[string]bool)
	var indices []int
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return indices, nil
		}
		if err != nil {
			return nil, err
		}
		name := rec[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		if i := files.IndexOf(name); i >= 0 {
			indices = append(indices, i)
		}
	}
}

// removeIndices deletes the given positions from list, highest first so
// earlier removals never shift later ones.
func removeIndices(list template.List, indices []int) template.List {
	sorted := append([]int(nil), indices...)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

	out := append(template.List(nil), list...)
	last := -1
	for _, i := range sorted {
		if i == last || i < 0 || i >= len(out) {
			continue
		}
		out = append(out[:i], out[i+1:]...)
		last = i
	}
	return out
}

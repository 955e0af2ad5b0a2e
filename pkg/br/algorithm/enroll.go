package algorithm

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/cognicore/openbr/pkg/br/brerr"
	"github.com/cognicore/openbr/pkg/br/gallery"
	"github.com/cognicore/openbr/pkg/br/pipeline"
	"github.com/cognicore/openbr/pkg/br/plugin"
	"github.com/cognicore/openbr/pkg/br/template"
)

// Enroll runs the simplified stage over every record of input and writes
// the results to dst. An unnamed dst means the algorithm's memory gallery
// for input; when that gallery is already populated its metadata is
// returned without enrolling again. With dst[append] records whose name
// dst already holds are skipped.
func (c *Core) Enroll(ctx context.Context, input, dst template.File) (template.FileList, error) {
	if c.transform == nil {
		return nil, fmt.Errorf("%w: %s", brerr.ErrNullTransform, c.name)
	}
	if input.Name == "" {
		return nil, fmt.Errorf("%w: nothing to enroll", brerr.ErrInvalidArgument)
	}

	if dst.Name == "" {
		dst = c.memoryGallery(input)
		if gallery.Exists(dst) {
			c.log.Debug("reusing enrolled gallery", zap.String("input", input.Flat()), zap.String("gallery", dst.Name))
			return gallery.Files(ctx, dst)
		}
	}

	var exclusion plugin.Stage
	if dst.GetBool("append", false) && gallery.Exists(dst) {
		existing, err := gallery.Files(ctx, dst)
		if err != nil {
			return nil, err
		}
		exclusion = pipeline.NewFileExclusion(existing)
	}

	total, err := gallery.Size(ctx, input)
	if err != nil {
		return nil, err
	}
	c.log.Info("enrolling",
		zap.String("input", input.Flat()),
		zap.String("gallery", dst.Flat()),
		zap.String("records", humanize.Comma(total)))

	out := pipeline.NewGalleryOutput(dst)
	p := pipeline.NewStream(
		pipeline.Compose(
			c.distributed(plugin.Borrowed(c.simplified.Stage())),
			exclusion,
			out,
			plugin.Borrowed(c.progress),
			pipeline.NewDiscard(),
		),
		pipeline.StreamGallery,
		pipeline.WithBlockSize(c.mgr.cfg.BlockSize),
	)
	defer p.Close()

	if _, err := c.progress.SetConfig("totalProgress", strconv.FormatInt(total, 10)); err != nil {
		return nil, err
	}
	if _, err := p.Process(ctx, template.List{template.New(input)}); err != nil {
		return nil, fmt.Errorf("enroll %s: %w", input.Flat(), err)
	}
	return out.Written(), nil
}

// EnrollList enrolls records in memory.
func (c *Core) EnrollList(ctx context.Context, records template.List) (template.List, error) {
	if c.transform == nil {
		return nil, fmt.Errorf("%w: %s", brerr.ErrNullTransform, c.name)
	}
	return c.simplified.Stage().Process(ctx, records)
}

// Project runs the full enrollment stage from input to dst block by block,
// without caching or progress reporting.
func (c *Core) Project(ctx context.Context, input, dst template.File) error {
	if c.transform == nil {
		return fmt.Errorf("%w: %s", brerr.ErrNullTransform, c.name)
	}
	c.log.Info("projecting", zap.String("input", input.Flat()), zap.String("gallery", dst.Flat()))

	p := pipeline.NewStream(
		pipeline.Compose(plugin.Borrowed(c.transform), pipeline.NewGalleryOutput(dst), pipeline.NewDiscard()),
		pipeline.StreamGallery,
		pipeline.WithBlockSize(c.mgr.cfg.BlockSize),
	)
	defer p.Close()

	if _, err := p.Process(ctx, template.List{template.New(input)}); err != nil {
		return fmt.Errorf("project %s: %w", input.Flat(), err)
	}
	return nil
}

// retrieveOrEnroll returns f when it already holds enrolled templates, or
// the memory gallery of f enrolled by this algorithm. f[enroll] forces
// enrollment of an enrolled gallery.
func (c *Core) retrieveOrEnroll(ctx context.Context, f template.File) (template.File, error) {
	if !f.GetBool("enroll", false) && gallery.IsEnrolled(f) {
		return f, nil
	}
	mem := c.memoryGallery(f)
	if gallery.Exists(mem) {
		return mem, nil
	}
	if _, err := c.Enroll(ctx, f, mem); err != nil {
		return template.File{}, err
	}
	return mem, nil
}

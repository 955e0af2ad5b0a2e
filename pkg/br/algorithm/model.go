package algorithm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zlib"
	"github.com/moby/sys/atomicwriter"
	"go.uber.org/zap"

	"github.com/cognicore/openbr/pkg/br/brerr"
	"github.com/cognicore/openbr/pkg/br/gallery"
	"github.com/cognicore/openbr/pkg/br/pipeline"
	"github.com/cognicore/openbr/pkg/br/plugin"
	"github.com/cognicore/openbr/pkg/br/template"
)

// Train fits the enrollment stage on input and, when the algorithm has a
// distance, the distance on the enrolled data. The trained core is stored
// to model when model is named.
func (c *Core) Train(ctx context.Context, input, model template.File) error {
	if c.transform == nil {
		return fmt.Errorf("%w: %s", brerr.ErrNullTransform, c.name)
	}
	c.log.Info("training", zap.String("input", input.Flat()), zap.String("model", model.Name))

	data, err := gallery.Read(ctx, input)
	if err != nil {
		return err
	}
	trainer := pipeline.NewStream(plugin.Borrowed(c.transform), pipeline.DistributeFrames,
		pipeline.WithParallelism(c.mgr.cfg.Parallelism))
	if err := trainer.Train(ctx, data); err != nil {
		return fmt.Errorf("train %s: %w", c.name, err)
	}

	if c.distance != nil {
		projected, err := trainer.Process(ctx, data)
		if err != nil {
			return fmt.Errorf("project %s: %w", c.name, err)
		}
		if err := c.distance.Train(ctx, projected); err != nil {
			return fmt.Errorf("train distance %s: %w", c.distance.Description(), err)
		}
	}

	if model.Name != "" {
		if err := c.Store(model.Name); err != nil {
			return err
		}
	}
	return c.resimplify()
}

// Store writes the trained core to path. The file is a zlib-compressed
// stream of the enrollment stage, the comparison mode and the distance or
// comparison stage the mode announces. The file is replaced atomically.
func (c *Core) Store(path string) error {
	if c.transform == nil {
		return fmt.Errorf("%w: %s", brerr.ErrNullTransform, c.name)
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if err := c.encode(plugin.NewWriter(zw)); err != nil {
		return fmt.Errorf("store %s: %w", c.name, err)
	}
	if err := zw.Close(); err != nil {
		return err
	}
	if err := atomicwriter.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("store %s: %w", c.name, err)
	}

	c.log.Info("model stored",
		zap.String("path", path),
		zap.String("mode", c.Mode().String()),
		zap.String("size", humanize.Bytes(uint64(buf.Len()))))
	return nil
}

func (c *Core) encode(st *plugin.Stream) error {
	if err := plugin.Serialize(st, c.transform); err != nil {
		return err
	}
	mode := c.Mode()
	if err := st.Write(int32(mode)); err != nil {
		return err
	}
	switch mode {
	case DistanceCompare:
		return plugin.SerializeDistance(st, c.distance)
	case TransformCompare:
		return plugin.Serialize(st, c.comparison)
	}
	return nil
}

// Load replaces the core's stages with the model stored at path.
func (c *Core) Load(path string) error {
	fh, err := os.Open(path)
	if err != nil {
		return err
	}
	defer fh.Close()

	zr, err := zlib.NewReader(bufio.NewReader(fh))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", brerr.ErrInvalidModel, path, err)
	}
	defer zr.Close()

	st := plugin.NewReader(zr)
	b := c.mgr.Builder()
	t, err := plugin.Deserialize(st, b)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", brerr.ErrInvalidModel, path, err)
	}

	var mode int32
	if err := st.Read(&mode); err != nil {
		_ = plugin.Close(t)
		return fmt.Errorf("%w: %s: mode: %v", brerr.ErrInvalidModel, path, err)
	}

	var (
		d   plugin.Distance
		cmp plugin.Stage
	)
	switch CompareMode(mode) {
	case None:
	case DistanceCompare:
		d, err = plugin.DeserializeDistance(st, b)
	case TransformCompare:
		cmp, err = plugin.Deserialize(st, b)
	default:
		err = fmt.Errorf("unknown comparison mode %d", mode)
	}
	if err != nil {
		_ = plugin.Close(t)
		return fmt.Errorf("%w: %s: %v", brerr.ErrInvalidModel, path, err)
	}

	if err := c.simplified.Release(); err != nil {
		c.log.Warn("release simplified stage", zap.Error(err))
	}
	c.simplified = plugin.Handle{}
	_ = closeStage(c.transform)
	_ = closeStage(c.comparison)

	c.transform = t
	c.distance = nil
	c.comparison = cmp
	if d != nil {
		c.setDistance(d)
	}
	c.log.Debug("model loaded", zap.String("path", path), zap.String("mode", CompareMode(mode).String()))
	return nil
}

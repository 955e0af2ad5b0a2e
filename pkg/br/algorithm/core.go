// Package algorithm turns algorithm descriptors into runnable cores and
// drives them over record sets: training, enrollment, matrix and pairwise
// comparison, deduplication and model persistence.
package algorithm

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cognicore/openbr/pkg/br/logger"
	"github.com/cognicore/openbr/pkg/br/pipeline"
	"github.com/cognicore/openbr/pkg/br/plugin"
	"github.com/cognicore/openbr/pkg/br/template"
	"github.com/cognicore/openbr/pkg/br/transform"
)

// CompareMode tags the comparison payload of a stored model.
type CompareMode int32

const (
	None CompareMode = iota
	DistanceCompare
	TransformCompare
)

func (m CompareMode) String() string {
	switch m {
	case None:
		return "None"
	case DistanceCompare:
		return "DistanceCompare"
	case TransformCompare:
		return "TransformCompare"
	}
	return fmt.Sprintf("CompareMode(%d)", int32(m))
}

// Core is a resolved algorithm: the enrollment stage, its simplified form
// used for inference, and an optional way to compare enrolled templates.
// Published cores are shared between callers and must not be mutated.
type Core struct {
	name string
	mgr  *Manager
	log  logger.Logger

	transform  plugin.Stage
	simplified plugin.Handle
	distance   plugin.Distance
	comparison plugin.Stage
	progress   *pipeline.ProgressCounter
}

func newCore(m *Manager, name string) *Core {
	log := m.log.With(zap.String("algorithm", name))
	return &Core{
		name:     name,
		mgr:      m,
		log:      log,
		progress: pipeline.NewProgressCounter(m.cfg.ShowProgress, log),
	}
}

// Name is the descriptor the core was built from.
func (c *Core) Name() string { return c.name }

// Transform is the unsimplified enrollment stage.
func (c *Core) Transform() plugin.Stage { return c.transform }

// Simplified is the stage used for enrollment at inference time.
func (c *Core) Simplified() plugin.Stage { return c.simplified.Stage() }

// Distance is the pairwise measure, nil unless the descriptor named one
// with ':' or a loaded model carried one.
func (c *Core) Distance() plugin.Distance { return c.distance }

// Comparison is the stage that scores streamed templates against resident
// ones. A ':' distance is wrapped in GalleryCompare.
func (c *Core) Comparison() plugin.Stage { return c.comparison }

// IsClassifier reports whether the algorithm only enrolls.
func (c *Core) IsClassifier() bool {
	return c.comparison == nil && c.distance == nil
}

// Mode reports how the core compares templates.
func (c *Core) Mode() CompareMode {
	switch {
	case c.distance != nil:
		return DistanceCompare
	case c.comparison != nil:
		return TransformCompare
	}
	return None
}

// setDistance installs d and the comparison stage that scores with it.
func (c *Core) setDistance(d plugin.Distance) {
	c.distance = d
	c.comparison = transform.NewGalleryCompare(d)
}

// resimplify rebuilds the inference stage from the enrollment stage.
func (c *Core) resimplify() error {
	err := c.simplified.Release()
	c.simplified = plugin.Handle{}
	if c.transform != nil {
		c.simplified = plugin.SimplifyHandle(c.transform)
	}
	return err
}

// memoryGallery is the cache key of input enrolled by this algorithm.
func (c *Core) memoryGallery(input template.File) template.File {
	return template.File{Name: c.name + input.BaseName() + input.Hash() + ".mem"}
}

// distributed wraps s with the configured execution strategy.
func (c *Core) distributed(s plugin.Stage) plugin.Stage {
	cfg := c.mgr.cfg
	if cfg.MultiProcess {
		return pipeline.NewProcessWrapper(s, cfg.Workers,
			pipeline.WithWorkerCommand(c.mgr.workerCommand),
			pipeline.WithLogger(c.log))
	}
	if cfg.Parallelism > 1 {
		return pipeline.NewStream(s, pipeline.DistributeFrames, pipeline.WithParallelism(cfg.Parallelism))
	}
	return s
}

// Close releases the stages the core owns.
func (c *Core) Close() error {
	return errors.Join(
		c.simplified.Release(),
		closeStage(c.transform),
		closeStage(c.comparison),
		c.progress.Close(),
	)
}

func closeStage(s plugin.Stage) error {
	if s == nil {
		return nil
	}
	return plugin.Close(s)
}

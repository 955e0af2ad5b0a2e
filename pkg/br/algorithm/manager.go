package algorithm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/cognicore/openbr/pkg/br/brerr"
	"github.com/cognicore/openbr/pkg/br/config"
	"github.com/cognicore/openbr/pkg/br/logger"
	"github.com/cognicore/openbr/pkg/br/pipeline"
	"github.com/cognicore/openbr/pkg/br/plugin"
	"github.com/cognicore/openbr/pkg/br/template"
)

// Manager resolves descriptors to cores and keeps every core it publishes
// for the rest of its life. Building a core may recursively resolve other
// descriptors, so the lock is held only around lookups and inserts.
type Manager struct {
	cfg           config.Config
	log           logger.Logger
	workerCommand pipeline.WorkerCommand

	mu    sync.Mutex
	cores map[string]*Core
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger handed to every core the manager builds.
func WithLogger(log logger.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithWorkerCommand sets how multi-process pipelines start workers.
func WithWorkerCommand(cmd pipeline.WorkerCommand) Option {
	return func(m *Manager) { m.workerCommand = cmd }
}

// NewManager returns an empty registry for cfg. Cores are built on first
// use by Get.
func NewManager(cfg config.Config, opts ...Option) *Manager {
	if cfg.Abbreviations == nil {
		cfg.Abbreviations = map[string]string{}
	}
	m := &Manager{
		cfg:           cfg,
		log:           logger.NewNoopLogger(),
		workerCommand: pipeline.DefaultWorkerCommand,
		cores:         make(map[string]*Core),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the settings the manager was built with.
func (m *Manager) Config() config.Config { return m.cfg }

// Get returns the core for desc, building and publishing it on first use.
// Concurrent first uses may build twice; the first insert wins.
func (m *Manager) Get(desc string) (*Core, error) {
	return m.get(desc, nil)
}

func (m *Manager) get(desc string, stack []string) (*Core, error) {
	if desc == "" {
		return nil, brerr.ErrEmptyDescriptor
	}

	m.mu.Lock()
	c, ok := m.cores[desc]
	m.mu.Unlock()
	if ok {
		return c, nil
	}

	c, err := m.build(desc, stack)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.cores[desc]; ok {
		m.mu.Unlock()
		_ = c.Close()
		return existing, nil
	}
	m.cores[desc] = c
	m.mu.Unlock()

	m.log.Debug("algorithm published", zap.String("algorithm", desc))
	return c, nil
}

// build resolves desc into a core that is not published.
func (m *Manager) build(desc string, stack []string) (*Core, error) {
	if desc == "" {
		return nil, brerr.ErrEmptyDescriptor
	}
	c := newCore(m, desc)
	if err := c.init(desc, stack); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Train fits a fresh core for desc on input and stores it to model when
// model is named. The published core for desc, if any, is left untouched.
func (m *Manager) Train(ctx context.Context, desc string, input, model template.File) error {
	c, err := m.build(desc, nil)
	if err != nil {
		return err
	}
	defer c.Close()
	return c.Train(ctx, input, model)
}

// Builder makes stages whose unknown names are resolved as algorithms.
func (m *Manager) Builder() plugin.Builder {
	return m.builder(nil)
}

// builder carries the abbreviation expansion stack so a reference back to
// an algorithm being expanded fails instead of recursing forever.
func (m *Manager) builder(stack []string) plugin.Builder {
	return plugin.Builder{Resolve: func(name string, args plugin.Args) (plugin.Stage, bool, error) {
		if !m.resolvable(name) {
			return nil, false, nil
		}
		desc := template.File{Name: name, Args: map[string]string(args)}.Flat()
		c, err := m.get(desc, stack)
		if err != nil {
			return nil, true, err
		}
		return plugin.Borrowed(c.transform), true, nil
	}}
}

func (m *Manager) resolvable(name string) bool {
	if _, ok := m.cfg.Abbreviations[name]; ok {
		return true
	}
	_, ok := m.modelFile(name)
	return ok
}

// modelFile locates a stored model for desc: first under the SDK, then
// desc itself as a path.
func (m *Manager) modelFile(desc string) (string, bool) {
	candidates := []string{desc}
	if m.cfg.SDKPath != "" {
		candidates = []string{m.cfg.ModelPath(desc), desc}
	}
	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, true
		}
	}
	return "", false
}

// Close releases every published core.
func (m *Manager) Close() error {
	m.mu.Lock()
	cores := m.cores
	m.cores = make(map[string]*Core)
	m.mu.Unlock()

	var errs []error
	for _, c := range cores {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// init resolves desc into c. Resolution order: a stored model, an
// abbreviation, an abbreviation or model with configuration overrides
// (name[key=value]), and finally a fresh parse of the descriptor grammar.
func (c *Core) init(desc string, stack []string) error {
	handled, err := c.loadOrExpand(desc, stack)
	if err != nil {
		return err
	}
	if handled {
		return c.resimplify()
	}

	parsed := template.ParseFile("." + desc)
	if key := strings.TrimPrefix(filepath.Ext(parsed.Name), "."); key != "" && key != desc {
		handled, err := c.loadOrExpand(key, stack)
		if err != nil {
			return err
		}
		if handled {
			if err := c.override(parsed.Args); err != nil {
				return fmt.Errorf("%s: %w", desc, err)
			}
			return c.resimplify()
		}
	}

	if err := c.parse(desc, stack); err != nil {
		return err
	}
	return c.resimplify()
}

// loadOrExpand handles desc when it names a stored model or an
// abbreviation.
func (c *Core) loadOrExpand(desc string, stack []string) (bool, error) {
	if path, ok := c.mgr.modelFile(desc); ok {
		return true, c.Load(path)
	}

	expansion, ok := c.mgr.cfg.Abbreviations[desc]
	if !ok {
		return false, nil
	}
	for i, seen := range stack {
		if seen == desc {
			cycle := append(append([]string(nil), stack[i:]...), desc)
			return true, fmt.Errorf("%w: %s", brerr.ErrAbbreviationCycle, strings.Join(cycle, " -> "))
		}
	}
	c.log.Debug("expanding abbreviation", zap.String("name", desc), zap.String("expansion", expansion))
	next := append(append([]string(nil), stack...), desc)
	return true, c.init(expansion, next)
}

// override applies bracketed configuration to a private copy of the
// enrollment stage, so stages borrowed from other algorithms stay intact.
func (c *Core) override(args map[string]string) error {
	if c.transform == nil {
		return brerr.ErrNullTransform
	}
	data, err := plugin.Marshal(c.transform)
	if err != nil {
		return fmt.Errorf("%w: %v", brerr.ErrNotSerializable, err)
	}
	private, err := plugin.Unmarshal(data, c.mgr.Builder())
	if err != nil {
		return err
	}
	if err := c.simplified.Release(); err != nil {
		_ = plugin.Close(private)
		return err
	}
	c.simplified = plugin.Handle{}
	_ = closeStage(c.transform)
	c.transform = private

	for key, value := range args {
		applied, err := plugin.SetConfig(c.transform, key, value)
		if err != nil {
			return fmt.Errorf("%s=%s: %w", key, value, err)
		}
		if !applied {
			return fmt.Errorf("%w: %s", brerr.ErrUnknownConfig, key)
		}
	}
	return nil
}

// parse reads STAGE, STAGE:DISTANCE or STAGE!COMPARE. A '!' anywhere at
// the top level takes precedence over ':'.
func (c *Core) parse(desc string, stack []string) error {
	words := template.SplitTopLevel(desc, '!')
	compareStage := len(words) > 1
	if !compareStage {
		words = template.SplitTopLevel(desc, ':')
	}
	if len(words) > 2 {
		return fmt.Errorf("%w: %q", brerr.ErrInvalidDescriptor, desc)
	}

	b := c.mgr.builder(stack)
	t, err := b.Make(words[0])
	if err != nil {
		return fmt.Errorf("algorithm %q: %w", desc, err)
	}
	c.transform = t
	if len(words) == 1 {
		return nil
	}

	if compareStage {
		cmp, err := b.Make(words[1])
		if err != nil {
			return fmt.Errorf("algorithm %q: %w", desc, err)
		}
		c.comparison = cmp
		return nil
	}
	d, err := b.MakeDistance(words[1])
	if err != nil {
		return fmt.Errorf("algorithm %q: %w", desc, err)
	}
	c.setDistance(d)
	return nil
}

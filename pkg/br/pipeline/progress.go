package pipeline

import (
	"context"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/cognicore/openbr/pkg/br/logger"
	"github.com/cognicore/openbr/pkg/br/plugin"
	"github.com/cognicore/openbr/pkg/br/template"
)

// ProgressCounter counts templates flowing past it and, when enabled,
// renders a progress bar. One counter is shared by every operation of an
// algorithm, so pipelines hold it through plugin.Borrowed. The expected
// total is reset per operation with the "totalProgress" configuration key.
type ProgressCounter struct {
	plugin.Base

	mu      sync.Mutex
	show    bool
	writer  io.Writer
	log     logger.Logger
	total   int64
	count   int64
	started time.Time
	bar     *pb.ProgressBar
}

// NewProgressCounter renders to stderr when show is true.
func NewProgressCounter(show bool, log logger.Logger) *ProgressCounter {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	return &ProgressCounter{
		Base:   plugin.NewBase("ProgressCounter", nil),
		show:   show,
		writer: os.Stderr,
		log:    log,
	}
}

// SetWriter redirects the progress bar.
func (p *ProgressCounter) SetWriter(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writer = w
}

func (p *ProgressCounter) Process(ctx context.Context, in template.List) (template.List, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.count += int64(len(in))
	if p.show {
		if p.bar == nil {
			p.bar = pb.New64(p.total).SetWriter(p.writer)
			p.bar.Start()
		}
		p.bar.Add(len(in))
	}
	return in, nil
}

// SetConfig accepts "totalProgress", which starts a new count.
func (p *ProgressCounter) SetConfig(key, value string) (bool, error) {
	if key != "totalProgress" {
		return false, nil
	}
	total, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopBar()
	p.total = total
	p.count = 0
	p.started = time.Now()
	return true, nil
}

// Finish stops the bar and logs the throughput of the finished operation.
func (p *ProgressCounter) Finish(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopBar()

	elapsed := time.Since(p.started)
	if p.started.IsZero() {
		elapsed = 0
	}
	p.log.Debug("progress finished",
		zap.String("processed", humanize.Comma(p.count)),
		zap.String("expected", humanize.Comma(p.total)),
		zap.Duration("elapsed", elapsed))
	return nil
}

// Count returns the templates seen since the last reset.
func (p *ProgressCounter) Count() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

func (p *ProgressCounter) stopBar() {
	if p.bar != nil {
		p.bar.Finish()
		p.bar = nil
	}
}

func (p *ProgressCounter) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopBar()
	return nil
}

package pipeline

import (
	"bufio"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cognicore/openbr/pkg/br/brerr"
	"github.com/cognicore/openbr/pkg/br/logger"
	"github.com/cognicore/openbr/pkg/br/plugin"
	"github.com/cognicore/openbr/pkg/br/template"
)

// WorkerCommand builds the command line of one worker process. The process
// must run ServeWorker on its stdin and stdout.
type WorkerCommand func() (*exec.Cmd, error)

// DefaultWorkerCommand re-executes the current binary with the "worker"
// subcommand.
func DefaultWorkerCommand() (*exec.Cmd, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}
	return exec.Command(exe, "worker"), nil
}

// ProcessWrapper runs its stage in separate worker processes. The stage is
// serialized once and shipped to every worker on start; each batch is split
// into contiguous chunks, one per worker, and the results are reassembled
// in input order.
type ProcessWrapper struct {
	inner   plugin.Stage
	workers int
	command WorkerCommand
	log     logger.Logger

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	procs   []*workerProc
}

// ProcessOption configures a ProcessWrapper.
type ProcessOption func(*ProcessWrapper)

func WithWorkerCommand(cmd WorkerCommand) ProcessOption {
	return func(p *ProcessWrapper) { p.command = cmd }
}

func WithLogger(log logger.Logger) ProcessOption {
	return func(p *ProcessWrapper) { p.log = log }
}

func NewProcessWrapper(inner plugin.Stage, workers int, opts ...ProcessOption) *ProcessWrapper {
	p := &ProcessWrapper{
		inner:   inner,
		workers: workers,
		command: DefaultWorkerCommand,
		log:     logger.NewNoopLogger(),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	if p.workers < 1 {
		p.workers = 1
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *ProcessWrapper) Description() string { return p.inner.Description() }

func (p *ProcessWrapper) Process(ctx context.Context, in template.List) (template.List, error) {
	if len(in) == 0 {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.start(); err != nil {
		return nil, err
	}

	chunks := split(in, len(p.procs))
	ids := make([]string, len(chunks))
	for i := range ids {
		ids[i] = ulid.MustNew(ulid.Now(), p.entropy).String()
	}

	results := make([]template.List, len(chunks))
	var g errgroup.Group
	for i, chunk := range chunks {
		g.Go(func() error {
			out, err := p.procs[i].call(request{ID: ids[i], Batch: chunk})
			if err != nil {
				return fmt.Errorf("%w: worker %d: %v", brerr.ErrWorker, i, err)
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// A failed exchange leaves the protocol out of step.
		_ = p.stop()
		return nil, err
	}

	var out template.List
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// split cuts in into at most n contiguous, nearly equal chunks.
func split(in template.List, n int) []template.List {
	if n > len(in) {
		n = len(in)
	}
	chunks := make([]template.List, 0, n)
	size, rem := len(in)/n, len(in)%n
	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < rem {
			end++
		}
		chunks = append(chunks, in[start:end])
		start = end
	}
	return chunks
}

func (p *ProcessWrapper) start() error {
	if len(p.procs) > 0 {
		return nil
	}
	payload, err := plugin.Marshal(p.inner)
	if err != nil {
		return fmt.Errorf("%w: %v", brerr.ErrNotSerializable, err)
	}

	for i := 0; i < p.workers; i++ {
		w, err := startWorker(p.command)
		if err != nil {
			_ = p.stop()
			return fmt.Errorf("%w: start worker %d: %v", brerr.ErrWorker, i, err)
		}
		p.procs = append(p.procs, w)
		if _, err := w.call(request{ID: ulid.MustNew(ulid.Now(), p.entropy).String(), Stage: payload}); err != nil {
			_ = p.stop()
			return fmt.Errorf("%w: initialize worker %d: %v", brerr.ErrWorker, i, err)
		}
	}
	p.log.Debug("worker processes started",
		zap.Int("workers", p.workers),
		zap.String("stage", p.inner.Description()))
	return nil
}

func (p *ProcessWrapper) stop() error {
	var errs []error
	for _, w := range p.procs {
		errs = append(errs, w.close())
	}
	p.procs = nil
	return errors.Join(errs...)
}

// Train fits the local stage; running workers are stopped so the next
// batch ships the trained state.
func (p *ProcessWrapper) Train(ctx context.Context, data template.List) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.stop(); err != nil {
		return err
	}
	return p.inner.Train(ctx, data)
}

func (p *ProcessWrapper) Store(s *plugin.Stream) error { return p.inner.Store(s) }

func (p *ProcessWrapper) Load(s *plugin.Stream) error { return p.inner.Load(s) }

func (p *ProcessWrapper) Children() []plugin.Stage { return []plugin.Stage{p.inner} }

func (p *ProcessWrapper) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return errors.Join(p.stop(), plugin.Close(p.inner))
}

type workerProc struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	bw    *bufio.Writer
	enc   *cbor.Encoder
	dec   *cbor.Decoder
}

func startWorker(command WorkerCommand) (*workerProc, error) {
	cmd, err := command()
	if err != nil {
		return nil, err
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	bw := bufio.NewWriter(stdin)
	return &workerProc{
		cmd:   cmd,
		stdin: stdin,
		bw:    bw,
		enc:   cbor.NewEncoder(bw),
		dec:   cbor.NewDecoder(bufio.NewReader(stdout)),
	}, nil
}

func (w *workerProc) call(req request) (template.List, error) {
	if err := w.enc.Encode(req); err != nil {
		return nil, err
	}
	if err := w.bw.Flush(); err != nil {
		return nil, err
	}
	var resp response
	if err := w.dec.Decode(&resp); err != nil {
		return nil, err
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("response %s for request %s", resp.ID, req.ID)
	}
	if resp.Err != "" {
		return nil, errors.New(resp.Err)
	}
	return resp.Batch, nil
}

func (w *workerProc) close() error {
	_ = w.stdin.Close()
	return w.cmd.Wait()
}

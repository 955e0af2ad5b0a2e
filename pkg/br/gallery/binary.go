package gallery

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/cognicore/openbr/pkg/br/template"
)

// binaryGallery stores templates as back-to-back CBOR items (.gal and
// .template files).
type binaryGallery struct {
	path      string
	blockSize int
	appending bool

	rf  *os.File
	dec *cbor.Decoder

	wf  *os.File
	bw  *bufio.Writer
	enc *cbor.Encoder
}

func openBinary(f template.File, blockSize int) *binaryGallery {
	return &binaryGallery{
		path:      f.Name,
		blockSize: blockSize,
		appending: f.GetBool("append", false),
	}
}

func (g *binaryGallery) ReadBlock(ctx context.Context) (template.List, bool, error) {
	if g.dec == nil {
		fh, err := os.Open(g.path)
		if err != nil {
			return nil, false, err
		}
		g.rf = fh
		g.dec = cbor.NewDecoder(bufio.NewReader(fh))
	}

	block := make(template.List, 0, g.blockSize)
	for len(block) < g.blockSize {
		var t template.Template
		if err := g.dec.Decode(&t); err != nil {
			if errors.Is(err, io.EOF) {
				return block, false, nil
			}
			return nil, false, err
		}
		block = append(block, t)
	}
	return block, true, nil
}

func (g *binaryGallery) WriteBlock(ctx context.Context, block template.List) error {
	if g.enc == nil {
		flags := os.O_CREATE | os.O_WRONLY
		if g.appending {
			flags |= os.O_APPEND
		} else {
			flags |= os.O_TRUNC
		}
		fh, err := os.OpenFile(g.path, flags, 0o644)
		if err != nil {
			return err
		}
		g.wf = fh
		g.bw = bufio.NewWriter(fh)
		g.enc = cbor.NewEncoder(g.bw)
	}
	for _, t := range block {
		if err := g.enc.Encode(t); err != nil {
			return err
		}
	}
	return g.bw.Flush()
}

func (g *binaryGallery) TotalSize(ctx context.Context) (int64, error) {
	fh, err := os.Open(g.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	defer fh.Close()

	dec := cbor.NewDecoder(bufio.NewReader(fh))
	var n int64
	for {
		var raw cbor.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, err
		}
		n++
	}
}

func (g *binaryGallery) Close() error {
	var errs []error
	if g.bw != nil {
		errs = append(errs, g.bw.Flush())
	}
	if g.wf != nil {
		errs = append(errs, g.wf.Close())
	}
	if g.rf != nil {
		errs = append(errs, g.rf.Close())
	}
	return errors.Join(errs...)
}

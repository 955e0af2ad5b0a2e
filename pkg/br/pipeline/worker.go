package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/cognicore/openbr/pkg/br/plugin"
	"github.com/cognicore/openbr/pkg/br/template"
)

// request is one message to a worker. The first request of a session
// carries the serialized stage; every later one carries a batch.
type request struct {
	ID    string        `cbor:"id"`
	Stage []byte        `cbor:"stage,omitempty"`
	Batch template.List `cbor:"batch,omitempty"`
}

type response struct {
	ID    string        `cbor:"id"`
	Batch template.List `cbor:"batch,omitempty"`
	Err   string        `cbor:"err,omitempty"`
}

// ServeWorker runs the worker side of the ProcessWrapper protocol until r
// is exhausted. Stage errors are reported to the caller in the response;
// only transport failures end the session with an error.
func ServeWorker(ctx context.Context, r io.Reader, w io.Writer, b plugin.Builder) error {
	dec := cbor.NewDecoder(bufio.NewReader(r))
	bw := bufio.NewWriter(w)
	enc := cbor.NewEncoder(bw)
	reply := func(resp response) error {
		if err := enc.Encode(resp); err != nil {
			return err
		}
		return bw.Flush()
	}

	var init request
	if err := dec.Decode(&init); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("read stage: %w", err)
	}
	stage, err := plugin.Unmarshal(init.Stage, b)
	if err != nil {
		_ = reply(response{ID: init.ID, Err: err.Error()})
		return fmt.Errorf("load stage: %w", err)
	}
	defer plugin.Close(stage)
	if err := reply(response{ID: init.ID}); err != nil {
		return err
	}

	for {
		var req request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return plugin.Finish(ctx, stage)
			}
			return fmt.Errorf("read request: %w", err)
		}
		resp := response{ID: req.ID}
		out, err := stage.Process(ctx, req.Batch)
		if err != nil {
			resp.Err = err.Error()
		} else {
			resp.Batch = out
		}
		if err := reply(resp); err != nil {
			return err
		}
	}
}

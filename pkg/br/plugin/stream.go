package plugin

import (
	"bytes"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Stream is the sequential encoding stages persist their state to. Values
// are CBOR items written back to back, so readers must consume them in the
// order they were written.
type Stream struct {
	enc *cbor.Encoder
	dec *cbor.Decoder
}

// NewWriter returns a write-only stream.
func NewWriter(w io.Writer) *Stream {
	return &Stream{enc: cbor.NewEncoder(w)}
}

// NewReader returns a read-only stream.
func NewReader(r io.Reader) *Stream {
	return &Stream{dec: cbor.NewDecoder(r)}
}

// Write appends one value.
func (s *Stream) Write(v any) error {
	if s.enc == nil {
		return fmt.Errorf("plugin: write on a read stream")
	}
	return s.enc.Encode(v)
}

// Read decodes the next value into v.
func (s *Stream) Read(v any) error {
	if s.dec == nil {
		return fmt.Errorf("plugin: read on a write stream")
	}
	return s.dec.Decode(v)
}

// Serialize writes a stage's description followed by its state.
func Serialize(s *Stream, st Stage) error {
	if err := s.Write(st.Description()); err != nil {
		return err
	}
	if err := st.Store(s); err != nil {
		return fmt.Errorf("store %s: %w", st.Description(), err)
	}
	return nil
}

// Deserialize rebuilds a stage written by Serialize.
func Deserialize(s *Stream, b Builder) (Stage, error) {
	var desc string
	if err := s.Read(&desc); err != nil {
		return nil, err
	}
	st, err := b.Make(desc)
	if err != nil {
		return nil, err
	}
	if err := st.Load(s); err != nil {
		_ = Close(st)
		return nil, fmt.Errorf("load %s: %w", desc, err)
	}
	return st, nil
}

// SerializeDistance writes a distance's description followed by its state.
func SerializeDistance(s *Stream, d Distance) error {
	if err := s.Write(d.Description()); err != nil {
		return err
	}
	if err := d.Store(s); err != nil {
		return fmt.Errorf("store %s: %w", d.Description(), err)
	}
	return nil
}

// DeserializeDistance rebuilds a distance written by SerializeDistance.
func DeserializeDistance(s *Stream, b Builder) (Distance, error) {
	var desc string
	if err := s.Read(&desc); err != nil {
		return nil, err
	}
	d, err := b.MakeDistance(desc)
	if err != nil {
		return nil, err
	}
	if err := d.Load(s); err != nil {
		return nil, fmt.Errorf("load %s: %w", desc, err)
	}
	return d, nil
}

// Marshal serializes a stage into a byte slice.
func Marshal(st Stage) ([]byte, error) {
	var buf bytes.Buffer
	if err := Serialize(NewWriter(&buf), st); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal rebuilds a stage produced by Marshal.
func Unmarshal(data []byte, b Builder) (Stage, error) {
	return Deserialize(NewReader(bytes.NewReader(data)), b)
}

// Clone produces an independent copy of a stage, trained state included.
func Clone(st Stage) (Stage, error) {
	data, err := Marshal(st)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data, Builder{})
}

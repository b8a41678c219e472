package checkpoint

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"
)

// Codec encodes and decodes checkpoint state to/from a stream.
type Codec interface {
	Encode(w io.Writer, v any) error
	Decode(r io.Reader, v any) error

	// Extension is the file suffix (including the leading dot) this codec's
	// output should be stored under.
	Extension() string
}

// jsonCodec encodes state as JSON, indented or compact.
type jsonCodec struct {
	indent bool
}

// NewJSONCodec returns a Codec that encodes state as indented JSON.
func NewJSONCodec() Codec {
	return jsonCodec{indent: true}
}

// NewCompactJSONCodec returns a Codec that encodes state as single-line JSON.
func NewCompactJSONCodec() Codec {
	return jsonCodec{indent: false}
}

func (c jsonCodec) Encode(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	if c.indent {
		enc.SetIndent("", "  ")
	}

	err := enc.Encode(v)
	if err != nil {
		return fmt.Errorf("json encode: %w", err)
	}

	return nil
}

func (c jsonCodec) Decode(r io.Reader, v any) error {
	err := json.NewDecoder(r).Decode(v)
	if err != nil {
		return fmt.Errorf("json decode: %w", err)
	}

	return nil
}

func (c jsonCodec) Extension() string {
	return ".json"
}

// gobCodec encodes state with encoding/gob.
type gobCodec struct{}

// NewGobCodec returns a Codec that encodes state with encoding/gob.
func NewGobCodec() Codec {
	return gobCodec{}
}

func (gobCodec) Encode(w io.Writer, v any) error {
	err := gob.NewEncoder(w).Encode(v)
	if err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}

	return nil
}

func (gobCodec) Decode(r io.Reader, v any) error {
	err := gob.NewDecoder(r).Decode(v)
	if err != nil {
		return fmt.Errorf("gob decode: %w", err)
	}

	return nil
}

func (gobCodec) Extension() string {
	return ".gob"
}

// lz4Codec wraps another Codec, LZ4-compressing its output stream. Used for
// the notes-store ref snapshot, which can otherwise run to one entry per
// commit in the range.
type lz4Codec struct {
	inner Codec
}

// NewLZ4Codec returns a Codec that LZ4-compresses inner's encoded stream.
// The stored file keeps inner's extension with an added ".lz4" suffix.
func NewLZ4Codec(inner Codec) Codec {
	return lz4Codec{inner: inner}
}

func (c lz4Codec) Encode(w io.Writer, v any) error {
	zw := lz4.NewWriter(w)

	err := c.inner.Encode(zw, v)
	if err != nil {
		return err
	}

	closeErr := zw.Close()
	if closeErr != nil {
		return fmt.Errorf("lz4 close: %w", closeErr)
	}

	return nil
}

func (c lz4Codec) Decode(r io.Reader, v any) error {
	return c.inner.Decode(lz4.NewReader(r), v)
}

func (c lz4Codec) Extension() string {
	return c.inner.Extension() + ".lz4"
}

// SaveState encodes v with codec and writes it to dir/name+codec.Extension().
func SaveState(dir, name string, codec Codec, v any) error {
	path := filepath.Join(dir, name+codec.Extension())

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create state file: %w", err)
	}
	defer f.Close()

	encErr := codec.Encode(f, v)
	if encErr != nil {
		return fmt.Errorf("encode state: %w", encErr)
	}

	return nil
}

// LoadState reads dir/name+codec.Extension() and decodes it into v.
func LoadState(dir, name string, codec Codec, v any) error {
	path := filepath.Join(dir, name+codec.Extension())

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer f.Close()

	decErr := codec.Decode(f, v)
	if decErr != nil {
		return fmt.Errorf("decode state: %w", decErr)
	}

	return nil
}

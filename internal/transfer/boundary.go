package transfer

import (
	"fmt"
	"io"
)

// Source copies caller bytes into service memory. CopyIn must fill dst
// completely or fail.
type Source interface {
	CopyIn(dst []byte) error
}

// Sink copies service bytes out to the caller. CopyOut must deliver all of
// src or fail.
type Sink interface {
	CopyOut(src []byte) error
}

type SourceFunc func(dst []byte) error

func (f SourceFunc) CopyIn(dst []byte) error { return f(dst) }

type SinkFunc func(src []byte) error

func (f SinkFunc) CopyOut(src []byte) error { return f(src) }

// Bytes is a Source over an in-process slice.
func Bytes(p []byte) Source {
	return SourceFunc(func(dst []byte) error {
		if len(dst) > len(p) {
			return fmt.Errorf("%w: want %d bytes, caller offered %d", ErrShortBuffer, len(dst), len(p))
		}
		copy(dst, p)
		return nil
	})
}

// Reader is a Source that pulls from r.
func Reader(r io.Reader) Source {
	return SourceFunc(func(dst []byte) error {
		_, err := io.ReadFull(r, dst)
		return err
	})
}

// Buffer is a Sink that writes into p and records the count in *n.
func Buffer(p []byte, n *int) Sink {
	return SinkFunc(func(src []byte) error {
		if len(src) > len(p) {
			return fmt.Errorf("%w: have %d bytes, caller buffer holds %d", ErrShortBuffer, len(src), len(p))
		}
		c := copy(p, src)
		if n != nil {
			*n = c
		}
		return nil
	})
}

// Writer is a Sink that pushes to w.
func Writer(w io.Writer) Sink {
	return SinkFunc(func(src []byte) error {
		written, err := w.Write(src)
		if err != nil {
			return err
		}
		if written != len(src) {
			return io.ErrShortWrite
		}
		return nil
	})
}

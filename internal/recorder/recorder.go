// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package recorder reads and writes bus capture files.
//
// A capture is a CBOR sequence: one header item followed by one record per
// frame. Items are encoded as arrays so a capture stays compact and can be
// inspected with any CBOR tool.
package recorder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/xid"

	"github.com/Thermoquad/canloop/pkg/loopbus"
)

// Capture format
const (
	Magic   = "canloop-capture"
	Version = 1
)

var (
	// ErrNotCapture is returned when a stream does not start with a capture header.
	ErrNotCapture = errors.New("not a canloop capture")
	// ErrCorruptRecord is returned for a record that cannot be a bus frame.
	ErrCorruptRecord = errors.New("corrupt capture record")
)

// Header starts every capture.
type Header struct {
	_       struct{} `cbor:",toarray"`
	Magic   string
	Version uint
	Session string
	Started int64 // unix nanoseconds
	Bus     string
}

// StartTime returns the capture start as a time.
func (h Header) StartTime() time.Time { return time.Unix(0, h.Started) }

type record struct {
	_    struct{} `cbor:",toarray"`
	Time int64
	ID   uint32
	Data []byte
}

// Writer appends frames to a capture. It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	enc    *cbor.Encoder
	closer io.Closer
	header Header
	count  uint64
}

// NewWriter writes a header for a new session to w.
func NewWriter(w io.Writer, bus string) (*Writer, error) {
	h := Header{
		Magic:   Magic,
		Version: Version,
		Session: xid.New().String(),
		Started: time.Now().UnixNano(),
		Bus:     bus,
	}
	enc := cbor.NewEncoder(w)
	if err := enc.Encode(h); err != nil {
		return nil, fmt.Errorf("write capture header: %w", err)
	}
	return &Writer{enc: enc, header: h}, nil
}

// Create opens path for writing and starts a capture in it.
func Create(path, bus string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f, bus)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// Header returns the capture header.
func (w *Writer) Header() Header { return w.header }

// Write appends one frame. A zero timestamp is recorded as now.
func (w *Writer) Write(f loopbus.Frame) error {
	ts := f.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	rec := record{Time: ts.UnixNano(), ID: f.ID, Data: append([]byte(nil), f.Payload()...)}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("write capture record: %w", err)
	}
	w.count++
	return nil
}

// Count returns the number of frames written.
func (w *Writer) Count() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close closes the underlying file when the writer was made by Create.
func (w *Writer) Close() error {
	if w.closer == nil {
		return nil
	}
	return w.closer.Close()
}

// Reader reads frames back from a capture.
type Reader struct {
	dec    *cbor.Decoder
	closer io.Closer
	header Header
}

// NewReader reads and checks the capture header.
func NewReader(r io.Reader) (*Reader, error) {
	dec := cbor.NewDecoder(r)
	var h Header
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotCapture, err)
	}
	if h.Magic != Magic {
		return nil, fmt.Errorf("%w: magic %q", ErrNotCapture, h.Magic)
	}
	if h.Version != Version {
		return nil, fmt.Errorf("unsupported capture version %d", h.Version)
	}
	return &Reader{dec: dec, header: h}, nil
}

// Open opens a capture file.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// Header returns the capture header.
func (r *Reader) Header() Header { return r.header }

// Next returns the next frame, or io.EOF after the last one.
func (r *Reader) Next() (loopbus.Frame, error) {
	var rec record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return loopbus.Frame{}, io.EOF
		}
		return loopbus.Frame{}, fmt.Errorf("read capture record: %w", err)
	}
	if len(rec.Data) > loopbus.MaxDataLength {
		return loopbus.Frame{}, fmt.Errorf("%w: %d data bytes", ErrCorruptRecord, len(rec.Data))
	}

	f := loopbus.NewFrame(rec.ID, rec.Data)
	f.Timestamp = time.Unix(0, rec.Time)
	return f, nil
}

// Close closes the underlying file when the reader was made by Open.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

package event

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// Writer appends encoded events to a stream. Call Flush when done.
type Writer struct {
	w     *bufio.Writer
	buf   []byte
	count int64
}

// NewWriter returns a buffered event writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriterSize(w, 64*1024)}
}

// Write encodes and writes ev.
func (w *Writer) Write(ev Event) error {
	w.buf = Append(w.buf[:0], ev)
	if _, err := w.w.Write(w.buf); err != nil {
		return fmt.Errorf("event: write %s: %w", ev.Kind, err)
	}
	w.count++
	return nil
}

// Flush writes any buffered data to the underlying stream.
func (w *Writer) Flush() error {
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("event: flush: %w", err)
	}
	return nil
}

// Count returns the number of events written.
func (w *Writer) Count() int64 { return w.count }

// Raw is an undecoded event record.
type Raw struct {
	Header Header
	Bytes  []byte
}

// Reader reads event records from a stream.
type Reader struct {
	r   *bufio.Reader
	hdr [HeaderSize]byte
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 64*1024)}
}

// NextRaw returns the next record without decoding its payload. It returns
// io.EOF at a clean end of input and io.ErrUnexpectedEOF inside a record.
func (r *Reader) NextRaw() (Raw, error) {
	if _, err := io.ReadFull(r.r, r.hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Raw{}, io.EOF
		}
		return Raw{}, fmt.Errorf("event: read header: %w", err)
	}
	h, err := ParseHeader(r.hdr[:])
	if err != nil {
		return Raw{}, err
	}
	b := make([]byte, h.Size)
	copy(b, r.hdr[:])
	if _, err := io.ReadFull(r.r, b[HeaderSize:]); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Raw{}, fmt.Errorf("event: read %s payload: %w", h.Kind, err)
	}
	return Raw{Header: h, Bytes: b}, nil
}

// Next returns the next decoded event.
func (r *Reader) Next() (Event, error) {
	raw, err := r.NextRaw()
	if err != nil {
		return Event{}, err
	}
	return Decode(raw.Bytes)
}

// ReadAll decodes every remaining event.
func (r *Reader) ReadAll() ([]Event, error) {
	var out []Event
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
}

package capture

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// AppendRecord appends the encoded form of rec to dst.
func AppendRecord(dst []byte, rec Record) ([]byte, error) {
	size := rec.Size()
	if size > MaxRecordSize {
		return dst, fmt.Errorf("capture: %s record of %d bytes exceeds %d", rec.Kind, size, MaxRecordSize)
	}
	dst = append(dst, byte(rec.Kind))
	dst = binary.BigEndian.AppendUint32(dst, rec.Time.Sec)
	dst = binary.BigEndian.AppendUint32(dst, rec.Time.Nsec)
	dst = binary.BigEndian.AppendUint16(dst, uint16(size))
	return append(dst, rec.Payload...), nil
}

// Writer frames records onto a stream. Call Flush when done.
type Writer struct {
	w     *bufio.Writer
	buf   []byte
	count int64
}

// NewWriter returns a buffered record writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriterSize(w, 64*1024)}
}

// Write encodes and writes one record.
func (w *Writer) Write(rec Record) error {
	var err error
	w.buf, err = AppendRecord(w.buf[:0], rec)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(w.buf); err != nil {
		return fmt.Errorf("capture: write %s record: %w", rec.Kind, err)
	}
	w.count++
	return nil
}

// Flush writes any buffered data to the underlying stream.
func (w *Writer) Flush() error {
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("capture: flush: %w", err)
	}
	return nil
}

// Count returns the number of records written.
func (w *Writer) Count() int64 { return w.count }

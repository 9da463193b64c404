package capture

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// Reader yields framed records from a capture stream. It returns io.EOF at a
// clean end of input and wrapped errors for I/O failures.
//
// A record cut short by the end of the file, or a header whose size field is
// smaller than the header itself, ends the stream: framing cannot be recovered
// past that point. Both are logged and reported as io.EOF.
type Reader struct {
	r      *bufio.Reader
	log    *zap.Logger
	hdr    [HeaderSize]byte
	offset int64
	count  int64

	truncated bool
}

// NewReader wraps r. A nil logger disables logging.
func NewReader(r io.Reader, log *zap.Logger) *Reader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reader{r: bufio.NewReaderSize(r, 64*1024), log: log}
}

// Next returns the next record.
func (r *Reader) Next() (Record, error) {
	if r.truncated {
		return Record{}, io.EOF
	}

	n, err := io.ReadFull(r.r, r.hdr[:])
	switch {
	case errors.Is(err, io.EOF):
		return Record{}, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		r.stop("truncated record header", zap.Int("have", n))
		return Record{}, io.EOF
	case err != nil:
		return Record{}, fmt.Errorf("capture: read header at offset %d: %w", r.offset, err)
	}

	rec := Record{
		Kind: Kind(r.hdr[0]),
		Time: Timestamp{
			Sec:  binary.BigEndian.Uint32(r.hdr[1:5]),
			Nsec: binary.BigEndian.Uint32(r.hdr[5:9]),
		},
	}
	size := int(binary.BigEndian.Uint16(r.hdr[9:11]))
	if size < HeaderSize {
		r.stop("record size smaller than header", zap.Int("size", size))
		return Record{}, io.EOF
	}

	rec.Payload = make([]byte, size-HeaderSize)
	if _, err := io.ReadFull(r.r, rec.Payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			r.stop("truncated record payload", zap.Stringer("kind", rec.Kind), zap.Int("size", size))
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("capture: read %s payload at offset %d: %w", rec.Kind, r.offset, err)
	}

	r.offset += int64(size)
	r.count++
	return rec, nil
}

func (r *Reader) stop(msg string, fields ...zap.Field) {
	r.truncated = true
	r.log.Warn(msg, append(fields, zap.Int64("offset", r.offset), zap.Int64("records", r.count))...)
}

// Count returns the number of complete records read so far.
func (r *Reader) Count() int64 { return r.count }

// Offset returns the byte offset of the next record.
func (r *Reader) Offset() int64 { return r.offset }

// Truncated reports whether the stream ended inside a record.
func (r *Reader) Truncated() bool { return r.truncated }

// ReadAll reads every remaining record.
func (r *Reader) ReadAll() ([]Record, error) {
	var out []Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

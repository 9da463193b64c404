package usbcap

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// transfersPerRead sizes each read as a multiple of the packet size.
const transfersPerRead = 32

// Recorder copies endpoint data to a writer.
type Recorder struct {
	ep  Endpoint
	buf []byte
	log *zap.Logger

	reads int64
}

// NewRecorder returns a recorder reading packetSize-aligned chunks from ep.
func NewRecorder(ep Endpoint, packetSize int, log *zap.Logger) *Recorder {
	if packetSize <= 0 {
		packetSize = DefaultPacketSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{ep: ep, buf: make([]byte, packetSize*transfersPerRead), log: log}
}

// Reads returns the number of completed endpoint reads.
func (r *Recorder) Reads() int64 { return r.reads }

// Record copies data to w until ctx is done or, when limit is positive,
// limit bytes have been written. Cancellation of ctx ends the recording
// without error.
func (r *Recorder) Record(ctx context.Context, w io.Writer, limit int64) (int64, error) {
	var total int64
	for limit <= 0 || total < limit {
		n, err := r.ep.ReadContext(ctx, r.buf)
		if n > 0 {
			r.reads++
			chunk := r.buf[:n]
			if limit > 0 && total+int64(n) > limit {
				chunk = chunk[:limit-total]
			}
			m, werr := w.Write(chunk)
			total += int64(m)
			if werr != nil {
				return total, fmt.Errorf("usbcap: write capture: %w", werr)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, io.EOF) {
				break
			}
			return total, fmt.Errorf("usbcap: read endpoint: %w", err)
		}
	}
	r.log.Info("recording stopped", zap.Int64("bytes", total), zap.Int64("reads", r.reads))
	return total, nil
}

// Package container stores a sorted event stream behind an offset index.
//
// Layout, all integers big-endian:
//
//	magic    43 9F 22 53
//	count    u32
//	offsets  count x u32, absolute file offset of each record
//	magic    A4 C3 2D E5
//	records  event records in ascending start time
package container

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"

	"github.com/OpenTraceLab/OpenTraceNAND/pkg/event"
)

var (
	Magic    = [4]byte{0x43, 0x9F, 0x22, 0x53}
	IndexEnd = [4]byte{0xA4, 0xC3, 0x2D, 0xE5}
)

var (
	ErrBadMagic  = errors.New("container: bad magic")
	ErrBadOffset = errors.New("container: offset out of range")
	ErrTooLarge  = errors.New("container: too large for 32-bit offsets")
)

// Sort orders records by start time. Records with equal start times keep
// their input order.
func Sort(raws []event.Raw) {
	slices.SortStableFunc(raws, func(a, b event.Raw) int {
		return a.Header.Start.Compare(b.Header.Start)
	})
}

// IndexSize returns the size of the index preceding n records.
func IndexSize(n int) int { return 4 + 4 + 4*n + 4 }

// Write writes raws in their current order as a container.
func Write(w io.Writer, raws []event.Raw) error {
	total := int64(IndexSize(len(raws)))
	for _, r := range raws {
		total += int64(len(r.Bytes))
	}
	if total > math.MaxUint32 {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, total)
	}

	idx := make([]byte, 0, IndexSize(len(raws)))
	idx = append(idx, Magic[:]...)
	idx = binary.BigEndian.AppendUint32(idx, uint32(len(raws)))
	off := uint32(IndexSize(len(raws)))
	for _, r := range raws {
		idx = binary.BigEndian.AppendUint32(idx, off)
		off += uint32(len(r.Bytes))
	}
	idx = append(idx, IndexEnd[:]...)

	if _, err := w.Write(idx); err != nil {
		return fmt.Errorf("container: write index: %w", err)
	}
	for i, r := range raws {
		if _, err := w.Write(r.Bytes); err != nil {
			return fmt.Errorf("container: write record %d: %w", i, err)
		}
	}
	return nil
}

// Build reads an event stream from r, sorts it and writes the container to
// w. It returns the number of records written.
func Build(r io.Reader, w io.Writer) (int, error) {
	er := event.NewReader(r)
	var raws []event.Raw
	for {
		raw, err := er.NextRaw()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("container: read event %d: %w", len(raws), err)
		}
		raws = append(raws, raw)
	}
	Sort(raws)
	if err := Write(w, raws); err != nil {
		return 0, err
	}
	return len(raws), nil
}

// Container is a parsed container held in memory.
type Container struct {
	Offsets []uint32
	data    []byte
}

// Read parses a whole container from r.
func Read(r io.Reader) (*Container, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("container: read: %w", err)
	}
	return Parse(b)
}

// Parse validates the index of b. The container keeps a reference to b.
func Parse(b []byte) (*Container, error) {
	if len(b) < IndexSize(0) || !bytes.Equal(b[:4], Magic[:]) {
		return nil, fmt.Errorf("%w: header", ErrBadMagic)
	}
	n := binary.BigEndian.Uint32(b[4:8])
	if uint64(IndexSize(0))+4*uint64(n) > uint64(len(b)) {
		return nil, fmt.Errorf("%w: index of %d entries exceeds file", ErrBadOffset, n)
	}
	end := IndexSize(int(n))
	if !bytes.Equal(b[end-4:end], IndexEnd[:]) {
		return nil, fmt.Errorf("%w: index end", ErrBadMagic)
	}
	c := &Container{Offsets: make([]uint32, n), data: b}
	for i := range c.Offsets {
		off := binary.BigEndian.Uint32(b[8+4*i:])
		if int64(off) < int64(end) || int64(off)+event.HeaderSize > int64(len(b)) {
			return nil, fmt.Errorf("%w: entry %d at %d", ErrBadOffset, i, off)
		}
		c.Offsets[i] = off
	}
	return c, nil
}

// Len returns the number of indexed records.
func (c *Container) Len() int { return len(c.Offsets) }

// Event decodes the i-th record.
func (c *Container) Event(i int) (event.Event, error) {
	if i < 0 || i >= len(c.Offsets) {
		return event.Event{}, fmt.Errorf("%w: index %d of %d", ErrBadOffset, i, len(c.Offsets))
	}
	ev, err := event.Decode(c.data[c.Offsets[i]:])
	if err != nil {
		return event.Event{}, fmt.Errorf("container: record %d: %w", i, err)
	}
	return ev, nil
}

// Events decodes every record in index order.
func (c *Container) Events() ([]event.Event, error) {
	out := make([]event.Event, 0, len(c.Offsets))
	for i := range c.Offsets {
		ev, err := c.Event(i)
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
	return out, nil
}

package shmqueue

import (
	"fmt"
)

// Frame describes a frame copied out of the segment by a Reader
type Frame struct {
	Counter   uint32
	Timestamp uint64
	Width     uint32
	Height    uint32
}

// Reader is the consumer side of the queue. It maps an existing segment and
// never writes to it.
type Reader struct {
	opts   options
	seg    *segment
	hdr    *header
	layout Layout
	slots  [SlotCount]slot
}

// Open maps an existing segment for reading
func Open(opts ...Option) (*Reader, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	seg, err := openSegment(o)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment %q: %w", o.name, err)
	}

	if len(seg.data) < int(align(headerSize)) {
		seg.close()
		return nil, fmt.Errorf("segment %q is %d bytes, smaller than its header", o.name, len(seg.data))
	}

	hdr := headerOf(seg.data)
	layout := ComputeLayout(hdr.cx, hdr.cy)
	if int(layout.Size) > len(seg.data) {
		seg.close()
		return nil, fmt.Errorf("segment %q is %d bytes, %dx%d needs %d", o.name, len(seg.data), hdr.cx, hdr.cy, layout.Size)
	}
	if hdr.offsets != layout.Offsets {
		seg.close()
		return nil, fmt.Errorf("segment %q slot offsets %v do not match layout %v", o.name, hdr.offsets, layout.Offsets)
	}

	return &Reader{
		opts:   o,
		seg:    seg,
		hdr:    hdr,
		layout: layout,
		slots:  slotsOf(seg.data, layout),
	}, nil
}

// Header returns a snapshot of the header
func (r *Reader) Header() HeaderSnapshot {
	if r.hdr == nil {
		return HeaderSnapshot{}
	}
	return r.hdr.snapshot()
}

// Layout returns the layout derived from the header geometry
func (r *Reader) Layout() Layout {
	return r.layout
}

// Replaced reports whether another writer has taken the name over since the
// segment was mapped. The old mapping stays valid but is no longer published.
func (r *Reader) Replaced() bool {
	if r.seg == nil {
		return false
	}
	return r.seg.replaced()
}

// SlotTimestamp returns the timestamp stored in slot i
func (r *Reader) SlotTimestamp(i int) uint64 {
	if r.hdr == nil {
		return 0
	}
	return *r.slots[i%SlotCount].timestamp
}

// Latest copies the most recently published frame into dst, which must hold
// at least Layout().PayloadSize bytes. ok is false when nothing has been
// published yet or when the writer lapped the slot while it was being copied.
func (r *Reader) Latest(dst []byte) (Frame, bool) {
	if r.hdr == nil {
		return Frame{}, false
	}
	if State(r.hdr.state.Load()) != StateReady {
		return Frame{}, false
	}
	if len(dst) < int(r.layout.PayloadSize) {
		return Frame{}, false
	}

	counter := r.hdr.readIdx.Load()
	s := r.slots[slotIndex(counter)]
	ts := *s.timestamp
	copy(dst, s.payload)

	// The slot is reused by write counter+3, which increments before copying.
	if r.hdr.writeIdx.Load()-counter >= SlotCount {
		return Frame{}, false
	}

	return Frame{
		Counter:   counter,
		Timestamp: ts,
		Width:     r.layout.Width,
		Height:    r.layout.Height,
	}, true
}

// Close unmaps the segment
func (r *Reader) Close() error {
	if r.seg == nil {
		return nil
	}
	err := r.seg.close()
	r.seg = nil
	r.hdr = nil
	r.slots = [SlotCount]slot{}
	return err
}

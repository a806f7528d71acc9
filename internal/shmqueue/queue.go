// Package shmqueue implements the writer and reader sides of the OBS virtual
// camera shared-memory frame queue.
//
// # Protocol
//
// The segment starts with a fixed header followed by three equally sized
// frame slots. The single writer publishes a frame in this order:
//
//  1. increment the write counter
//  2. fill slot (counter % 3): payload, then timestamp
//  3. store read counter = write counter, then state = READY
//
// Readers poll the read counter; once it changes the slot it points at is
// complete. Steps 1 and 3 use atomic stores, which Go orders sequentially, so
// the payload is visible before the new read counter. Readers must load the
// counters atomically.
//
// There is no lock and no backpressure. A slow reader may see a slot
// overwritten while copying it once the writer has advanced three more
// frames; Reader.Latest detects that case and reports the frame as torn.
package shmqueue

import (
	"errors"
	"fmt"

	"github.com/artemshal/DungeonCompanion/internal/logger"
)

var (
	// ErrSegmentExists is returned by Create when exclusive writing is
	// requested and the segment is already present
	ErrSegmentExists = errors.New("shared memory segment already exists")

	// ErrNotMapped is returned when the queue has no live mapping
	ErrNotMapped = errors.New("shared memory segment not mapped")

	// ErrSegmentTooSmall is returned by Create when an existing mapping of
	// the same name cannot hold the requested geometry
	ErrSegmentTooSmall = errors.New("shared memory segment too small")
)

// Queue is the writer side of the shared frame queue
type Queue struct {
	opts     options
	seg      *segment
	hdr      *header
	layout   Layout
	slots    [SlotCount]slot
	isWriter bool
}

// NewQueue creates an unmapped queue
func NewQueue(opts ...Option) *Queue {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Queue{opts: o}
}

// Create maps the named segment sized for width x height NV12 frames and
// writes the header with state STARTING. interval is the frame duration in
// 100ns ticks.
//
// Calling Create again without Close leaks the previous mapping.
func (q *Queue) Create(width, height uint32, interval uint64) error {
	log := logger.WithComponent("shmqueue")

	if q.seg != nil {
		log.Warn().
			Str("name", q.opts.name).
			Msg("Create called on a mapped queue; previous mapping is abandoned")
	}

	layout := ComputeLayout(width, height)
	if err := layout.Validate(); err != nil {
		return fmt.Errorf("invalid layout for %dx%d: %w", width, height, err)
	}

	seg, err := createSegment(q.opts, int(layout.Size))
	if err != nil {
		return fmt.Errorf("failed to create segment %q: %w", q.opts.name, err)
	}

	hdr := headerOf(seg.data)
	hdr.writeIdx.Store(0)
	hdr.readIdx.Store(0)
	hdr.offsets = layout.Offsets
	hdr.typ = uint32(TypeVideo)
	hdr.cx = width
	hdr.cy = height
	hdr.interval = interval
	hdr.reserved = [8]uint32{}
	hdr.state.Store(uint32(StateStarting))

	q.seg = seg
	q.hdr = hdr
	q.layout = layout
	q.slots = slotsOf(seg.data, layout)
	q.isWriter = true

	log.Info().
		Str("name", q.opts.name).
		Uint32("width", width).
		Uint32("height", height).
		Uint64("interval", interval).
		Uint32("size", layout.Size).
		Msg("Shared frame queue created")

	return nil
}

// Write publishes one NV12 frame. planes[0] is luma with linesize[0] bytes per
// row, planes[1] the interleaved chroma plane. The chroma plane is half the
// luma size.
func (q *Queue) Write(planes [2][]byte, linesize [2]uint32, timestamp uint64) error {
	if q.hdr == nil {
		return ErrNotMapped
	}

	lumaSize := int(linesize[0]) * int(q.hdr.cy)
	chromaSize := lumaSize / 2
	if lumaSize+chromaSize > int(q.layout.PayloadSize) {
		return fmt.Errorf("frame of %d bytes exceeds slot payload of %d", lumaSize+chromaSize, q.layout.PayloadSize)
	}
	if len(planes[0]) < lumaSize || len(planes[1]) < chromaSize {
		return fmt.Errorf("planes too short: have %d/%d, need %d/%d", len(planes[0]), len(planes[1]), lumaSize, chromaSize)
	}

	counter := q.hdr.writeIdx.Add(1)
	s := q.slots[slotIndex(counter)]

	copy(s.payload[:lumaSize], planes[0][:lumaSize])
	copy(s.payload[lumaSize:lumaSize+chromaSize], planes[1][:chromaSize])
	*s.timestamp = timestamp

	q.hdr.readIdx.Store(counter)
	q.hdr.state.Store(uint32(StateReady))

	return nil
}

// Close marks the stream as stopping, then unmaps and releases the segment.
// Safe on a queue that was never created or is already closed.
func (q *Queue) Close() error {
	if q.seg == nil {
		return nil
	}

	if q.isWriter && q.hdr != nil {
		q.hdr.state.Store(uint32(StateStopping))
	}

	err := q.seg.close()

	q.seg = nil
	q.hdr = nil
	q.slots = [SlotCount]slot{}
	q.isWriter = false

	logger.WithComponent("shmqueue").Info().
		Str("name", q.opts.name).
		Msg("Shared frame queue closed")

	if err != nil {
		return fmt.Errorf("failed to release segment %q: %w", q.opts.name, err)
	}
	return nil
}

// IsMapped reports whether the queue holds a live mapping
func (q *Queue) IsMapped() bool {
	return q.seg != nil
}

// Layout returns the layout computed by the last successful Create
func (q *Queue) Layout() Layout {
	return q.layout
}

// Header returns a snapshot of the header, or false when unmapped
func (q *Queue) Header() (HeaderSnapshot, bool) {
	if q.hdr == nil {
		return HeaderSnapshot{}, false
	}
	return q.hdr.snapshot(), true
}

// Name returns the segment name
func (q *Queue) Name() string {
	return q.opts.name
}

package shmqueue

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

const (
	// DefaultName is the well-known segment name the OBS virtual camera reads
	DefaultName = "OBSVirtualCamVideo"

	// Alignment is the boundary the header and every slot are padded to
	Alignment = 32

	// FrameHeaderSize is the per-slot header; the timestamp sits at its start
	FrameHeaderSize = 32

	// SlotCount is the triple-buffer depth. Fixed by the consumer.
	SlotCount = 3

	headerSize = 80
)

// State is the queue state flag stored in the header
type State uint32

const (
	StateInvalid State = iota
	StateStarting
	StateReady
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateInvalid:
		return "invalid"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

// StreamType tags the kind of stream in the segment
type StreamType uint32

const TypeVideo StreamType = 0

// header mirrors the consumer's C struct byte for byte (little-endian host).
// The counters and state are accessed atomically; everything else is written
// once in Create before the first publish.
type header struct {
	writeIdx atomic.Uint32 // 0
	readIdx  atomic.Uint32 // 4
	state    atomic.Uint32 // 8
	offsets  [SlotCount]uint32
	typ      uint32 // 24
	cx       uint32 // 28
	cy       uint32 // 32
	_        uint32 // C alignment padding before the 64-bit interval
	interval uint64 // 40
	reserved [8]uint32
}

// compile-time size check
var _ [headerSize - unsafe.Sizeof(header{})]byte
var _ [unsafe.Sizeof(header{}) - headerSize]byte

// HeaderSnapshot is a copy of the header fields taken with atomic loads
type HeaderSnapshot struct {
	WriteIndex uint32
	ReadIndex  uint32
	State      State
	Offsets    [SlotCount]uint32
	Type       StreamType
	Width      uint32
	Height     uint32
	Interval   uint64
}

func (h *header) snapshot() HeaderSnapshot {
	return HeaderSnapshot{
		WriteIndex: h.writeIdx.Load(),
		ReadIndex:  h.readIdx.Load(),
		State:      State(h.state.Load()),
		Offsets:    h.offsets,
		Type:       StreamType(h.typ),
		Width:      h.cx,
		Height:     h.cy,
		Interval:   h.interval,
	}
}

// Layout is the byte layout of a segment for a given geometry
type Layout struct {
	Width       uint32
	Height      uint32
	HeaderSize  uint32 // aligned header size; offset of the first slot
	PayloadSize uint32 // NV12 bytes per frame
	Offsets     [SlotCount]uint32
	Size        uint32 // total mapping size
}

// ComputeLayout returns the segment layout for a width x height NV12 stream.
// Offsets depend only on the geometry so the consumer can recompute them.
func ComputeLayout(width, height uint32) Layout {
	l := Layout{
		Width:       width,
		Height:      height,
		PayloadSize: width * height * 3 / 2,
	}

	size := align(headerSize)
	l.HeaderSize = size
	for i := 0; i < SlotCount; i++ {
		l.Offsets[i] = size
		size = align(size + FrameHeaderSize + l.PayloadSize)
	}
	l.Size = size

	return l
}

// SlotStride returns the distance between consecutive slots
func (l Layout) SlotStride() uint32 {
	return align(FrameHeaderSize + l.PayloadSize)
}

// Validate checks that every slot fits and is aligned, and that the geometry
// does not overflow the 32-bit offsets of the header
func (l Layout) Validate() error {
	payload := uint64(l.Width) * uint64(l.Height) * 3 / 2
	stride := (uint64(FrameHeaderSize) + payload + Alignment - 1) &^ (Alignment - 1)
	need := uint64(align(headerSize)) + SlotCount*stride
	if payload != uint64(l.PayloadSize) || need != uint64(l.Size) {
		return fmt.Errorf("%dx%d needs %d bytes, more than 32-bit offsets can address", l.Width, l.Height, need)
	}

	prevEnd := l.HeaderSize
	for i, off := range l.Offsets {
		if off%Alignment != 0 {
			return fmt.Errorf("slot %d offset %d not %d-byte aligned", i, off, Alignment)
		}
		if off < prevEnd {
			return fmt.Errorf("slot %d offset %d overlaps previous region ending at %d", i, off, prevEnd)
		}
		prevEnd = off + FrameHeaderSize + l.PayloadSize
	}
	if prevEnd > l.Size {
		return fmt.Errorf("last slot ends at %d past segment size %d", prevEnd, l.Size)
	}
	return nil
}

func align(size uint32) uint32 {
	return (size + Alignment - 1) &^ (Alignment - 1)
}

// slotIndex maps a counter value to its slot
func slotIndex(counter uint32) int {
	return int(counter % SlotCount)
}

// slot is a typed view of one frame slot in the mapping
type slot struct {
	timestamp *uint64
	payload   []byte
}

// slotsOf builds the slot views for mem, which must be at least l.Size bytes
func slotsOf(mem []byte, l Layout) [SlotCount]slot {
	var slots [SlotCount]slot
	for i, off := range l.Offsets {
		slots[i] = slot{
			timestamp: (*uint64)(unsafe.Pointer(&mem[off])),
			payload:   mem[off+FrameHeaderSize : off+FrameHeaderSize+l.PayloadSize : off+FrameHeaderSize+l.PayloadSize],
		}
	}
	return slots
}

func headerOf(mem []byte) *header {
	return (*header)(unsafe.Pointer(&mem[0]))
}

// Package arena implements the bump-allocated, aligned, reference-counted tensor
// arena described in spec.md §3/§4.1: a fixed region sub-allocated at graph
// construction time, handed out as typed handles that operators pass between
// channel slots without copying the underlying bytes.
package arena

import (
	"errors"
)

// DefaultAlign is the minimum alignment every region honors, per spec §4.1.
const DefaultAlign = 64

// ErrExhausted is returned by AllocUninit when neither the bump cursor nor the
// free list can satisfy a request. Operators must treat this as a recoverable
// error; the scheduler treats it as a deadline hazard in deterministic mode.
var ErrExhausted = errors.New("arena: exhausted")

// ErrStaleHandle is returned when a handle's generation no longer matches the
// region it once named (the region has been reused since).
var ErrStaleHandle = errors.New("arena: stale handle")

// DType enumerates the tensor element types a header can describe.
type DType uint8

const (
	DTypeInvalid DType = iota
	DTypeF32
	DTypeF16
	DTypeI32
	DTypeI8
	DTypeU8
)

// Header is the typed prefix describing a region's payload. It is addressed
// through a Handle, never directly.
type Header struct {
	Version       uint8
	DType         DType
	Shape         [4]uint32
	Strides       [4]uint32
	PayloadOffset uint32 // byte offset from the start of the region to the payload
	PayloadBytes  uint32
	SchemaID      uint32
	RecordCount   uint32
	Quality       uint8 // 0-100
	Pad           uint8
	Lineage       uint64
}

// Handle names a region by index plus a generation counter, per spec.md §9's
// "model arenas as typed slabs; handles are indices plus generation counters"
// guidance. A Handle is a value type: copying it does not clone the region.
type Handle struct {
	arena *Arena
	slot  uint32
	gen   uint32
}

// Valid reports whether h still names a live region in its arena.
func (h Handle) Valid() bool {
	return h.arena != nil && h.slot < uint32(len(h.arena.regions)) && h.arena.regions[h.slot].gen == h.gen
}

type region struct {
	offset   int
	size     int
	refcount int32
	gen      uint32
	header   Header
	free     bool
}

type freeSlab struct {
	offset int
	size   int
}

// Arena is a contiguous byte region with a bump cursor and a free list of
// released slabs. It never grows after construction.
type Arena struct {
	buf         []byte
	cursor      int
	limit       int
	align       int
	regions     []region
	free        []freeSlab
	allocFails  uint64
	zeroCopyXfr uint64
}

// New constructs an arena over size bytes with the given default alignment.
// align must be a power of two; size must be a multiple of align for clean
// bump arithmetic (callers pick graph-construction-time sizes).
func New(size int, align int) *Arena {
	if align <= 0 {
		align = DefaultAlign
	}
	return &Arena{
		buf:   make([]byte, size),
		limit: size,
		align: align,
	}
}

func alignUp(v, align int) int {
	rem := v % align
	if rem == 0 {
		return v
	}
	return v + (align - rem)
}

// AllocUninit returns a fresh region of at least size bytes aligned to align
// (0 means the arena default). Bump allocation is tried first; on exhaustion
// the free list is searched for a best-fit slab. Never allocates heap memory
// outside the arena's backing buffer.
func (a *Arena) AllocUninit(size int, align int) (Handle, error) {
	if align <= 0 {
		align = a.align
	}
	if size <= 0 {
		size = 1
	}
	start := alignUp(a.cursor, align)
	if start+size <= a.limit {
		a.cursor = start + size
		return a.newRegion(start, size), nil
	}
	if slot, offset, ok := a.bestFit(size, align); ok {
		a.removeFreeSlab(slot)
		return a.newRegion(offset, size), nil
	}
	a.allocFails++
	return Handle{}, ErrExhausted
}

func (a *Arena) bestFit(size, align int) (slotIdx int, offset int, ok bool) {
	best := -1
	bestWaste := -1
	for i, s := range a.free {
		aligned := alignUp(s.offset, align)
		waste := aligned - s.offset
		if aligned+size > s.offset+s.size {
			continue
		}
		if best == -1 || (s.size-waste) < (a.free[best].size-bestWaste) {
			best = i
			bestWaste = waste
		}
	}
	if best == -1 {
		return 0, 0, false
	}
	return best, alignUp(a.free[best].offset, align), true
}

func (a *Arena) removeFreeSlab(i int) {
	a.free = append(a.free[:i], a.free[i+1:]...)
}

func (a *Arena) newRegion(offset, size int) Handle {
	r := region{offset: offset, size: size, refcount: 1, gen: 1}
	a.regions = append(a.regions, r)
	slot := uint32(len(a.regions) - 1)
	return Handle{arena: a, slot: slot, gen: r.gen}
}

// HeaderMut returns a mutable view onto h's header.
func (a *Arena) HeaderMut(h Handle) (*Header, error) {
	if !h.Valid() || h.arena != a {
		return nil, ErrStaleHandle
	}
	return &a.regions[h.slot].header, nil
}

// Header returns a copy of h's header.
func (a *Arena) Header(h Handle) (Header, error) {
	if !h.Valid() || h.arena != a {
		return Header{}, ErrStaleHandle
	}
	return a.regions[h.slot].header, nil
}

// Payload returns the byte slice backing h's payload, bounded by the header's
// PayloadOffset/PayloadBytes. Reading past offset+payload_bytes is forbidden
// by spec.md §3 and this slice's length enforces that statically.
func (a *Arena) Payload(h Handle) ([]byte, error) {
	if !h.Valid() || h.arena != a {
		return nil, ErrStaleHandle
	}
	r := a.regions[h.slot]
	start := r.offset + int(r.header.PayloadOffset)
	end := start + int(r.header.PayloadBytes)
	if end > r.offset+r.size {
		return nil, errors.New("arena: payload exceeds region bounds")
	}
	return a.buf[start:end], nil
}

// Clone increments h's region refcount and returns h unchanged (it is a value
// type naming the same region). The scheduler uses Clone to count zero-copy
// transfers distinct from duplication of bytes.
func (a *Arena) Clone(h Handle) (Handle, error) {
	if !h.Valid() || h.arena != a {
		return Handle{}, ErrStaleHandle
	}
	a.regions[h.slot].refcount++
	a.zeroCopyXfr++
	return h, nil
}

// Dealloc decrements h's refcount; at zero the region returns to the free
// list, coalescing with adjacent free regions.
func (a *Arena) Dealloc(h Handle) error {
	if !h.Valid() || h.arena != a {
		return ErrStaleHandle
	}
	r := &a.regions[h.slot]
	r.refcount--
	if r.refcount > 0 {
		return nil
	}
	r.free = true
	r.gen++ // invalidate outstanding handles to this slot
	a.insertFreeSlab(freeSlab{offset: r.offset, size: r.size})
	return nil
}

func (a *Arena) insertFreeSlab(s freeSlab) {
	i := 0
	for i < len(a.free) && a.free[i].offset < s.offset {
		i++
	}
	a.free = append(a.free, freeSlab{})
	copy(a.free[i+1:], a.free[i:])
	a.free[i] = s
	a.coalesce()
}

func (a *Arena) coalesce() {
	out := a.free[:0]
	for _, s := range a.free {
		if n := len(out); n > 0 && out[n-1].offset+out[n-1].size == s.offset {
			out[n-1].size += s.size
			continue
		}
		out = append(out, s)
	}
	a.free = out
}

// Remaining reports the bytes still reachable via bump allocation plus the
// total free-list capacity (arena_remaining_bytes in spec.md §3).
func (a *Arena) Remaining() int {
	bump := a.limit - a.cursor
	for _, s := range a.free {
		bump += s.size
	}
	return bump
}

// AllocFailures returns the count of AllocUninit calls that returned
// ErrExhausted, published as the alloc_failures counter (spec.md §4.1).
func (a *Arena) AllocFailures() uint64 { return a.allocFails }

// ZeroCopyTransfers returns the count of Clone calls (distinct from the
// number of unique live handles), per spec.md §4.1's accounting requirement.
func (a *Arena) ZeroCopyTransfers() uint64 { return a.zeroCopyXfr }

// LiveHandles returns the number of regions with a nonzero refcount.
func (a *Arena) LiveHandles() int {
	n := 0
	for _, r := range a.regions {
		if !r.free {
			n++
		}
	}
	return n
}

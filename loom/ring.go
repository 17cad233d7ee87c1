package loom

import "errors"

// ErrNoRoom is returned by Insert/Replace when growing the input region
// would cross the reserved rewrite margin or the physical capacity.
var ErrNoRoom = errors.New("loom: ring buffer has no room")

// ErrOutOfRange is returned when an offset falls outside [-o, i).
var ErrOutOfRange = errors.New("loom: ring buffer offset out of range")

// ErrBufferBusy is returned by Realign when output bytes are still pending.
var ErrBufferBusy = errors.New("loom: ring buffer has pending output")

// RingBuffer is a fixed-size wrap-aware ring over a byte slice. It tracks
// two adjoining zones against a single moving head p: the output zone
// [p-o, p), holding bytes already consumed by the parser but not yet fully
// forwarded, and the input zone [p, p+i), holding bytes not yet consumed.
// Both zones are addressed through the same logical offset space, where
// offset 0 always means "the first unconsumed input byte" (p itself);
// negative offsets down to -o reach into the output zone.
//
// Every mutating call returns a signed displacement. A caller holding any
// absolute offset into this buffer (a header index entry's position, a
// message's sol/eoh/sov/next) must add that displacement to every offset
// at or past the edit point, or the offset no longer names the same byte.
type RingBuffer struct {
	data     []byte
	size     int
	p        int // physical index of offset 0
	i        int // length of the input zone
	o        int // length of the output zone
	reserved int // rewrite margin that Insert/Replace must never cross
}

// NewRingBuffer allocates a ring of the given capacity with a reserved
// rewrite margin (the configured default is 1-8 KiB; see the component
// contract in ).
func NewRingBuffer(size, reserved int) *RingBuffer {
	if reserved > size {
		reserved = size
	}
	return &RingBuffer{data: make([]byte, size), size: size, reserved: reserved}
}

// Cap returns the physical storage capacity.
func (b *RingBuffer) Cap() int { return b.size }

// Len returns the length of the unconsumed input zone.
func (b *RingBuffer) Len() int { return b.i }

// OutputLen returns the length of the pending output zone.
func (b *RingBuffer) OutputLen() int { return b.o }

// Reserved returns the configured rewrite margin.
func (b *RingBuffer) Reserved() int { return b.reserved }

func (b *RingBuffer) phys(offset int) int {
	idx := (b.p + offset) % b.size
	if idx < 0 {
		idx += b.size
	}
	return idx
}

// WouldExceedMargin reports whether growing the input zone by extra bytes
// would cross the reserved rewrite margin. Parsers must consult this before
// starting a new message, to honor the buffer's margin contract.
func (b *RingBuffer) WouldExceedMargin(extra int) bool {
	return b.i+extra > b.size-b.reserved
}

// ReadAt returns the byte at the given offset, wrap-aware.
func (b *RingBuffer) ReadAt(offset int) (byte, error) {
	if offset < -b.o || offset >= b.i {
		return 0, ErrOutOfRange
	}
	return b.data[b.phys(offset)], nil
}

// SliceContiguous returns the longest contiguous run of input bytes
// starting at offset, stopping either at the end of the input zone or at
// the physical wrap point, whichever comes first. The caller must handle a
// short run by calling again at offset+len(run) if it needs more.
func (b *RingBuffer) SliceContiguous(offset int) ([]byte, error) {
	if offset < 0 || offset > b.i {
		return nil, ErrOutOfRange
	}
	remain := b.i - offset
	if remain == 0 {
		return nil, nil
	}
	idx := b.phys(offset)
	untilWrap := b.size - idx
	n := remain
	if untilWrap < n {
		n = untilWrap
	}
	return b.data[idx : idx+n], nil
}

// OutputContiguous returns the longest contiguous run of pending output
// bytes starting offset bytes into the output zone (offset 0 names the
// oldest byte not yet drained, matching ReadAt(-o+offset)), stopping at
// the physical wrap point if it comes first. An I/O layer writing this
// buffer's output to a socket calls this, writes however much it can,
// then calls Drain with the number of bytes it actually wrote.
func (b *RingBuffer) OutputContiguous(offset int) ([]byte, error) {
	if offset < 0 || offset > b.o {
		return nil, ErrOutOfRange
	}
	remain := b.o - offset
	if remain == 0 {
		return nil, nil
	}
	idx := b.phys(-b.o + offset)
	untilWrap := b.size - idx
	n := remain
	if untilWrap < n {
		n = untilWrap
	}
	return b.data[idx : idx+n], nil
}

// Fill returns a writable contiguous slice of up to n bytes immediately
// following the input zone, for an I/O layer to read socket data into.
// CommitFill must be called afterward with however many bytes were
// actually written.
func (b *RingBuffer) Fill(n int) ([]byte, error) {
	room := b.size - b.reserved - b.i
	if other := b.size - b.o - b.i; other < room {
		room = other
	}
	if room <= 0 {
		return nil, ErrNoRoom
	}
	if n > room {
		n = room
	}
	idx := b.phys(b.i)
	if untilWrap := b.size - idx; untilWrap < n {
		n = untilWrap
	}
	return b.data[idx : idx+n], nil
}

// CommitFill extends the input zone by n bytes after a successful Fill.
func (b *RingBuffer) CommitFill(n int) {
	b.i += n
}

// moveBlock copies a length-byte region from srcFrom to dstFrom, choosing
// the copy direction so that overlapping src/dst ranges never corrupt data
// (the same rule memmove follows), wrap-aware throughout.
func (b *RingBuffer) moveBlock(srcFrom, dstFrom, length int) {
	if length <= 0 || srcFrom == dstFrom {
		return
	}
	if dstFrom < srcFrom {
		for k := 0; k < length; k++ {
			b.data[b.phys(dstFrom+k)] = b.data[b.phys(srcFrom+k)]
		}
	} else {
		for k := length - 1; k >= 0; k-- {
			b.data[b.phys(dstFrom+k)] = b.data[b.phys(srcFrom+k)]
		}
	}
}

func (b *RingBuffer) writeAt(at int, text []byte) {
	for k, c := range text {
		b.data[b.phys(at+k)] = c
	}
}

// Insert inserts text at the given offset, shifting everything from that
// offset onward forward by len(text), and returns the displacement
// (always len(text) on success). It fails with ErrNoRoom without touching
// the buffer if the reserved rewrite margin or physical capacity would be
// crossed.
func (b *RingBuffer) Insert(at int, text []byte) (int, error) {
	return b.Replace(at, at, text)
}

// Replace atomically deletes [from, to) and inserts text in its place,
// returning the displacement len(text)-(to-from). On failure it returns
// (0, ErrNoRoom) or (0, ErrOutOfRange) and leaves the buffer untouched.
func (b *RingBuffer) Replace(from, to int, text []byte) (int, error) {
	if from < 0 || to > b.i || from > to {
		return 0, ErrOutOfRange
	}
	delta := len(text) - (to - from)
	if delta > 0 {
		if b.WouldExceedMargin(delta) || b.o+b.i+delta > b.size {
			return 0, ErrNoRoom
		}
	}
	if delta != 0 {
		b.moveBlock(to, to+delta, b.i-to)
		b.i += delta
	}
	b.writeAt(from, text)
	return delta, nil
}

// Delete removes [from, to) and returns the (non-positive) displacement.
func (b *RingBuffer) Delete(from, to int) (int, error) {
	return b.Replace(from, to, nil)
}

// Advance moves p forward by n bytes, converting that many bytes of input
// into output: the parser has consumed them but the bytes remain available
// (behind the new p) until the forwarding side calls Drain.
func (b *RingBuffer) Advance(n int) error {
	if n < 0 || n > b.i {
		return ErrOutOfRange
	}
	newP := b.phys(n)
	b.i -= n
	b.o += n
	b.p = newP
	return nil
}

// Drain marks n bytes of the output zone as physically forwarded, freeing
// that storage for reuse by a later Realign.
func (b *RingBuffer) Drain(n int) error {
	if n < 0 || n > b.o {
		return ErrOutOfRange
	}
	b.o -= n
	return nil
}

// Realign copies the input zone to the start of storage so p becomes 0.
// It is only permitted when the output zone is empty, matching the
// contract that realignment must never disturb bytes still pending
// forwarding.
func (b *RingBuffer) Realign() error {
	if b.o != 0 {
		return ErrBufferBusy
	}
	if b.p == 0 || b.i == 0 {
		b.p = 0
		return nil
	}
	tmp := make([]byte, b.i)
	for k := 0; k < b.i; k++ {
		tmp[k] = b.data[b.phys(k)]
	}
	copy(b.data[0:b.i], tmp)
	b.p = 0
	return nil
}

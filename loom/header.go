package loom

import "errors"

// ErrNoSpace is returned by HeaderIndex.Add when the arena is at capacity
// and no freed entry can be reused.
var ErrNoSpace = errors.New("loom: header index has no space")

// headerEntry records one header line's wire-format shape: the length of
// the line (start-of-line up to but excluding its
// terminator), whether that terminator is CRLF or a bare LF, and the index
// of the next entry in display order. A freed entry is recognizable by
// len == 0 and is reused by the next Add before the arena grows.
type headerEntry struct {
	len  int32
	cr   bool
	next int32
}

func termLen(cr bool) int32 {
	if cr {
		return 2
	}
	return 1
}

// HeaderContext is a cursor returned by Find and IterateValue. It names one
// value within one header line: the line's entry index, its predecessor in
// the linked order (needed to unlink the line on removal), the line's
// extent in ring-buffer offsets, and the matched value's bounds.
type HeaderContext struct {
	idx        int32
	prevIdx    int32
	lineOffset int32
	lineEnd    int32
	valOffset  int32
	valLen     int32
	tws        int32 // trailing whitespace bytes after the value
}

func (c *HeaderContext) ValueOffset() int32 { return c.valOffset }
func (c *HeaderContext) ValueLen() int32    { return c.valLen }

// HeaderIndex is a dense arena of headerEntry plus a sentinel at index 0,
// exactly as specified: it never caches pointers into the backing buffer
// across a mutating call, and every absolute position it needs (a line's
// start offset) is recomputed by walking from startOffset rather than
// stored per entry, so displacement accounting never has to touch entries
// that weren't directly edited.
type HeaderIndex struct {
	entries     []headerEntry // entries[0] is the sentinel; real entries start at 1
	capacity    int32
	used        int32
	startOffset int32 // ring-buffer offset of the first header line
}

// NewHeaderIndex allocates an index with room for capacity header lines.
func NewHeaderIndex(capacity int32) *HeaderIndex {
	return &HeaderIndex{
		entries:  make([]headerEntry, 1, capacity+1),
		capacity: capacity,
	}
}

// Start records the offset of the first header line, right after the
// request-line or status-line's terminator, and resets the list to empty.
func (h *HeaderIndex) Start(firstHeaderOffset int32) {
	h.startOffset = firstHeaderOffset
	h.entries = h.entries[:1]
	h.entries[0] = headerEntry{}
	h.used = 0
}

// FirstIdx returns the index of the first real entry in display order, or
// 0 if the list is empty.
func (h *HeaderIndex) FirstIdx() int32 { return h.entries[0].next }

// Used reports how many live (non-freed) entries the index currently holds.
func (h *HeaderIndex) Used() int32 { return h.used }

// Reset clears the index for reuse by a new message.
func (h *HeaderIndex) Reset() {
	h.entries = h.entries[:1]
	h.entries[0] = headerEntry{}
	h.used = 0
	h.startOffset = 0
}

func (h *HeaderIndex) allocSlot() (int32, bool) {
	for idx := int32(1); idx < int32(len(h.entries)); idx++ {
		if h.entries[idx].len == 0 && h.entries[idx].next == 0 && idx != h.FirstIdx() {
			return idx, true
		}
	}
	if int32(len(h.entries))-1 < h.capacity {
		h.entries = append(h.entries, headerEntry{})
		return int32(len(h.entries)) - 1, true
	}
	return 0, false
}

// Add appends a new entry of the given length right after afterIdx (pass 0
// to prepend, or the tail index to append, which is the usual case), and
// returns the new entry's index.
func (h *HeaderIndex) Add(length int32, hasCR bool, afterIdx int32) (int32, error) {
	idx, ok := h.allocSlot()
	if !ok {
		return 0, ErrNoSpace
	}
	h.entries[idx] = headerEntry{len: length, cr: hasCR, next: h.entries[afterIdx].next}
	h.entries[afterIdx].next = idx
	h.used++
	return idx, nil
}

// TailIdx walks the list and returns the index of the last entry, or 0 if
// the list is empty. Header lines arrive in wire order and are almost
// always appended at the tail, so callers typically cache this themselves;
// it is exposed here for callers that don't.
func (h *HeaderIndex) TailIdx() int32 {
	idx := int32(0)
	for cur := h.FirstIdx(); cur != 0; cur = h.entries[cur].next {
		idx = cur
	}
	return idx
}

func isTokenByteCI(a, b byte) bool {
	if a >= 'A' && a <= 'Z' {
		a += 'a' - 'A'
	}
	if b >= 'A' && b <= 'Z' {
		b += 'a' - 'A'
	}
	return a == b
}

// matchHeaderLine scans one line for "name:" (case-insensitive) and, on a
// match, returns the bounds of the line's first comma-delimited value with
// leading LWS already skipped and trailing LWS reported separately via the
// returned tws.
func matchHeaderLine(buf *RingBuffer, lineStart, lineEnd int32, name []byte) (matched bool, valOff, valLen, tws int32) {
	pos := lineStart
	for i := 0; i < len(name); i++ {
		if pos >= lineEnd {
			return false, 0, 0, 0
		}
		b, err := buf.ReadAt(int(pos))
		if err != nil {
			return false, 0, 0, 0
		}
		if !isTokenByteCI(b, name[i]) {
			return false, 0, 0, 0
		}
		pos++
	}
	if pos >= lineEnd {
		return false, 0, 0, 0
	}
	if b, _ := buf.ReadAt(int(pos)); b != ':' {
		return false, 0, 0, 0
	}
	pos++
	for pos < lineEnd {
		b, _ := buf.ReadAt(int(pos))
		if b != ' ' && b != '\t' {
			break
		}
		pos++
	}
	valOff = pos
	end := scanValueEnd(buf, valOff, lineEnd)
	valEnd := end
	for valEnd > valOff {
		b, _ := buf.ReadAt(int(valEnd - 1))
		if b != ' ' && b != '\t' {
			break
		}
		valEnd--
	}
	return true, valOff, valEnd - valOff, end - valEnd
}

// Find performs a case-insensitive name match over the header lines,
// starting after from (or from the head of the list if from is nil), and
// returns a context describing the first matching value.
func (h *HeaderIndex) Find(buf *RingBuffer, name []byte, from *HeaderContext) (*HeaderContext, bool) {
	idx := h.FirstIdx()
	off := h.startOffset
	prev := int32(0)
	if from != nil {
		idx = h.entries[from.idx].next
		off = from.lineEnd + termLen(h.entries[from.idx].cr)
		prev = from.idx
	}
	for idx != 0 {
		e := h.entries[idx]
		lineEnd := off + e.len
		if matched, valOff, valLen, tws := matchHeaderLine(buf, off, lineEnd, name); matched {
			return &HeaderContext{idx: idx, prevIdx: prev, lineOffset: off, lineEnd: lineEnd, valOffset: valOff, valLen: valLen, tws: tws}, true
		}
		prev = idx
		off = lineEnd + termLen(e.cr)
		idx = e.next
	}
	return nil, false
}

// scanValueEnd returns the offset of the first comma at or after start that
// is not inside a quoted string, or lineEnd if there is none, per RFC 2616
// §2.2 (quoted-pair allows a backslash to escape the following octet,
// including a comma or quote).
func scanValueEnd(buf *RingBuffer, start, lineEnd int32) int32 {
	inQuotes := false
	pos := start
	for pos < lineEnd {
		b, _ := buf.ReadAt(int(pos))
		if inQuotes {
			if b == '\\' && pos+1 < lineEnd {
				pos += 2
				continue
			}
			if b == '"' {
				inQuotes = false
			}
			pos++
			continue
		}
		if b == '"' {
			inQuotes = true
			pos++
			continue
		}
		if b == ',' {
			return pos
		}
		pos++
	}
	return lineEnd
}

// IterateValue advances a comma-listed header to its next value on the
// same line. The value start skips LWS and the value end respects quoted
// strings and backslash escapes, per RFC 2616 §2.2.
func (h *HeaderIndex) IterateValue(buf *RingBuffer, ctx *HeaderContext) (*HeaderContext, bool) {
	pos := ctx.valOffset + ctx.valLen + ctx.tws
	if pos >= ctx.lineEnd {
		return nil, false
	}
	if b, _ := buf.ReadAt(int(pos)); b != ',' {
		return nil, false
	}
	pos++
	for pos < ctx.lineEnd {
		b, _ := buf.ReadAt(int(pos))
		if b != ' ' && b != '\t' {
			break
		}
		pos++
	}
	valOff := pos
	valEnd := scanValueEnd(buf, pos, ctx.lineEnd)
	trimmedEnd := valEnd
	for trimmedEnd > valOff {
		b, _ := buf.ReadAt(int(trimmedEnd - 1))
		if b != ' ' && b != '\t' {
			break
		}
		trimmedEnd--
	}
	return &HeaderContext{
		idx: ctx.idx, prevIdx: ctx.prevIdx,
		lineOffset: ctx.lineOffset, lineEnd: ctx.lineEnd,
		valOffset: valOff, valLen: trimmedEnd - valOff, tws: valEnd - trimmedEnd,
	}, true
}

func findCommaBefore(buf *RingBuffer, lineStart, valOffset int32) int32 {
	pos := valOffset - 1
	for pos >= lineStart {
		b, _ := buf.ReadAt(int(pos))
		if b == ',' {
			return pos
		}
		if b != ' ' && b != '\t' {
			return -1
		}
		pos--
	}
	return -1
}

func (h *HeaderIndex) unlink(prevIdx, idx int32) {
	h.entries[prevIdx].next = h.entries[idx].next
	h.entries[idx] = headerEntry{}
	h.used--
}

// AddLine inserts a brand new "name: value\r\n" line right before the
// header section's terminator and appends it to the index, adjusting
// msg.EOH by the insertion's displacement. transaction.go's
// Connection-header rewrites use it to synthesize a header that didn't
// arrive on the wire.
func (h *HeaderIndex) AddLine(buf *RingBuffer, msg *Message, name, value string) (int, error) {
	text := name + ": " + value + "\r\n"
	delta, err := buf.Insert(int(msg.EOH), []byte(text))
	if err != nil {
		return 0, err
	}
	length := int32(len(name) + 2 + len(value))
	if _, err := h.Add(length, true, h.TailIdx()); err != nil {
		return 0, err
	}
	msg.EOH += int32(delta)
	return delta, nil
}

// RemoveLine removes the first header line matching name, if any,
// adjusting msg.EOH by the resulting displacement.
func (h *HeaderIndex) RemoveLine(buf *RingBuffer, msg *Message, name []byte) (int, error) {
	ctx, ok := h.Find(buf, name, nil)
	if !ok {
		return 0, nil
	}
	// widen the context from the first value to the whole value part of
	// the line, so Remove takes out the line rather than one value
	ctx.valLen = ctx.lineEnd - ctx.valOffset
	ctx.tws = 0
	delta, err := h.Remove(buf, ctx)
	if err != nil {
		return 0, err
	}
	msg.EOH += int32(delta)
	return delta, nil
}

// Remove deletes the value named by ctx: if it is the sole value on its
// line, the whole line (including its terminator) is removed and the entry
// is unlinked and freed; otherwise the value and one surrounding comma are
// removed and the line's length is shrunk in place. It returns the
// resulting displacement, which the caller must add to the message's eoh
// and to every other stored offset past the edit point.
func (h *HeaderIndex) Remove(buf *RingBuffer, ctx *HeaderContext) (int, error) {
	e := h.entries[ctx.idx]
	afterStart := ctx.valOffset + ctx.valLen + ctx.tws
	if afterStart < ctx.lineEnd {
		if b, _ := buf.ReadAt(int(afterStart)); b == ',' {
			removeTo := afterStart + 1
			for removeTo < ctx.lineEnd {
				b, _ := buf.ReadAt(int(removeTo))
				if b != ' ' && b != '\t' {
					break
				}
				removeTo++
			}
			delta, err := buf.Replace(int(ctx.valOffset), int(removeTo), nil)
			if err != nil {
				return 0, err
			}
			h.entries[ctx.idx].len += int32(delta)
			return delta, nil
		}
	}
	if before := findCommaBefore(buf, ctx.lineOffset, ctx.valOffset); before >= 0 {
		delta, err := buf.Replace(int(before), int(afterStart), nil)
		if err != nil {
			return 0, err
		}
		h.entries[ctx.idx].len += int32(delta)
		return delta, nil
	}
	term := termLen(e.cr)
	delta, err := buf.Delete(int(ctx.lineOffset), int(ctx.lineEnd+term))
	if err != nil {
		return 0, err
	}
	h.unlink(ctx.prevIdx, ctx.idx)
	return delta, nil
}

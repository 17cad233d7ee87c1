package loom

import "errors"

// ErrChunkOverflow names the case of a chunk-size line describing a chunk
// of 2^31 bytes or more. ParseChunkSize does not return it: it reports
// that case as Failed with msg.State set to MsgError.
var ErrChunkOverflow = errors.New("loom: chunk size overflow")

// maxChunkSize bounds a single chunk at 2^31-1 bytes to guard against
// size-line overflow.
const maxChunkSize = (int64(1) << 31) - 1

// chunkSizeDigits is the fixed width every emitted chunk size is padded
// to: six hex digits bound a chunk at 16 MiB and let a writer reserve a
// fixed-width header slot and backpatch it once the payload length is
// known, a pattern CompressionPipeline's backpatch step also reuses.
const chunkSizeDigits = 6

// ChunkCodec drives a Message through CHUNK_SIZE, DATA, CHUNK_CRLF, and
// TRAILERS once the header section has set msg.Flags.Chunked. Like
// MessageParser it is purely a function of msg.Next and msg.State: every
// call resumes from where the previous one stopped, tolerating partial
// input at any byte boundary.
type ChunkCodec struct{}

// ParseChunkSize reads "1*HEXDIGIT *WSP [';' extensions] CRLF" starting at
// msg.Next, sets msg.ChunkLen, and transitions to DATA if the chunk is
// non-empty or TRAILERS if it is the terminating zero-length chunk.
func (ChunkCodec) ParseChunkSize(msg *Message, buf *RingBuffer) Outcome {
	pos := msg.Next
	limit := int32(buf.Len())
	msg.State = MsgChunkSize
	if msg.tokenStart < 0 {
		msg.ChunkLen = 0
		msg.tokenStart = pos
	}
	for {
		if pos >= limit {
			msg.Next = pos
			return NeedMore
		}
		b, _ := buf.ReadAt(int(pos))
		switch {
		case isHexDigit(b):
			msg.ChunkLen = msg.ChunkLen*16 + int64(hexVal(b))
			if msg.ChunkLen > maxChunkSize {
				msg.State = MsgError
				msg.ErrPos = pos
				return Failed
			}
			pos++
		case b == ' ' || b == '\t' || b == ';':
			// trailing whitespace or chunk-extensions: scan to CRLF without
			// further interpreting the extension syntax. A suspension here
			// resumes from the extension's first byte.
			extStart := pos
			for {
				if pos >= limit {
					msg.Next = extStart
					return NeedMore
				}
				b, _ := buf.ReadAt(int(pos))
				if b == '\r' || b == '\n' {
					break
				}
				pos++
			}
			return endChunkSizeLine(msg, buf, pos, limit)
		case b == '\r' || b == '\n':
			return endChunkSizeLine(msg, buf, pos, limit)
		default:
			msg.State = MsgError
			msg.ErrPos = pos
			return Failed
		}
	}
}

func endChunkSizeLine(msg *Message, buf *RingBuffer, pos, limit int32) Outcome {
	if pos == msg.tokenStart {
		msg.State = MsgError
		msg.ErrPos = pos
		return Failed
	}
	for {
		if pos >= limit {
			msg.Next = pos
			return NeedMore
		}
		b, _ := buf.ReadAt(int(pos))
		if b == '\r' {
			pos++
			continue
		}
		if b != '\n' {
			msg.State = MsgError
			msg.ErrPos = pos
			return Failed
		}
		pos++
		msg.Next = pos
		msg.tokenStart = -1
		if msg.ChunkLen == 0 {
			msg.State = MsgTrailers
		} else {
			msg.State = MsgData
		}
		return Done
	}
}

// ConsumeData advances msg.Next by up to msg.ChunkLen bytes of whatever is
// already available in buf's input zone, decrementing ChunkLen and adding
// the same amount to BodyLen, and transitions to CHUNK_CRLF once the
// chunk's declared length has been fully consumed. It returns the number
// of bytes the caller should forward before calling again.
func (ChunkCodec) ConsumeData(msg *Message, buf *RingBuffer) (forward int32, outcome Outcome) {
	avail := int32(buf.Len()) - msg.Next
	if avail <= 0 {
		return 0, NeedMore
	}
	n := msg.ChunkLen
	if n > int64(avail) {
		n = int64(avail)
	}
	msg.ChunkLen -= n
	msg.BodyLen += n
	msg.Next += int32(n)
	if msg.ChunkLen == 0 {
		msg.State = MsgChunkCRLF
		return int32(n), Done
	}
	return int32(n), NeedMore
}

// SkipChunkCRLF consumes the optional CR then mandatory LF that terminates
// a chunk's data, then returns to CHUNK_SIZE for the next chunk.
func (ChunkCodec) SkipChunkCRLF(msg *Message, buf *RingBuffer) Outcome {
	pos := msg.Next
	limit := int32(buf.Len())
	for {
		if pos >= limit {
			msg.Next = pos
			return NeedMore
		}
		b, _ := buf.ReadAt(int(pos))
		if b == '\r' {
			pos++
			continue
		}
		if b != '\n' {
			msg.State = MsgError
			msg.ErrPos = pos
			return Failed
		}
		pos++
		msg.Next = pos
		msg.State = MsgChunkSize
		return Done
	}
}

// ForwardTrailers scans the trailer section line by line; an empty line
// ends the message (DONE), and a lone CR not immediately followed by LF
// on the same line is a parse error.
func (ChunkCodec) ForwardTrailers(msg *Message, buf *RingBuffer) Outcome {
	pos := msg.Next
	limit := int32(buf.Len())
	for {
		if pos >= limit {
			msg.Next = pos
			return NeedMore
		}
		lineStart := pos
		for {
			if pos >= limit {
				msg.Next = lineStart
				return NeedMore
			}
			b, _ := buf.ReadAt(int(pos))
			if b == '\r' {
				pos++
				if pos >= limit {
					msg.Next = lineStart
					return NeedMore
				}
				b2, _ := buf.ReadAt(int(pos))
				if b2 != '\n' {
					msg.State = MsgError
					msg.ErrPos = pos
					return Failed
				}
				pos++
				break
			}
			if b == '\n' {
				pos++
				break
			}
			pos++
		}
		if pos-lineStart <= 2 {
			msg.Next = pos
			msg.State = MsgDone
			return Done
		}
	}
}

// formatHexPadded renders size as exactly digits hex characters, zero
// padded on the left.
func formatHexPadded(size int64, digits int) []byte {
	out := make([]byte, digits)
	v := size
	for i := digits - 1; i >= 0; i-- {
		out[i] = hexDigit(byte(v & 0xf))
		v >>= 4
	}
	return out
}

// EmitChunkSize formats size as a fixed six-hex-digit, zero-padded field
// followed by add_crlf+1 CRLFs, matching fixed-width header
// slot contract.
func EmitChunkSize(size int64, addCRLF int) []byte {
	out := make([]byte, 0, chunkSizeDigits+2*(addCRLF+1))
	out = append(out, formatHexPadded(size, chunkSizeDigits)...)
	for i := 0; i < addCRLF+1; i++ {
		out = append(out, '\r', '\n')
	}
	return out
}

func isHexDigit(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

func hexVal(b byte) byte {
	switch {
	case b >= '0' && b <= '9':
		return b - '0'
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10
	default:
		return b - 'A' + 10
	}
}

func hexDigit(v byte) byte {
	if v < 10 {
		return '0' + v
	}
	return 'a' + (v - 10)
}

// headerValueEqualFold reports whether the header value named by ctx
// equals want, ASCII case-insensitively, as a whole-value fixed-token
// comparison.
func headerValueEqualFold(buf *RingBuffer, ctx *HeaderContext, want string) bool {
	if int(ctx.ValueLen()) != len(want) {
		return false
	}
	for i := 0; i < len(want); i++ {
		b, _ := buf.ReadAt(int(ctx.ValueOffset()) + i)
		if !isTokenByteCI(b, want[i]) {
			return false
		}
	}
	return true
}

func parseContentLengthValue(buf *RingBuffer, ctx *HeaderContext) (int64, bool) {
	if ctx.ValueLen() == 0 {
		return 0, false
	}
	var n int64
	for i := int32(0); i < ctx.ValueLen(); i++ {
		b, _ := buf.ReadAt(int(ctx.ValueOffset() + i))
		if !isDigit(b) {
			return 0, false
		}
		n = n*10 + int64(b-'0')
		if n < 0 {
			return 0, false
		}
	}
	return n, true
}

// DetermineBodyFraming applies body-framing priority —
// Transfer-Encoding chunked, then Content-Length, then (responses only)
// close-delimited — once MessageParser has reached BODY. It must run
// before any ChunkCodec or Content-Length forwarding begins, since it is
// what decides which of those two paths (or neither, for a close-delimited
// response) the caller should drive. A request that carries neither
// header has no body at all, matching HTTP/1.x's "no declared length means
// no body" rule for requests (only responses may be close-delimited).
func DetermineBodyFraming(buf *RingBuffer, idx *HeaderIndex, msg *Message, isResponse bool) error {
	if msg.Flags.UpgradedFrom9 {
		return nil
	}
	if ctx, ok := idx.Find(buf, []byte("Transfer-Encoding"), nil); ok {
		if headerValueEqualFold(buf, ctx, "chunked") {
			msg.Flags.Chunked = true
			msg.Flags.HasBody = true
			msg.ContentLength = -1
			msg.State = MsgChunkSize
			msg.tokenStart = -1
			return nil
		}
	}
	if ctx, ok := idx.Find(buf, []byte("Content-Length"), nil); ok {
		n, ok := parseContentLengthValue(buf, ctx)
		if !ok {
			msg.State = MsgError
			msg.ErrPos = ctx.ValueOffset()
			return ErrBadMessage
		}
		msg.ContentLength = n
		msg.Flags.HasBody = n > 0
		return nil
	}
	if isResponse {
		msg.Flags.VagueBody = true
		msg.Flags.HasBody = true
		return nil
	}
	msg.ContentLength = 0
	return nil
}

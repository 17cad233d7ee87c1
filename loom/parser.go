package loom

import "errors"

// ErrBadMessage is returned when the byte stream violates the grammar; the
// message's ErrPos names the offending offset and its State is left at
// MsgError so the caller can decide how to report it.
var ErrBadMessage = errors.New("loom: malformed HTTP message")

// Outcome reports what a parse step accomplished.
type Outcome int

const (
	NeedMore Outcome = iota
	Done
	Failed
)

func isCTL(b byte) bool { return b < 0x20 || b == 0x7f }

func isTokenChar(b byte) bool {
	if isCTL(b) || b == ' ' {
		return false
	}
	switch b {
	case '(', ')', '<', '>', '@', ',', ';', ':', '\\', '"', '/', '[', ']', '?', '=', '{', '}':
		return false
	}
	return true
}

func isURIChar(b byte) bool {
	return b > 0x20 && b != 0x7f
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// MessageParser drives a Message through its start-line and header states
// by consuming bytes from a RingBuffer's input zone, appending each header
// line to a HeaderIndex as it completes. It never re-scans a byte already
// classified: every suspension point is recorded entirely in the Message's
// own fields (State, Next, tokenStart, ...), so feeding the same bytes
// split across any number of calls reaches the same end state as feeding
// them in one call.
type MessageParser struct {
	Headers *HeaderIndex
}

func NewMessageParser(headerCapacity int32) *MessageParser {
	return &MessageParser{Headers: NewHeaderIndex(headerCapacity)}
}

// ParseRequest resumes parsing a request from msg.State using bytes from
// buf, stopping at MsgBody once the header section is complete.
func (p *MessageParser) ParseRequest(msg *Message, buf *RingBuffer) Outcome {
	return p.run(msg, buf, true)
}

// ParseResponse resumes parsing a response's status line and headers.
func (p *MessageParser) ParseResponse(msg *Message, buf *RingBuffer) Outcome {
	return p.run(msg, buf, false)
}

func (p *MessageParser) fail(msg *Message, pos int32) Outcome {
	msg.State = MsgError
	msg.ErrPos = pos
	return Failed
}

func (p *MessageParser) run(msg *Message, buf *RingBuffer, request bool) Outcome {
	pos := msg.Next
	limit := int32(buf.Len())

	for {
		if msg.State == MsgBody || msg.State == MsgDone {
			msg.Next = pos
			return Done
		}
		if pos >= limit {
			msg.Next = pos
			return NeedMore
		}
		b, err := buf.ReadAt(int(pos))
		if err != nil {
			msg.Next = pos
			return NeedMore
		}

		switch msg.State {

		case MsgBefore:
			if b == '\r' {
				if buf.OutputLen() != 0 {
					return p.fail(msg, pos)
				}
				msg.State = MsgBeforeCR
				pos++
				continue
			}
			if b == '\n' {
				if buf.OutputLen() != 0 {
					return p.fail(msg, pos)
				}
				pos++
				continue
			}
			if request {
				if !isTokenChar(b) {
					return p.fail(msg, pos)
				}
				msg.Sol = pos
				msg.tokenStart = pos
				msg.State = MsgRqMethod
			} else {
				if b != 'H' {
					return p.fail(msg, pos)
				}
				msg.Sol = pos
				msg.tokenStart = pos
				msg.State = MsgRpVersion
			}

		case MsgBeforeCR:
			if b != '\n' {
				return p.fail(msg, pos)
			}
			pos++
			msg.State = MsgBefore

		// ---- request-line ----

		case MsgRqMethod:
			if b == ' ' {
				p.setMethod(msg, buf, msg.tokenStart, pos)
				pos++
				msg.State = MsgRqMethodSP
				continue
			}
			if !isTokenChar(b) {
				return p.fail(msg, pos)
			}
			pos++

		case MsgRqMethodSP:
			if !isURIChar(b) {
				return p.fail(msg, pos)
			}
			msg.tokenStart = pos
			msg.State = MsgRqURI

		case MsgRqURI:
			if b == ' ' {
				msg.URIOff = msg.tokenStart
				msg.URILen = pos - msg.tokenStart
				pos++
				msg.State = MsgRqURISP
				continue
			}
			if b == '\r' || b == '\n' {
				// HTTP/0.9: the request-target ran straight into the line
				// terminator, no version token and no trailing space.
				msg.URIOff = msg.tokenStart
				msg.URILen = pos - msg.tokenStart
				next, err := p.upgradeFromHTTP09(msg, buf, pos)
				if err != nil {
					return p.fail(msg, pos)
				}
				pos = next
				limit = int32(buf.Len())
				p.Headers.Start(pos)
				msg.headerTail = 0
				msg.State = MsgHdrFirst
				continue
			}
			if !isURIChar(b) {
				return p.fail(msg, pos)
			}
			pos++

		case MsgRqURISP:
			if b == '\r' || b == '\n' {
				// HTTP/0.9 with a trailing space before the terminator: no
				// version token either way.
				next, err := p.upgradeFromHTTP09(msg, buf, pos)
				if err != nil {
					return p.fail(msg, pos)
				}
				pos = next
				limit = int32(buf.Len())
				p.Headers.Start(pos)
				msg.headerTail = 0
				msg.State = MsgHdrFirst
				continue
			}
			msg.tokenStart = pos
			msg.State = MsgRqVersion

		case MsgRqVersion:
			if b == '\r' || b == '\n' {
				if ok := p.setVersion(msg, buf, msg.tokenStart, pos); !ok {
					return p.fail(msg, pos)
				}
				if b == '\r' {
					msg.State = MsgRqLineEnd
					pos++
					continue
				}
				pos++
				if err := p.startHeaders(msg, pos); err != nil {
					return p.fail(msg, pos)
				}
				continue
			}
			if isCTL(b) {
				return p.fail(msg, pos)
			}
			pos++

		case MsgRqLineEnd:
			if b != '\n' {
				return p.fail(msg, pos)
			}
			pos++
			if err := p.startHeaders(msg, pos); err != nil {
				return p.fail(msg, pos)
			}

		// ---- status-line ----

		case MsgRpVersion:
			if b == ' ' {
				if ok := p.setVersion(msg, buf, msg.tokenStart, pos); !ok {
					return p.fail(msg, pos)
				}
				pos++
				msg.State = MsgRpVersionSP
				continue
			}
			if isCTL(b) {
				return p.fail(msg, pos)
			}
			pos++

		case MsgRpVersionSP:
			if !isDigit(b) {
				return p.fail(msg, pos)
			}
			msg.tokenStart = pos
			msg.StatusCode = 0
			msg.State = MsgRpStatus

		case MsgRpStatus:
			if b == ' ' {
				if pos-msg.tokenStart != 3 {
					return p.fail(msg, pos)
				}
				pos++
				msg.State = MsgRpStatusSP
				continue
			}
			if !isDigit(b) {
				return p.fail(msg, pos)
			}
			msg.StatusCode = msg.StatusCode*10 + int(b-'0')
			pos++

		case MsgRpStatusSP:
			msg.tokenStart = pos
			msg.State = MsgRpReason

		case MsgRpReason:
			if b == '\r' || b == '\n' {
				if b == '\r' {
					msg.State = MsgRpLineEnd
					pos++
					continue
				}
				pos++
				if err := p.startHeaders(msg, pos); err != nil {
					return p.fail(msg, pos)
				}
				continue
			}
			if isCTL(b) {
				return p.fail(msg, pos)
			}
			pos++

		case MsgRpLineEnd:
			if b != '\n' {
				return p.fail(msg, pos)
			}
			pos++
			if err := p.startHeaders(msg, pos); err != nil {
				return p.fail(msg, pos)
			}

		// ---- headers (shared by request and response) ----

		case MsgHdrFirst:
			if b == '\r' {
				msg.State = MsgLastLF
				pos++
				continue
			}
			if b == '\n' {
				p.finishHeaders(msg, pos, 1)
				pos++
				continue
			}
			msg.tokenStart = pos
			msg.State = MsgHdrName

		case MsgHdrName:
			if b == ':' {
				pos++
				msg.State = MsgHdrL1SP
				continue
			}
			if b == '\r' || b == '\n' {
				return p.fail(msg, pos)
			}
			pos++

		case MsgHdrL1SP:
			if b == ' ' || b == '\t' {
				pos++
				continue
			}
			msg.State = MsgHdrVal

		case MsgHdrVal:
			if b == '\r' {
				msg.State = MsgHdrL1LF
				pos++
				continue
			}
			if b == '\n' {
				msg.State = MsgHdrL1LWS
				pos++
				continue
			}
			pos++

		case MsgHdrL1LF:
			if b != '\n' {
				return p.fail(msg, pos)
			}
			pos++
			msg.State = MsgHdrL1LWS

		case MsgHdrL1LWS:
			if b == ' ' || b == '\t' {
				// obs-fold: rewrite the CR?LF immediately before this fold
				// whitespace to a single SP in place, then keep scanning the
				// same value; any further fold whitespace is left as plain
				// value bytes, matching how the trimmed value is read back.
				lineEndStart := pos - 1
				if lineEndStart > msg.tokenStart {
					if cr, _ := buf.ReadAt(int(lineEndStart - 1)); cr == '\r' {
						lineEndStart--
					}
				}
				delta, err := buf.Replace(int(lineEndStart), int(pos), []byte{' '})
				if err != nil {
					return p.fail(msg, pos)
				}
				pos = lineEndStart + 1
				limit += int32(delta)
				msg.State = MsgHdrVal
				continue
			}
			if err := p.commitHeaderLine(buf, msg, pos); err != nil {
				return p.fail(msg, pos)
			}
			msg.State = MsgHdrFirst

		case MsgLastLF:
			if b != '\n' {
				return p.fail(msg, pos)
			}
			p.finishHeaders(msg, pos, 2)
			pos++

		default:
			msg.Next = pos
			return Done
		}
	}
}

func (p *MessageParser) setMethod(msg *Message, buf *RingBuffer, from, to int32) {
	tok := readToken(buf, from, to)
	if m, ok := methodByToken[string(tok)]; ok {
		msg.Method = m
		msg.MethodName = ""
	} else {
		msg.Method = MethodOther
		msg.MethodName = string(tok)
	}
}

func (p *MessageParser) setVersion(msg *Message, buf *RingBuffer, from, to int32) bool {
	tok := readToken(buf, from, to)
	switch string(tok) {
	case "HTTP/1.1":
		msg.Version = 11
	case "HTTP/1.0":
		msg.Version = 10
	default:
		return false
	}
	return true
}

func readToken(buf *RingBuffer, from, to int32) []byte {
	out := make([]byte, 0, to-from)
	for pos := from; pos < to; pos++ {
		b, _ := buf.ReadAt(int(pos))
		out = append(out, b)
	}
	return out
}

// startHeaders transitions into header parsing once the start line has
// ended.
func (p *MessageParser) startHeaders(msg *Message, headersFrom int32) error {
	p.Headers.Start(headersFrom)
	msg.headerTail = 0
	msg.State = MsgHdrFirst
	return nil
}

// upgradeFromHTTP09 rewrites a request line that reached its terminator
// with no version token into an HTTP/1.0 line followed by an empty header
// section: it inserts " HTTP/1.0\r\n" right before the terminator at pos
// (and a leading "/" first if the URI was empty), so the terminator
// already on the wire becomes the blank line ending an empty header
// section. msg.URIOff/URILen must already describe the URI. It returns
// the offset right after the inserted text, where header parsing should
// resume.
func (p *MessageParser) upgradeFromHTTP09(msg *Message, buf *RingBuffer, pos int32) (int32, error) {
	if msg.URILen == 0 {
		if _, err := buf.Insert(int(pos), []byte("/")); err != nil {
			return 0, err
		}
		msg.URIOff = pos
		msg.URILen = 1
		pos++
	}
	delta, err := buf.Insert(int(pos), []byte(" HTTP/1.0\r\n"))
	if err != nil {
		return 0, err
	}
	msg.Version = 10
	msg.Flags.UpgradedFrom9 = true
	return pos + int32(delta), nil
}

// commitHeaderLine appends the just-scanned line [tokenStart, lineEnd) to
// the header index and advances msg.headerTail so the next Add stays O(1).
func (p *MessageParser) commitHeaderLine(buf *RingBuffer, msg *Message, lineStartOfNext int32) error {
	lineEnd := lineStartOfNext
	hasCR := false
	// Walk back over the terminator we already consumed to find the line's
	// true end; MsgHdrL1LWS is entered right after the LF, so lineEnd is two
	// bytes back for CRLF and one back for a bare LF.
	if b, _ := buf.ReadAt(int(lineEnd - 2)); b == '\r' {
		lineEnd -= 2
		hasCR = true
	} else {
		lineEnd -= 1
	}
	length := lineEnd - msg.tokenStart
	tail, err := p.Headers.Add(length, hasCR, msg.headerTail)
	if err != nil {
		return err
	}
	msg.headerTail = tail
	return nil
}

// finishHeaders records eoh/sov at the header section's terminating blank
// line and moves the message to BODY.
func (p *MessageParser) finishHeaders(msg *Message, pos int32, termLen int32) {
	msg.EOH = pos - termLen + 1
	msg.Sov = pos + 1
	msg.State = MsgBody
	msg.Next = pos + 1
}

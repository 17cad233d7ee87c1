package loom

import (
	"bytes"
	"errors"
	"net"
	"strconv"
)

// ErrProxyNotPresent is returned when the peeked bytes do not begin with
// "PROXY ". The check is a plain positive six-byte comparison rather than
// a double-negated memcmp: the first six bytes must equal "PROXY "
// exactly.
var ErrProxyNotPresent = errors.New("loom: no PROXY protocol header")

// ErrProxyMalformed is returned once enough bytes have arrived to know the
// line is not a valid PROXY v1 header.
var ErrProxyMalformed = errors.New("loom: malformed PROXY protocol header")

// ErrProxyIncomplete is returned when the peeked bytes could still be the
// start of a valid header but no terminating CRLF has arrived yet; the
// caller should peek again once more data is available, never consuming
// what it already has.
var ErrProxyIncomplete = errors.New("loom: PROXY protocol header incomplete")

// ProxyHeader is a decoded PROXY protocol v1 handshake line, as received
// ahead of any HTTP processing.
type ProxyHeader struct {
	Unknown bool
	SrcIP   net.IP
	DstIP   net.IP
	SrcPort int
	DstPort int
}

// ParseProxyV1 decodes a PROXY protocol v1 line from peek, which holds
// bytes obtained by a peek (not consuming) read of the socket — a
// peek-first, consume-exact contract. On success it returns the decoded
// header and the exact number of bytes the line occupied, which the
// caller must then consume for real (e.g. by issuing a non-peeking read
// of exactly that length) before handing the connection to the HTTP
// parser.
func ParseProxyV1(peek []byte) (*ProxyHeader, int, error) {
	if len(peek) < 6 {
		return nil, 0, ErrProxyIncomplete
	}
	if !bytes.Equal(peek[:6], []byte("PROXY ")) {
		return nil, 0, ErrProxyNotPresent
	}
	line := peek[6:]

	crlf := bytes.Index(line, []byte("\r\n"))
	switch {
	case bytes.HasPrefix(line, []byte("UNKNOWN")):
		if crlf < 0 {
			if len(line) > len("UNKNOWN\r\n") {
				return nil, 0, ErrProxyMalformed
			}
			return nil, 0, ErrProxyIncomplete
		}
		if crlf != len("UNKNOWN") {
			return nil, 0, ErrProxyMalformed
		}
		return &ProxyHeader{Unknown: true}, 6 + crlf + 2, nil
	case bytes.HasPrefix(line, []byte("TCP4 ")), bytes.HasPrefix(line, []byte("TCP6 ")):
		family := line[1] // '4' or '6'
		if crlf < 0 {
			if len(line) > 107 { // longest possible TCP6 line has a generous bound
				return nil, 0, ErrProxyMalformed
			}
			return nil, 0, ErrProxyIncomplete
		}
		fields := bytes.Split(line[5:crlf], []byte(" "))
		if len(fields) != 4 {
			return nil, 0, ErrProxyMalformed
		}
		srcIP := net.ParseIP(string(fields[0]))
		dstIP := net.ParseIP(string(fields[1]))
		if srcIP == nil || dstIP == nil {
			return nil, 0, ErrProxyMalformed
		}
		srcPort, err := strconv.Atoi(string(fields[2]))
		if err != nil || srcPort < 0 || srcPort > 65535 {
			return nil, 0, ErrProxyMalformed
		}
		dstPort, err := strconv.Atoi(string(fields[3]))
		if err != nil || dstPort < 0 || dstPort > 65535 {
			return nil, 0, ErrProxyMalformed
		}
		if family == '4' && srcIP.To4() == nil {
			return nil, 0, ErrProxyMalformed
		}
		if family == '6' && srcIP.To4() != nil {
			return nil, 0, ErrProxyMalformed
		}
		return &ProxyHeader{SrcIP: srcIP, DstIP: dstIP, SrcPort: srcPort, DstPort: dstPort}, 6 + crlf + 2, nil
	default:
		if len(line) < 5 {
			return nil, 0, ErrProxyIncomplete
		}
		return nil, 0, ErrProxyMalformed
	}
}

// ApplyProxyHeader copies a decoded header's endpoints into a fetch
// context, the way conn_recv_proxy updates conn->addr.from/to before any
// HTTP-level processing begins.
func ApplyProxyHeader(ctx *FetchContext, hdr *ProxyHeader) {
	if hdr.Unknown {
		return
	}
	ctx.SrcIP = hdr.SrcIP
	ctx.DstIP = hdr.DstIP
	ctx.SrcPort = hdr.SrcPort
	ctx.DstPort = hdr.DstPort
}

// EmitProxyV1 renders the bit-exact PROXY protocol v1 line for the given
// endpoints. Mixed address families (or either address missing) produce
// the "PROXY UNKNOWN\r\n" fallback form.
func EmitProxyV1(srcIP net.IP, srcPort int, dstIP net.IP, dstPort int) []byte {
	src4, dst4 := srcIP.To4(), dstIP.To4()
	if srcIP != nil && dstIP != nil && src4 != nil && dst4 != nil {
		return []byte("PROXY TCP4 " + src4.String() + " " + dst4.String() + " " +
			strconv.Itoa(srcPort) + " " + strconv.Itoa(dstPort) + "\r\n")
	}
	src6, dst6 := srcIP.To16(), dstIP.To16()
	if srcIP != nil && dstIP != nil && src4 == nil && dst4 == nil && src6 != nil && dst6 != nil {
		return []byte("PROXY TCP6 " + srcIP.String() + " " + dstIP.String() + " " +
			strconv.Itoa(srcPort) + " " + strconv.Itoa(dstPort) + "\r\n")
	}
	return []byte("PROXY UNKNOWN\r\n")
}

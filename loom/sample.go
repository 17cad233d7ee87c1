package loom

import (
	"net"
	"strconv"
)

// FetchContext bundles everything a sample fetch might read: the
// connection's announced endpoints (set by the PROXY protocol receiver or
// the raw socket if none was used), the request and response messages with
// their backing rings and header indexes, and the small pieces of
// per-connection state (first request on this connection, a configured
// user list for http_auth) that don't live on either message.
type FetchContext struct {
	SrcIP   net.IP
	SrcPort int
	DstIP   net.IP
	DstPort int

	Request    *Message
	RequestBuf *RingBuffer
	RequestIdx *HeaderIndex

	Response    *Message
	ResponseBuf *RingBuffer
	ResponseIdx *HeaderIndex

	FirstRequest bool
	Users        map[string]string // for http_auth(userlist)
}

// Fetch is a named sample extractor: it reads ctx (and, for fetches that
// take an argument, like hdr(Host) or cook(SRVID), arg) and returns the
// value's wire-form bytes, or ok=false if the fetch has nothing to return
// right now (the tri-state MISS case).
type Fetch func(ctx *FetchContext, arg string) (value []byte, ok bool)

var fetches = map[string]Fetch{
	"src":            fetchSrc,
	"src_port":       fetchSrcPort,
	"dst":            fetchDst,
	"dst_port":       fetchDstPort,
	"url":            fetchURL,
	"path":           fetchPath,
	"hdr":            fetchHdr,
	"cook":           fetchCook,
	"base":           fetchBase,
	"base32":         fetchBase32,
	"status":         fetchStatus,
	"method":         fetchMethod,
	"version":        fetchVersion,
	"url_param":      fetchURLParam,
	"http_first_req": fetchHTTPFirstReq,
	"http_auth":      fetchHTTPAuth,
}

// LookupFetch resolves a fetch by name for rule configuration; rules.go
// calls this once when a condition is built, not per-evaluation.
func LookupFetch(name string) (Fetch, bool) {
	f, ok := fetches[name]
	return f, ok
}

func fetchSrc(ctx *FetchContext, arg string) ([]byte, bool) {
	if ctx.SrcIP == nil {
		return nil, false
	}
	return []byte(ctx.SrcIP.String()), true
}

func fetchSrcPort(ctx *FetchContext, arg string) ([]byte, bool) {
	if ctx.SrcPort == 0 {
		return nil, false
	}
	return []byte(strconv.Itoa(ctx.SrcPort)), true
}

func fetchDst(ctx *FetchContext, arg string) ([]byte, bool) {
	if ctx.DstIP == nil {
		return nil, false
	}
	return []byte(ctx.DstIP.String()), true
}

func fetchDstPort(ctx *FetchContext, arg string) ([]byte, bool) {
	if ctx.DstPort == 0 {
		return nil, false
	}
	return []byte(strconv.Itoa(ctx.DstPort)), true
}

// requestURI returns the raw request-target bytes, or ok=false before the
// request line has been fully parsed.
func requestURI(ctx *FetchContext) ([]byte, bool) {
	if ctx.Request == nil || ctx.Request.URILen == 0 {
		return nil, false
	}
	return []byte(readRange(ctx.RequestBuf, ctx.Request.URIOff, ctx.Request.URIOff+ctx.Request.URILen)), true
}

func fetchURL(ctx *FetchContext, arg string) ([]byte, bool) {
	return requestURI(ctx)
}

func fetchPath(ctx *FetchContext, arg string) ([]byte, bool) {
	uri, ok := requestURI(ctx)
	if !ok {
		return nil, false
	}
	if q := indexByteSlice(uri, '?'); q >= 0 {
		uri = uri[:q]
	}
	return uri, true
}

func fetchHdr(ctx *FetchContext, arg string) ([]byte, bool) {
	if ctx.RequestIdx == nil {
		return nil, false
	}
	hctx, ok := ctx.RequestIdx.Find(ctx.RequestBuf, []byte(arg), nil)
	if !ok {
		return nil, false
	}
	return []byte(readRange(ctx.RequestBuf, hctx.ValueOffset(), hctx.ValueOffset()+hctx.ValueLen())), true
}

func fetchCook(ctx *FetchContext, arg string) ([]byte, bool) {
	if ctx.RequestIdx == nil {
		return nil, false
	}
	hctx, ok := ctx.RequestIdx.Find(ctx.RequestBuf, []byte("Cookie"), nil)
	for ok {
		pairs := scanCookiePairs(ctx.RequestBuf, hctx.ValueOffset(), hctx.ValueOffset()+hctx.ValueLen())
		for _, pr := range pairs {
			name := readRange(ctx.RequestBuf, pr.start, pr.nameEnd)
			if name == arg {
				return []byte(readRange(ctx.RequestBuf, pr.valOff, pr.valEnd)), true
			}
		}
		hctx, ok = ctx.RequestIdx.Find(ctx.RequestBuf, []byte("Cookie"), hctx)
	}
	return nil, false
}

// fetchBase concatenates the Host header's value with the request path,
// the "base" value used for URL-hash balancing and cache keys.
func fetchBase(ctx *FetchContext, arg string) ([]byte, bool) {
	host, ok := fetchHdr(ctx, "Host")
	if !ok {
		host = nil
	}
	path, ok := fetchPath(ctx, "")
	if !ok {
		return nil, false
	}
	out := make([]byte, 0, len(host)+len(path))
	out = append(out, host...)
	out = append(out, path...)
	return out, true
}

// fetchBase32 hashes fetchBase with hash_djb2 then mixes the result through
// full_avalanche, matching the concrete scenario in : "base32
// fetch over Host + /a yields a 32-bit hash equal to full_avalanche(Host∥Path)".
func fetchBase32(ctx *FetchContext, arg string) ([]byte, bool) {
	base, ok := fetchBase(ctx, arg)
	if !ok {
		return nil, false
	}
	h := fullAvalanche(hashDJB2(base))
	return []byte(strconv.FormatUint(uint64(h), 10)), true
}

func fetchStatus(ctx *FetchContext, arg string) ([]byte, bool) {
	if ctx.Response == nil || ctx.Response.StatusCode == 0 {
		return nil, false
	}
	return []byte(strconv.Itoa(ctx.Response.StatusCode)), true
}

func fetchMethod(ctx *FetchContext, arg string) ([]byte, bool) {
	if ctx.Request == nil {
		return nil, false
	}
	tok := ctx.Request.MethodToken()
	if tok == "" {
		return nil, false
	}
	return []byte(tok), true
}

func fetchVersion(ctx *FetchContext, arg string) ([]byte, bool) {
	if ctx.Request == nil || ctx.Request.Version == 0 {
		return nil, false
	}
	switch ctx.Request.Version {
	case 9:
		return []byte("0.9"), true
	case 10:
		return []byte("1.0"), true
	default:
		return []byte("1.1"), true
	}
}

func fetchURLParam(ctx *FetchContext, arg string) ([]byte, bool) {
	uri, ok := requestURI(ctx)
	if !ok {
		return nil, false
	}
	q := indexByteSlice(uri, '?')
	if q < 0 {
		return nil, false
	}
	query := uri[q+1:]
	for len(query) > 0 {
		amp := indexByteSlice(query, '&')
		pair := query
		if amp >= 0 {
			pair = query[:amp]
			query = query[amp+1:]
		} else {
			query = nil
		}
		eq := indexByteSlice(pair, '=')
		if eq < 0 {
			continue
		}
		if string(pair[:eq]) == arg {
			return pair[eq+1:], true
		}
	}
	return nil, false
}

func fetchHTTPFirstReq(ctx *FetchContext, arg string) ([]byte, bool) {
	if ctx.FirstRequest {
		return []byte("1"), true
	}
	return []byte("0"), true
}

// fetchHTTPAuth decodes the Authorization header's Basic credentials and
// checks them against ctx.Users, returning "1"/"0" the way an
// http_auth(userlist) fetch does; the userlist itself is just the map the
// caller configured, the storage engine behind it is out of scope.
func fetchHTTPAuth(ctx *FetchContext, arg string) ([]byte, bool) {
	hdr, ok := fetchHdr(ctx, "Authorization")
	if !ok {
		return []byte("0"), true
	}
	user, pass, ok := decodeBasicAuth(hdr)
	if !ok {
		return []byte("0"), true
	}
	if want, exists := ctx.Users[user]; exists && want == pass {
		return []byte("1"), true
	}
	return []byte("0"), true
}

func decodeBasicAuth(hdr []byte) (user, pass string, ok bool) {
	const prefix = "Basic "
	if len(hdr) <= len(prefix) || string(hdr[:len(prefix)]) != prefix {
		return "", "", false
	}
	decoded, ok := base64Decode(hdr[len(prefix):])
	if !ok {
		return "", "", false
	}
	colon := indexByteSlice(decoded, ':')
	if colon < 0 {
		return "", "", false
	}
	return string(decoded[:colon]), string(decoded[colon+1:]), true
}

const base64Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

func base64Decode(in []byte) ([]byte, bool) {
	var table [256]int8
	for i := range table {
		table[i] = -1
	}
	for i, c := range base64Alphabet {
		table[c] = int8(i)
	}
	out := make([]byte, 0, len(in)*3/4+3)
	var buf uint32
	bits := 0
	for _, c := range in {
		if c == '=' {
			break
		}
		v := table[c]
		if v < 0 {
			return nil, false
		}
		buf = buf<<6 | uint32(v)
		bits += 6
		if bits >= 8 {
			bits -= 8
			out = append(out, byte(buf>>uint(bits)))
		}
	}
	return out, true
}

func indexByteSlice(s []byte, c byte) int {
	for i, b := range s {
		if b == c {
			return i
		}
	}
	return -1
}

// hashDJB2 is Bernstein's hash, the base hash the "base32" fetch feeds
// into fullAvalanche.
func hashDJB2(s []byte) uint32 {
	h := uint32(5381)
	for _, b := range s {
		h = h*33 + uint32(b)
	}
	return h
}

// fullAvalanche is a well-known integer mixing function, applied after a cheap
// hash like hashDJB2 to spread its output bits before use as a balancing
// or sampling key.
func fullAvalanche(a uint32) uint32 {
	a = (a + 0x7ed55d16) + (a << 12)
	a = (a ^ 0xc761c23c) ^ (a >> 19)
	a = (a + 0x165667b1) + (a << 5)
	a = (a + 0xd3a2646c) ^ (a << 9)
	a = (a + 0xfd7046c5) + (a << 3)
	a = (a ^ 0xb55a4f09) ^ (a >> 16)
	return a
}

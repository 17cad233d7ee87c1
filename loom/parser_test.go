package loom

import (
	"bytes"
	"testing"
)

func parseAll(t *testing.T, raw []byte, splits []int, request bool) (*Message, *MessageParser, *RingBuffer) {
	t.Helper()
	buf := NewRingBuffer(4096, 256)
	msg := NewMessage()
	p := NewMessageParser(64)

	pos := 0
	next := func(n int) {
		fillRing(t, buf, raw[pos:pos+n])
		pos += n
	}
	var outcome Outcome
	run := func() {
		if request {
			outcome = p.ParseRequest(msg, buf)
		} else {
			outcome = p.ParseResponse(msg, buf)
		}
	}
	last := 0
	for _, s := range splits {
		next(s - last)
		last = s
		run()
		if outcome == Done || outcome == Failed {
			return msg, p, buf
		}
	}
	if last < len(raw) {
		next(len(raw) - last)
		run()
	}
	return msg, p, buf
}

func TestParseRequestBasic(t *testing.T) {
	raw := []byte("GET /index.html HTTP/1.1\r\nHost: example.com\r\nAccept: */*\r\n\r\n")
	msg, p, buf := parseAll(t, raw, []int{len(raw)}, true)
	if msg.State != MsgBody {
		t.Fatalf("state = %v, want BODY", msg.State)
	}
	if msg.Method != MethodGET {
		t.Fatalf("method = %v", msg.Method)
	}
	if msg.Version != 11 {
		t.Fatalf("version = %d", msg.Version)
	}
	ctx, ok := p.Headers.Find(buf, []byte("Host"), nil)
	if !ok {
		t.Fatal("expected Host header")
	}
	if got := readValue(t, buf, ctx); got != "example.com" {
		t.Fatalf("Host = %q", got)
	}
	if p.Headers.Used() != 2 {
		t.Fatalf("Used = %d, want 2", p.Headers.Used())
	}
}

func TestParseRequestByteAtATime(t *testing.T) {
	raw := []byte("POST /submit HTTP/1.1\r\nHost: a.example\r\nContent-Length: 4\r\n\r\nbody")
	splits := make([]int, 0, len(raw))
	for i := 1; i <= len(raw); i++ {
		splits = append(splits, i)
	}
	msg, p, buf := parseAll(t, raw, splits, true)
	if msg.State != MsgBody {
		t.Fatalf("state = %v, want BODY", msg.State)
	}
	ctx, ok := p.Headers.Find(buf, []byte("Content-Length"), nil)
	if !ok || readValue(t, buf, ctx) != "4" {
		t.Fatal("expected Content-Length: 4")
	}
}

func TestParseRequestResumabilityAcrossPartitions(t *testing.T) {
	raw := []byte("GET /a/b?c=d HTTP/1.1\r\nHost: h\r\nX-Multi: one\r\n two\r\nAccept: x\r\n\r\n")
	wholeMsg, wholeP, wholeBuf := parseAll(t, raw, []int{len(raw)}, true)
	wholeOut := readAll(t, wholeBuf)

	partitions := [][]int{
		{1, len(raw)},
		{5, 10, 15, len(raw)},
		{len(raw) - 1, len(raw)},
	}
	for _, splits := range partitions {
		msg, p, buf := parseAll(t, raw, splits, true)
		if msg.State != wholeMsg.State {
			t.Fatalf("splits %v: state = %v, want %v", splits, msg.State, wholeMsg.State)
		}
		if msg.EOH != wholeMsg.EOH || msg.Sov != wholeMsg.Sov {
			t.Fatalf("splits %v: eoh/sov = %d/%d, want %d/%d", splits, msg.EOH, msg.Sov, wholeMsg.EOH, wholeMsg.Sov)
		}
		if p.Headers.Used() != wholeP.Headers.Used() {
			t.Fatalf("splits %v: header count = %d, want %d", splits, p.Headers.Used(), wholeP.Headers.Used())
		}
		if got := readAll(t, buf); !bytes.Equal(got, wholeOut) {
			t.Fatalf("splits %v: buffer = %q, want %q", splits, got, wholeOut)
		}
	}
}

func TestParseRequestObsoleteLineFolding(t *testing.T) {
	raw := []byte("GET / HTTP/1.1\r\nHost: h\r\nX-Multi: one\r\n two\r\n\r\n")
	msg, p, buf := parseAll(t, raw, []int{len(raw)}, true)
	if msg.State != MsgBody {
		t.Fatalf("state = %v", msg.State)
	}
	ctx, ok := p.Headers.Find(buf, []byte("X-Multi"), nil)
	if !ok {
		t.Fatal("expected X-Multi header")
	}
	if got := readValue(t, buf, ctx); got != "one  two" {
		t.Fatalf("folded value = %q", got)
	}
}

func TestParseRequestHTTP09(t *testing.T) {
	raw := []byte("GET /old.html\r\n")
	msg, _, buf := parseAll(t, raw, []int{len(raw)}, true)
	if !msg.Flags.UpgradedFrom9 {
		t.Fatal("expected UpgradedFrom9")
	}
	if msg.Version != 10 {
		t.Fatalf("version = %d, want 10", msg.Version)
	}
	if msg.State != MsgBody {
		t.Fatalf("state = %v, want BODY", msg.State)
	}
	if got := readRange(buf, msg.URIOff, msg.URIOff+msg.URILen); got != "/old.html" {
		t.Fatalf("uri = %q", got)
	}
}

func TestParseRequestHTTP09TrailingSpace(t *testing.T) {
	raw := []byte("GET /old.html \r\n")
	msg, _, _ := parseAll(t, raw, []int{len(raw)}, true)
	if !msg.Flags.UpgradedFrom9 {
		t.Fatal("expected UpgradedFrom9")
	}
	if msg.Version != 10 {
		t.Fatalf("version = %d, want 10", msg.Version)
	}
	if msg.State != MsgBody {
		t.Fatalf("state = %v, want BODY", msg.State)
	}
}

func TestParseResponseBasic(t *testing.T) {
	raw := []byte("HTTP/1.1 404 Not Found\r\nContent-Type: text/plain\r\n\r\n")
	msg, p, buf := parseAll(t, raw, []int{len(raw)}, false)
	if msg.State != MsgBody {
		t.Fatalf("state = %v", msg.State)
	}
	if msg.StatusCode != 404 {
		t.Fatalf("status = %d", msg.StatusCode)
	}
	ctx, ok := p.Headers.Find(buf, []byte("content-type"), nil)
	if !ok || readValue(t, buf, ctx) != "text/plain" {
		t.Fatal("expected Content-Type: text/plain")
	}
}

func TestParseRequestRejectsBadMethodChar(t *testing.T) {
	raw := []byte("G@T / HTTP/1.1\r\n\r\n")
	msg, _, _ := parseAll(t, raw, []int{len(raw)}, true)
	if msg.State != MsgError {
		t.Fatalf("state = %v, want ERROR", msg.State)
	}
}

func TestParseRequestSkipsLeadingBlankLines(t *testing.T) {
	raw := []byte("\r\n\r\nGET / HTTP/1.1\r\nHost: h\r\n\r\n")
	msg, _, _ := parseAll(t, raw, []int{len(raw)}, true)
	if msg.State != MsgBody {
		t.Fatalf("state = %v", msg.State)
	}
	if msg.Method != MethodGET {
		t.Fatalf("method = %v", msg.Method)
	}
}

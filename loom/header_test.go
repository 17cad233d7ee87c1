package loom

import "testing"

func buildIndexedMessage(t *testing.T, lines []string) (*RingBuffer, *HeaderIndex) {
	t.Helper()
	raw := ""
	for _, l := range lines {
		raw += l + "\r\n"
	}
	buf := NewRingBuffer(1024, 16)
	fillRing(t, buf, []byte(raw))
	idx := NewHeaderIndex(32)
	idx.Start(0)
	var after int32
	for _, l := range lines {
		after, _ = idx.Add(int32(len(l)), true, after)
	}
	return buf, idx
}

func TestHeaderIndexFindBasic(t *testing.T) {
	buf, idx := buildIndexedMessage(t, []string{"Host: example.com", "Accept: text/html", "Cookie: a=1"})
	ctx, ok := idx.Find(buf, []byte("accept"), nil)
	if !ok {
		t.Fatal("expected to find Accept header")
	}
	got := make([]byte, 0, ctx.ValueLen())
	for i := int32(0); i < ctx.ValueLen(); i++ {
		b, _ := buf.ReadAt(int(ctx.ValueOffset() + i))
		got = append(got, b)
	}
	if string(got) != "text/html" {
		t.Fatalf("value = %q", got)
	}
}

func TestHeaderIndexFindMissing(t *testing.T) {
	buf, idx := buildIndexedMessage(t, []string{"Host: example.com"})
	if _, ok := idx.Find(buf, []byte("Authorization"), nil); ok {
		t.Fatal("should not find missing header")
	}
}

func TestHeaderIndexIterateCommaList(t *testing.T) {
	buf, idx := buildIndexedMessage(t, []string{"Accept-Encoding: gzip, deflate, br"})
	ctx, ok := idx.Find(buf, []byte("Accept-Encoding"), nil)
	if !ok {
		t.Fatal("expected header")
	}
	var values []string
	for {
		v := readValue(t, buf, ctx)
		values = append(values, v)
		next, ok := idx.IterateValue(buf, ctx)
		if !ok {
			break
		}
		ctx = next
	}
	want := []string{"gzip", "deflate", "br"}
	if len(values) != len(want) {
		t.Fatalf("values = %v", values)
	}
	for i := range want {
		if values[i] != want[i] {
			t.Fatalf("values = %v, want %v", values, want)
		}
	}
}

func readValue(t *testing.T, buf *RingBuffer, ctx *HeaderContext) string {
	t.Helper()
	out := make([]byte, 0, ctx.ValueLen())
	for i := int32(0); i < ctx.ValueLen(); i++ {
		b, err := buf.ReadAt(int(ctx.ValueOffset() + i))
		if err != nil {
			t.Fatalf("ReadAt: %v", err)
		}
		out = append(out, b)
	}
	return string(out)
}

func TestHeaderIndexIterateRespectsQuotedComma(t *testing.T) {
	buf, idx := buildIndexedMessage(t, []string{`Cookie: a="x,y"`, `Set-Cookie2: n="v,1", m=2`})
	ctx, ok := idx.Find(buf, []byte("Set-Cookie2"), nil)
	if !ok {
		t.Fatal("expected header")
	}
	first := readValue(t, buf, ctx)
	if first != `n="v,1"` {
		t.Fatalf("first value = %q", first)
	}
	next, ok := idx.IterateValue(buf, ctx)
	if !ok {
		t.Fatal("expected second value")
	}
	if got := readValue(t, buf, next); got != "m=2" {
		t.Fatalf("second value = %q", got)
	}
}

func TestHeaderIndexRemoveSoleValueDropsLine(t *testing.T) {
	buf, idx := buildIndexedMessage(t, []string{"Host: example.com", "X-Drop: only"})
	ctx, ok := idx.Find(buf, []byte("X-Drop"), nil)
	if !ok {
		t.Fatal("expected header")
	}
	before := idx.Used()
	delta, err := idx.Remove(buf, ctx)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if delta >= 0 {
		t.Fatalf("delta = %d, want negative", delta)
	}
	if idx.Used() != before-1 {
		t.Fatalf("used = %d, want %d", idx.Used(), before-1)
	}
	if _, ok := idx.Find(buf, []byte("X-Drop"), nil); ok {
		t.Fatal("header should be gone")
	}
	if _, ok := idx.Find(buf, []byte("Host"), nil); !ok {
		t.Fatal("unrelated header should survive")
	}
}

func TestHeaderIndexRemoveOneOfMultipleValuesKeepsLine(t *testing.T) {
	buf, idx := buildIndexedMessage(t, []string{"Accept-Encoding: gzip, deflate, br"})
	ctx, _ := idx.Find(buf, []byte("Accept-Encoding"), nil)
	mid, ok := idx.IterateValue(buf, ctx) // "deflate"
	if !ok {
		t.Fatal("expected second value")
	}
	before := idx.Used()
	if _, err := idx.Remove(buf, mid); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if idx.Used() != before {
		t.Fatalf("used changed on partial removal: %d vs %d", idx.Used(), before)
	}
	ctx2, ok := idx.Find(buf, []byte("Accept-Encoding"), nil)
	if !ok {
		t.Fatal("header should survive")
	}
	var got []string
	cur := ctx2
	for {
		got = append(got, readValue(t, buf, cur))
		next, ok := idx.IterateValue(buf, cur)
		if !ok {
			break
		}
		cur = next
	}
	want := []string{"gzip", "br"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("values = %v", got)
	}
}

func TestHeaderIndexNoSpace(t *testing.T) {
	idx := NewHeaderIndex(1)
	if _, err := idx.Add(5, true, 0); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if _, err := idx.Add(5, true, 0); err != ErrNoSpace {
		t.Fatalf("err = %v, want ErrNoSpace", err)
	}
}

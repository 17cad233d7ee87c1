package loom

import "testing"

func TestContextGetPutMessageResets(t *testing.T) {
	c := NewContext(32, nil, nil)
	m := c.GetMessage()
	m.State = MsgRqURI
	m.URIOff = 5
	c.PutMessage(m)

	again := c.GetMessage()
	if again.State != MsgBefore {
		t.Fatalf("State = %v, want reset to MsgBefore", again.State)
	}
	if again.URIOff != 0 {
		t.Fatalf("URIOff = %d, want reset to 0", again.URIOff)
	}
}

func TestContextGetPutHeaderIndexResets(t *testing.T) {
	c := NewContext(8, nil, nil)
	idx := c.GetHeaderIndex()
	idx.Start(0)
	idx.Add(10, true, 0)
	c.PutHeaderIndex(idx)

	again := c.GetHeaderIndex()
	if _, ok := again.Find(nil, []byte("anything"), nil); ok {
		t.Fatal("expected a freshly reset index to have no entries")
	}
}

func TestContextCaptureBufferRoundTrips(t *testing.T) {
	c := NewContext(8, nil, nil)
	buf := c.GetCaptureBuffer()
	if len(buf) != 0 {
		t.Fatalf("len(buf) = %d, want 0", len(buf))
	}
	buf = append(buf, "captured-value"...)
	c.PutCaptureBuffer(buf)

	again := c.GetCaptureBuffer()
	if len(again) != 0 {
		t.Fatalf("len(again) = %d, want 0 after Put/Get round trip", len(again))
	}
}

func TestContextNewSessionIDIsUniqueAndWellFormed(t *testing.T) {
	c := NewContext(8, nil, nil)
	a := c.NewSessionID()
	b := c.NewSessionID()
	if a == b {
		t.Fatal("expected two distinct session IDs")
	}
	if len(a) != 36 {
		t.Fatalf("len(a) = %d, want 36 (canonical UUID string form)", len(a))
	}
}

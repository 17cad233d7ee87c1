package loom

import (
	"bytes"
	"compress/gzip"
	"io"
	"testing"
)

func TestCompressionGzipRoundTrip(t *testing.T) {
	var c CompressionContext
	if err := c.Init(AlgoGzip, 6); err != nil {
		t.Fatalf("Init: %v", err)
	}
	payload := []byte("the quick brown fox jumps over the lazy dog, repeatedly, a lot")
	if _, err := c.AddData(payload); err != nil {
		t.Fatalf("AddData: %v", err)
	}
	out, err := c.Flush(Finish)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	r, err := gzip.NewReader(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %q", got)
	}
	if c.InputCounter != int64(len(payload)) {
		t.Fatalf("inputCounter = %d", c.InputCounter)
	}
}

func TestCompressionIdentityPassthrough(t *testing.T) {
	var c CompressionContext
	c.Init(AlgoIdentity, 0)
	c.AddData([]byte("hello"))
	out, err := c.Flush(Finish)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if string(out) != "hello" {
		t.Fatalf("got %q", out)
	}
}

func TestCompressionRateAdaptDecrementsOnHighRate(t *testing.T) {
	var c CompressionContext
	c.Init(AlgoDeflate, 6)
	c.AdaptRate(RateConfig{CeilingBytesPerSec: 100, MinLevel: 1, MaxLevel: 9}, 1000)
	c.windowOutput = 10000
	if err := c.AdaptRate(RateConfig{CeilingBytesPerSec: 100, MinLevel: 1, MaxLevel: 9}, 1010); err != nil {
		t.Fatalf("AdaptRate: %v", err)
	}
	if c.Level != 5 {
		t.Fatalf("level = %d, want 5", c.Level)
	}
}

func TestSelectResponseAlgorithmRefusals(t *testing.T) {
	base := ResponseSelectionInput{
		RequestedAlgo: AlgoGzip, RequestedOK: true,
		HTTPVersion: 11, StatusCode: 200, BodyLen: 100,
		ContentType: "text/html",
	}
	if _, ok := SelectResponseAlgorithm(base); !ok {
		t.Fatal("expected selection to succeed")
	}
	noVersion := base
	noVersion.HTTPVersion = 10
	if _, ok := SelectResponseAlgorithm(noVersion); ok {
		t.Fatal("expected HTTP/1.0 to be refused")
	}
	multipart := base
	multipart.ContentType = "multipart/form-data"
	if _, ok := SelectResponseAlgorithm(multipart); ok {
		t.Fatal("expected multipart to be refused")
	}
	noTransform := base
	noTransform.NoTransform = true
	if _, ok := SelectResponseAlgorithm(noTransform); ok {
		t.Fatal("expected no-transform to be refused")
	}
	notWhitelisted := base
	notWhitelisted.TypeWhitelist = []string{"application/json"}
	if _, ok := SelectResponseAlgorithm(notWhitelisted); ok {
		t.Fatal("expected non-whitelisted type to be refused")
	}
}

func TestSelectRequestAcceptEncodingLegacyMozilla(t *testing.T) {
	if allow, _ := SelectRequestAcceptEncoding("Mozilla/4.0 (compatible; MSIE 6.0)", false); allow {
		t.Fatal("plain MSIE 6 without SV1 should be refused")
	}
	if allow, _ := SelectRequestAcceptEncoding("Mozilla/4.0 (compatible; MSIE 6.0; SV1)", false); !allow {
		t.Fatal("MSIE 6 SP2 (SV1) should be allowed")
	}
	if allow, _ := SelectRequestAcceptEncoding("Mozilla/4.0 (compatible; MSIE 7.0)", false); !allow {
		t.Fatal("MSIE 7+ should be allowed")
	}
	if allow, _ := SelectRequestAcceptEncoding("Mozilla/5.0 (X11; Linux)", false); !allow {
		t.Fatal("modern UA should be allowed")
	}
	if allow, strip := SelectRequestAcceptEncoding("anything", true); allow || !strip {
		t.Fatal("offload mode should disallow and strip")
	}
}

func TestWriteCompressedChunkBackpatchesSize(t *testing.T) {
	var c CompressionContext
	c.Init(AlgoIdentity, 0)
	out := NewRingBuffer(256, 16)
	if err := WriteCompressedChunk(&c, out, []byte("payload-bytes"), true); err != nil {
		t.Fatalf("WriteCompressedChunk: %v", err)
	}
	got := readAll(t, out)
	if !bytes.Contains(got, []byte("payload-bytes")) {
		t.Fatalf("output missing payload: %q", got)
	}
	if !bytes.HasSuffix(got, []byte("0\r\n\r\n")) {
		t.Fatalf("output missing terminating chunk: %q", got)
	}
}

package loom

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"strings"
)

// AlgoName identifies one of the three algorithms CompressionPipeline
// knows about. Go's standard library gives identity, deflate, and gzip
// with the exact init/add_data/flush/reset/end shape asks
// for; no third-party codec in the retrieval pack offers anything a
// wrapper around compress/flate and compress/gzip wouldn't duplicate, so
// this component is one of the few built directly on the standard library
// (see DESIGN.md).
type AlgoName string

const (
	AlgoIdentity AlgoName = "identity"
	AlgoDeflate  AlgoName = "deflate"
	AlgoGzip     AlgoName = "gzip"
)

// FlushMode mirrors the two flush semantics real streaming compressors
// expose: SyncFlush pushes out everything buffered so far without ending
// the stream, Finish ends it.
type FlushMode int

const (
	SyncFlush FlushMode = iota
	Finish
)

// Stream is the per-transaction algorithm contract from :
// add_data never reads more than it's given and only ever appends to an
// internal buffer drained by Flush, keeping every call non-blocking and
// bounded.
type Stream interface {
	AddData(in []byte) (produced int, err error)
	Flush(mode FlushMode) ([]byte, error)
	Reset(level int) error
	End()
}

type identityStream struct{ buf bytes.Buffer }

func (s *identityStream) AddData(in []byte) (int, error) { return s.buf.Write(in) }
func (s *identityStream) Flush(FlushMode) ([]byte, error) {
	out := s.buf.Bytes()
	cp := make([]byte, len(out))
	copy(cp, out)
	s.buf.Reset()
	return cp, nil
}
func (s *identityStream) Reset(int) error { s.buf.Reset(); return nil }
func (s *identityStream) End()            {}

type flateStream struct {
	out   bytes.Buffer
	w     *flate.Writer
	level int
}

func newFlateStream(level int) (*flateStream, error) {
	s := &flateStream{level: level}
	w, err := flate.NewWriter(&s.out, level)
	if err != nil {
		return nil, err
	}
	s.w = w
	return s, nil
}

func (s *flateStream) AddData(in []byte) (int, error) { return s.w.Write(in) }

func (s *flateStream) Flush(mode FlushMode) ([]byte, error) {
	var err error
	if mode == Finish {
		err = s.w.Close()
	} else {
		err = s.w.Flush()
	}
	if err != nil {
		return nil, err
	}
	out := make([]byte, s.out.Len())
	copy(out, s.out.Bytes())
	s.out.Reset()
	return out, nil
}

func (s *flateStream) Reset(level int) error {
	s.out.Reset()
	s.level = level
	w, err := flate.NewWriter(&s.out, level)
	if err != nil {
		return err
	}
	s.w = w
	return nil
}

func (s *flateStream) End() {}

type gzipStream struct {
	out   bytes.Buffer
	w     *gzip.Writer
	level int
}

func newGzipStream(level int) (*gzipStream, error) {
	s := &gzipStream{level: level}
	w, err := gzip.NewWriterLevel(&s.out, level)
	if err != nil {
		return nil, err
	}
	s.w = w
	return s, nil
}

func (s *gzipStream) AddData(in []byte) (int, error) { return s.w.Write(in) }

func (s *gzipStream) Flush(mode FlushMode) ([]byte, error) {
	var err error
	if mode == Finish {
		err = s.w.Close()
	} else {
		err = s.w.Flush()
	}
	if err != nil {
		return nil, err
	}
	out := make([]byte, s.out.Len())
	copy(out, s.out.Bytes())
	s.out.Reset()
	return out, nil
}

func (s *gzipStream) Reset(level int) error {
	s.out.Reset()
	s.level = level
	w, err := gzip.NewWriterLevel(&s.out, level)
	if err != nil {
		return err
	}
	s.w = w
	return nil
}

func (s *gzipStream) End() {}

func newStream(algo AlgoName, level int) (Stream, error) {
	switch algo {
	case AlgoDeflate:
		return newFlateStream(level)
	case AlgoGzip:
		return newGzipStream(level)
	default:
		return &identityStream{}, nil
	}
}

// RateConfig bounds how aggressively CompressionPipeline adapts level to
// load, rate-adaptation rule.
type RateConfig struct {
	CeilingBytesPerSec int64
	MinLevel           int
	MaxLevel           int
}

// CompressionContext is the per-transaction compression state named in 's
// data model.
type CompressionContext struct {
	Algo          AlgoName
	Level         int
	InputCounter  int64
	OutputCounter int64

	stream       Stream
	windowStart  int64
	windowOutput int64
}

// Init creates the algorithm's stream at the given level.
func (c *CompressionContext) Init(algo AlgoName, level int) error {
	s, err := newStream(algo, level)
	if err != nil {
		return err
	}
	c.Algo, c.Level, c.stream = algo, level, s
	c.InputCounter, c.OutputCounter = 0, 0
	return nil
}

func (c *CompressionContext) AddData(in []byte) (int, error) {
	c.InputCounter += int64(len(in))
	return c.stream.AddData(in)
}

func (c *CompressionContext) Flush(mode FlushMode) ([]byte, error) {
	out, err := c.stream.Flush(mode)
	c.OutputCounter += int64(len(out))
	c.windowOutput += int64(len(out))
	return out, err
}

func (c *CompressionContext) Reset() error { return c.stream.Reset(c.Level) }
func (c *CompressionContext) End() {
	if c.stream != nil {
		c.stream.End()
	}
}

// AdaptRate measures bytes-per-second over the compressed output since the
// last call; when the rate exceeds cfg.CeilingBytesPerSec the level is
// decremented (floor MinLevel), and when it's comfortably below, the level
// is incremented (ceiling MaxLevel). now is the caller's wall clock in
// seconds, injected so this stays deterministic under test.
func (c *CompressionContext) AdaptRate(cfg RateConfig, now int64) error {
	if c.windowStart == 0 {
		c.windowStart = now
		return nil
	}
	elapsed := now - c.windowStart
	if elapsed < 1 {
		return nil
	}
	rate := c.windowOutput / elapsed
	newLevel := c.Level
	if rate > cfg.CeilingBytesPerSec && c.Level > cfg.MinLevel {
		newLevel = c.Level - 1
	} else if rate < cfg.CeilingBytesPerSec/2 && c.Level < cfg.MaxLevel {
		newLevel = c.Level + 1
	}
	c.windowStart = now
	c.windowOutput = 0
	if newLevel != c.Level {
		c.Level = newLevel
		return c.Reset()
	}
	return nil
}

// ResponseSelectionInput bundles the facts SelectResponseAlgorithm needs,
// gathered by the caller from the transaction's headers and configuration.
type ResponseSelectionInput struct {
	RequestedAlgo      AlgoName
	RequestedOK        bool
	HTTPVersion        uint8
	StatusCode         int
	BodyLen            int64
	Chunked            bool
	ContentEncodingSet bool
	NoTransform        bool
	ContentType        string
	TypeWhitelist      []string
	CPUIdlePercent     int
	MinCPUIdlePercent  int
}

// SelectResponseAlgorithm applies response-side refusal
// chain and returns the chosen algorithm, or ok=false if compression must
// be skipped.
func SelectResponseAlgorithm(in ResponseSelectionInput) (AlgoName, bool) {
	if !in.RequestedOK {
		return "", false
	}
	if in.HTTPVersion < 11 {
		return "", false
	}
	if in.StatusCode != 200 {
		return "", false
	}
	if in.BodyLen == 0 && !in.Chunked {
		return "", false
	}
	if in.ContentEncodingSet {
		return "", false
	}
	if in.NoTransform {
		return "", false
	}
	if strings.HasPrefix(in.ContentType, "multipart") {
		return "", false
	}
	if len(in.TypeWhitelist) > 0 {
		listed := false
		for _, t := range in.TypeWhitelist {
			if strings.HasPrefix(in.ContentType, t) {
				listed = true
				break
			}
		}
		if !listed {
			return "", false
		}
	}
	if in.CPUIdlePercent < in.MinCPUIdlePercent {
		return "", false
	}
	return in.RequestedAlgo, true
}

// SelectRequestAcceptEncoding decides whether a request's Accept-Encoding
// should be honored at all, legacy-UA rule, and whether
// offload mode should strip it so the backend never compresses.
func SelectRequestAcceptEncoding(userAgent string, offloadMode bool) (allow bool, stripHeader bool) {
	if offloadMode {
		return false, true
	}
	if !strings.Contains(userAgent, "Mozilla/4") {
		return true, false
	}
	if msieAtLeast(userAgent, 6) && strings.Contains(userAgent, "SV1") {
		return true, false
	}
	if msieAtLeast(userAgent, 7) {
		return true, false
	}
	return false, false
}

func msieAtLeast(ua string, minMajor int) bool {
	idx := strings.Index(ua, "MSIE ")
	if idx < 0 {
		return false
	}
	rest := ua[idx+len("MSIE "):]
	major := 0
	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		major = major*10 + int(rest[i]-'0')
		i++
	}
	return i > 0 && major >= minMajor
}

// compressionSlotDigits is the width in bytes of the pipeline's chunk-size
// slot, reserved before the compressed size is known: EmitChunkSize's six
// hex digits plus the CRLF that ends the chunk-size line.
const compressionSlotDigits = 8

// WriteCompressedChunk implements one turn of the buffered pipeline from
// : reserve an 8-byte chunk-size slot at the head of out,
// stream src through the context's algorithm, flush, and backpatch the
// slot with the compressed size. On final==true it also appends the
// terminating zero chunk and trailer CRLF.
func WriteCompressedChunk(c *CompressionContext, out *RingBuffer, src []byte, final bool) error {
	slot, err := out.Fill(compressionSlotDigits)
	if err != nil {
		return err
	}
	slotOffset := out.Len()
	copy(slot, "00000000")
	out.CommitFill(compressionSlotDigits)

	if _, err := c.AddData(src); err != nil {
		return err
	}
	mode := SyncFlush
	if final {
		mode = Finish
	}
	compressed, err := c.Flush(mode)
	if err != nil {
		return err
	}
	if _, err := appendBytes(out, compressed); err != nil {
		return err
	}
	sizeField := EmitChunkSize(int64(len(compressed)), 0)
	if _, err := out.Replace(slotOffset, slotOffset+compressionSlotDigits, sizeField); err != nil {
		return err
	}
	if _, err := appendBytes(out, []byte("\r\n")); err != nil {
		return err
	}
	if final {
		if _, err := appendBytes(out, []byte("0\r\n\r\n")); err != nil {
			return err
		}
	}
	return nil
}

func appendBytes(out *RingBuffer, data []byte) (int, error) {
	written := 0
	for written < len(data) {
		dst, err := out.Fill(len(data) - written)
		if err != nil {
			return written, err
		}
		n := copy(dst, data[written:])
		out.CommitFill(n)
		written += n
	}
	return written, nil
}

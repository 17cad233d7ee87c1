package main

import (
	"bytes"
	"io"
	"net"
	"strings"
	"time"

	"github.com/loomhttp/loom/loom"
)

// server owns the pools, rule set, and stick table every accepted
// connection shares, built once at startup and handed to every connection
// goroutine rather than rebuilt per connection.
type server struct {
	cfg     Config
	ctx     *loom.Context
	metrics *loom.Metrics
	logger  loom.Logger
	rules   loom.RuleSet
	stick   *memStickTable
}

func newServer(cfg Config, metrics *loom.Metrics, logger loom.Logger) *server {
	s := &server{
		cfg:     cfg,
		ctx:     loom.NewContext(cfg.HeaderCapacity, metrics, logger),
		metrics: metrics,
		logger:  logger,
		stick:   newMemStickTable(),
	}
	s.rules = buildDemoRuleSet(cfg)
	return s
}

// buildDemoRuleSet assembles a small first-match rule list exercising the
// rule engine end to end: deny a blocklisted path prefix, then track every
// other request's source address in the stick table, mixing a deny and a
// track-sc action ahead of the default allow.
func buildDemoRuleSet(cfg Config) loom.RuleSet {
	denyTerm, err := loom.NewTerm("path", "", mustMatcher(loom.MatchBeg, []string{"/private"}, false))
	if err != nil {
		panic(err)
	}
	denyRule := loom.NewRule(loom.ActionDeny, loom.PolarityIf)
	denyRule.AddTerm(denyTerm)

	trackRule := loom.NewRule(loom.ActionTrackSC1, loom.PolarityIf)
	trackRule.Track = loom.TrackParams{FetchName: "src", TableName: "conn_rate"}

	return loom.RuleSet{denyRule, trackRule}
}

func mustMatcher(kind loom.MatcherKind, raw []string, noCase bool) *loom.Matcher {
	m, err := loom.NewMatcher(kind, raw, noCase)
	if err != nil {
		panic(err)
	}
	return m
}

// handleConn drives one accepted client connection through the PROXY
// protocol (if configured), the rule engine, and a keep-alive burst of
// request/response transactions against cfg.BackendAddr, tearing the
// connection down once SelectConnectionMode settles on anything but
// KEEP_ALIVE. This is loomd's per-connection goroutine.
func (s *server) handleConn(conn net.Conn) {
	defer conn.Close()

	reqBuf := loom.NewRingBuffer(s.cfg.RingSize, s.cfg.ReservedMargin)
	fetchCtx := &loom.FetchContext{FirstRequest: true}

	if raddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		fetchCtx.SrcIP = raddr.IP
		fetchCtx.SrcPort = raddr.Port
	}
	if laddr, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		fetchCtx.DstIP = laddr.IP
		fetchCtx.DstPort = laddr.Port
	}

	if s.cfg.ExpectProxyProtocol {
		if err := s.receiveProxyHeader(conn, reqBuf, fetchCtx); err != nil {
			s.logger.Logf("proxyproto: %v", err)
			return
		}
	}

	for {
		keepGoing := s.handleTransaction(conn, reqBuf, fetchCtx)
		if !keepGoing {
			return
		}
		fetchCtx.FirstRequest = false
	}
}

// receiveProxyHeader implements the peek-first, consume-exact contract
// loom.ParseProxyV1 expects, using reqBuf itself as the peek window: bytes
// land in the ring's input zone and are inspected in place, and only once
// the header is fully decoded does Advance+Drain discard exactly the bytes
// it occupied, leaving the rest of the ring (if any arrived in the same
// read) untouched for the HTTP parser that runs next.
func (s *server) receiveProxyHeader(conn net.Conn, buf *loom.RingBuffer, fetchCtx *loom.FetchContext) error {
	for {
		peek, err := buf.SliceContiguous(0)
		if err != nil {
			return err
		}
		hdr, n, err := loom.ParseProxyV1(peek)
		if err == nil {
			loom.ApplyProxyHeader(fetchCtx, hdr)
			if err := buf.Advance(n); err != nil {
				return err
			}
			return buf.Drain(n)
		}
		if err != loom.ErrProxyIncomplete {
			return err
		}
		dst, err := buf.Fill(256)
		if err != nil {
			return err
		}
		n2, err := conn.Read(dst)
		if err != nil {
			return err
		}
		buf.CommitFill(n2)
	}
}

// handleTransaction runs one request/response exchange and reports
// whether the connection should be kept open for another.
func (s *server) handleTransaction(conn net.Conn, reqBuf *loom.RingBuffer, fetchCtx *loom.FetchContext) bool {
	start := time.Now()
	txn := loom.NewTransaction()
	headerIdx := s.ctx.GetHeaderIndex()
	defer s.ctx.PutHeaderIndex(headerIdx)

	fetchCtx.Request = txn.Request
	fetchCtx.RequestBuf = reqBuf
	fetchCtx.RequestIdx = headerIdx

	parser := loom.NewMessageParser(s.cfg.HeaderCapacity)
	parser.Headers = headerIdx
	headerIdx.Start(0)

	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.ReadHeaderTimeout)); err != nil {
		return false
	}
	if !s.readHeaders(conn, reqBuf, txn.Request, parser, true) {
		return false
	}
	conn.SetReadDeadline(time.Time{})

	if err := loom.DetermineBodyFraming(reqBuf, headerIdx, txn.Request, false); err != nil {
		s.respondError(conn, loom.StatusBadRequest)
		return false
	}

	if rule, state := s.rules.Decide(fetchCtx, true); state == loom.Pass {
		s.metrics.ObserveRuleDecision("http-request", rule.Action)
		switch rule.Action {
		case loom.ActionDeny:
			s.respondError(conn, loom.StatusForbidden)
			return false
		case loom.ActionTrackSC1:
			slot := loom.TrackSlot{Params: rule.Track, Table: s.stick}
			slot.Apply(fetchCtx)
		}
	}

	hasUpgrade, _ := headerIdx.Find(reqBuf, []byte("Upgrade"), nil)
	mode := loom.SelectConnectionMode(loom.ConnModeInputs{
		FrontendForceClose:  !s.cfg.FrontendKeepAlive,
		RequestHTTP11:       txn.Request.Version == 11,
		ClientSentClose:     connectionTokenPresent(reqBuf, headerIdx, "close"),
		ClientSentKeepAlive: connectionTokenPresent(reqBuf, headerIdx, "keep-alive"),
		UpgradeRequested:    hasUpgrade != nil,
		KnownTransferLength: true,
	})
	txn.Mode = mode
	s.metrics.ObserveTransaction(mode, false, start)

	delta, err := loom.RewriteRequestConnection(reqBuf, headerIdx, txn.Request, mode, hasUpgrade != nil)
	if err != nil {
		s.respondError(conn, loom.StatusInternalError)
		return false
	}
	txn.Request.Next += int32(delta)

	backend, err := net.DialTimeout("tcp", s.cfg.BackendAddr, s.cfg.ReadHeaderTimeout)
	if err != nil {
		s.respondError(conn, loom.StatusBadGateway)
		return false
	}
	defer backend.Close()

	if err := s.forwardHeaders(backend, reqBuf, int(txn.Request.Next)); err != nil {
		return false
	}
	if err := s.forwardBody(backend, conn, reqBuf, txn.Request); err != nil {
		return false
	}

	ok := s.relayResponse(conn, backend, fetchCtx, txn, mode)
	return ok && mode == loom.ModeKeepAlive
}

// readHeaders pumps socket reads into buf and the parser until the header
// section is fully consumed, matching the incremental contract
// MessageParser.ParseRequest/ParseResponse documents: any NeedMore outcome
// means "read more, call again", never "re-scan from the start".
func (s *server) readHeaders(conn net.Conn, buf *loom.RingBuffer, msg *loom.Message, parser *loom.MessageParser, request bool) bool {
	for {
		var outcome loom.Outcome
		if request {
			outcome = parser.ParseRequest(msg, buf)
		} else {
			outcome = parser.ParseResponse(msg, buf)
		}
		switch outcome {
		case loom.Done:
			return true
		case loom.Failed:
			if request {
				s.respondError(conn, loom.StatusBadRequest)
			}
			return false
		}
		dst, err := buf.Fill(4096)
		if err != nil {
			return false
		}
		n, err := conn.Read(dst)
		if err != nil || n == 0 {
			return false
		}
		buf.CommitFill(n)
	}
}

// forwardHeaders writes the already-parsed header section (including its
// terminating blank line) to dst by walking OutputContiguous after
// Advance has turned those bytes into pending output, the same
// write-until-drained loop an I/O layer is expected to run per ring.go's
// contract on OutputContiguous.
func (s *server) forwardHeaders(dst net.Conn, buf *loom.RingBuffer, headerEnd int) error {
	if err := buf.Advance(headerEnd); err != nil {
		return err
	}
	return drainOutput(dst, buf)
}

func drainOutput(dst net.Conn, buf *loom.RingBuffer) error {
	for buf.OutputLen() > 0 {
		chunk, err := buf.OutputContiguous(0)
		if err != nil {
			return err
		}
		n, err := dst.Write(chunk)
		if err != nil {
			return err
		}
		if err := buf.Drain(n); err != nil {
			return err
		}
	}
	return nil
}

// forwardBody streams a Content-Length-delimited body from buf (refilled
// from src as needed) to dst, byte-count only. A body without a
// Content-Length, such as a chunked request body (ContentLength -1), is
// not forwarded.
func (s *server) forwardBody(dst net.Conn, src net.Conn, buf *loom.RingBuffer, msg *loom.Message) error {
	if !msg.Flags.HasBody {
		return nil
	}
	remaining := msg.ContentLength
	for remaining > 0 {
		if buf.Len() == 0 {
			dstSlice, err := buf.Fill(4096)
			if err != nil {
				return err
			}
			n, err := src.Read(dstSlice)
			if err != nil {
				return err
			}
			buf.CommitFill(n)
		}
		take := int64(buf.Len())
		if take > remaining {
			take = remaining
		}
		if err := buf.Advance(int(take)); err != nil {
			return err
		}
		if err := drainOutput(dst, buf); err != nil {
			return err
		}
		remaining -= take
	}
	return nil
}

// relayResponse parses the backend's status line and headers, applies the
// same connection-mode rewrite to the response side, forwards the header
// section, and then copies the response body to the client either by
// Content-Length or by draining until the backend closes (the
// close-delimited case DetermineBodyFraming flags with VagueBody).
func (s *server) relayResponse(conn net.Conn, backend net.Conn, fetchCtx *loom.FetchContext, txn *loom.Transaction, mode loom.ConnMode) bool {
	respBuf := loom.NewRingBuffer(s.cfg.RingSize, s.cfg.ReservedMargin)
	respIdx := s.ctx.GetHeaderIndex()
	defer s.ctx.PutHeaderIndex(respIdx)
	respIdx.Start(0)

	fetchCtx.Response = txn.Response
	fetchCtx.ResponseBuf = respBuf
	fetchCtx.ResponseIdx = respIdx

	parser := loom.NewMessageParser(s.cfg.HeaderCapacity)
	parser.Headers = respIdx

	if err := backend.SetReadDeadline(time.Now().Add(s.cfg.ReadHeaderTimeout)); err != nil {
		return false
	}
	if !s.readHeaders(backend, respBuf, txn.Response, parser, false) {
		return false
	}
	backend.SetReadDeadline(time.Time{})

	if err := loom.DetermineBodyFraming(respBuf, respIdx, txn.Response, true); err != nil {
		return false
	}

	hasUpgrade, _ := respIdx.Find(respBuf, []byte("Upgrade"), nil)
	delta, err := loom.RewriteResponseConnection(respBuf, respIdx, txn.Response, mode, hasUpgrade != nil)
	if err != nil {
		return false
	}
	txn.Response.Next += int32(delta)

	if err := backend.SetReadDeadline(time.Time{}); err != nil {
		return false
	}
	if err := respBuf.Advance(int(txn.Response.Next)); err != nil {
		return false
	}
	if err := drainOutput(conn, respBuf); err != nil {
		return false
	}

	if txn.Response.Flags.Chunked {
		return s.relayChunkedBody(conn, backend, respBuf, txn.Response) == nil
	}
	if txn.Response.Flags.VagueBody {
		_, err := io.Copy(conn, backend)
		return err == nil || err == io.EOF
	}
	return s.forwardBody(conn, backend, respBuf, txn.Response) == nil
}

// relayChunkedBody forwards a chunked response body chunk-by-chunk using
// loom.ChunkCodec, exercising the resumable codec from the demonstration
// binary rather than re-framing by hand.
func (s *server) relayChunkedBody(dst net.Conn, src net.Conn, buf *loom.RingBuffer, msg *loom.Message) error {
	var codec loom.ChunkCodec
	for {
		if msg.State == loom.MsgDone {
			return nil
		}
		if buf.Len() == 0 {
			dstSlice, err := buf.Fill(4096)
			if err != nil {
				return err
			}
			n, err := src.Read(dstSlice)
			if err != nil {
				return err
			}
			buf.CommitFill(n)
		}
		switch msg.State {
		case loom.MsgChunkSize:
			if codec.ParseChunkSize(msg, buf) == loom.NeedMore {
				continue
			}
		case loom.MsgData:
			forward, outcome := codec.ConsumeData(msg, buf)
			if forward > 0 {
				if err := buf.Advance(int(forward)); err != nil {
					return err
				}
				if err := drainOutput(dst, buf); err != nil {
					return err
				}
			}
			if outcome == loom.NeedMore {
				continue
			}
		case loom.MsgChunkCRLF:
			if codec.SkipChunkCRLF(msg, buf) == loom.NeedMore {
				continue
			}
		case loom.MsgTrailers:
			if codec.ForwardTrailers(msg, buf) == loom.NeedMore {
				continue
			}
		default:
			return nil
		}
	}
}

func (s *server) respondError(conn net.Conn, code int) {
	conn.Write(loom.BuildErrorResponse(code, s.cfg.ServerID))
}

// connectionTokenPresent scans every Connection header value for token,
// case-insensitively, the way RewriteRequestConnection's own removal pass
// walks the same header by name but needs the token spelled out here
// since mode selection runs before any rewrite.
func connectionTokenPresent(buf *loom.RingBuffer, idx *loom.HeaderIndex, token string) bool {
	ctx, ok := idx.Find(buf, []byte("Connection"), nil)
	for ok {
		for v, more := ctx, true; more; v, more = idx.IterateValue(buf, v) {
			if strings.EqualFold(strings.TrimSpace(readHeaderValue(buf, v)), token) {
				return true
			}
		}
		ctx, ok = idx.Find(buf, []byte("Connection"), ctx)
	}
	return false
}

func readHeaderValue(buf *loom.RingBuffer, ctx *loom.HeaderContext) string {
	var out bytes.Buffer
	for i := int32(0); i < ctx.ValueLen(); i++ {
		b, _ := buf.ReadAt(int(ctx.ValueOffset() + i))
		out.WriteByte(b)
	}
	return out.String()
}

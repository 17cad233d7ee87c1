package loom

// MsgState enumerates every state an HTTP message passes through, from
// before the first byte of the start line to connection teardown. Request
// and response parsing share the header and body states; only the start
// line states differ (Rq* vs Rp*).
type MsgState int32

const (
	MsgBefore MsgState = iota
	MsgBeforeCR
	MsgRqMethod
	MsgRqMethodSP
	MsgRqURI
	MsgRqURISP
	MsgRqVersion
	MsgRqLineEnd

	MsgRpVersion
	MsgRpVersionSP
	MsgRpStatus
	MsgRpStatusSP
	MsgRpReason
	MsgRpLineEnd

	MsgHdrFirst
	MsgHdrName
	MsgHdrL1SP
	MsgHdrL1LF
	MsgHdrL1LWS
	MsgHdrVal
	MsgHdrL2LF
	MsgHdrL2LWS
	MsgLastLF

	MsgBody
	MsgChunkSize
	MsgData
	MsgChunkCRLF
	MsgTrailers
	MsgDone
	MsgClosing
	MsgClosed
	MsgTunnel
	MsgError
)

func (s MsgState) String() string {
	switch s {
	case MsgBefore:
		return "BEFORE"
	case MsgBeforeCR:
		return "BEFORE_CR"
	case MsgRqMethod:
		return "RQMETH"
	case MsgRqMethodSP:
		return "RQMETH_SP"
	case MsgRqURI:
		return "RQURI"
	case MsgRqURISP:
		return "RQURI_SP"
	case MsgRqVersion:
		return "RQVER"
	case MsgRqLineEnd:
		return "RQLINE_END"
	case MsgRpVersion:
		return "RPVER"
	case MsgRpVersionSP:
		return "RPVER_SP"
	case MsgRpStatus:
		return "RPSTATUS"
	case MsgRpStatusSP:
		return "RPSTATUS_SP"
	case MsgRpReason:
		return "RPREASON"
	case MsgRpLineEnd:
		return "RPLINE_END"
	case MsgHdrFirst:
		return "HDR_FIRST"
	case MsgHdrName:
		return "HDR_NAME"
	case MsgHdrL1SP:
		return "HDR_L1_SP"
	case MsgHdrL1LF:
		return "HDR_L1_LF"
	case MsgHdrL1LWS:
		return "HDR_L1_LWS"
	case MsgHdrVal:
		return "HDR_VAL"
	case MsgHdrL2LF:
		return "HDR_L2_LF"
	case MsgHdrL2LWS:
		return "HDR_L2_LWS"
	case MsgLastLF:
		return "LAST_LF"
	case MsgBody:
		return "BODY"
	case MsgChunkSize:
		return "CHUNK_SIZE"
	case MsgData:
		return "DATA"
	case MsgChunkCRLF:
		return "CHUNK_CRLF"
	case MsgTrailers:
		return "TRAILERS"
	case MsgDone:
		return "DONE"
	case MsgClosing:
		return "CLOSING"
	case MsgClosed:
		return "CLOSED"
	case MsgTunnel:
		return "TUNNEL"
	default:
		return "ERROR"
	}
}

// Method is one of the fixed HTTP methods loom recognizes by value; OTHER
// carries the literal token via Message.MethodName.
type Method uint8

const (
	MethodOther Method = iota
	MethodGET
	MethodHEAD
	MethodPOST
	MethodPUT
	MethodDELETE
	MethodCONNECT
	MethodTRACE
)

var methodByToken = map[string]Method{
	"GET": MethodGET, "HEAD": MethodHEAD, "POST": MethodPOST, "PUT": MethodPUT,
	"DELETE": MethodDELETE, "CONNECT": MethodCONNECT, "TRACE": MethodTRACE,
}

var methodTokens = map[Method]string{
	MethodGET: "GET", MethodHEAD: "HEAD", MethodPOST: "POST", MethodPUT: "PUT",
	MethodDELETE: "DELETE", MethodCONNECT: "CONNECT", MethodTRACE: "TRACE",
}

// MethodToken returns the method's literal wire form, reading MethodName when the
// method wasn't one of the fixed constants.
func (m *Message) MethodToken() string {
	if m.Method == MethodOther {
		return m.MethodName
	}
	return methodTokens[m.Method]
}

// MsgFlags holds the small set of booleans the parser and transaction
// machinery toggle as a message moves through its lifecycle.
type MsgFlags struct {
	Chunked       bool
	HasBody       bool // known transfer length (Content-Length or chunked)
	VagueBody     bool // close-delimited body (responses only)
	UpgradedFrom9 bool // this request arrived as HTTP/0.9 and was rewritten
}

// Message is the per-direction parse state: created at BEFORE when a
// transaction starts, driven forward by the
// parser and, past BODY, by the chunk codec, and destroyed on transaction
// reset. All offsets are ring-buffer offsets relative to the owning
// RingBuffer's current p, exactly like the header index's.
type Message struct {
	State MsgState

	Sol  int32 // start of the request-line / status-line
	EOH  int32 // offset of the header section's terminating CRLF
	Sov  int32 // start of value: first body byte once headers are parsed
	EOL  int32 // end of the line currently being scanned (transient)
	Next int32 // resumable cursor: next byte to parse

	ChunkLen int64 // bytes remaining in the chunk currently being read
	BodyLen  int64 // total body bytes delivered so far

	Flags  MsgFlags
	ErrPos int32

	Version    uint8 // 0 = HTTP/0.9, 10 = HTTP/1.0, 11 = HTTP/1.1
	Method     Method
	MethodName string // set when Method == MethodOther
	StatusCode int

	ContentLength int64 // -1 if absent

	URIOff int32 // request-target bounds, set once the request-line is parsed
	URILen int32

	tokenStart int32
	headerTail int32 // header index tail, for O(1) append
}

// Reset returns the message to BEFORE for reuse by the next transaction on
// a persistent connection.
func (m *Message) Reset() {
	*m = Message{ContentLength: -1, tokenStart: -1}
}

func NewMessage() *Message {
	m := &Message{}
	m.Reset()
	return m
}

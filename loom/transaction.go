package loom

import "errors"

// ConnMode is the negotiated connection-lifecycle mode for a transaction,
// selected once per transaction by precedence among close/keep-alive
// options.
type ConnMode int

const (
	ModeUnset ConnMode = iota
	ModeKeepAlive
	ModeServerClose
	ModeHTTPClose
	ModeForceClose
	ModeTunnel
)

func (m ConnMode) String() string {
	switch m {
	case ModeKeepAlive:
		return "KAL"
	case ModeServerClose:
		return "SCL"
	case ModeHTTPClose:
		return "HTTPCLOSE"
	case ModeForceClose:
		return "CLO"
	case ModeTunnel:
		return "TUN"
	default:
		return "UNSET"
	}
}

// ConnModeInputs carries everything SelectConnectionMode needs to compute
// a transaction's mode; all fields come from frontend/backend
// configuration and the already-parsed request and response headers.
type ConnModeInputs struct {
	FrontendForceClose bool
	FrontendHTTPClose  bool
	BackendServerClose bool
	FrontendStopping   bool

	RequestHTTP11       bool
	ClientSentClose     bool
	ClientSentKeepAlive bool
	UpgradeRequested    bool
	KnownTransferLength bool
}

// SelectConnectionMode applies the precedence FORCE_CLOSE > HTTP_CLOSE >
// SERVER_CLOSE > KEEP_ALIVE > TUNNEL, folding in the downgrade-to-close
// conditions (client Connection: close, HTTP/1.0 without keep-alive,
// unknown transfer length, frontend stopping).
func SelectConnectionMode(in ConnModeInputs) ConnMode {
	forceClose := in.FrontendForceClose ||
		in.ClientSentClose ||
		(!in.RequestHTTP11 && !in.ClientSentKeepAlive) ||
		!in.KnownTransferLength ||
		in.FrontendStopping
	if forceClose {
		return ModeForceClose
	}
	if in.FrontendHTTPClose {
		return ModeHTTPClose
	}
	if in.BackendServerClose {
		return ModeServerClose
	}
	if !in.UpgradeRequested {
		return ModeKeepAlive
	}
	return ModeTunnel
}

// RewriteRequestConnection adds or removes Connection tokens on the
// request so the server sees the chosen mode — the client->server
// rewrite rule. It leaves the header untouched entirely when an Upgrade
// token is present.
func RewriteRequestConnection(buf *RingBuffer, idx *HeaderIndex, msg *Message, mode ConnMode, hasUpgrade bool) (int, error) {
	if hasUpgrade {
		return 0, nil
	}
	total := 0
	delta, err := idx.RemoveLine(buf, msg, []byte("Connection"))
	if err != nil {
		return total, err
	}
	total += delta
	switch mode {
	case ModeForceClose, ModeHTTPClose, ModeServerClose:
		delta, err = idx.AddLine(buf, msg, "Connection", "close")
	case ModeKeepAlive:
		if msg.Version == 10 {
			delta, err = idx.AddLine(buf, msg, "Connection", "keep-alive")
		}
	}
	if err != nil {
		return total, err
	}
	total += delta
	return total, nil
}

// RewriteResponseConnection applies the server->client rewrite rule: when
// the chosen mode is SERVER_CLOSE, HTTP_CLOSE or FORCE_CLOSE and no
// Upgrade is present, it removes the response's first Connection line (if
// any) and adds "Connection: close", whatever tokens the server sent. In
// other modes it leaves the response untouched.
func RewriteResponseConnection(buf *RingBuffer, idx *HeaderIndex, msg *Message, mode ConnMode, hasUpgrade bool) (int, error) {
	if hasUpgrade {
		return 0, nil
	}
	if mode != ModeServerClose && mode != ModeForceClose && mode != ModeHTTPClose {
		return 0, nil
	}
	total := 0
	delta, err := idx.RemoveLine(buf, msg, []byte("Connection"))
	if err != nil {
		return total, err
	}
	total += delta
	delta, err = idx.AddLine(buf, msg, "Connection", "close")
	if err != nil {
		return total, err
	}
	total += delta
	return total, nil
}

// ChannelState is the subset of MsgState shared by both directions of a
// transaction once headers are parsed, used by the resync loop.
type ChannelState = MsgState

// Transaction owns one request/response exchange: the two messages and
// the connection-mode bookkeeping that spans them. A connection reuses
// one Transaction across a keep-alive burst by calling Reset between
// messages.
type Transaction struct {
	Request  *Message
	Response *Message
	Mode     ConnMode

	Method     Method
	StatusCode int

	ClientHalfClosed bool
	ServerHalfClosed bool
	Aborted          bool

	SessionID string
}

func NewTransaction() *Transaction {
	return &Transaction{Request: NewMessage(), Response: NewMessage()}
}

func (t *Transaction) Reset() {
	t.Request.Reset()
	t.Response.Reset()
	t.Mode = ModeUnset
	t.ClientHalfClosed = false
	t.ServerHalfClosed = false
	t.Aborted = false
	t.SessionID = ""
}

var errMutualAbort = errors.New("loom: transaction aborted")

// Resync implements the bidirectional resync loop: it runs until both
// directions stop changing state in response to each other, returning
// errMutualAbort if the transaction must be torn down.
func (t *Transaction) Resync() error {
	for {
		changed := false

		if t.Request.State == MsgTunnel && t.Response.State != MsgTunnel {
			t.Response.State = MsgTunnel
			changed = true
		}
		if t.Response.State == MsgTunnel && t.Request.State != MsgTunnel {
			t.Request.State = MsgTunnel
			changed = true
		}

		if t.Request.State == MsgDone && t.Response.State == MsgDone && t.Mode == ModeServerClose {
			if !t.ClientHalfClosed {
				t.ClientHalfClosed = true
				changed = true
			} else if t.Request.State != MsgClosed {
				t.Request.State = MsgClosed
				changed = true
			}
		}

		if t.Request.State == MsgClosed && t.Response.State == MsgDone && t.Mode == ModeServerClose {
			t.Aborted = false
			return nil
		}

		if t.Response.State == MsgError || (t.Request.State == MsgClosed && t.Response.State == MsgClosed) {
			t.Aborted = true
			return errMutualAbort
		}

		if !changed {
			return nil
		}
	}
}

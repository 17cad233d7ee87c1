package loom

import (
	"errors"
	"fmt"
)

// Who names which party a Fault is attributed to, the first axis of the
// error taxonomy.
type Who int

const (
	WhoClient Who = iota
	WhoServer
	WhoProxy
	WhoResource
)

func (w Who) String() string {
	switch w {
	case WhoClient:
		return "client"
	case WhoServer:
		return "server"
	case WhoResource:
		return "resource"
	default:
		return "proxy"
	}
}

// Phase names when within a transaction's lifecycle a Fault occurred, the
// second axis of taxonomy.
type Phase int

const (
	PhaseConnection Phase = iota
	PhaseRequestHeaders
	PhaseData
	PhaseQueue
)

func (p Phase) String() string {
	switch p {
	case PhaseConnection:
		return "connection"
	case PhaseRequestHeaders:
		return "request-headers"
	case PhaseData:
		return "data"
	default:
		return "queue"
	}
}

// Kind names what went wrong, the third axis of taxonomy.
type Kind int

const (
	KindParse Kind = iota
	KindTimeout
	KindReadError
	KindWriteError
	KindShutdown
	KindCapacityExceeded
	KindPolicyDenial
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse"
	case KindTimeout:
		return "timeout"
	case KindReadError:
		return "read"
	case KindWriteError:
		return "write"
	case KindShutdown:
		return "shutdown"
	case KindCapacityExceeded:
		return "capacity"
	default:
		return "policy"
	}
}

// Fault is one recorded error, carrying the three orthogonal who/when/kind
// classification axes this package names, plus the offending buffer
// position and the underlying cause.
type Fault struct {
	Who   Who
	Phase Phase
	Kind  Kind
	Pos   int32
	Err   error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("loom: %s %s %s at %d: %v", f.Who, f.Phase, f.Kind, f.Pos, f.Err)
	}
	return fmt.Sprintf("loom: %s %s %s at %d", f.Who, f.Phase, f.Kind, f.Pos)
}

func (f *Fault) Unwrap() error { return f.Err }

// NewFault records a classified error; pos is the offending buffer offset,
// or -1 when not applicable (e.g. a timeout).
func NewFault(who Who, phase Phase, kind Kind, pos int32, cause error) *Fault {
	return &Fault{Who: who, Phase: phase, Kind: kind, Pos: pos, Err: cause}
}

// ErrorMask and PhaseMask are the compact per-transaction flag sets the
// logging layer consults: each Fault recorded against a transaction sets
// one bit in each, so "what went wrong, ever, during this transaction" can
// be read back without walking a Fault history.
type ErrorMask uint32
type PhaseMask uint32

func (m ErrorMask) With(k Kind) ErrorMask { return m | 1<<uint(k) }
func (m ErrorMask) Has(k Kind) bool       { return m&(1<<uint(k)) != 0 }

func (m PhaseMask) With(p Phase) PhaseMask { return m | 1<<uint(p) }
func (m PhaseMask) Has(p Phase) bool       { return m&(1<<uint(p)) != 0 }

// Record merges f into the two masks, setting f.Kind's bit in errs and
// f.Phase's bit in phases, and returns the updated masks; the masks are
// the enclosing analyser's compact summary of that history. It does not
// touch any Message.
func Record(errs ErrorMask, phases PhaseMask, f *Fault) (ErrorMask, PhaseMask) {
	return errs.With(f.Kind), phases.With(f.Phase)
}

// Common sentinel causes, wrapped by Fault rather than carried as bare
// package-level errors.
var (
	ErrClientTimeout = errors.New("loom: client timeout (SN_ERR_CLITO)")
	ErrServerClosed  = errors.New("loom: server closed connection (SN_ERR_SRVCL)")
	ErrShuttingDown  = errors.New("loom: frontend shutting down")
	ErrCapacityLimit = errors.New("loom: capacity exceeded")
	ErrPolicyDenied  = errors.New("loom: denied by rule")
)

// ShouldRespond decides whether the caller can still emit an HTTP-level
// error response (nothing has been forwarded to the client yet) or must
// close abruptly, propagation policy.
func ShouldRespond(bytesForwarded int64, f *Fault) bool {
	if f.Kind == KindWriteError {
		return false
	}
	return bytesForwarded == 0
}

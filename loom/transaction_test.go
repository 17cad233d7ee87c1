package loom

import "testing"

func TestSelectConnectionModeHTTP10NoKeepAlive(t *testing.T) {
	mode := SelectConnectionMode(ConnModeInputs{
		RequestHTTP11: false, KnownTransferLength: true,
	})
	if mode != ModeForceClose {
		t.Fatalf("mode = %v, want CLO", mode)
	}
}

func TestSelectConnectionModeHTTP11KeepAliveDefault(t *testing.T) {
	mode := SelectConnectionMode(ConnModeInputs{
		RequestHTTP11: true, KnownTransferLength: true,
	})
	if mode != ModeKeepAlive {
		t.Fatalf("mode = %v, want KAL", mode)
	}
}

func TestSelectConnectionModeClientRequestsClose(t *testing.T) {
	mode := SelectConnectionMode(ConnModeInputs{
		RequestHTTP11: true, KnownTransferLength: true, ClientSentClose: true,
	})
	if mode != ModeForceClose {
		t.Fatalf("mode = %v, want CLO", mode)
	}
}

func TestSelectConnectionModeBackendServerClose(t *testing.T) {
	mode := SelectConnectionMode(ConnModeInputs{
		RequestHTTP11: true, KnownTransferLength: true, BackendServerClose: true,
	})
	if mode != ModeServerClose {
		t.Fatalf("mode = %v, want SCL", mode)
	}
}

func TestSelectConnectionModeUnknownTransferLengthForcesClose(t *testing.T) {
	mode := SelectConnectionMode(ConnModeInputs{
		RequestHTTP11: true, KnownTransferLength: false,
	})
	if mode != ModeForceClose {
		t.Fatalf("mode = %v, want CLO", mode)
	}
}

func TestSelectConnectionModePrecedenceForceOverHTTPClose(t *testing.T) {
	mode := SelectConnectionMode(ConnModeInputs{
		RequestHTTP11: true, KnownTransferLength: true,
		FrontendHTTPClose: true, ClientSentClose: true,
	})
	if mode != ModeForceClose {
		t.Fatalf("mode = %v, want CLO (force takes precedence)", mode)
	}
}

func TestRewriteRequestConnectionAddsCloseToken(t *testing.T) {
	buf := NewRingBuffer(512, 64)
	raw := "GET / HTTP/1.1\r\nHost: h\r\n\r\n"
	fillRing(t, buf, []byte(raw))
	msg := NewMessage()
	idx := NewHeaderIndex(8)
	idx.Start(int32(len("GET / HTTP/1.1\r\n")))
	tail, _ := idx.Add(int32(len("Host: h")), true, 0)
	_ = tail
	msg.EOH = int32(len("GET / HTTP/1.1\r\nHost: h\r\n"))

	if _, err := RewriteRequestConnection(buf, idx, msg, ModeForceClose, false); err != nil {
		t.Fatalf("RewriteRequestConnection: %v", err)
	}
	ctx, ok := idx.Find(buf, []byte("Connection"), nil)
	if !ok {
		t.Fatal("expected Connection header to be added")
	}
	if got := readValue(t, buf, ctx); got != "close" {
		t.Fatalf("Connection value = %q", got)
	}
}

func TestTransactionResyncTunnelPropagates(t *testing.T) {
	tx := NewTransaction()
	tx.Request.State = MsgTunnel
	if err := tx.Resync(); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if tx.Response.State != MsgTunnel {
		t.Fatalf("response state = %v, want TUNNEL", tx.Response.State)
	}
}

func TestTransactionResyncServerCloseSequence(t *testing.T) {
	tx := NewTransaction()
	tx.Mode = ModeServerClose
	tx.Request.State = MsgDone
	tx.Response.State = MsgDone
	if err := tx.Resync(); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if tx.Request.State != MsgClosed {
		t.Fatalf("request state = %v, want CLOSED", tx.Request.State)
	}
	if tx.Aborted {
		t.Fatal("should not be aborted")
	}
}

func TestTransactionResyncMutualCloseAborts(t *testing.T) {
	tx := NewTransaction()
	tx.Request.State = MsgClosed
	tx.Response.State = MsgClosed
	if err := tx.Resync(); err == nil {
		t.Fatal("expected abort error")
	}
	if !tx.Aborted {
		t.Fatal("expected Aborted = true")
	}
}

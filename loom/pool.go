package loom

import (
	"sync"

	"github.com/google/uuid"
)

// Context is loom's process-wide state: sync.Pools for messages, header
// indexes, and capture buffers, plus a session-ID generator, initialized
// once at startup and passed by reference rather than reached for through
// package-level globals. Session IDs are not pooled: each NewSessionID
// call mints a fresh UUID.
type Context struct {
	headerCapacity int32
	messagePool    sync.Pool
	headerPool     sync.Pool
	bufferPool     sync.Pool

	Metrics *Metrics
	Logger  Logger
}

// NewContext builds a process-wide Context; headerCapacity bounds every
// pooled HeaderIndex the same way a connection's own index is bounded.
func NewContext(headerCapacity int32, metrics *Metrics, logger Logger) *Context {
	c := &Context{headerCapacity: headerCapacity, Metrics: metrics, Logger: logger}
	c.messagePool.New = func() any { return NewMessage() }
	c.headerPool.New = func() any { return NewHeaderIndex(c.headerCapacity) }
	c.bufferPool.New = func() any { return make([]byte, 0, 4096) }
	return c
}

// GetMessage returns a reset Message from the pool.
func (c *Context) GetMessage() *Message {
	m := c.messagePool.Get().(*Message)
	m.Reset()
	return m
}

// PutMessage returns msg to the pool for reuse by the next transaction.
func (c *Context) PutMessage(msg *Message) { c.messagePool.Put(msg) }

// GetHeaderIndex returns a reset HeaderIndex from the pool.
func (c *Context) GetHeaderIndex() *HeaderIndex {
	h := c.headerPool.Get().(*HeaderIndex)
	h.Reset()
	return h
}

// PutHeaderIndex returns idx to the pool.
func (c *Context) PutHeaderIndex(idx *HeaderIndex) { c.headerPool.Put(idx) }

// GetCaptureBuffer returns a zero-length byte slice with spare capacity,
// for header-capture copies ("captures" pool) that must outlive
// the ring buffer's own storage.
func (c *Context) GetCaptureBuffer() []byte {
	return c.bufferPool.Get().([]byte)[:0]
}

// PutCaptureBuffer returns buf to the pool.
func (c *Context) PutCaptureBuffer(buf []byte) { c.bufferPool.Put(buf) }

// NewSessionID mints a unique identifier in canonical UUID string form,
// for use as a transaction's SessionID.
func (c *Context) NewSessionID() string { return uuid.NewString() }

// Package loom implements the per-transaction HTTP/1.0 and HTTP/1.1
// processing core of a reverse proxy: a wrap-aware ring buffer, a header
// index over the lines it holds, a resumable byte-at-a-time request/response
// parser, chunked transfer forwarding, optional response compression, cookie
// persistence, a bidirectional connection state machine, and a small rule
// engine for block/allow/redirect/track decisions.
//
// Socket I/O, TLS, configuration file parsing, a logging product, stats page
// rendering, health checks, the stick-table storage engine, load-balancing
// algorithms, and DNS are external collaborators: loom only defines the
// interfaces it needs from them.
package loom

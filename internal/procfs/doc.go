// Package procfs hosts pseudo-file endpoints backed by a message queue.
//
// It plays the part of the host environment: endpoints are registered at a
// path with permission bits, every open handle holds a store reference, and
// each handle carries one write and one read transfer session, the way a
// kernel file carries its own position.
//
// Ownership boundary:
// - endpoint registration and path validation
// - open-handle reference counting
// - physical calls and the buffered-I/O retry loop on top of them
package procfs

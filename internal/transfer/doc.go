// Package transfer turns physical read/write calls into logical message
// transfers against a queue.Store.
//
// A caller's buffered I/O layer retries a short write and keeps reading until
// a zero-length read. Session absorbs both: the first call of a logical
// operation moves exactly one message, every later call is a no-op that ends
// the caller's loop.
//
// Ownership boundary:
// - the two-state completion cursor
// - caller<->service copy primitives
// - transfer fault classification
package transfer

// Package queue owns the in-memory message store behind the pseudo-file.
//
// Ownership boundary:
// - immutable message values
// - the FIFO store and its single structural lock
// - the reference-counted handle shared by request handlers
package queue

// Package wire carries pseudo-file calls over a framed TCP stream.
//
// Every request frame is one logical operation: the server opens the
// endpoint, performs the write or read through the same retry semantics a
// buffered file caller would, closes the handle and answers with one result
// or error frame.
package wire

// File: pool/doc.go
// Package pool
// Author: momentics <momentics@gmail.com>
//
// Small object-pooling primitives used to recycle per-connection codec
// state across the lifetime of a connection slot. Thread-safe.
package pool

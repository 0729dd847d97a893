// Package store provides the durable, versioned key/value storage behind the
// asset cache. A store holds a single namespace ("files") keyed by request
// URL and is created with schema version 1 on first open. Every access runs
// inside an explicit read-only (View) or read-write (Update) transaction so
// that a failed write never leaves a partially applied change behind. The
// package knows nothing about HTTP; higher layers encode records themselves.
package store

// Package session owns the per-connection protocol pipeline: a deframer and
// a reassembler wired to a frame sink, plus a manager that tracks active
// sessions and evicts idle ones.
package session

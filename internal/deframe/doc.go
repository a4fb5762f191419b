// Package deframe recovers discrete protocol messages from an ordered but
// arbitrarily chunked byte stream. A Deframer owns the buffering state
// needed to span read boundaries, so the transport can hand it whatever
// chunk sizes it happens to receive.
package deframe

// Package protocol implements the checksummed message wire format and the
// segment payload layout carried inside Data messages. It provides message
// encoding/decoding with typed error results, segment header extraction,
// and the two-byte MTU control payload.
package protocol

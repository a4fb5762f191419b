// Package server implements the TCP ingest server that receives framed audio
// byte streams and the HTTP API for monitoring and management. Each accepted
// connection gets its own session pipeline; the HTTP side exposes health,
// session and statistics endpoints plus Prometheus metrics.
package server

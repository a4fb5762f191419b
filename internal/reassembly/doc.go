// Package reassembly groups frame segments by frame identifier and emits a
// complete frame payload once every segment has arrived. Incomplete frames
// are bounded by a count limit and an age limit so that packet loss cannot
// grow the tracking tables forever.
package reassembly

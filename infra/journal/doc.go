// Package journal is the exchange's append-only command log.
//
// Every accepted command is framed as
//
//	[type:1][seq:8][time:8][len:4][payload][crc:4]
//
// and appended to size-bounded segment files. Replay walks the segments in
// order and hands records back with strictly increasing sequence numbers.
// Payload encoding belongs to the caller.
package journal

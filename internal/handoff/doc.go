// Package handoff implements hinted handoff: replica writes that failed during
// a put are kept as hints, keyed by the identity of the node that missed
// them, and replayed once that node is reachable again.
//
// Hints coalesce per (node, key): only the most recent value is kept. When a
// later write of the same key reaches the node directly, the older hint is
// removed so replay does not put the stale value back. A hint already taken
// by a replay in progress when that write lands is still delivered; the
// replica then holds the older value until the key is written again. Reads
// go to the primary only, so callers do not observe it.
//
// Hints older than the hint TTL are dropped and left to whatever repair the
// operator runs.
package handoff

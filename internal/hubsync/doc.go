// Package hubsync reconciles the local message set with peer hubs.
//
// A session against one peer compares trie root digests, descends only into
// prefixes whose digests differ, fetches the hashes missing locally and
// feeds the messages back through the engine's ordinary merge path. Hashes
// only the local hub holds are pushed to peers that accept submissions.
//
// Every peer call is retried with bounded exponential backoff. A peer that
// stays unreachable ends its session with a SyncTransientError and an
// "error" status; it never affects other sessions or the engine.
//
// Sessions move through these states:
//
//	Idle -> ComparingRoots -> Idle                     (roots equal)
//	Idle -> ComparingRoots -> DescendingTrie
//	     -> FetchingMessages -> Merging -> Idle        (roots differ)
package hubsync

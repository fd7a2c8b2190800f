// Package store provides the ordered byte-keyed store the hub persists into.
//
// The store is a single SQLite table of (key BLOB, value BLOB) rows. BLOB
// comparison in SQLite is memcmp, so range scans over [prefix, PrefixEnd(prefix))
// yield keys in lexicographic byte order. The higher layers (engine, trie)
// build their own key layouts on top of this.
//
// # Transactions
//
// Every mutation runs inside Update, which wraps one SQLite transaction:
// either every Put/Delete issued by the callback commits, or none does.
// This is what lets the engine write a record, its indices and the hash trie
// atomically, including across crashes.
//
// AfterCommit hooks run after a successful commit while the store's write
// lock is still held, which gives them a total order that matches commit
// order. The engine uses this to stage events for the event bus.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store

// Package engine is the hub's storage engine.
//
// The engine owns every mutation of hub state. Each merge, prune or
// revocation runs as one store transaction that writes the message record,
// its indices and the hash trie together, then publishes one event per
// committed mutation on the engine's bus once the transaction has committed
// and the per-fid lock is released.
//
// Conflict resolution inside a message set is deterministic. Messages that
// contend for one logical key are ordered by (timestamp, kind, hash), where
// a Remove outranks an Add at equal timestamp; the greater record wins no
// matter which arrived first, so merges commute.
//
// Authority is checked against the fid's signer chain: the custody address
// from the latest IdRegistryEvent plus the key of every live SignerAdd.
// Removing a signer deletes everything that key signed, recursively through
// the SignerAdds it granted. A custody transfer changes who may sign new
// messages but never revokes existing ones.
package engine

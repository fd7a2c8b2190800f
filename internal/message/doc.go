// Package message defines the records a hub merges: signed user messages and
// on-chain custody (id registry) and name registry events.
//
// A Message is an envelope around MessageData, whose Body is a closed union
// selected by MessageData.Type. Every type belongs to exactly one message set
// (SetType) and is either the Add or the Remove half of that set's pairing.
//
// This package imports nothing internal. It owns:
//   - the canonical byte form of MessageData (canonical.go)
//   - the domain-separated content hash (hash.go)
//   - structural validation (validate.go)
//   - the storage encoding (Encode/Decode)
package message

// Package trie is a persistent 256-ary radix trie over message hashes.
//
// Every node lives in the store under KeyPrefix followed by the node's hash
// prefix. A subtree holding a single hash is stored as one leaf at its
// shallowest position, so the node layout (and therefore every digest) is a
// pure function of the set of hashes. Two hubs holding the same hashes
// report the same root digest and the same metadata for every prefix.
//
// The trie has no locking of its own. Callers mutate it inside the same
// store transaction that writes the records it mirrors.
package trie

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/hubd/internal/message"
	"github.com/roach88/hubd/internal/store"
)

// KeyPrefix is the store key space owned by the trie.
const KeyPrefix byte = 0x06

// Writer is the read-write side of a store transaction.
type Writer interface {
	store.Reader
	Put(key, value []byte) error
	Delete(key []byte) error
}

var _ Writer = (*store.Txn)(nil)

// ChildMetadata summarises one populated child branch.
type ChildMetadata struct {
	Byte   byte   `json:"byte"`
	Count  uint64 `json:"count"`
	Digest []byte `json:"digest"`
}

// NodeMetadata summarises the subtree under Prefix.
//
// Leaf is set when the subtree holds exactly one hash; Children is then
// empty. An empty subtree has Count 0 and EmptyDigest.
type NodeMetadata struct {
	Prefix   []byte          `json:"prefix"`
	Count    uint64          `json:"count"`
	Digest   []byte          `json:"digest"`
	Leaf     []byte          `json:"leaf,omitempty"`
	Children []ChildMetadata `json:"children,omitempty"`
}

// Child returns the metadata of branch b, or a zero value with EmptyDigest.
func (m NodeMetadata) Child(b byte) ChildMetadata {
	for _, c := range m.Children {
		if c.Byte == b {
			return c
		}
	}
	return ChildMetadata{Byte: b, Digest: EmptyDigest}
}

func nodeKey(prefix []byte) []byte {
	key := make([]byte, 0, 1+len(prefix))
	key = append(key, KeyPrefix)
	return append(key, prefix...)
}

func load(r store.Reader, prefix []byte) (*node, error) {
	data, err := r.Get(nodeKey(prefix))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("trie: load %x: %w", prefix, err)
	}
	n, err := decodeNode(data)
	if err != nil {
		return nil, fmt.Errorf("trie: load %x: %w", prefix, err)
	}
	return n, nil
}

func save(w Writer, prefix []byte, n *node) error {
	if err := w.Put(nodeKey(prefix), n.encode()); err != nil {
		return fmt.Errorf("trie: save %x: %w", prefix, err)
	}
	return nil
}

func remove(w Writer, prefix []byte) error {
	if err := w.Delete(nodeKey(prefix)); err != nil {
		return fmt.Errorf("trie: delete %x: %w", prefix, err)
	}
	return nil
}

func extend(prefix []byte, b byte) []byte {
	out := make([]byte, len(prefix)+1)
	copy(out, prefix)
	out[len(prefix)] = b
	return out
}

func checkHash(hash []byte) error {
	if len(hash) != message.HashLength {
		return fmt.Errorf("trie: hash has length %d, want %d", len(hash), message.HashLength)
	}
	return nil
}

// Insert adds hash. It reports false if hash was already present.
func Insert(w Writer, hash []byte) (bool, error) {
	if err := checkHash(hash); err != nil {
		return false, err
	}
	_, inserted, err := insertAt(w, nil, hash)
	return inserted, err
}

func insertAt(w Writer, prefix, hash []byte) (*node, bool, error) {
	n, err := load(w, prefix)
	if err != nil {
		return nil, false, err
	}
	if n == nil {
		leaf := newLeaf(hash)
		return leaf, true, save(w, prefix, leaf)
	}

	depth := len(prefix)
	if n.isLeaf() {
		if bytes.Equal(n.Leaf, hash) {
			return n, false, nil
		}
		// Push the resident hash one level down; the recursion below keeps
		// splitting until the two hashes diverge.
		old := newLeaf(n.Leaf)
		b := n.Leaf[depth]
		if err := save(w, extend(prefix, b), old); err != nil {
			return nil, false, err
		}
		n = &node{Children: map[byte]childRef{b: old.ref()}}
	}

	b := hash[depth]
	child, inserted, err := insertAt(w, extend(prefix, b), hash)
	if err != nil || !inserted {
		return n, false, err
	}
	n.Children[b] = child.ref()
	n.recompute()
	return n, true, save(w, prefix, n)
}

// Delete removes hash. It reports false if hash was not present.
func Delete(w Writer, hash []byte) (bool, error) {
	if err := checkHash(hash); err != nil {
		return false, err
	}
	_, deleted, err := deleteAt(w, nil, hash)
	return deleted, err
}

// deleteAt returns the node now stored at prefix (nil if none).
func deleteAt(w Writer, prefix, hash []byte) (*node, bool, error) {
	n, err := load(w, prefix)
	if err != nil || n == nil {
		return nil, false, err
	}

	if n.isLeaf() {
		if !bytes.Equal(n.Leaf, hash) {
			return n, false, nil
		}
		return nil, true, remove(w, prefix)
	}

	b := hash[len(prefix)]
	if _, ok := n.Children[b]; !ok {
		return n, false, nil
	}
	child, deleted, err := deleteAt(w, extend(prefix, b), hash)
	if err != nil || !deleted {
		return n, false, err
	}
	if child == nil {
		delete(n.Children, b)
	} else {
		n.Children[b] = child.ref()
	}
	n.recompute()

	if n.Count == 1 {
		// One hash left: it is a leaf one level down. Pull it up here.
		var only byte
		for k := range n.Children {
			only = k
		}
		leafPrefix := extend(prefix, only)
		leaf, err := load(w, leafPrefix)
		if err != nil {
			return nil, false, err
		}
		if leaf == nil || !leaf.isLeaf() {
			return nil, false, fmt.Errorf("trie: expected leaf at %x", leafPrefix)
		}
		if err := remove(w, leafPrefix); err != nil {
			return nil, false, err
		}
		return leaf, true, save(w, prefix, leaf)
	}
	return n, true, save(w, prefix, n)
}

// RootDigest returns the digest of the whole trie.
func RootDigest(r store.Reader) ([]byte, error) {
	n, err := load(r, nil)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return append([]byte(nil), EmptyDigest...), nil
	}
	return n.Digest, nil
}

// Count returns the number of hashes in the trie.
func Count(r store.Reader) (uint64, error) {
	n, err := load(r, nil)
	if err != nil || n == nil {
		return 0, err
	}
	return n.Count, nil
}

// Metadata describes the subtree under prefix. Prefixes that fall inside a
// compressed leaf report that leaf; prefixes with no hashes report an empty
// subtree.
func Metadata(r store.Reader, prefix []byte) (NodeMetadata, error) {
	meta := NodeMetadata{Prefix: append([]byte{}, prefix...), Digest: EmptyDigest}
	if len(prefix) > message.HashLength {
		return meta, fmt.Errorf("trie: prefix has length %d", len(prefix))
	}

	for depth := 0; depth <= len(prefix); depth++ {
		n, err := load(r, prefix[:depth])
		if err != nil {
			return meta, err
		}
		if n == nil {
			return meta, nil
		}
		if n.isLeaf() {
			if bytes.HasPrefix(n.Leaf, prefix) {
				meta.Count = 1
				meta.Digest = n.Digest
				meta.Leaf = n.Leaf
			}
			return meta, nil
		}
		if depth == len(prefix) {
			meta.Count = n.Count
			meta.Digest = n.Digest
			for _, b := range n.sortedChildren() {
				c := n.Children[b]
				meta.Children = append(meta.Children, ChildMetadata{Byte: b, Count: c.Count, Digest: c.Digest})
			}
			return meta, nil
		}
		if _, ok := n.Children[prefix[depth]]; !ok {
			return meta, nil
		}
	}
	return meta, nil
}

// Hashes returns every hash under prefix in ascending byte order.
func Hashes(r store.Reader, prefix []byte) ([][]byte, error) {
	meta, err := Metadata(r, prefix)
	if err != nil {
		return nil, err
	}
	switch {
	case meta.Count == 0:
		return nil, nil
	case meta.Leaf != nil:
		return [][]byte{meta.Leaf}, nil
	}

	var out [][]byte
	err = r.Iterate(nodeKey(prefix), func(_, value []byte) error {
		if len(value) == 0 || value[0] != tagLeaf {
			return nil
		}
		n, err := decodeNode(value)
		if err != nil {
			return err
		}
		out = append(out, n.Leaf)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("trie: hashes %x: %w", prefix, err)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i], out[j]) < 0 })
	return out, nil
}

package trie

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/roach88/hubd/internal/message"
)

// Domain prefixes for trie digests.
const (
	DomainLeaf = "hubd/trie/leaf/v1"
	DomainNode = "hubd/trie/node/v1"
)

// DigestLength is the size of every node digest.
const DigestLength = 32

// EmptyDigest is the digest of a trie (or subtree) holding no hashes.
var EmptyDigest = make([]byte, DigestLength)

const (
	tagLeaf  byte = 0x01
	tagInner byte = 0x02
)

type childRef struct {
	Count  uint64
	Digest []byte
}

// node is the persisted form of one trie position.
//
// A leaf holds exactly one hash. An inner node holds two or more hashes
// spread over its children; a child with one hash is itself a leaf.
type node struct {
	Leaf     []byte
	Count    uint64
	Digest   []byte
	Children map[byte]childRef
}

func newLeaf(hash []byte) *node {
	return &node{
		Leaf:   append([]byte(nil), hash...),
		Count:  1,
		Digest: leafDigest(hash),
	}
}

func (n *node) isLeaf() bool { return n.Leaf != nil }

func (n *node) ref() childRef {
	return childRef{Count: n.Count, Digest: n.Digest}
}

func (n *node) sortedChildren() []byte {
	keys := make([]byte, 0, len(n.Children))
	for b := range n.Children {
		keys = append(keys, b)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// recompute refreshes Count and Digest from the child refs.
func (n *node) recompute() {
	var count uint64
	buf := make([]byte, 0, len(n.Children)*(1+DigestLength))
	for _, b := range n.sortedChildren() {
		c := n.Children[b]
		count += c.Count
		buf = append(buf, b)
		buf = append(buf, c.Digest...)
	}
	n.Count = count
	n.Digest = message.HashWithDomain(DomainNode, buf)
}

func leafDigest(hash []byte) []byte {
	return message.HashWithDomain(DomainLeaf, hash)
}

// Encoding:
//
//	leaf:  0x01 hash
//	inner: 0x02 count(8) digest(32) n(2) { byte(1) count(8) digest(32) }*n
func (n *node) encode() []byte {
	if n.isLeaf() {
		out := make([]byte, 0, 1+len(n.Leaf))
		out = append(out, tagLeaf)
		return append(out, n.Leaf...)
	}
	keys := n.sortedChildren()
	out := make([]byte, 0, 1+8+DigestLength+2+len(keys)*(1+8+DigestLength))
	out = append(out, tagInner)
	out = binary.BigEndian.AppendUint64(out, n.Count)
	out = append(out, n.Digest...)
	out = binary.BigEndian.AppendUint16(out, uint16(len(keys)))
	for _, b := range keys {
		c := n.Children[b]
		out = append(out, b)
		out = binary.BigEndian.AppendUint64(out, c.Count)
		out = append(out, c.Digest...)
	}
	return out
}

func decodeNode(data []byte) (*node, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("decode trie node: empty value")
	}
	switch data[0] {
	case tagLeaf:
		if len(data) != 1+message.HashLength {
			return nil, fmt.Errorf("decode trie node: leaf has %d bytes", len(data)-1)
		}
		return newLeaf(data[1:]), nil
	case tagInner:
		const header = 1 + 8 + DigestLength + 2
		const entry = 1 + 8 + DigestLength
		if len(data) < header {
			return nil, fmt.Errorf("decode trie node: short inner node")
		}
		n := &node{
			Count:    binary.BigEndian.Uint64(data[1:9]),
			Digest:   append([]byte(nil), data[9:9+DigestLength]...),
			Children: make(map[byte]childRef),
		}
		k := int(binary.BigEndian.Uint16(data[9+DigestLength : header]))
		if len(data) != header+k*entry {
			return nil, fmt.Errorf("decode trie node: want %d children, have %d bytes", k, len(data)-header)
		}
		for i := 0; i < k; i++ {
			e := data[header+i*entry:]
			n.Children[e[0]] = childRef{
				Count:  binary.BigEndian.Uint64(e[1:9]),
				Digest: append([]byte(nil), e[9:9+DigestLength]...),
			}
		}
		return n, nil
	default:
		return nil, fmt.Errorf("decode trie node: unknown tag 0x%02x", data[0])
	}
}

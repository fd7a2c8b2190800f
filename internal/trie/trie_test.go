package trie

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hubd/internal/store"
)

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "trie.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testHash(i int) []byte {
	sum := sha256.Sum256([]byte(fmt.Sprintf("hash-%d", i)))
	return sum[:]
}

// hashWithPrefix returns a hash starting with the given bytes.
func hashWithPrefix(i int, prefix ...byte) []byte {
	h := testHash(i)
	copy(h, prefix)
	return h
}

func update(t *testing.T, s *store.Store, fn func(tx *store.Txn)) {
	t.Helper()
	require.NoError(t, s.Update(context.Background(), func(tx *store.Txn) error {
		fn(tx)
		return nil
	}))
}

func rootDigest(t *testing.T, s *store.Store) []byte {
	t.Helper()
	var d []byte
	require.NoError(t, s.View(context.Background(), func(r store.Reader) error {
		var err error
		d, err = RootDigest(r)
		return err
	}))
	return d
}

func nodeKeys(t *testing.T, s *store.Store) [][]byte {
	t.Helper()
	var keys [][]byte
	require.NoError(t, s.View(context.Background(), func(r store.Reader) error {
		return r.Iterate([]byte{KeyPrefix}, func(k, v []byte) error {
			keys = append(keys, append(append([]byte{}, k...), v...))
			return nil
		})
	}))
	return keys
}

func TestEmptyTrie(t *testing.T) {
	s := setupStore(t)

	assert.Equal(t, EmptyDigest, rootDigest(t, s))
	require.NoError(t, s.View(context.Background(), func(r store.Reader) error {
		n, err := Count(r)
		require.NoError(t, err)
		assert.Zero(t, n)

		meta, err := Metadata(r, []byte{0xAB})
		require.NoError(t, err)
		assert.Zero(t, meta.Count)
		assert.Equal(t, EmptyDigest, meta.Digest)

		hashes, err := Hashes(r, nil)
		require.NoError(t, err)
		assert.Empty(t, hashes)
		return nil
	}))
}

func TestInsert_SingleHashIsRootLeaf(t *testing.T) {
	s := setupStore(t)
	h := testHash(1)

	update(t, s, func(tx *store.Txn) {
		ok, err := Insert(tx, h)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	assert.Equal(t, leafDigest(h), rootDigest(t, s))
	assert.Len(t, nodeKeys(t, s), 1)
}

func TestInsert_Duplicate(t *testing.T) {
	s := setupStore(t)
	h := testHash(1)

	update(t, s, func(tx *store.Txn) {
		_, err := Insert(tx, h)
		require.NoError(t, err)
		ok, err := Insert(tx, h)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestInsert_RejectsBadLength(t *testing.T) {
	s := setupStore(t)
	update(t, s, func(tx *store.Txn) {
		_, err := Insert(tx, []byte{1, 2, 3})
		assert.Error(t, err)
		_, err = Delete(tx, []byte{1})
		assert.Error(t, err)
	})
}

func TestInsert_SharedPrefixSplitsToDivergence(t *testing.T) {
	s := setupStore(t)
	a := hashWithPrefix(1, 0xAA, 0xBB, 0x01)
	b := hashWithPrefix(2, 0xAA, 0xBB, 0x02)

	update(t, s, func(tx *store.Txn) {
		_, err := Insert(tx, a)
		require.NoError(t, err)
		_, err = Insert(tx, b)
		require.NoError(t, err)
	})

	require.NoError(t, s.View(context.Background(), func(r store.Reader) error {
		root, err := Metadata(r, nil)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), root.Count)
		require.Len(t, root.Children, 1)
		assert.Equal(t, byte(0xAA), root.Children[0].Byte)

		deep, err := Metadata(r, []byte{0xAA, 0xBB})
		require.NoError(t, err)
		require.Len(t, deep.Children, 2)
		assert.Equal(t, leafDigest(a), deep.Child(0x01).Digest)
		assert.Equal(t, leafDigest(b), deep.Child(0x02).Digest)
		assert.Equal(t, EmptyDigest, deep.Child(0x03).Digest)
		return nil
	}))
}

func TestMetadata_InsideCompressedLeaf(t *testing.T) {
	s := setupStore(t)
	h := hashWithPrefix(1, 0x10, 0x20, 0x30)
	other := hashWithPrefix(2, 0x90)

	update(t, s, func(tx *store.Txn) {
		_, err := Insert(tx, h)
		require.NoError(t, err)
		_, err = Insert(tx, other)
		require.NoError(t, err)
	})

	require.NoError(t, s.View(context.Background(), func(r store.Reader) error {
		meta, err := Metadata(r, []byte{0x10, 0x20})
		require.NoError(t, err)
		assert.Equal(t, uint64(1), meta.Count)
		assert.Equal(t, h, meta.Leaf)
		assert.Equal(t, leafDigest(h), meta.Digest)

		miss, err := Metadata(r, []byte{0x10, 0x21})
		require.NoError(t, err)
		assert.Zero(t, miss.Count)

		hashes, err := Hashes(r, []byte{0x10, 0x20, 0x30})
		require.NoError(t, err)
		assert.Equal(t, [][]byte{h}, hashes)
		return nil
	}))
}

func TestDigest_IndependentOfInsertOrder(t *testing.T) {
	forward := setupStore(t)
	reverse := setupStore(t)
	var hashes [][]byte
	for i := 0; i < 40; i++ {
		hashes = append(hashes, testHash(i))
	}
	hashes = append(hashes, hashWithPrefix(100, 0x00, 0x00), hashWithPrefix(101, 0x00, 0x00, 0x01))

	update(t, forward, func(tx *store.Txn) {
		for _, h := range hashes {
			_, err := Insert(tx, h)
			require.NoError(t, err)
		}
	})
	update(t, reverse, func(tx *store.Txn) {
		for i := len(hashes) - 1; i >= 0; i-- {
			_, err := Insert(tx, hashes[i])
			require.NoError(t, err)
		}
	})

	assert.Equal(t, rootDigest(t, forward), rootDigest(t, reverse))
	assert.Equal(t, nodeKeys(t, forward), nodeKeys(t, reverse))
}

func TestDelete_CollapsesToCanonicalShape(t *testing.T) {
	withDelete := setupStore(t)
	direct := setupStore(t)
	a := hashWithPrefix(1, 0x01, 0x02)
	b := hashWithPrefix(2, 0x01, 0x02)
	c := hashWithPrefix(3, 0x05)

	update(t, withDelete, func(tx *store.Txn) {
		for _, h := range [][]byte{a, b, c} {
			_, err := Insert(tx, h)
			require.NoError(t, err)
		}
		ok, err := Delete(tx, b)
		require.NoError(t, err)
		assert.True(t, ok)
	})
	update(t, direct, func(tx *store.Txn) {
		for _, h := range [][]byte{a, c} {
			_, err := Insert(tx, h)
			require.NoError(t, err)
		}
	})

	assert.Equal(t, rootDigest(t, direct), rootDigest(t, withDelete))
	assert.Equal(t, nodeKeys(t, direct), nodeKeys(t, withDelete))
}

func TestDelete_Missing(t *testing.T) {
	s := setupStore(t)
	update(t, s, func(tx *store.Txn) {
		ok, err := Delete(tx, testHash(1))
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = Insert(tx, testHash(2))
		require.NoError(t, err)
		ok, err = Delete(tx, testHash(1))
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestDelete_AllReturnsToEmpty(t *testing.T) {
	s := setupStore(t)
	update(t, s, func(tx *store.Txn) {
		for i := 0; i < 25; i++ {
			_, err := Insert(tx, testHash(i))
			require.NoError(t, err)
		}
		for i := 0; i < 25; i++ {
			ok, err := Delete(tx, testHash(i))
			require.NoError(t, err)
			require.True(t, ok, "delete %d", i)
		}
	})

	assert.Equal(t, EmptyDigest, rootDigest(t, s))
	assert.Empty(t, nodeKeys(t, s))
}

func TestHashes_MirrorsInsertedSet(t *testing.T) {
	s := setupStore(t)
	live := map[string][]byte{}

	update(t, s, func(tx *store.Txn) {
		for i := 0; i < 60; i++ {
			h := testHash(i)
			_, err := Insert(tx, h)
			require.NoError(t, err)
			live[string(h)] = h
		}
		for i := 0; i < 60; i += 3 {
			h := testHash(i)
			_, err := Delete(tx, h)
			require.NoError(t, err)
			delete(live, string(h))
		}
	})

	var want [][]byte
	for _, h := range live {
		want = append(want, h)
	}
	sort.Slice(want, func(i, j int) bool { return bytes.Compare(want[i], want[j]) < 0 })

	require.NoError(t, s.View(context.Background(), func(r store.Reader) error {
		got, err := Hashes(r, nil)
		require.NoError(t, err)
		assert.Equal(t, want, got)

		n, err := Count(r)
		require.NoError(t, err)
		assert.Equal(t, uint64(len(want)), n)

		root, err := Metadata(r, nil)
		require.NoError(t, err)
		var sum uint64
		for _, c := range root.Children {
			sum += c.Count
			sub, err := Hashes(r, []byte{c.Byte})
			require.NoError(t, err)
			assert.Len(t, sub, int(c.Count))
		}
		assert.Equal(t, root.Count, sum)
		return nil
	}))
}

func TestRollbackLeavesTrieUntouched(t *testing.T) {
	s := setupStore(t)
	update(t, s, func(tx *store.Txn) {
		_, err := Insert(tx, testHash(1))
		require.NoError(t, err)
	})
	before := rootDigest(t, s)

	err := s.Update(context.Background(), func(tx *store.Txn) error {
		if _, err := Insert(tx, testHash(2)); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	require.Error(t, err)
	assert.Equal(t, before, rootDigest(t, s))
}

func TestNodeEncoding(t *testing.T) {
	inner := &node{Children: map[byte]childRef{
		0x01: newLeaf(testHash(1)).ref(),
		0xFE: newLeaf(testHash(2)).ref(),
	}}
	inner.recompute()

	decoded, err := decodeNode(inner.encode())
	require.NoError(t, err)
	assert.Equal(t, inner.Count, decoded.Count)
	assert.Equal(t, inner.Digest, decoded.Digest)
	assert.Equal(t, inner.Children, decoded.Children)

	_, err = decodeNode(nil)
	assert.Error(t, err)
	_, err = decodeNode([]byte{0x07})
	assert.Error(t, err)
	_, err = decodeNode([]byte{tagLeaf, 1, 2})
	assert.Error(t, err)
}

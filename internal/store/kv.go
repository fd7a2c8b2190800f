package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Reader is the read side of a transaction.
type Reader interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(key []byte) ([]byte, error)

	// Has reports whether key exists.
	Has(key []byte) (bool, error)

	// Iterate calls fn for every key with the given prefix in ascending
	// byte order. Returning ErrStopIteration from fn ends the scan early
	// without error.
	Iterate(prefix []byte, fn func(key, value []byte) error) error

	// IterateN is Iterate limited to the first n keys. n <= 0 means no limit.
	IterateN(prefix []byte, n int, fn func(key, value []byte) error) error
}

// ErrStopIteration ends an Iterate scan early.
var ErrStopIteration = errors.New("store: stop iteration")

// Txn is a store transaction. Txns handed to View callbacks are read-only.
type Txn struct {
	ctx      context.Context
	tx       *sql.Tx
	readOnly bool
	hooks    []func()
}

var _ Reader = (*Txn)(nil)

// Get returns the value stored at key.
// Returns ErrNotFound if the key does not exist.
func (t *Txn) Get(key []byte) ([]byte, error) {
	var value []byte
	err := t.tx.QueryRowContext(t.ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get: %w", err)
	}
	return value, nil
}

// Has reports whether key exists.
func (t *Txn) Has(key []byte) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(t.ctx, `SELECT COUNT(*) FROM kv WHERE key = ?`, key).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has: %w", err)
	}
	return n > 0, nil
}

// Put writes value at key, replacing any existing value.
func (t *Txn) Put(key, value []byte) error {
	if t.readOnly {
		return errors.New("put: read-only transaction")
	}
	if value == nil {
		value = []byte{}
	}
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("put: %w", err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (t *Txn) Delete(key []byte) error {
	if t.readOnly {
		return errors.New("delete: read-only transaction")
	}
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// Iterate calls fn for every key with prefix, in ascending byte order.
func (t *Txn) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	return t.IterateN(prefix, 0, fn)
}

// IterateN calls fn for at most n keys with prefix, in ascending byte order.
//
// Rows are buffered before fn runs, so fn may write through the same Txn.
func (t *Txn) IterateN(prefix []byte, n int, fn func(key, value []byte) error) error {
	pairs, err := t.scan(prefix, n)
	if err != nil {
		return err
	}
	for _, p := range pairs {
		if err := fn(p.key, p.value); err != nil {
			if errors.Is(err, ErrStopIteration) {
				return nil
			}
			return err
		}
	}
	return nil
}

// AfterCommit registers a hook that runs once the transaction commits.
// Hooks never run for rolled-back transactions.
func (t *Txn) AfterCommit(hook func()) {
	t.hooks = append(t.hooks, hook)
}

type kvPair struct {
	key   []byte
	value []byte
}

func (t *Txn) scan(prefix []byte, n int) ([]kvPair, error) {
	query := `SELECT key, value FROM kv WHERE key >= ?`
	args := []any{prefixOrEmpty(prefix)}
	if end := PrefixEnd(prefix); end != nil {
		query += ` AND key < ?`
		args = append(args, end)
	}
	query += ` ORDER BY key ASC`
	if n > 0 {
		query += ` LIMIT ?`
		args = append(args, n)
	}

	rows, err := t.tx.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("iterate: %w", err)
	}
	defer rows.Close()

	var pairs []kvPair
	for rows.Next() {
		var p kvPair
		if err := rows.Scan(&p.key, &p.value); err != nil {
			return nil, fmt.Errorf("iterate: scan: %w", err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate: %w", err)
	}
	return pairs, nil
}

// PrefixEnd returns the smallest key greater than every key with the given
// prefix, or nil if no such key exists (empty prefix or all 0xFF bytes).
func PrefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

func prefixOrEmpty(prefix []byte) []byte {
	if prefix == nil {
		return []byte{}
	}
	return prefix
}

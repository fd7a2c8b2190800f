package hubsync

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/hubd/internal/engine"
	"github.com/roach88/hubd/internal/message"
	"github.com/roach88/hubd/internal/trie"
)

// State is the phase of a sync session.
type State string

const (
	StateIdle             State = "idle"
	StateComparingRoots   State = "comparing_roots"
	StateDescendingTrie   State = "descending_trie"
	StateFetchingMessages State = "fetching_messages"
	StateMerging          State = "merging"
)

// SessionResult records one finished session.
type SessionResult struct {
	ID       string        `json:"id"`
	Peer     string        `json:"peer"`
	States   []State       `json:"states"`
	Started  time.Time     `json:"started"`
	Elapsed  time.Duration `json:"elapsed"`
	Missing  int           `json:"missing"`
	Fetched  int           `json:"fetched"`
	Merged   int           `json:"merged"`
	Rejected int           `json:"rejected"`
	Pushed   int           `json:"pushed"`
	InSync   bool          `json:"in_sync"`
	Err      error         `json:"-"`
}

type session struct {
	engine *engine.Engine
	peer   Peer
	cfg    Config
	logger *slog.Logger
	result *SessionResult

	missing   [][]byte
	localOnly [][]byte
	custody   map[message.Fid]bool
}

func (s *session) enter(st State) {
	s.result.States = append(s.result.States, st)
	s.logger.Debug("sync state", "peer", s.peer.ID(), "session", s.result.ID, "state", string(st))
}

func (s *session) run(ctx context.Context) error {
	s.enter(StateComparingRoots)
	localRoot, err := s.engine.RootDigest(ctx)
	if err != nil {
		return err
	}
	remote, err := call(ctx, s, "node metadata", func(ctx context.Context) (trie.NodeMetadata, error) {
		return s.peer.NodeMetadata(ctx, nil)
	})
	if err != nil {
		return err
	}
	if bytes.Equal(localRoot, remote.Digest) {
		s.result.InSync = true
		s.enter(StateIdle)
		return nil
	}

	s.enter(StateDescendingTrie)
	if err := s.diff(ctx, nil); err != nil {
		return err
	}
	s.result.Missing = len(s.missing)

	s.enter(StateFetchingMessages)
	msgs, err := s.fetch(ctx)
	if err != nil {
		return err
	}

	s.enter(StateMerging)
	if err := s.merge(ctx, msgs); err != nil {
		return err
	}
	if err := s.push(ctx); err != nil {
		return err
	}

	s.enter(StateIdle)
	return s.compareRoots(ctx)
}

// compareRoots records whether the session ended with equal roots.
func (s *session) compareRoots(ctx context.Context) error {
	localRoot, err := s.engine.RootDigest(ctx)
	if err != nil {
		return err
	}
	remote, err := call(ctx, s, "node metadata", func(ctx context.Context) (trie.NodeMetadata, error) {
		return s.peer.NodeMetadata(ctx, nil)
	})
	if err != nil {
		return err
	}
	s.result.InSync = bytes.Equal(localRoot, remote.Digest)
	return nil
}

// diff collects hashes under prefix that exist on only one side.
func (s *session) diff(ctx context.Context, prefix []byte) error {
	local, err := s.engine.NodeMetadata(ctx, prefix)
	if err != nil {
		return err
	}
	remote, err := call(ctx, s, "node metadata", func(ctx context.Context) (trie.NodeMetadata, error) {
		return s.peer.NodeMetadata(ctx, prefix)
	})
	if err != nil {
		return err
	}
	if bytes.Equal(local.Digest, remote.Digest) {
		return nil
	}

	if remote.Count == 0 {
		hashes, err := s.engine.HashesByPrefix(ctx, prefix)
		if err != nil {
			return err
		}
		s.localOnly = append(s.localOnly, hashes...)
		return nil
	}

	if local.Count == 0 || local.Leaf != nil || remote.Leaf != nil ||
		remote.Count <= uint64(s.cfg.HashBatchThreshold) || len(prefix) >= message.HashLength {
		return s.diffHashes(ctx, prefix)
	}

	for _, b := range childBytes(local, remote) {
		if bytes.Equal(local.Child(b).Digest, remote.Child(b).Digest) {
			continue
		}
		if err := s.diff(ctx, append(append([]byte{}, prefix...), b)); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) diffHashes(ctx context.Context, prefix []byte) error {
	remote, err := call(ctx, s, "hashes by prefix", func(ctx context.Context) ([][]byte, error) {
		return s.peer.HashesByPrefix(ctx, prefix)
	})
	if err != nil {
		return err
	}
	local, err := s.engine.HashesByPrefix(ctx, prefix)
	if err != nil {
		return err
	}

	have := make(map[string]bool, len(local))
	for _, h := range local {
		have[string(h)] = true
	}
	theirs := make(map[string]bool, len(remote))
	for _, h := range remote {
		theirs[string(h)] = true
		if !have[string(h)] {
			s.missing = append(s.missing, h)
		}
	}
	for _, h := range local {
		if !theirs[string(h)] {
			s.localOnly = append(s.localOnly, h)
		}
	}
	return nil
}

func childBytes(a, b trie.NodeMetadata) []byte {
	seen := make(map[byte]bool)
	var out []byte
	for _, m := range []trie.NodeMetadata{a, b} {
		for _, c := range m.Children {
			if !seen[c.Byte] {
				seen[c.Byte] = true
				out = append(out, c.Byte)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// fetch downloads the missing hashes in batches. Messages whose hash was
// not requested are dropped.
func (s *session) fetch(ctx context.Context) ([]*message.Message, error) {
	wanted := make(map[string]bool, len(s.missing))
	for _, h := range s.missing {
		wanted[string(h)] = true
	}

	batch := s.cfg.FetchBatchSize
	if batch < 1 {
		batch = len(s.missing)
	}
	var out []*message.Message
	for start := 0; start < len(s.missing); start += batch {
		end := min(start+batch, len(s.missing))
		chunk := s.missing[start:end]
		msgs, err := call(ctx, s, "messages by hashes", func(ctx context.Context) ([]*message.Message, error) {
			return s.peer.MessagesByHashes(ctx, chunk)
		})
		if err != nil {
			return nil, err
		}
		for _, m := range msgs {
			if m != nil && wanted[string(m.Hash)] {
				delete(wanted, string(m.Hash))
				out = append(out, m)
			}
		}
	}
	s.result.Fetched = len(out)
	return out, nil
}

// mergeOrder sorts signer messages first, then by (timestamp, hash).
func mergeOrder(msgs []*message.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		a, b := msgs[i], msgs[j]
		as, bs := a.Type().Set() == message.SetSigner, b.Type().Set() == message.SetSigner
		if as != bs {
			return as
		}
		if a.Timestamp() != b.Timestamp() {
			return a.Timestamp() < b.Timestamp()
		}
		return bytes.Compare(a.Hash, b.Hash) < 0
	})
}

// merge feeds fetched messages through the engine. The first authority
// failure for a fid pulls the peer's custody event and retries. Messages
// still unauthorized after the first pass get one more attempt, for signer
// chains whose timestamps run against their grant order.
func (s *session) merge(ctx context.Context, msgs []*message.Message) error {
	mergeOrder(msgs)

	var deferred []*message.Message
	for _, m := range msgs {
		outcome, err := s.mergeOne(ctx, m)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var te *SyncTransientError
		if errors.As(err, &te) {
			return err
		}
		if engine.IsAuthorityError(err) {
			deferred = append(deferred, m)
			continue
		}
		s.count(m, outcome, err)
	}
	for _, m := range deferred {
		outcome, err := s.engine.MergeMessage(ctx, m)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.count(m, outcome, err)
	}
	return nil
}

func (s *session) mergeOne(ctx context.Context, m *message.Message) (engine.Outcome, error) {
	outcome, err := s.engine.MergeMessage(ctx, m)
	if err == nil || !engine.IsAuthorityError(err) || s.custody[m.Fid()] {
		return outcome, err
	}

	s.custody[m.Fid()] = true
	ev, cerr := call(ctx, s, "custody event", func(ctx context.Context) (*message.IdRegistryEvent, error) {
		return s.peer.CustodyEvent(ctx, m.Fid())
	})
	switch {
	case errors.Is(cerr, engine.ErrNotFound):
		return outcome, err
	case cerr != nil:
		return 0, cerr
	}
	if _, merr := s.engine.MergeIdRegistryEvent(ctx, ev); merr != nil {
		s.logger.Warn("peer custody event rejected", "peer", s.peer.ID(), "fid", uint64(m.Fid()), "error", merr)
		return outcome, err
	}
	return s.engine.MergeMessage(ctx, m)
}

func (s *session) count(m *message.Message, outcome engine.Outcome, err error) {
	switch {
	case err != nil:
		s.result.Rejected++
		s.logger.Debug("synced message rejected",
			"peer", s.peer.ID(),
			"fid", uint64(m.Fid()),
			"hash", m.HashHex(),
			"error", err)
	case outcome == engine.OutcomeMerged:
		s.result.Merged++
	}
}

// push submits local-only messages to peers that accept them, each fid's
// custody event first.
func (s *session) push(ctx context.Context) error {
	sub, ok := s.peer.(Submitter)
	if !ok || len(s.localOnly) == 0 {
		return nil
	}
	msgs, err := s.engine.GetMessagesByHashes(ctx, s.localOnly)
	if err != nil {
		return err
	}
	mergeOrder(msgs)

	sent := make(map[message.Fid]bool)
	for _, m := range msgs {
		if sent[m.Fid()] {
			continue
		}
		sent[m.Fid()] = true
		ev, err := s.engine.GetCustodyEvent(ctx, m.Fid())
		if errors.Is(err, engine.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if _, err := call(ctx, s, "submit custody event", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, sub.SubmitIdRegistryEvent(ctx, ev)
		}); err != nil {
			return err
		}
	}

	pushed, err := call(ctx, s, "submit messages", func(ctx context.Context) (int, error) {
		return sub.SubmitMessages(ctx, msgs)
	})
	if err != nil {
		return err
	}
	s.result.Pushed = pushed
	return nil
}

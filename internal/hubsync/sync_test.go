package hubsync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hubd/internal/engine"
	"github.com/roach88/hubd/internal/message"
	"github.com/roach88/hubd/internal/store"
	"github.com/roach88/hubd/internal/testutil"
	"github.com/roach88/hubd/internal/trie"
)

func newEngine(t *testing.T, name string, opts ...engine.Option) *engine.Engine {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), name+".db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	all := append([]engine.Option{
		engine.WithNetwork(message.NetworkDevnet),
		engine.WithClock(testutil.ClockAtTimestamp(10000)),
	}, opts...)
	e := engine.New(s, all...)
	t.Cleanup(e.Close)
	return e
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SessionTimeout = 5 * time.Second
	cfg.HashBatchThreshold = 2
	cfg.FetchBatchSize = 7
	cfg.Retry = RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
	return cfg
}

func newSyncer(e *engine.Engine, cfg Config) *Syncer {
	return New(e, WithConfig(cfg), WithIDGenerator(testutil.NewSequentialIDs("s")))
}

type seed struct {
	account  *testutil.Account
	delegate string
}

func (sd seed) authorize(t *testing.T, e *engine.Engine) {
	t.Helper()
	ctx := context.Background()
	_, err := e.MergeIdRegistryEvent(ctx, sd.account.Register(1))
	require.NoError(t, err)
	_, err = e.MergeMessage(ctx, sd.account.SignerAdd(sd.account.Custody, 10, testutil.Delegate(sd.delegate).Key()))
	require.NoError(t, err)
}

func (sd seed) casts(t *testing.T, e *engine.Engine, from, to int) {
	t.Helper()
	d := testutil.Delegate(sd.delegate)
	for i := from; i < to; i++ {
		_, err := e.MergeMessage(context.Background(), sd.account.CastAdd(d, uint32(100+i), fmt.Sprintf("cast %d", i)))
		require.NoError(t, err)
	}
}

func root(t *testing.T, e *engine.Engine) []byte {
	t.Helper()
	d, err := e.RootDigest(context.Background())
	require.NoError(t, err)
	return d
}

func TestSyncWith_ConvergesDisjointSets(t *testing.T) {
	local := newEngine(t, "local")
	remote := newEngine(t, "remote")
	sd := seed{account: testutil.NewAccount(1, message.NetworkDevnet), delegate: "d1"}
	for _, e := range []*engine.Engine{local, remote} {
		sd.authorize(t, e)
	}
	sd.casts(t, local, 0, 30)
	sd.casts(t, remote, 30, 65)
	require.NotEqual(t, root(t, local), root(t, remote))

	syncer := newSyncer(local, testConfig())
	res, err := syncer.SyncWith(context.Background(), NewLocalPeer("remote", remote))
	require.NoError(t, err)

	assert.True(t, res.InSync)
	assert.Equal(t, 35, res.Missing)
	assert.Equal(t, 35, res.Fetched)
	assert.Equal(t, 35, res.Merged)
	assert.Equal(t, 30, res.Pushed)
	assert.Equal(t, root(t, local), root(t, remote))

	for _, e := range []*engine.Engine{local, remote} {
		casts, err := e.GetCastsByFid(context.Background(), 1)
		require.NoError(t, err)
		assert.Len(t, casts, 65)
	}

	st, ok := syncer.PeerStatus("remote")
	require.True(t, ok)
	assert.Equal(t, PeerSynced, st.State)
	assert.Equal(t, "s-1", st.SessionID)
}

func TestSyncWith_StateTransitions(t *testing.T) {
	local := newEngine(t, "local")
	remote := newEngine(t, "remote")
	sd := seed{account: testutil.NewAccount(1, message.NetworkDevnet), delegate: "d1"}
	sd.authorize(t, remote)
	sd.casts(t, remote, 0, 3)

	syncer := newSyncer(local, testConfig())
	res, err := syncer.SyncWith(context.Background(), NewLocalPeer("remote", remote))
	require.NoError(t, err)
	assert.Equal(t, []State{
		StateIdle,
		StateComparingRoots,
		StateDescendingTrie,
		StateFetchingMessages,
		StateMerging,
		StateIdle,
	}, res.States)

	again, err := syncer.SyncWith(context.Background(), NewLocalPeer("remote", remote))
	require.NoError(t, err)
	assert.Equal(t, []State{StateIdle, StateComparingRoots, StateIdle}, again.States)
	assert.True(t, again.InSync)
	assert.Equal(t, "s-2", again.ID)
}

func TestSyncWith_PrunedMessagesStayPruned(t *testing.T) {
	ctx := context.Background()
	pruning := newEngine(t, "pruning", engine.WithPrunePolicies(map[message.SetType]engine.PrunePolicy{
		message.SetCast: {MaxAgeSeconds: 5000},
	}))
	keeping := newEngine(t, "keeping")
	sd := seed{account: testutil.NewAccount(1, message.NetworkDevnet), delegate: "d1"}
	for _, e := range []*engine.Engine{pruning, keeping} {
		sd.authorize(t, e)
		sd.casts(t, e, 0, 3)
	}

	n, err := pruning.PruneMessages(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	res, err := newSyncer(pruning, testConfig()).SyncWith(ctx, NewLocalPeer("keeping", keeping))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Fetched)
	assert.Zero(t, res.Merged)
	assert.False(t, res.InSync)

	// The other direction pushes the casts back.
	_, err = newSyncer(keeping, testConfig()).SyncWith(ctx, NewLocalPeer("pruning", pruning))
	require.NoError(t, err)

	casts, err := pruning.GetCastsByFid(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, casts)

	n, err = pruning.PruneMessages(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing came back to prune")
}

func TestSyncWith_FetchesMissingCustody(t *testing.T) {
	local := newEngine(t, "local")
	remote := newEngine(t, "remote")
	sd := seed{account: testutil.NewAccount(9, message.NetworkDevnet), delegate: "d9"}
	sd.authorize(t, remote)
	sd.casts(t, remote, 0, 4)

	_, err := newSyncer(local, testConfig()).SyncWith(context.Background(), NewLocalPeer("remote", remote))
	require.NoError(t, err)

	ev, err := local.GetCustodyEvent(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, sd.account.Custody.Key(), ev.To)
	assert.Equal(t, root(t, remote), root(t, local))
}

// readOnlyPeer hides the Submitter side of a LocalPeer.
type readOnlyPeer struct{ Peer }

func TestSyncWith_NoPushWithoutSubmitter(t *testing.T) {
	local := newEngine(t, "local")
	remote := newEngine(t, "remote")
	sd := seed{account: testutil.NewAccount(1, message.NetworkDevnet), delegate: "d1"}
	sd.authorize(t, local)
	sd.casts(t, local, 0, 3)

	res, err := newSyncer(local, testConfig()).SyncWith(context.Background(), readOnlyPeer{NewLocalPeer("remote", remote)})
	require.NoError(t, err)
	assert.Zero(t, res.Pushed)
	assert.False(t, res.InSync)

	casts, err := remote.GetCastsByFid(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, casts)
}

// flakyPeer fails the first n calls of every method.
type flakyPeer struct {
	Peer
	failures int64
	calls    atomic.Int64
}

var errUnreachable = errors.New("peer unreachable")

func (p *flakyPeer) fail() error {
	if p.calls.Add(1) <= p.failures {
		return errUnreachable
	}
	return nil
}

func (p *flakyPeer) NodeMetadata(ctx context.Context, prefix []byte) (trie.NodeMetadata, error) {
	if err := p.fail(); err != nil {
		return trie.NodeMetadata{}, err
	}
	return p.Peer.NodeMetadata(ctx, prefix)
}

func TestSyncWith_RetriesTransientFailures(t *testing.T) {
	local := newEngine(t, "local")
	remote := newEngine(t, "remote")
	sd := seed{account: testutil.NewAccount(1, message.NetworkDevnet), delegate: "d1"}
	sd.authorize(t, remote)

	peer := &flakyPeer{Peer: readOnlyPeer{NewLocalPeer("remote", remote)}, failures: 2}
	res, err := newSyncer(local, testConfig()).SyncWith(context.Background(), peer)
	require.NoError(t, err)
	assert.True(t, res.InSync)
}

func TestSyncWith_GivesUpAfterMaxAttempts(t *testing.T) {
	local := newEngine(t, "local")
	remote := newEngine(t, "remote")

	peer := &flakyPeer{Peer: readOnlyPeer{NewLocalPeer("remote", remote)}, failures: 1000}
	syncer := newSyncer(local, testConfig())
	_, err := syncer.SyncWith(context.Background(), peer)

	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, errUnreachable)
	var te *SyncTransientError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 3, te.Attempts)
	assert.Equal(t, int64(3), peer.calls.Load())

	st, ok := syncer.PeerStatus("remote")
	require.True(t, ok)
	assert.Equal(t, PeerError, st.State)
	assert.Contains(t, st.LastError, "peer unreachable")
}

// stallingPeer blocks every call until the context ends.
type stallingPeer struct{ Peer }

func (p stallingPeer) NodeMetadata(ctx context.Context, _ []byte) (trie.NodeMetadata, error) {
	<-ctx.Done()
	return trie.NodeMetadata{}, ctx.Err()
}

func TestSyncAll_IsolatesFailingSessions(t *testing.T) {
	local := newEngine(t, "local")
	good := newEngine(t, "good")
	sd := seed{account: testutil.NewAccount(1, message.NetworkDevnet), delegate: "d1"}
	sd.authorize(t, good)
	sd.casts(t, good, 0, 5)

	cfg := testConfig()
	cfg.SessionTimeout = 300 * time.Millisecond
	syncer := newSyncer(local, cfg)
	syncer.AddPeer(NewLocalPeer("good", good))
	syncer.AddPeer(stallingPeer{NewLocalPeer("stalled", newEngine(t, "stalled"))})
	syncer.AddPeer(&flakyPeer{Peer: NewLocalPeer("down", newEngine(t, "down")), failures: 1000})

	results := syncer.SyncAll(context.Background())
	require.Len(t, results, 3)

	statuses := syncer.Statuses()
	require.Len(t, statuses, 3)
	byPeer := map[string]PeerStatus{}
	for _, st := range statuses {
		byPeer[st.Peer] = st
	}
	assert.Equal(t, PeerError, byPeer["down"].State)
	assert.Equal(t, PeerError, byPeer["stalled"].State)
	assert.Equal(t, PeerSynced, byPeer["good"].State)
	assert.Equal(t, root(t, good), root(t, local))
}

// gatedPeer signals its first call, then blocks until the context ends.
type gatedPeer struct {
	Peer
	once    sync.Once
	entered chan struct{}
}

func (p *gatedPeer) NodeMetadata(ctx context.Context, _ []byte) (trie.NodeMetadata, error) {
	p.once.Do(func() { close(p.entered) })
	<-ctx.Done()
	return trie.NodeMetadata{}, ctx.Err()
}

func TestSyncWith_RejectsConcurrentSessionForSamePeer(t *testing.T) {
	local := newEngine(t, "local")
	syncer := newSyncer(local, testConfig())
	peer := &gatedPeer{Peer: NewLocalPeer("slow", newEngine(t, "slow")), entered: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := syncer.SyncWith(ctx, peer)
		done <- err
	}()
	<-peer.entered

	_, err := syncer.SyncWith(context.Background(), peer)
	assert.ErrorIs(t, err, ErrSessionActive)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

// extraPeer returns a message that was not requested alongside each batch.
type extraPeer struct {
	Peer
	extra *message.Message
}

func (p extraPeer) MessagesByHashes(ctx context.Context, hashes [][]byte) ([]*message.Message, error) {
	msgs, err := p.Peer.MessagesByHashes(ctx, hashes)
	return append(msgs, p.extra), err
}

func TestSyncWith_DropsUnrequestedMessages(t *testing.T) {
	local := newEngine(t, "local")
	remote := newEngine(t, "remote")
	sd := seed{account: testutil.NewAccount(1, message.NetworkDevnet), delegate: "d1"}
	sd.authorize(t, remote)
	sd.authorize(t, local)

	extra := sd.account.CastAdd(testutil.Delegate("d1"), 500, "not requested")
	peer := extraPeer{Peer: readOnlyPeer{NewLocalPeer("remote", remote)}, extra: extra}
	sd.casts(t, remote, 0, 2)

	res, err := newSyncer(local, testConfig()).SyncWith(context.Background(), peer)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Fetched)

	_, err = local.GetMessage(context.Background(), extra.Hash)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestSyncer_Peers(t *testing.T) {
	syncer := newSyncer(newEngine(t, "local"), testConfig())
	syncer.AddPeer(NewLocalPeer("b", nil))
	syncer.AddPeer(NewLocalPeer("a", nil))

	peers := syncer.Peers()
	require.Len(t, peers, 2)
	assert.Equal(t, "a", peers[0].ID())

	syncer.RemovePeer("a")
	assert.Len(t, syncer.Peers(), 1)
}

func TestRun_StopsOnCancel(t *testing.T) {
	local := newEngine(t, "local")
	cfg := testConfig()
	cfg.Interval = 5 * time.Millisecond
	syncer := newSyncer(local, cfg)
	syncer.AddPeer(NewLocalPeer("remote", newEngine(t, "remote")))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- syncer.Run(ctx) }()

	require.Eventually(t, func() bool {
		st, ok := syncer.PeerStatus("remote")
		return ok && st.State == PeerSynced
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRun_RejectsNonPositiveInterval(t *testing.T) {
	cfg := testConfig()
	cfg.Interval = 0
	err := newSyncer(newEngine(t, "local"), cfg).Run(context.Background())
	assert.Error(t, err)
}

func TestMergeOrder_SignersFirst(t *testing.T) {
	a := testutil.NewAccount(1, message.NetworkDevnet)
	d := testutil.Delegate("d1")
	cast := a.CastAdd(d, 5, "early cast")
	add := a.SignerAdd(a.Custody, 50, d.Key())
	later := a.CastAdd(d, 60, "late cast")

	msgs := []*message.Message{later, cast, add}
	mergeOrder(msgs)
	assert.Equal(t, []*message.Message{add, cast, later}, msgs)
}

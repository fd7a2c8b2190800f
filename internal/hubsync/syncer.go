package hubsync

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/hubd/internal/engine"
	"github.com/roach88/hubd/internal/message"
)

// Config tunes sessions and scheduling.
type Config struct {
	Interval              time.Duration
	SessionTimeout        time.Duration
	MaxConcurrentSessions int

	// HashBatchThreshold is the remote subtree size at or below which the
	// descent stops and lists hashes directly.
	HashBatchThreshold int
	FetchBatchSize     int
	Retry              RetryConfig
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Interval:              30 * time.Second,
		SessionTimeout:        2 * time.Minute,
		MaxConcurrentSessions: 4,
		HashBatchThreshold:    64,
		FetchBatchSize:        256,
		Retry: RetryConfig{
			MaxAttempts:    4,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
		},
	}
}

// IDGenerator generates session ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 session ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// PeerState summarises the last session with a peer.
type PeerState string

const (
	PeerSynced   PeerState = "synced"
	PeerDiverged PeerState = "diverged"
	PeerError    PeerState = "error"
)

// PeerStatus is the outward view of one peer.
type PeerStatus struct {
	Peer      string    `json:"peer"`
	State     PeerState `json:"state"`
	SessionID string    `json:"session_id"`
	LastSync  time.Time `json:"last_sync"`
	Fetched   int       `json:"fetched"`
	Merged    int       `json:"merged"`
	Rejected  int       `json:"rejected"`
	Pushed    int       `json:"pushed"`
	LastError string    `json:"last_error,omitempty"`
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(s *Syncer) {
		s.cfg = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Syncer) {
		s.logger = l
	}
}

// WithIDGenerator replaces the session id generator.
//
// Default: UUIDv7Generator
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Syncer) {
		s.ids = g
	}
}

// Syncer runs sync sessions for one engine against a set of peers.
//
// Thread-safety: all methods are safe for concurrent use. At most one
// session per peer runs at a time.
type Syncer struct {
	engine *engine.Engine
	cfg    Config
	logger *slog.Logger
	ids    IDGenerator

	mu       sync.Mutex
	peers    map[string]Peer
	statuses map[string]PeerStatus
	active   map[string]bool
}

// New creates a Syncer for e.
func New(e *engine.Engine, opts ...Option) *Syncer {
	s := &Syncer{
		engine:   e,
		cfg:      DefaultConfig(),
		logger:   slog.Default(),
		ids:      UUIDv7Generator{},
		peers:    make(map[string]Peer),
		statuses: make(map[string]PeerStatus),
		active:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddPeer registers p, replacing any peer with the same id.
func (s *Syncer) AddPeer(p Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[p.ID()] = p
}

// RemovePeer forgets the peer and its status.
func (s *Syncer) RemovePeer(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, id)
	delete(s.statuses, id)
}

// Peers returns the registered peers sorted by id.
func (s *Syncer) Peers() []Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// RootDigest returns the local root digest, hex encoded.
func (s *Syncer) RootDigest(ctx context.Context) (string, error) {
	d, err := s.engine.RootDigest(ctx)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(d), nil
}

// PeerStatus returns the status of the last session with id.
func (s *Syncer) PeerStatus(id string) (PeerStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[id]
	return st, ok
}

// Statuses returns every known peer status sorted by peer id.
func (s *Syncer) Statuses() []PeerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PeerStatus, 0, len(s.statuses))
	for _, st := range s.statuses {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}

// ErrSessionActive is returned by SyncWith when a session with the same
// peer is already running.
var ErrSessionActive = errors.New("hubsync: session already active")

// SyncWith runs one session against p under the session timeout. The
// result is returned even when the session fails; its Err matches the
// returned error.
func (s *Syncer) SyncWith(ctx context.Context, p Peer) (*SessionResult, error) {
	s.mu.Lock()
	if s.active[p.ID()] {
		s.mu.Unlock()
		return nil, ErrSessionActive
	}
	s.active[p.ID()] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.active, p.ID())
		s.mu.Unlock()
	}()

	if s.cfg.SessionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SessionTimeout)
		defer cancel()
	}

	sess := &session{
		engine:  s.engine,
		peer:    p,
		cfg:     s.cfg,
		logger:  s.logger,
		custody: make(map[message.Fid]bool),
		result: &SessionResult{
			ID:      s.ids.Generate(),
			Peer:    p.ID(),
			States:  []State{StateIdle},
			Started: time.Now(),
		},
	}

	err := sess.run(ctx)
	res := sess.result
	res.Elapsed = time.Since(res.Started)
	res.Err = err
	if err != nil && res.States[len(res.States)-1] != StateIdle {
		res.States = append(res.States, StateIdle)
	}
	s.record(res)

	if err != nil {
		s.logger.Warn("sync session failed",
			"peer", p.ID(),
			"session", res.ID,
			"error", err)
		return res, err
	}
	s.logger.Info("sync session finished",
		"peer", p.ID(),
		"session", res.ID,
		"in_sync", res.InSync,
		"fetched", res.Fetched,
		"merged", res.Merged,
		"pushed", res.Pushed,
		"elapsed", res.Elapsed)
	return res, nil
}

func (s *Syncer) record(res *SessionResult) {
	st := PeerStatus{
		Peer:      res.Peer,
		SessionID: res.ID,
		LastSync:  res.Started,
		Fetched:   res.Fetched,
		Merged:    res.Merged,
		Rejected:  res.Rejected,
		Pushed:    res.Pushed,
	}
	switch {
	case res.Err != nil:
		st.State = PeerError
		st.LastError = res.Err.Error()
	case res.InSync:
		st.State = PeerSynced
	default:
		st.State = PeerDiverged
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[res.Peer] = st
}

// SyncAll runs one session per registered peer, at most
// MaxConcurrentSessions at a time. A failing session never cancels the
// others; failures are reported in the results and statuses.
func (s *Syncer) SyncAll(ctx context.Context) []*SessionResult {
	peers := s.Peers()
	results := make([]*SessionResult, len(peers))

	var g errgroup.Group
	if s.cfg.MaxConcurrentSessions > 0 {
		g.SetLimit(s.cfg.MaxConcurrentSessions)
	}
	for i, p := range peers {
		i, p := i, p
		g.Go(func() error {
			res, err := s.SyncWith(ctx, p)
			if res == nil {
				res = &SessionResult{Peer: p.ID(), Err: err}
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Run calls SyncAll every Interval until ctx is done.
func (s *Syncer) Run(ctx context.Context) error {
	if s.cfg.Interval <= 0 {
		return fmt.Errorf("hubsync: interval must be positive, got %s", s.cfg.Interval)
	}
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.SyncAll(ctx)
		}
	}
}

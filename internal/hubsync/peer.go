package hubsync

import (
	"context"

	"github.com/roach88/hubd/internal/engine"
	"github.com/roach88/hubd/internal/message"
	"github.com/roach88/hubd/internal/trie"
)

// Peer is the remote side of a sync session. Implementations carry their
// own transport; errors are treated as transient and retried.
type Peer interface {
	ID() string
	NodeMetadata(ctx context.Context, prefix []byte) (trie.NodeMetadata, error)
	HashesByPrefix(ctx context.Context, prefix []byte) ([][]byte, error)
	MessagesByHashes(ctx context.Context, hashes [][]byte) ([]*message.Message, error)

	// CustodyEvent returns engine.ErrNotFound if the peer has none.
	CustodyEvent(ctx context.Context, fid message.Fid) (*message.IdRegistryEvent, error)
}

// Submitter is implemented by peers that accept messages pushed to them.
type Submitter interface {
	SubmitIdRegistryEvent(ctx context.Context, ev *message.IdRegistryEvent) error

	// SubmitMessages merges msgs on the peer and returns how many merged.
	SubmitMessages(ctx context.Context, msgs []*message.Message) (int, error)
}

// LocalPeer serves an in-process engine as a Peer. It is the serving role
// of a hub and is how the CLI reconciles two hub databases.
type LocalPeer struct {
	id     string
	engine *engine.Engine
}

var (
	_ Peer      = (*LocalPeer)(nil)
	_ Submitter = (*LocalPeer)(nil)
)

// NewLocalPeer wraps e as a peer named id.
func NewLocalPeer(id string, e *engine.Engine) *LocalPeer {
	return &LocalPeer{id: id, engine: e}
}

func (p *LocalPeer) ID() string { return p.id }

func (p *LocalPeer) NodeMetadata(ctx context.Context, prefix []byte) (trie.NodeMetadata, error) {
	return p.engine.NodeMetadata(ctx, prefix)
}

func (p *LocalPeer) HashesByPrefix(ctx context.Context, prefix []byte) ([][]byte, error) {
	return p.engine.HashesByPrefix(ctx, prefix)
}

func (p *LocalPeer) MessagesByHashes(ctx context.Context, hashes [][]byte) ([]*message.Message, error) {
	return p.engine.GetMessagesByHashes(ctx, hashes)
}

func (p *LocalPeer) CustodyEvent(ctx context.Context, fid message.Fid) (*message.IdRegistryEvent, error) {
	return p.engine.GetCustodyEvent(ctx, fid)
}

func (p *LocalPeer) SubmitIdRegistryEvent(ctx context.Context, ev *message.IdRegistryEvent) error {
	_, err := p.engine.MergeIdRegistryEvent(ctx, ev)
	return err
}

func (p *LocalPeer) SubmitMessages(ctx context.Context, msgs []*message.Message) (int, error) {
	merged := 0
	for _, r := range p.engine.MergeMessages(ctx, msgs) {
		if r.Err == nil && r.Outcome == engine.OutcomeMerged {
			merged++
		}
	}
	return merged, ctx.Err()
}

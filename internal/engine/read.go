package engine

import (
	"context"
	"errors"

	"github.com/roach88/hubd/internal/message"
	"github.com/roach88/hubd/internal/store"
	"github.com/roach88/hubd/internal/trie"
)

// scanSet returns every record of (fid, set), tombstones included, in
// (timestamp, hash) order.
func scanSet(r store.Reader, fid message.Fid, set message.SetType) ([]*message.Message, error) {
	return scanRecords(r, setPrefix(prefixRecord, fid, set))
}

func scanRecords(r store.Reader, prefix []byte) ([]*message.Message, error) {
	var out []*message.Message
	err := r.Iterate(prefix, func(_, value []byte) error {
		m, err := message.Decode(value)
		if err != nil {
			return err
		}
		out = append(out, m)
		return nil
	})
	return out, err
}

// GetMessagesBySet returns every stored record of one set for fid,
// Remove tombstones included, in (timestamp, hash) order.
func (e *Engine) GetMessagesBySet(ctx context.Context, fid message.Fid, set message.SetType) ([]*message.Message, error) {
	var out []*message.Message
	err := e.view(ctx, "get messages by set", func(r store.Reader) error {
		var err error
		out, err = scanSet(r, fid, set)
		return err
	})
	return out, err
}

func (e *Engine) getAdds(ctx context.Context, fid message.Fid, set message.SetType) ([]*message.Message, error) {
	all, err := e.GetMessagesBySet(ctx, fid, set)
	if err != nil {
		return nil, err
	}
	want := addTypes[set]
	out := all[:0]
	for _, m := range all {
		if m.Type() == want {
			out = append(out, m)
		}
	}
	return out, nil
}

// GetCastsByFid returns the live CastAdds of fid.
func (e *Engine) GetCastsByFid(ctx context.Context, fid message.Fid) ([]*message.Message, error) {
	return e.getAdds(ctx, fid, message.SetCast)
}

// GetReactionsByFid returns the live ReactionAdds of fid.
func (e *Engine) GetReactionsByFid(ctx context.Context, fid message.Fid) ([]*message.Message, error) {
	return e.getAdds(ctx, fid, message.SetReaction)
}

// GetAmpsByFid returns the live AmpAdds of fid.
func (e *Engine) GetAmpsByFid(ctx context.Context, fid message.Fid) ([]*message.Message, error) {
	return e.getAdds(ctx, fid, message.SetAmp)
}

// GetVerificationsByFid returns the live VerificationAddEthAddress messages of fid.
func (e *Engine) GetVerificationsByFid(ctx context.Context, fid message.Fid) ([]*message.Message, error) {
	return e.getAdds(ctx, fid, message.SetVerification)
}

// GetSignersByFid returns the live SignerAdds of fid.
func (e *Engine) GetSignersByFid(ctx context.Context, fid message.Fid) ([]*message.Message, error) {
	return e.getAdds(ctx, fid, message.SetSigner)
}

// GetUserDataByFid returns the live UserDataAdds of fid.
func (e *Engine) GetUserDataByFid(ctx context.Context, fid message.Fid) ([]*message.Message, error) {
	return e.getAdds(ctx, fid, message.SetUserData)
}

// GetAllMessagesByFid returns every record of fid, signer set first.
func (e *Engine) GetAllMessagesByFid(ctx context.Context, fid message.Fid) ([]*message.Message, error) {
	var out []*message.Message
	err := e.view(ctx, "get all messages by fid", func(r store.Reader) error {
		var err error
		out, err = scanRecords(r, fidPrefix(prefixRecord, fid))
		return err
	})
	return out, err
}

// GetMessage returns the record with the given hash, or ErrNotFound.
func (e *Engine) GetMessage(ctx context.Context, hash []byte) (*message.Message, error) {
	var out *message.Message
	err := e.view(ctx, "get message", func(r store.Reader) error {
		rk, err := r.Get(hashKey(hash))
		if err != nil {
			return err
		}
		out, err = loadRecord(r, rk)
		return err
	})
	return out, err
}

// GetMessagesByHashes returns the stored records among hashes, in request
// order. Unknown hashes are skipped.
func (e *Engine) GetMessagesByHashes(ctx context.Context, hashes [][]byte) ([]*message.Message, error) {
	var out []*message.Message
	err := e.view(ctx, "get messages by hashes", func(r store.Reader) error {
		for _, h := range hashes {
			rk, err := r.Get(hashKey(h))
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			m, err := loadRecord(r, rk)
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	return out, err
}

// GetCustodyEvent returns the stored IdRegistryEvent of fid, or ErrNotFound.
func (e *Engine) GetCustodyEvent(ctx context.Context, fid message.Fid) (*message.IdRegistryEvent, error) {
	var out *message.IdRegistryEvent
	err := e.view(ctx, "get custody event", func(r store.Reader) error {
		var err error
		out, err = loadCustody(r, fid)
		return err
	})
	return out, err
}

// GetNameRegistryEvent returns the stored NameRegistryEvent of fname, or
// ErrNotFound.
func (e *Engine) GetNameRegistryEvent(ctx context.Context, fname string) (*message.NameRegistryEvent, error) {
	var out *message.NameRegistryEvent
	err := e.view(ctx, "get name registry event", func(r store.Reader) error {
		var err error
		out, err = loadNameEvent(r, fname)
		return err
	})
	return out, err
}

// GetFids returns every fid with a custody event or a message, ascending.
func (e *Engine) GetFids(ctx context.Context) ([]message.Fid, error) {
	var out []message.Fid
	err := e.view(ctx, "get fids", func(r store.Reader) error {
		return r.Iterate([]byte{prefixFids}, func(key, _ []byte) error {
			out = append(out, fidFromKey(key))
			return nil
		})
	})
	return out, err
}

// AllMessageHashes returns every live message hash in ascending order.
func (e *Engine) AllMessageHashes(ctx context.Context) ([][]byte, error) {
	return e.HashesByPrefix(ctx, nil)
}

// HashesByPrefix returns the live message hashes starting with prefix.
func (e *Engine) HashesByPrefix(ctx context.Context, prefix []byte) ([][]byte, error) {
	var out [][]byte
	err := e.view(ctx, "hashes by prefix", func(r store.Reader) error {
		var err error
		out, err = trie.Hashes(r, prefix)
		return err
	})
	return out, err
}

// NodeMetadata describes the trie subtree under prefix.
func (e *Engine) NodeMetadata(ctx context.Context, prefix []byte) (trie.NodeMetadata, error) {
	var out trie.NodeMetadata
	err := e.view(ctx, "node metadata", func(r store.Reader) error {
		var err error
		out, err = trie.Metadata(r, prefix)
		return err
	})
	return out, err
}

// RootDigest returns the digest of the live message set.
func (e *Engine) RootDigest(ctx context.Context) ([]byte, error) {
	var out []byte
	err := e.view(ctx, "root digest", func(r store.Reader) error {
		var err error
		out, err = trie.RootDigest(r)
		return err
	})
	return out, err
}

// MessageCount returns the number of live messages.
func (e *Engine) MessageCount(ctx context.Context) (uint64, error) {
	var out uint64
	err := e.view(ctx, "message count", func(r store.Reader) error {
		var err error
		out, err = trie.Count(r)
		return err
	})
	return out, err
}

package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hubd/internal/message"
	"github.com/roach88/hubd/internal/testutil"
)

func TestKeyLocks_ReleasesEntries(t *testing.T) {
	k := newKeyLocks()
	unlockA := k.Lock("fid:1")
	unlockB := k.Lock("fid:2")
	assert.Equal(t, 2, k.size())

	unlockA()
	unlockB()
	assert.Equal(t, 0, k.size())
}

func TestKeyLocks_Exclusive(t *testing.T) {
	k := newKeyLocks()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("fid:1")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, k.size())
}

func TestMerge_ConcurrentFids(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	d := testutil.Delegate("shared")

	var accounts []*testutil.Account
	for fid := message.Fid(1); fid <= 4; fid++ {
		a := testutil.NewAccount(fid, message.NetworkDevnet)
		f.authorize(a, d)
		accounts = append(accounts, a)
	}
	f.drain()

	var wg sync.WaitGroup
	for _, a := range accounts {
		for g := 0; g < 2; g++ {
			wg.Add(1)
			go func(a *testutil.Account, g int) {
				defer wg.Done()
				for i := 0; i < 10; i++ {
					// Both goroutines of an fid race on the same user data key.
					_, err := f.engine.MergeMessage(ctx, a.UserData(d, uint32(100+i), message.UserDataBio, fmt.Sprintf("%d-%d", g, i)))
					assert.NoError(t, err)
					_, err = f.engine.MergeMessage(ctx, a.CastAdd(d, uint32(100+i), fmt.Sprintf("cast %d-%d", g, i)))
					assert.NoError(t, err)
				}
			}(a, g)
		}
	}
	wg.Wait()

	var fids []message.Fid
	for _, a := range accounts {
		fids = append(fids, a.Fid)
		casts, err := f.engine.GetCastsByFid(ctx, a.Fid)
		require.NoError(t, err)
		assert.Len(t, casts, 20)

		bio, err := f.engine.GetUserDataByFid(ctx, a.Fid)
		require.NoError(t, err)
		require.Len(t, bio, 1)
		assert.Equal(t, uint32(109), bio[0].Timestamp())
	}
	f.assertTrieMatchesStore(fids...)
	assert.Equal(t, 0, f.engine.locks.size())

	evs := f.drain()
	for i := 1; i < len(evs); i++ {
		assert.Less(t, evs[i-1].Seq, evs[i].Seq)
	}
}

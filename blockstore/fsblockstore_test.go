package blockstore

import (
	"context"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"
)

func rawBlock(t *testing.T, data []byte) blocks.Block {
	t.Helper()
	hash, err := mh.Sum(data, mh.SHA2_256, -1)
	require.NoError(t, err)
	c := cid.NewCidV1(cid.Raw, hash)
	blk, err := blocks.NewBlockWithCid(data, c)
	require.NoError(t, err)
	return blk
}

func newStore(t *testing.T, opts ...Option) *FsBlockStore {
	t.Helper()
	bs := NewFsBlockStore(t.TempDir(), opts...)
	require.NoError(t, bs.Init())
	require.NoError(t, bs.Open())
	t.Cleanup(bs.Close)
	return bs
}

// scenario 1: put/get/list/remove round trip.
func TestFsBlockStorePutGetListRemove(t *testing.T) {
	ctx := context.Background()
	bs := newStore(t)

	blk := rawBlock(t, []byte("1"))

	has, err := bs.Contains(ctx, blk.Cid())
	require.NoError(t, err)
	require.False(t, has)

	_, _, err = bs.PutBlock(ctx, blk)
	require.NoError(t, err)

	has, err = bs.Contains(ctx, blk.Cid())
	require.NoError(t, err)
	require.True(t, has)

	got, err := bs.GetBlock(ctx, blk.Cid())
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, blk.RawData(), got.RawData())

	cids, err := bs.List(ctx)
	require.NoError(t, err)
	require.Len(t, cids, 1)

	found, err := bs.RemoveBlock(ctx, blk.Cid())
	require.NoError(t, err)
	require.True(t, found)

	cids, err = bs.List(ctx)
	require.NoError(t, err)
	require.Empty(t, cids)
}

// scenario 2: reopening a store on the same directory sees prior blocks.
func TestFsBlockStoreReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	blk := rawBlock(t, []byte("1"))

	first := NewFsBlockStore(dir)
	require.NoError(t, first.Init())
	_, _, err := first.PutBlock(ctx, blk)
	require.NoError(t, err)
	first.Close()

	second := NewFsBlockStore(dir)
	defer second.Close()
	require.NoError(t, second.Open())

	has, err := second.Contains(ctx, blk.Cid())
	require.NoError(t, err)
	require.True(t, has)

	got, err := second.GetBlock(ctx, blk.Cid())
	require.NoError(t, err)
	require.Equal(t, blk.RawData(), got.RawData())
}

// scenario 3: listing returns every distinct inserted CID.
func TestFsBlockStoreListMultiple(t *testing.T) {
	ctx := context.Background()
	bs := newStore(t)

	var want []cid.Cid
	for _, b := range [][]byte{[]byte("1"), []byte("2"), []byte("3")} {
		blk := rawBlock(t, b)
		_, _, err := bs.PutBlock(ctx, blk)
		require.NoError(t, err)
		want = append(want, blk.Cid())
	}

	got, err := bs.List(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, want, got)

	for _, c := range got {
		has, err := bs.Contains(ctx, c)
		require.NoError(t, err)
		require.True(t, has)
	}
}

// scenario 4 / P3: racing puts of the same block yield exactly one
// NewBlock and N-1 Existed.
func TestFsBlockStoreRaceToInsert(t *testing.T) {
	ctx := context.Background()
	bs := newStore(t)

	data, err := hex.DecodeString("0a0d08021207666f6f6261720a1807")
	require.NoError(t, err)
	c, err := cid.Decode("QmRgutAxd8t7oGkSm4wmeuByG6M51wcTso6cubDdQtuEfL")
	require.NoError(t, err)
	blk, err := blocks.NewBlockWithCid(data, c)
	require.NoError(t, err)

	const count = 10
	var wg, start sync.WaitGroup
	start.Add(1)
	results := make([]BlockPut, count)
	errs := make([]error, count)

	wg.Add(count)
	for i := 0; i < count; i++ {
		go func(i int) {
			defer wg.Done()
			start.Wait()
			_, status, err := bs.PutBlock(ctx, blk)
			results[i] = status
			errs[i] = err
		}(i)
	}
	start.Done()
	wg.Wait()

	var writes, existing int
	for i := 0; i < count; i++ {
		require.NoError(t, errs[i])
		if results[i] == NewBlock {
			writes++
		} else {
			existing++
		}
	}
	require.Equal(t, 1, writes)
	require.Equal(t, count-1, existing)
}

// scenario 5 / P7 / P8: young-block grace period protects a fresh block
// from a concurrent cleanup, until the window elapses.
func TestFsBlockStoreCleanupYoungWindow(t *testing.T) {
	ctx := context.Background()
	bs := newStore(t, YoungDuration(150*time.Millisecond))

	blk := rawBlock(t, []byte("young"))
	_, _, err := bs.PutBlock(ctx, blk)
	require.NoError(t, err)

	empty := make(chan cid.Cid)
	close(empty)
	removed, err := bs.Cleanup(ctx, empty)
	require.NoError(t, err)
	require.Empty(t, removed)

	has, err := bs.Contains(ctx, blk.Cid())
	require.NoError(t, err)
	require.True(t, has)

	time.Sleep(400 * time.Millisecond)

	empty2 := make(chan cid.Cid)
	close(empty2)
	removed, err = bs.Cleanup(ctx, empty2)
	require.NoError(t, err)
	require.Equal(t, []cid.Cid{blk.Cid()}, removed)

	has, err = bs.Contains(ctx, blk.Cid())
	require.NoError(t, err)
	require.False(t, has)
}

// P8: cleanup's protection ends exactly at young_duration, not at the next
// maintenance tick. young_duration here is well under maintenanceInterval,
// so this only passes if cleanup checks the deadline itself rather than
// waiting for the background tick to have pruned the table.
func TestFsBlockStoreCleanupRespectsYoungDeadlineNotTick(t *testing.T) {
	ctx := context.Background()
	youngDuration := maintenanceInterval / 4
	bs := newStore(t, YoungDuration(youngDuration))

	blk := rawBlock(t, []byte("tick-independent"))
	_, _, err := bs.PutBlock(ctx, blk)
	require.NoError(t, err)

	time.Sleep(2 * youngDuration) // > young_duration, well under maintenanceInterval

	empty := make(chan cid.Cid)
	close(empty)
	removed, err := bs.Cleanup(ctx, empty)
	require.NoError(t, err)
	require.Equal(t, []cid.Cid{blk.Cid()}, removed)
}

// P8: cleanup removes exactly the stored CIDs absent from the live set,
// once nothing protects them.
func TestFsBlockStoreCleanupCompleteness(t *testing.T) {
	ctx := context.Background()
	bs := newStore(t)

	keep := rawBlock(t, []byte("keep"))
	drop := rawBlock(t, []byte("drop"))
	_, _, err := bs.PutBlock(ctx, keep)
	require.NoError(t, err)
	_, _, err = bs.PutBlock(ctx, drop)
	require.NoError(t, err)

	live := make(chan cid.Cid, 1)
	live <- keep.Cid()
	close(live)

	removed, err := bs.Cleanup(ctx, live)
	require.NoError(t, err)
	require.Equal(t, []cid.Cid{drop.Cid()}, removed)

	has, err := bs.Contains(ctx, keep.Cid())
	require.NoError(t, err)
	require.True(t, has)

	has, err = bs.Contains(ctx, drop.Cid())
	require.NoError(t, err)
	require.False(t, has)
}

// P5: removing an absent CID is a successful negative, not an error.
func TestFsBlockStoreRemoveAbsent(t *testing.T) {
	ctx := context.Background()
	bs := newStore(t)

	blk := rawBlock(t, []byte("nope"))
	found, err := bs.RemoveBlock(ctx, blk.Cid())
	require.NoError(t, err)
	require.False(t, found)
}

// Wipe is accepted and acknowledged but never deletes anything.
func TestFsBlockStoreWipeIsNoop(t *testing.T) {
	ctx := context.Background()
	bs := newStore(t)

	blk := rawBlock(t, []byte("stays"))
	_, _, err := bs.PutBlock(ctx, blk)
	require.NoError(t, err)

	require.NoError(t, bs.Wipe(ctx))

	has, err := bs.Contains(ctx, blk.Cid())
	require.NoError(t, err)
	require.True(t, has)
}

func TestFsBlockStoreClosedChannel(t *testing.T) {
	ctx := context.Background()
	bs := NewFsBlockStore(t.TempDir())
	require.NoError(t, bs.Init())
	bs.Close()

	blk := rawBlock(t, []byte("after-close"))

	// Close has already waited out every in-flight send and drained the
	// serializer, so this fails deterministically on the first try.
	_, err := bs.Contains(ctx, blk.Cid())
	require.ErrorIs(t, err, ErrClosed)
}

// Regression: a send racing Close must never hang waiting on a reply that
// will never arrive. Either it is counted before Close observes closed and
// the serializer (still draining) replies for real, or it sees closed and
// fails with ErrClosed immediately — never both a buffered command and a
// dead serializer.
func TestFsBlockStoreCloseDoesNotHangConcurrentSenders(t *testing.T) {
	ctx := context.Background()
	bs := NewFsBlockStore(t.TempDir())
	require.NoError(t, bs.Init())

	blk := rawBlock(t, []byte("close-race"))

	const callers = 50
	var wg sync.WaitGroup
	errs := make([]error, callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = bs.PutBlock(ctx, blk)
		}(i)
	}

	bs.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("a PutBlock call hung instead of completing or failing with ErrClosed")
	}

	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, ErrClosed)
		}
	}
}

// Blockstore interface conformance: Has/GetSize agree with Contains/SizeOf.
func TestFsBlockStoreInterfaceConformance(t *testing.T) {
	ctx := context.Background()
	bs := newStore(t)

	blk := rawBlock(t, []byte("conform"))
	require.NoError(t, bs.Put(ctx, blk))

	has, err := bs.Has(ctx, blk.Cid())
	require.NoError(t, err)
	require.True(t, has)

	size, err := bs.GetSize(ctx, blk.Cid())
	require.NoError(t, err)
	require.Equal(t, len(blk.RawData()), size)

	got, err := bs.Get(ctx, blk.Cid())
	require.NoError(t, err)
	require.Equal(t, blk.RawData(), got.RawData())

	require.NoError(t, bs.DeleteBlock(ctx, blk.Cid()))

	_, err = bs.Get(ctx, blk.Cid())
	require.Error(t, err)
}

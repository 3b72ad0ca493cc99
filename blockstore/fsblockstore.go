package blockstore

import (
	"context"
	"os"
	"sync"
	"time"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	bstore "github.com/ipfs/go-ipfs-blockstore"
	logging "github.com/ipfs/go-log/v2"
)

var logger = logging.Logger("fsrepo/blockstore")

var _ bstore.Blockstore = (*FsBlockStore)(nil)

// options holds the configured options after applying a number of Option
// funcs, following the functional-options pattern used throughout this
// module's teacher lineage (see options.go in the reference CAR package).
type options struct {
	youngDuration time.Duration
}

// Option configures an FsBlockStore at construction time.
type Option func(*options)

// YoungDuration sets the grace period during which a freshly put block is
// immune to cleanup, protecting against a reference race where a new
// block's CID has not yet been recorded by any referrer. Zero (the default)
// disables the grace period entirely.
func YoungDuration(d time.Duration) Option {
	return func(o *options) {
		o.youngDuration = d
	}
}

func applyOptions(opts ...Option) options {
	var o options
	for _, apply := range opts {
		apply(&o)
	}
	return o
}

// FsBlockStore is a thread-safe client for a filesystem-backed block
// directory; many goroutines share one *FsBlockStore. It holds a mutex and
// the closed state, so the value itself is not copied. All of its methods forward to a single serializer
// goroutine that owns the directory and the young-block table; see task.go.
type FsBlockStore struct {
	root  string
	reqCh chan any
	done  chan struct{}

	mu       sync.Mutex
	closed   bool
	inFlight sync.WaitGroup
}

// NewFsBlockStore constructs an FsBlockStore rooted at path and spawns its
// serializer goroutine. The directory is not created yet; call Init for
// that.
func NewFsBlockStore(path string, opts ...Option) *FsBlockStore {
	o := applyOptions(opts...)

	reqCh := make(chan any, 1) // capacity 1: the bounded channel spec.md's backpressure relies on

	t := newTask(path, o.youngDuration, reqCh)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.run()
	}()

	return &FsBlockStore{
		root:  path,
		reqCh: reqCh,
		done:  done,
	}
}

// Init creates the root directory if it does not already exist. Idempotent.
func (bs *FsBlockStore) Init() error {
	return os.MkdirAll(bs.root, 0o755)
}

// Open is reserved for future space-usage caching; it currently does
// nothing, matching spec.md §4.4.
func (bs *FsBlockStore) Open() error {
	return nil
}

// Close stops the serializer goroutine and waits for it to exit. It blocks
// until every send already in flight has finished enqueueing its command
// (those commands still get a real reply; see send), then closes the
// request channel so the serializer drains whatever is left and returns.
// Once Close returns, every subsequent command deterministically fails with
// ErrClosed: the closed flag is set, under the same lock send checks,
// before Close does anything else, so no send started afterward can ever
// reach the channel.
func (bs *FsBlockStore) Close() {
	bs.mu.Lock()
	if bs.closed {
		bs.mu.Unlock()
		return
	}
	bs.closed = true
	bs.mu.Unlock()

	bs.inFlight.Wait()
	close(bs.reqCh)
	<-bs.done
}

func (bs *FsBlockStore) Contains(ctx context.Context, c cid.Cid) (bool, error) {
	reply := make(chan containsReply, 1)
	if err := bs.send(ctx, containsCmd{cid: c, reply: reply}); err != nil {
		return false, err
	}
	r := <-reply
	return r.ok, r.err
}

// GetBlock reads a block back. A nil block with a nil error means the block
// is absent — spec.md treats NotFound as a successful negative, not an
// error.
func (bs *FsBlockStore) GetBlock(ctx context.Context, c cid.Cid) (blocks.Block, error) {
	reply := make(chan getReply, 1)
	if err := bs.send(ctx, getCmd{cid: c, reply: reply}); err != nil {
		return nil, err
	}
	r := <-reply
	return r.block, r.err
}

// PutBlock stores block, deduplicating by content address. The returned
// BlockPut tells the caller whether this call actually wrote anything.
func (bs *FsBlockStore) PutBlock(ctx context.Context, block blocks.Block) (cid.Cid, BlockPut, error) {
	reply := make(chan putReply, 1)
	if err := bs.send(ctx, putCmd{block: block, reply: reply}); err != nil {
		return cid.Undef, 0, err
	}
	r := <-reply
	return r.cid, r.status, r.err
}

// SizeOf sums the on-disk size of the given CIDs; CIDs that are not stored
// contribute zero.
func (bs *FsBlockStore) SizeOf(ctx context.Context, cids []cid.Cid) (int64, error) {
	reply := make(chan sizeReply, 1)
	if err := bs.send(ctx, sizeCmd{cids: cids, reply: reply}); err != nil {
		return 0, err
	}
	r := <-reply
	return r.total, r.err
}

// TotalSize returns the root directory's reported size: a coarse,
// best-effort approximation, not the sum of block sizes (spec.md §9).
func (bs *FsBlockStore) TotalSize(ctx context.Context) (int64, error) {
	reply := make(chan totalSizeReply, 1)
	if err := bs.send(ctx, totalSizeCmd{reply: reply}); err != nil {
		return 0, err
	}
	r := <-reply
	return r.total, r.err
}

// RemoveBlock deletes the block for c. found is false if it was not stored
// to begin with; that is not an error (spec.md P5).
func (bs *FsBlockStore) RemoveBlock(ctx context.Context, c cid.Cid) (found bool, err error) {
	reply := make(chan removeReply, 1)
	if err := bs.send(ctx, removeCmd{cid: c, reply: reply}); err != nil {
		return false, err
	}
	r := <-reply
	return r.found, r.err
}

// Cleanup (garbage collection) removes every stored block whose CID is not
// read from live before live closes, except blocks still inside their
// young-block grace period. It returns the CIDs actually removed.
func (bs *FsBlockStore) Cleanup(ctx context.Context, live <-chan cid.Cid) ([]cid.Cid, error) {
	reply := make(chan cleanupReply, 1)
	if err := bs.send(ctx, cleanupCmd{live: live, reply: reply}); err != nil {
		return nil, err
	}
	r := <-reply
	return r.removed, r.err
}

// List returns every CID currently stored. Order is unspecified; the result
// is a snapshot of what list's traversal observed, not a live view.
func (bs *FsBlockStore) List(ctx context.Context) ([]cid.Cid, error) {
	reply := make(chan listReply, 1)
	if err := bs.send(ctx, listCmd{reply: reply}); err != nil {
		return nil, err
	}
	r := <-reply
	return r.cids, r.err
}

// Wipe is a reserved placeholder; it is accepted and acknowledged but does
// not delete anything (spec.md §9 Open Questions).
func (bs *FsBlockStore) Wipe(ctx context.Context) error {
	reply := make(chan wipeReply, 1)
	if err := bs.send(ctx, wipeCmd{reply: reply}); err != nil {
		return err
	}
	r := <-reply
	return r.err
}

// send delivers cmd to the serializer. It returns ErrClosed if Close has
// already been called, and respects ctx cancellation while waiting for a
// free slot on the bounded request channel. Dropping ctx after send
// succeeds does not affect the in-flight command: the serializer completes
// it regardless (spec.md's cancellation-safety guarantee).
//
// closed is checked, and inFlight incremented, under the same lock Close
// uses to set closed: that guarantees every send that observes closed ==
// false is counted by inFlight before Close can proceed past its own lock,
// so Close.inFlight.Wait only returns once every such send has either
// delivered cmd to reqCh or given up on ctx — never while one is still
// racing the channel close.
func (bs *FsBlockStore) send(ctx context.Context, cmd any) error {
	bs.mu.Lock()
	if bs.closed {
		bs.mu.Unlock()
		return ErrClosed
	}
	bs.inFlight.Add(1)
	bs.mu.Unlock()
	defer bs.inFlight.Done()

	select {
	case bs.reqCh <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package blockstore

import (
	"context"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	format "github.com/ipfs/go-ipld-format"
)

// The methods in this file make FsBlockStore satisfy
// github.com/ipfs/go-ipfs-blockstore's Blockstore interface, so the store
// can be handed straight to go-blockservice/go-merkledag for the UnixFS
// ingest pipeline (see unixfs/add.go) and to any other go-ipfs-ecosystem
// consumer that expects a Blockstore. They are thin adapters over the same
// serializer commands the FsBlockStore-native methods use.

// Has reports whether c is stored. Equivalent to Contains.
func (bs *FsBlockStore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	return bs.Contains(ctx, c)
}

// Get returns the block for c, or format.ErrNotFound if it is absent.
func (bs *FsBlockStore) Get(ctx context.Context, c cid.Cid) (blocks.Block, error) {
	blk, err := bs.GetBlock(ctx, c)
	if err != nil {
		return nil, err
	}
	if blk == nil {
		return nil, format.ErrNotFound{Cid: c}
	}
	return blk, nil
}

// GetSize returns the stored size of c, or format.ErrNotFound if absent.
func (bs *FsBlockStore) GetSize(ctx context.Context, c cid.Cid) (int, error) {
	has, err := bs.Contains(ctx, c)
	if err != nil {
		return 0, err
	}
	if !has {
		return 0, format.ErrNotFound{Cid: c}
	}
	total, err := bs.SizeOf(ctx, []cid.Cid{c})
	if err != nil {
		return 0, err
	}
	return int(total), nil
}

// Put stores a single block, discarding the NewBlock/Existed distinction
// that PutBlock exposes; the Blockstore interface has no room for it.
func (bs *FsBlockStore) Put(ctx context.Context, blk blocks.Block) error {
	_, _, err := bs.PutBlock(ctx, blk)
	return err
}

// PutMany stores each block in turn. The store's own serializer provides
// the atomicity the Blockstore interface asks nothing more of than "each
// block ends up stored or the call returns an error."
func (bs *FsBlockStore) PutMany(ctx context.Context, blks []blocks.Block) error {
	for _, blk := range blks {
		if _, _, err := bs.PutBlock(ctx, blk); err != nil {
			return err
		}
	}
	return nil
}

// DeleteBlock removes c. As with RemoveBlock, a missing block is not an
// error; the found flag RemoveBlock reports is discarded, since
// go-ipfs-blockstore's contract treats delete-of-absent as a successful
// no-op.
func (bs *FsBlockStore) DeleteBlock(ctx context.Context, c cid.Cid) error {
	_, err := bs.RemoveBlock(ctx, c)
	return err
}

// AllKeysChan returns a channel of every stored CID. Equivalent to List,
// adapted to the streaming form go-ipfs-blockstore expects.
func (bs *FsBlockStore) AllKeysChan(ctx context.Context) (<-chan cid.Cid, error) {
	cids, err := bs.List(ctx)
	if err != nil {
		return nil, err
	}

	ch := make(chan cid.Cid)
	go func() {
		defer close(ch)
		for _, c := range cids {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// HashOnRead is a no-op: this store always validates a block's hash against
// its CID on every Get (see task.get), so there is no optional mode to
// toggle.
func (bs *FsBlockStore) HashOnRead(bool) {}

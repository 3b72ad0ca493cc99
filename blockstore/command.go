package blockstore

import (
	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
)

// BlockPut describes the outcome of a put.
type BlockPut int

const (
	// NewBlock indicates the block was not previously stored and has now
	// been written.
	NewBlock BlockPut = iota
	// Existed indicates the block was already stored; the put was a no-op
	// deduplication.
	Existed
)

func (p BlockPut) String() string {
	if p == NewBlock {
		return "NewBlock"
	}
	return "Existed"
}

// containsCmd, getCmd, ... are the request/reply pairs the serializer
// understands. Each carries its own reply channel, Go's equivalent of the
// oneshot channel a single command-and-reply round trip needs.
type containsCmd struct {
	cid   cid.Cid
	reply chan<- containsReply
}
type containsReply struct {
	ok  bool
	err error
}

type getCmd struct {
	cid   cid.Cid
	reply chan<- getReply
}
type getReply struct {
	block blocks.Block // nil if absent
	err   error
}

type putCmd struct {
	block blocks.Block
	reply chan<- putReply
}
type putReply struct {
	cid    cid.Cid
	status BlockPut
	err    error
}

type sizeCmd struct {
	cids  []cid.Cid
	reply chan<- sizeReply
}
type sizeReply struct {
	total int64
	ok    bool
	err   error
}

type totalSizeCmd struct {
	reply chan<- totalSizeReply
}
type totalSizeReply struct {
	total int64
	err   error
}

type removeCmd struct {
	cid   cid.Cid
	reply chan<- removeReply
}
type removeReply struct {
	found bool // false => NotFound
	err   error
}

type cleanupCmd struct {
	live  <-chan cid.Cid
	reply chan<- cleanupReply
}
type cleanupReply struct {
	removed []cid.Cid
	err     error
}

type listCmd struct {
	reply chan<- listReply
}
type listReply struct {
	cids []cid.Cid
	err  error
}

type wipeCmd struct {
	reply chan<- wipeReply
}
type wipeReply struct {
	err error
}

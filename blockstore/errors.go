package blockstore

import "errors"

// ErrClosed is returned by every handle method once the serializer
// goroutine has exited; it is terminal, there is no recovery short of
// constructing a new FsBlockStore.
var ErrClosed = errors.New("fsblockstore: serializer closed")

// ErrHashMismatch indicates that a block read back from disk does not hash
// to the CID encoded in its filename: on-disk corruption. The offending
// file is left in place; removing it automatically is an operator decision
// this package does not make for them.
var ErrHashMismatch = errors.New("fsblockstore: stored block does not hash to its cid")

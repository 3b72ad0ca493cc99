// Package blockstore implements a filesystem-backed, content-addressed
// block store.
//
// Blocks are stored one file per CID under a root directory, split across
// one level of shard subdirectories so that no single directory ever holds
// an unbounded number of entries. All mutating and reading access to the
// store directory is funneled through a single goroutine (the serializer),
// which is the only thing that ever touches the on-disk layout or the
// in-memory young-block table. Callers talk to it through FsBlockStore, a
// cheap, concurrency-safe handle.
package blockstore

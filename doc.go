// Package fsrepo provides the storage core of a content-addressed,
// IPFS-like peer: blockstore is a filesystem-backed, crash-safe,
// deduplicating block store, and unixfs is a streaming file-ingestion
// pipeline that chunks a byte source into a UnixFS DAG and persists it
// through that block store.
package fsrepo

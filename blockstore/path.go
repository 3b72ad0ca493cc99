package blockstore

import (
	"path/filepath"
	"strings"

	"github.com/ipfs/go-cid"
)

const extension = ".data"

// shardSuffixLen is the number of trailing characters of the canonical CIDv1
// string used to pick a shard directory. Two characters of a base32 string
// give at most 32*32 = 1024 distinct shards, which is more than enough to
// keep any single shard directory from growing unbounded while staying well
// clear of common filesystem directory-entry limits.
const shardSuffixLen = 2

// blockPath returns the on-disk path for cid under root:
// root/<shard>/<cidv1-string>.data
//
// blockPath is total and deterministic: the same (root, cid) pair always
// yields the same path.
func blockPath(root string, c cid.Cid) string {
	stem := filestem(c)
	return filepath.Join(root, shardFor(stem), stem+extension)
}

// filestem returns the canonical on-disk filename stem for a CID: its
// version-1, base32-encoded string form. CIDv0 blocks are re-encoded to v1
// so that the filesystem layout is independent of how the CID first arrived.
func filestem(c cid.Cid) string {
	if c.Version() == 0 {
		c = cid.NewCidV1(c.Type(), c.Hash())
	}
	return c.String()
}

// shardFor computes the shard directory name for a filestem. It mirrors the
// "last two characters before the extension" rule of the path codec this
// type implements: the suffix of a content hash is as uniformly distributed
// as the hash itself, so shard occupancy stays balanced.
func shardFor(stem string) string {
	if len(stem) <= shardSuffixLen {
		return stem
	}
	return stem[len(stem)-shardSuffixLen:]
}

// filestemToBlockCID parses a filename stem (without extension) back into a
// CID. It returns false if stem does not parse as a CID, which callers use
// to silently skip unrelated files while listing a shard directory.
func filestemToBlockCID(stem string) (cid.Cid, bool) {
	c, err := cid.Decode(stem)
	if err != nil {
		return cid.Undef, false
	}
	return c, true
}

// hasDataExtension reports whether name ends in the block file extension,
// ignoring any directory components.
func hasDataExtension(name string) bool {
	return strings.HasSuffix(name, extension)
}

// trimDataExtension strips the block file extension from name.
func trimDataExtension(name string) string {
	return strings.TrimSuffix(name, extension)
}

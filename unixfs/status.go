package unixfs

import (
	"fmt"

	"github.com/ipfs/go-cid"
)

// Path identifies the result of a successful ingest: the DAG root, plus an
// optional sub-path into a wrapping directory when AddOption.Wrap produced
// one.
type Path struct {
	Root cid.Cid
	Name string // set when the root is a wrapping directory
}

func (p Path) String() string {
	if p.Name == "" {
		return "/ipfs/" + p.Root.String()
	}
	return fmt.Sprintf("/ipfs/%s/%s", p.Root, p.Name)
}

// StatusKind distinguishes the three event shapes an ingest can emit.
type StatusKind int

const (
	// StatusProgress is emitted before ingestion begins and after every
	// consumed input chunk.
	StatusProgress StatusKind = iota
	// StatusCompleted is emitted exactly once, on success.
	StatusCompleted
	// StatusFailed is emitted exactly once, on any fatal error. No further
	// events follow it.
	StatusFailed
)

// Status is one event in an ingest's lazy event sequence. Exactly one
// terminal event (StatusCompleted or StatusFailed) ends the sequence;
// ordering is always Progress* (Completed | Failed).
type Status struct {
	Kind StatusKind

	// Written is the number of source bytes consumed so far.
	Written int64
	// TotalSize is the source's total size, if known up front.
	TotalSize *int64

	// Path is set only when Kind == StatusCompleted.
	Path Path
	// Err is set only when Kind == StatusFailed; it may be nil (empty
	// input is a failure with no underlying error).
	Err error
}

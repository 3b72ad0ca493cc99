package unixfs

import "errors"

// ErrEmptyInput is what AddSync returns when the source produced no blocks
// at all. The Failed status emitted for that case carries a nil Err (an
// empty input is a failure with no underlying cause), so this sentinel
// exists only for AddSync callers that want something non-nil to compare
// against.
var ErrEmptyInput = errors.New("unixfs: empty input produced no blocks")

// errNoTerminalEvent indicates the event sequence ended (channel closed)
// without ever emitting Completed or Failed, which should not happen for
// any Adder created by this package; AddSync surfaces it defensively.
var errNoTerminalEvent = errors.New("unixfs: ingest ended without a terminal event")

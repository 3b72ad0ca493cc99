// Package unixfs streams an arbitrary byte source into a UnixFS DAG of
// content-addressed blocks, persisting each block through a block store and
// reporting progress as a lazy sequence of events.
//
// The chunking and DAG-assembly algorithm itself is treated as an external
// collaborator, exactly as spec.md requires: this package drives the real
// github.com/ipfs/go-unixfs balanced importer over a
// github.com/ipfs/go-ipfs-chunker splitter, rather than reimplementing
// UnixFS chunking.
package unixfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	blockservice "github.com/ipfs/go-blockservice"
	"github.com/ipfs/go-cid"
	chunker "github.com/ipfs/go-ipfs-chunker"
	offline "github.com/ipfs/go-ipfs-exchange-offline"
	format "github.com/ipfs/go-ipld-format"
	logging "github.com/ipfs/go-log/v2"
	dag "github.com/ipfs/go-merkledag"
	"github.com/ipfs/go-unixfs/importer/balanced"
	"github.com/ipfs/go-unixfs/importer/helpers"
	uio "github.com/ipfs/go-unixfs/io"

	"github.com/ipfs/go-fsrepo/blockstore"
)

var logger = logging.Logger("fsrepo/unixfs")

// defaultMaxLinks bounds the fan-out of an intermediate UnixFS DAG node,
// matching the value the reference go-car/go-unixfs test fixtures use.
const defaultMaxLinks = 174

// defaultChunkSize is spec.md's default fixed-size chunk policy: 256 KiB.
const defaultChunkSize int64 = 256 * 1024

// Chunker selects how the byte stream is split into UnixFS leaf blocks. It
// is passed verbatim to the external chunker, per spec.md §4.5.
type Chunker struct {
	// Size is the maximum number of bytes per chunk. Zero selects
	// defaultChunkSize.
	Size int64
}

// DefaultChunker returns the fixed-size 256 KiB policy spec.md names as the
// default.
func DefaultChunker() Chunker {
	return Chunker{Size: defaultChunkSize}
}

func (c Chunker) splitter(r io.Reader) chunker.Splitter {
	size := c.Size
	if size <= 0 {
		size = defaultChunkSize
	}
	return chunker.NewSizeSplitter(r, size)
}

// AddOption is the recognized set of ingest options from spec.md §4.5.
type AddOption struct {
	// Chunk is the chunking policy passed to the external chunker.
	Chunk Chunker
	// Wrap, if true and a name is known, wraps the root under a
	// single-link directory using that name.
	Wrap bool
	// Pin, if true, asks the injected Pinner to pin the final root.
	Pin bool
	// Provide, if true, asks the injected Provider to announce the final
	// root, best-effort and asynchronously.
	Provide bool
}

// DefaultAddOption returns spec.md's defaults: the default chunker, no
// wrapping, no pinning, no providing.
func DefaultAddOption() AddOption {
	return AddOption{Chunk: DefaultChunker()}
}

// Pinner is the external pin service spec.md §1 calls out as out of scope
// for this design; callers inject an implementation, or leave it nil to
// make Pin a no-op.
type Pinner interface {
	IsPinned(ctx context.Context, c cid.Cid) (bool, error)
	Pin(ctx context.Context, c cid.Cid, recursive bool) error
}

// Provider is the external content-routing service spec.md §1 calls out as
// out of scope; callers inject an implementation, or leave it nil to make
// Provide a no-op.
type Provider interface {
	Provide(ctx context.Context, c cid.Cid) error
}

// Source is the ingest input: either a filesystem path, or a named byte
// stream with an optional known total size.
type Source struct {
	// Path, if non-empty, is opened, stat'd for size, and used to derive
	// Name from its final path component.
	Path string

	// Name, Total and Stream are used verbatim when Path is empty.
	Name   string
	Total  *int64
	Stream io.Reader
}

// FromPath builds a Source that reads from the file at path.
func FromPath(path string) Source {
	return Source{Path: path}
}

// FromStream builds a Source from an already-open byte stream. total may be
// nil if the size is not known ahead of time.
func FromStream(name string, total *int64, stream io.Reader) Source {
	return Source{Name: name, Total: total, Stream: stream}
}

// AdderOption configures an Adder at construction time.
type AdderOption func(*Adder)

// WithPinner injects the pin service used when AddOption.Pin is set.
func WithPinner(p Pinner) AdderOption {
	return func(a *Adder) { a.pinner = p }
}

// WithProvider injects the content-routing service used when
// AddOption.Provide is set.
func WithProvider(p Provider) AdderOption {
	return func(a *Adder) { a.provider = p }
}

// Adder drives the UnixFS ingest pipeline: it chunks a byte source, builds
// the DAG through the real go-unixfs balanced importer, and persists every
// resulting block through an FsBlockStore.
type Adder struct {
	bs       *blockstore.FsBlockStore
	dag      format.DAGService
	pinner   Pinner
	provider Provider
}

// NewAdder builds an Adder backed by bs. It wires bs into a
// go-blockservice/go-merkledag DAGService exactly as
// v2/blockstore/readwrite_test.go's GenCARv2FromNormalFile does, so the
// external UnixFS importer can write blocks straight through the block
// store's serializer.
func NewAdder(bs *blockstore.FsBlockStore, opts ...AdderOption) *Adder {
	bsvc := blockservice.New(bs, offline.Exchange(bs))
	a := &Adder{
		bs:  bs,
		dag: dag.NewDAGService(bsvc),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Add ingests src according to opt and returns the event sequence described
// by spec.md §4.5: Progress* (Completed | Failed). The returned channel is
// closed after the terminal event. Canceling ctx stops the ingest at its
// next yield point; blocks already persisted are retained, since
// content-addressed storage is always safe to resume over.
func (a *Adder) Add(ctx context.Context, src Source, opt AddOption) <-chan Status {
	ch := make(chan Status)
	go a.run(ctx, src, opt, ch)
	return ch
}

// AddFile is a convenience wrapper for the common "ingest a file" case.
func (a *Adder) AddFile(ctx context.Context, path string, opt AddOption) <-chan Status {
	return a.Add(ctx, FromPath(path), opt)
}

func (a *Adder) run(ctx context.Context, src Source, opt AddOption, ch chan<- Status) {
	defer close(ch)

	name, total, stream, closeFn, err := resolveSource(src)
	if err != nil {
		emit(ctx, ch, Status{Kind: StatusFailed, Err: fmt.Errorf("opening source: %w", err)})
		return
	}
	if closeFn != nil {
		defer closeFn()
	}

	var written int64
	if !emit(ctx, ch, Status{Kind: StatusProgress, Written: 0, TotalSize: total}) {
		return
	}

	pr := &progressReader{ctx: ctx, r: stream, ch: ch, written: &written, total: total}

	bufferedDAG := format.NewBufferedDAG(ctx, a.dag)
	params := helpers.DagBuilderParams{
		Maxlinks:  defaultMaxLinks,
		RawLeaves: true,
		Dagserv:   bufferedDAG,
	}

	db, err := params.New(opt.Chunk.splitter(pr))
	if err != nil {
		emit(ctx, ch, Status{Kind: StatusFailed, Written: written, TotalSize: total, Err: fmt.Errorf("building dag: %w", err)})
		return
	}

	root, err := balanced.Layout(db)
	if err != nil {
		emit(ctx, ch, Status{Kind: StatusFailed, Written: written, TotalSize: total, Err: fmt.Errorf("chunking input: %w", err)})
		return
	}

	if err := bufferedDAG.Commit(); err != nil {
		emit(ctx, ch, Status{Kind: StatusFailed, Written: written, TotalSize: total, Err: fmt.Errorf("committing dag: %w", err)})
		return
	}

	// spec.md §4.5 step 6: no blocks produced (empty input) is a failure
	// with no error payload.
	if root == nil || written == 0 {
		emit(ctx, ch, Status{Kind: StatusFailed, Written: written, TotalSize: total})
		return
	}

	path := Path{Root: root.Cid()}

	if opt.Wrap && name != "" {
		wrapped, err := a.wrapWithDirectory(ctx, name, root)
		if err != nil {
			emit(ctx, ch, Status{Kind: StatusFailed, Written: written, TotalSize: total, Err: fmt.Errorf("wrapping with directory: %w", err)})
			return
		}
		path = Path{Root: wrapped, Name: name}
	}

	rootCid := path.Root

	if opt.Pin {
		a.maybePin(ctx, rootCid)
	}

	if opt.Provide {
		go a.provideDetached(rootCid)
	}

	emit(ctx, ch, Status{Kind: StatusCompleted, Written: written, TotalSize: total, Path: path})
}

// wrapWithDirectory builds the single-link wrapping directory spec.md §4.5
// step 7 describes: one entry (name -> root, size = root's cumulative
// size), persisted through the same DAGService as everything else.
func (a *Adder) wrapWithDirectory(ctx context.Context, name string, root format.Node) (cid.Cid, error) {
	dir := uio.NewDirectory(a.dag)
	if err := dir.AddChild(ctx, name, root); err != nil {
		return cid.Undef, err
	}
	dirNode, err := dir.GetNode()
	if err != nil {
		return cid.Undef, err
	}
	if err := a.dag.Add(ctx, dirNode); err != nil {
		return cid.Undef, err
	}
	return dirNode.Cid(), nil
}

func (a *Adder) maybePin(ctx context.Context, root cid.Cid) {
	if a.pinner == nil {
		return
	}
	pinned, err := a.pinner.IsPinned(ctx, root)
	if err != nil {
		logger.Errorf("unable to check pin status of %s: %s", root, err)
		return
	}
	if pinned {
		return
	}
	if err := a.pinner.Pin(ctx, root, true); err != nil {
		logger.Errorf("unable to pin %s: %s", root, err)
	}
}

// provideDetached runs on its own goroutine, deliberately detached from the
// caller's context: spec.md §4.5 step 9 requires provide failures to be
// logged, never propagated, and the announcement to keep going even if the
// ingest's own context is later canceled.
func (a *Adder) provideDetached(root cid.Cid) {
	if a.provider == nil {
		return
	}
	if err := a.provider.Provide(context.Background(), root); err != nil {
		logger.Errorf("unable to provide %s: %s", root, err)
	}
}

func resolveSource(src Source) (name string, total *int64, stream io.Reader, closeFn func(), err error) {
	if src.Path == "" {
		return src.Name, src.Total, src.Stream, nil, nil
	}

	f, err := os.Open(src.Path)
	if err != nil {
		return "", nil, nil, nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return "", nil, nil, nil, err
	}

	size := info.Size()
	return filepath.Base(src.Path), &size, f, func() { f.Close() }, nil
}

// progressReader wraps the ingest's byte source so that every Read is
// reported as a Progress event before the bytes it returned reach the
// chunker. Because the chunker pulls synchronously on the same goroutine
// that owns ch, this send is also the natural backpressure point: the
// importer does not read further ahead than the consumer has drained
// progress for.
type progressReader struct {
	ctx     context.Context
	r       io.Reader
	ch      chan<- Status
	written *int64
	total   *int64
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		*p.written += int64(n)
		if !emit(p.ctx, p.ch, Status{Kind: StatusProgress, Written: *p.written, TotalSize: p.total}) {
			return n, context.Canceled
		}
	}
	return n, err
}

// emit sends st on ch, honoring ctx cancellation. It reports whether the
// send happened; a false return means the caller should stop immediately.
func emit(ctx context.Context, ch chan<- Status, st Status) bool {
	select {
	case ch <- st:
		return true
	case <-ctx.Done():
		return false
	}
}

// AddSync runs an ingest to completion, ignoring Progress events, and
// returns the final Path on Completed or an error on Failed / an
// unexpectedly short sequence. This is spec.md §4.5's "one-shot awaitable"
// consumption mode.
func AddSync(ctx context.Context, a *Adder, src Source, opt AddOption) (Path, error) {
	for st := range a.Add(ctx, src, opt) {
		switch st.Kind {
		case StatusCompleted:
			return st.Path, nil
		case StatusFailed:
			if st.Err != nil {
				return Path{}, st.Err
			}
			return Path{}, ErrEmptyInput
		}
	}
	return Path{}, errNoTerminalEvent
}

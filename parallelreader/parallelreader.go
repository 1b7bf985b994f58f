// Package parallelreader is the top-level orchestrator: find → submit →
// wait → stitch → read. It drives blockfinder/chunker to split a gzip
// stream's DEFLATE payload into chunks, dispatches decode work through a
// threadpool-backed chunkcache, and hands callers back exactly the bytes a
// serial decoder would produce, in order — the parallelism is invisible at
// the Read/Seek boundary.
//
// Multiple concatenated gzip members (RFC 1952 multistream) are supported
// by decoding member-by-member: chunking and the thread pool parallelize
// within a member, and the next member's header is parsed only once the
// current member's final block has sealed. This keeps chunk planning from
// ever needing to reason about a compressed-stream boundary it can't see
// ahead of time.
package parallelreader

import (
	"bufio"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/coreos/rapidgzip/bitreader"
	"github.com/coreos/rapidgzip/chunker"
	"github.com/coreos/rapidgzip/chunkcache"
	"github.com/coreos/rapidgzip/deflate"
	"github.com/coreos/rapidgzip/filereader"
	"github.com/coreos/rapidgzip/gzipheader"
	"github.com/coreos/rapidgzip/gzipindex"
	"github.com/coreos/rapidgzip/internal/rglog"
	"github.com/coreos/rapidgzip/stop"
	"github.com/coreos/rapidgzip/threadpool"
	"github.com/coreos/rapidgzip/window"
)

var log = rglog.New("parallelreader")

// Options configures a Reader.
type Options struct {
	// NumWorkers is the thread-pool size; 0 defaults to runtime.NumCPU().
	NumWorkers int
	// ChunkSize is the target compressed span per chunk in bytes; 0
	// defaults to chunker.DefaultChunkSize.
	ChunkSize int
	// CacheCapacity bounds the number of decoded chunks kept in memory;
	// 0 defaults to 4x NumWorkers.
	CacheCapacity int
	// Index, if non-nil, seeds Seek with known checkpoints instead of
	// requiring sequential sealing up to the target offset.
	Index *gzipindex.Index
	// VerifyCRC32 enables per-member CRC32/ISIZE validation against the
	// RFC 1952 trailer once a member finishes sealing.
	VerifyCRC32 bool
	// CheckpointSpacing is the minimum uncompressed-byte gap between
	// checkpoints recorded by Index; 0 records every sealed chunk
	// boundary (equivalent to spacing == ChunkSize's uncompressed yield).
	CheckpointSpacing int
}

func (o Options) withDefaults() Options {
	if o.NumWorkers <= 0 {
		o.NumWorkers = runtime.NumCPU()
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = chunker.DefaultChunkSize
	}
	if o.CacheCapacity <= 0 {
		o.CacheCapacity = 4 * o.NumWorkers
	}
	return o
}

// ErrFormatError wraps a decode failure with the uncompressed offset at
// which the chunk containing it started.
type ErrFormatError struct {
	ChunkStart int64
	Err        error
}

func (e *ErrFormatError) Error() string {
	return fmt.Sprintf("parallelreader: decode error for chunk starting at uncompressed offset %d: %v", e.ChunkStart, e.Err)
}
func (e *ErrFormatError) Unwrap() error { return e.Err }

// ErrChecksumMismatch is returned when VerifyCRC32 is enabled and a
// member's trailing CRC32/ISIZE does not match the decoded bytes.
var ErrChecksumMismatch = errors.New("parallelreader: gzip trailer checksum mismatch")

type sealedChunk struct {
	uncompressedStart int64
	chunk             *chunkcache.Chunk
	// firstOfMember is true when this chunk is the first boundary of its
	// gzip member, i.e. it was seeded with an empty window rather than the
	// previous sealed chunk's TailWindow. Index() needs this to assign the
	// right seed window to each checkpoint.
	firstOfMember bool
}

// member holds the chunking/dispatch state for one gzip member currently
// being sealed.
type member struct {
	baseOffset int64
	boundaries []chunker.Boundary
	futures    []*threadpool.Future
	nextSeal   int // index of the next boundary to seal
	crc        hash32Accumulator
}

type hash32Accumulator struct {
	h   crc32Hash
	use bool
}

type crc32Hash interface {
	Write(p []byte) (int, error)
	Sum32() uint32
}

// Reader provides random access over a gzip stream's uncompressed bytes.
type Reader struct {
	fr    filereader.FileReader
	opts  Options
	pool  *threadpool.Pool
	cache *chunkcache.Cache
	group *stop.Group

	mu     sync.Mutex
	pos    int64
	err    error
	sealed []sealedChunk

	cur             *member
	streamExhausted bool
}

// New constructs a Reader over fr, which must be positioned at the start
// of a gzip stream.
func New(fr filereader.FileReader, opts Options) (*Reader, error) {
	opts = opts.withDefaults()
	pool := threadpool.New(opts.NumWorkers)
	group := stop.NewGroup()
	group.Add(pool)
	r := &Reader{
		fr:    fr,
		opts:  opts,
		pool:  pool,
		cache: chunkcache.New(pool, opts.CacheCapacity),
		group: group,
	}
	if err := r.beginMemberAt(0); err != nil {
		if err == io.EOF {
			r.streamExhausted = true
			return r, nil
		}
		return nil, err
	}
	return r, nil
}

// Close stops the underlying thread pool (and any other stoppable resource
// registered with the Reader's stop.Group) and waits for in-flight tasks to
// finish.
func (r *Reader) Close() error {
	<-r.group.Stop()
	return nil
}

// beginMemberAt parses the gzip header at compressed byte offset
// byteOffset and plans that member's chunk boundaries. The member's
// uncompressed base offset is taken from the end of the last sealed chunk
// (0 when nothing is sealed yet); this method only reads r.sealed, it does
// not modify it.
func (r *Reader) beginMemberAt(byteOffset int64) error {
	headerClone, err := r.fr.Clone()
	if err != nil {
		return err
	}
	if _, err := headerClone.Seek(byteOffset, io.SeekStart); err != nil {
		return err
	}
	size, err := headerClone.Size()
	if err != nil {
		return err
	}
	if byteOffset >= size {
		return io.EOF
	}

	hdr, err := gzipheader.Parse(bufio.NewReader(headerClone))
	if err != nil {
		return err
	}
	deflateStart := bitreader.BitPosition(byteOffset+int64(hdr.HeaderLength)) * 8

	planClone, err := r.fr.Clone()
	if err != nil {
		return err
	}
	planBR, err := bitreader.New(planClone)
	if err != nil {
		return err
	}
	boundaries, err := chunker.Plan(planBR, deflateStart, r.opts.ChunkSize)
	if err != nil {
		return err
	}

	base := int64(0)
	if len(r.sealed) > 0 {
		last := r.sealed[len(r.sealed)-1]
		base = last.uncompressedStart + int64(len(last.chunk.Data))
	}
	r.cur = &member{
		baseOffset: base,
		boundaries: boundaries,
		crc:        hash32Accumulator{h: crc32.NewIEEE(), use: r.opts.VerifyCRC32},
	}
	log.Infof("member at byte offset %d: %d chunk boundaries, uncompressed base %d", byteOffset, len(boundaries), base)
	r.requestBoundary(0)
	// Eagerly fan out the remaining worker slots.
	for i := 1; i < r.opts.NumWorkers && i < len(boundaries); i++ {
		r.requestBoundary(i)
	}
	return nil
}

// requestBoundary ensures a decode has been submitted for boundaries[i],
// returning its future. Callers must request in increasing index order so
// that boundary i's seed (boundary i-1's tail window) is already
// in-flight.
func (r *Reader) requestBoundary(i int) *threadpool.Future {
	m := r.cur
	for len(m.futures) <= i {
		idx := len(m.futures)
		startBit := m.boundaries[idx].StartBit
		var upperBound bitreader.BitPosition
		hasUpperBound := idx+1 < len(m.boundaries)
		if hasUpperBound {
			upperBound = m.boundaries[idx+1].StartBit
		}

		decodeFn := func(startBit bitreader.BitPosition) (*deflate.TaggedBuffer, bool, bitreader.BitPosition, error) {
			return decodeChunk(r.fr, startBit, upperBound, hasUpperBound)
		}

		var seedFn chunkcache.SeedProvider
		if idx == 0 {
			seedFn = func() (*window.Window, error) { return window.Empty(), nil }
		} else {
			prev := m.futures[idx-1]
			seedFn = func() (*window.Window, error) {
				res, err := prev.Get()
				if err != nil {
					return nil, err
				}
				return res.(*chunkcache.Chunk).TailWindow, nil
			}
		}

		future := r.cache.Get(startBit, decodeFn, seedFn)
		m.futures = append(m.futures, future)
	}
	return m.futures[i]
}

// decodeChunk runs the marker-tagged speculative decode of one chunk: it
// decodes DEFLATE blocks from startBit until either a final block is
// reached or (if hasUpperBound) the bit cursor reaches upperBound.
func decodeChunk(fr filereader.FileReader, startBit, upperBound bitreader.BitPosition, hasUpperBound bool) (*deflate.TaggedBuffer, bool, bitreader.BitPosition, error) {
	clone, err := fr.Clone()
	if err != nil {
		return nil, false, 0, err
	}
	br, err := bitreader.New(clone)
	if err != nil {
		return nil, false, 0, err
	}
	if err := br.Seek(startBit); err != nil {
		return nil, false, 0, err
	}
	buf := deflate.NewTaggedBuffer(1 << 20)
	for {
		final, err := deflate.DecodeBlock(br, buf, nil)
		if err != nil {
			return nil, false, 0, err
		}
		if final {
			return buf, true, br.Tell(), nil
		}
		if hasUpperBound && br.Tell() >= upperBound {
			return buf, false, br.Tell(), nil
		}
	}
}

// Read implements io.Reader over the uncompressed byte stream.
func (r *Reader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	if len(p) == 0 {
		return 0, nil
	}
	total := 0
	for total < len(p) {
		idx, ok := r.locateSealed(r.pos)
		if !ok {
			if err := r.advance(); err != nil {
				if err == io.EOF {
					if total == 0 {
						return 0, io.EOF
					}
					return total, nil
				}
				r.err = err
				return total, err
			}
			continue
		}
		sc := r.sealed[idx]
		offsetInChunk := int(r.pos - sc.uncompressedStart)
		n := copy(p[total:], sc.chunk.Data[offsetInChunk:])
		total += n
		r.pos += int64(n)
	}
	return total, nil
}

// Prewarm submits decode work for up to n additional chunk boundaries
// beyond whatever has already been requested in the current member, then
// waits for all of them to finish decoding concurrently, returning the
// first error encountered (if any). It lets a caller pay chunk-decode
// latency ahead of a sequential read loop instead of one chunk at a time.
// Submission itself stays in the increasing-index order requestBoundary
// requires; only the wait is fanned out.
func (r *Reader) Prewarm(n int) error {
	r.mu.Lock()
	if r.cur == nil || n <= 0 {
		r.mu.Unlock()
		return nil
	}
	start := len(r.cur.futures)
	end := start + n
	if end > len(r.cur.boundaries) {
		end = len(r.cur.boundaries)
	}
	futures := make([]*threadpool.Future, 0, end-start)
	for i := start; i < end; i++ {
		futures = append(futures, r.requestBoundary(i))
	}
	r.mu.Unlock()

	var g errgroup.Group
	for _, f := range futures {
		f := f
		g.Go(func() error {
			_, err := f.Get()
			return err
		})
	}
	return g.Wait()
}

func (r *Reader) locateSealed(pos int64) (int, bool) {
	lo, hi := 0, len(r.sealed)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		sc := r.sealed[mid]
		end := sc.uncompressedStart + int64(len(sc.chunk.Data))
		switch {
		case pos < sc.uncompressedStart:
			hi = mid - 1
		case pos >= end:
			lo = mid + 1
		default:
			return mid, true
		}
	}
	return 0, false
}

// advance seals the next chunk of the current member, moving to the next
// member (or signaling io.EOF) once the current one finishes.
func (r *Reader) advance() error {
	if r.streamExhausted {
		return io.EOF
	}
	m := r.cur
	if m.nextSeal >= len(m.boundaries) {
		// decodeChunk always runs the last boundary unbounded (until a
		// final block), so this should be unreachable in practice.
		return fmt.Errorf("parallelreader: no chunk boundary left to seal for member at %d", m.baseOffset)
	}
	idx := m.nextSeal
	future := r.requestBoundary(idx)
	if ahead := idx + r.opts.NumWorkers; ahead < len(m.boundaries) {
		r.requestBoundary(ahead)
	} else if len(m.boundaries) > 0 {
		r.requestBoundary(len(m.boundaries) - 1)
	}
	uncompressedStart := m.baseOffset
	if len(r.sealed) > 0 {
		last := r.sealed[len(r.sealed)-1]
		uncompressedStart = last.uncompressedStart + int64(len(last.chunk.Data))
	}

	res, err := future.Get()
	if err != nil {
		log.Errorf("decode failed for member at uncompressed offset %d: %v", m.baseOffset, err)
		return &ErrFormatError{ChunkStart: uncompressedStart, Err: err}
	}
	chunk := res.(*chunkcache.Chunk)

	if m.crc.use {
		m.crc.h.Write(chunk.Data)
	}

	r.sealed = append(r.sealed, sealedChunk{
		uncompressedStart: uncompressedStart,
		chunk:             chunk,
		firstOfMember:     idx == 0,
	})
	m.nextSeal++

	if chunk.Final {
		if m.crc.use {
			if err := r.verifyTrailer(chunk.StopBit, m.crc.h.Sum32()); err != nil {
				return err
			}
		}
		return r.finishMember(chunk.StopBit)
	}
	return nil
}

func (r *Reader) verifyTrailer(stopBit bitreader.BitPosition, gotCRC uint32) error {
	alignedByte := int64(stopBit+7) / 8
	clone, err := r.fr.Clone()
	if err != nil {
		return err
	}
	if _, err := clone.Seek(alignedByte, io.SeekStart); err != nil {
		return err
	}
	trailer, err := gzipheader.ParseTrailer(bufio.NewReader(clone))
	if err != nil {
		return err
	}
	if trailer.CRC32 != gotCRC {
		log.Errorf("CRC32 mismatch at trailer byte %d: got %08x, want %08x", alignedByte, gotCRC, trailer.CRC32)
		return ErrChecksumMismatch
	}
	// ISIZE is the member's uncompressed length mod 2^32; the member's
	// final chunk has just been appended to r.sealed.
	last := r.sealed[len(r.sealed)-1]
	gotSize := uint32(last.uncompressedStart + int64(len(last.chunk.Data)) - r.cur.baseOffset)
	if trailer.UncompressedSize != gotSize {
		log.Errorf("ISIZE mismatch at trailer byte %d: got %d, want %d", alignedByte, gotSize, trailer.UncompressedSize)
		return ErrChecksumMismatch
	}
	return nil
}

func (r *Reader) finishMember(stopBit bitreader.BitPosition) error {
	trailerEndByte := int64(stopBit+7)/8 + 8
	size, err := r.fr.Size()
	if err != nil {
		return err
	}
	if trailerEndByte >= size {
		log.Infof("stream exhausted after trailer ending at byte %d", trailerEndByte)
		r.streamExhausted = true
		return nil
	}
	return r.beginMemberAt(trailerEndByte)
}

// Seek repositions the logical uncompressed cursor.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = r.pos + offset
	case io.SeekEnd:
		if r.opts.Index == nil {
			return 0, errors.New("parallelreader: SeekEnd requires an Index")
		}
		target = r.opts.Index.UncompressedSize + offset
	default:
		return 0, errors.New("parallelreader: invalid whence")
	}
	if target < 0 {
		return 0, errors.New("parallelreader: negative position")
	}

	if r.opts.Index != nil {
		if cp, ok := r.opts.Index.FindCheckpoint(target); ok && (len(r.sealed) == 0 || target < r.sealed[0].uncompressedStart || target >= r.sealed[len(r.sealed)-1].uncompressedStart+int64(len(r.sealed[len(r.sealed)-1].chunk.Data))) {
			if err := r.resetToCheckpoint(cp); err != nil {
				return 0, err
			}
		}
	}
	r.err = nil
	for {
		if _, ok := r.locateSealed(target); ok {
			r.pos = target
			return target, nil
		}
		if err := r.advance(); err != nil {
			if err == io.EOF {
				r.pos = target
				return target, nil
			}
			return 0, err
		}
	}
}

func (r *Reader) resetToCheckpoint(cp gzipindex.Checkpoint) error {
	r.sealed = nil
	r.streamExhausted = false

	plan, err := r.fr.Clone()
	if err != nil {
		return err
	}
	br, err := bitreader.New(plan)
	if err != nil {
		return err
	}
	boundaries, err := chunker.Plan(br, cp.CompressedBitOffset, r.opts.ChunkSize)
	if err != nil {
		return err
	}

	m := &member{
		baseOffset: cp.UncompressedByteOffset,
		boundaries: boundaries,
		crc:        hash32Accumulator{h: crc32.NewIEEE(), use: false},
	}
	r.cur = m

	seedWindow := cp.Window
	decodeFn := func(startBit bitreader.BitPosition) (*deflate.TaggedBuffer, bool, bitreader.BitPosition, error) {
		var upperBound bitreader.BitPosition
		hasUpperBound := len(boundaries) > 1
		if hasUpperBound {
			upperBound = boundaries[1].StartBit
		}
		return decodeChunk(r.fr, startBit, upperBound, hasUpperBound)
	}
	seedFn := func() (*window.Window, error) { return seedWindow, nil }
	future := r.cache.Get(boundaries[0].StartBit, decodeFn, seedFn)
	m.futures = append(m.futures, future)
	return nil
}

// Index builds a checkpoint table from every chunk sealed so far. Callers
// that want a complete index should first drain the Reader to EOF (see the
// package-level BuildIndex helper); calling Index mid-stream yields a
// partial table covering only what has been sealed to that point.
func (r *Reader) Index() *gzipindex.Index {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := &gzipindex.Index{
		CheckpointSpacing: int64(r.opts.CheckpointSpacing),
		WindowSize:        window.Size,
		Checkpoints:       make([]gzipindex.Checkpoint, 0, len(r.sealed)),
	}
	var lastRecorded int64 = -1
	for i, sc := range r.sealed {
		spacing := int64(r.opts.CheckpointSpacing)
		if !sc.firstOfMember && spacing > 0 && lastRecorded >= 0 && sc.uncompressedStart-lastRecorded < spacing {
			continue
		}
		seed := window.Empty()
		if !sc.firstOfMember && i > 0 {
			seed = r.sealed[i-1].chunk.TailWindow
		}
		idx.Checkpoints = append(idx.Checkpoints, gzipindex.Checkpoint{
			CompressedBitOffset:    sc.chunk.StartBit,
			UncompressedByteOffset: sc.uncompressedStart,
			Window:                 seed,
		})
		lastRecorded = sc.uncompressedStart
	}
	if len(r.sealed) > 0 {
		last := r.sealed[len(r.sealed)-1]
		idx.UncompressedSize = last.uncompressedStart + int64(len(last.chunk.Data))
	}
	if size, err := r.fr.Size(); err == nil {
		idx.CompressedSize = size
	}
	return idx
}

// BuildIndex drains fr's entire gzip stream through a throwaway Reader
// purely to collect checkpoints, then returns the resulting Index.
func BuildIndex(fr filereader.FileReader, opts Options) (*gzipindex.Index, error) {
	opts.Index = nil
	r, err := New(fr, opts)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	buf := make([]byte, 1<<20)
	for {
		_, err := r.Read(buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return r.Index(), nil
}

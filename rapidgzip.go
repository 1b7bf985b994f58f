// Package rapidgzip is the module's top-level convenience API: it wraps
// filereader/parallelreader into the couple of entry points most callers
// need (Open a path, or wrap an arbitrary io.Reader/io.ReaderAt), without
// requiring callers to assemble a FileReader and Options by hand.
package rapidgzip

import (
	"io"

	"github.com/coreos/rapidgzip/filereader"
	"github.com/coreos/rapidgzip/gzipindex"
	"github.com/coreos/rapidgzip/parallelreader"
)

// Options mirrors parallelreader.Options; re-exported here so callers of
// the top-level package never need to import parallelreader directly for
// the common case.
type Options = parallelreader.Options

// Reader is the random-access decompressing reader returned by Open and
// NewReader.
type Reader = parallelreader.Reader

// Open opens the gzip (or bgzf) file at path for parallel, seekable
// decompression.
func Open(path string, opts Options) (*Reader, error) {
	fr, err := filereader.OpenStandardFile(path)
	if err != nil {
		return nil, err
	}
	r, err := parallelreader.New(fr, opts)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// NewReader wraps an already-open io.Reader (such as stdin) for
// decompression. Because a plain io.Reader can't be cloned or seeked, the
// entire stream is buffered in memory via filereader.Buffered; construction
// waits until r has been read to its end (Buffered.Size blocks until then),
// after which Reader.Seek works over the whole stream.
func NewReader(r io.Reader, opts Options) (*Reader, error) {
	fr := filereader.NewBuffered(r)
	return parallelreader.New(fr, opts)
}

// NewReaderAt wraps an in-memory byte slice for decompression, with full
// random access (BufferView supports Clone and Seek over the whole slice
// without copying).
func NewReaderAt(data []byte, opts Options) (*Reader, error) {
	fr := filereader.NewBufferView(data)
	return parallelreader.New(fr, opts)
}

// BuildIndex decodes the entirety of r (discarding the uncompressed bytes)
// purely to collect checkpoints, then returns the resulting index. Callers
// who already read the whole stream once should instead accumulate
// checkpoints from that pass; BuildIndex is for producing a standalone
// .gzidx file up front.
func BuildIndex(path string, checkpointSpacing int) (*gzipindex.Index, error) {
	fr, err := filereader.OpenStandardFile(path)
	if err != nil {
		return nil, err
	}
	defer fr.Close()

	opts := Options{CheckpointSpacing: checkpointSpacing}
	idx, err := parallelreader.BuildIndex(fr, opts)
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// Package bitreader provides a random-access, bitwise view over a
// filereader.FileReader. Bits are consumed least-significant-bit first
// within each byte, the DEFLATE convention (RFC 1951 §3.1.1).
package bitreader

import (
	"bufio"
	"errors"
	"io"

	"github.com/coreos/rapidgzip/filereader"
)

// ErrEndOfStream signals normal exhaustion of the underlying byte source,
// distinguished from corrupt-input errors the way the teacher's flate fork
// distinguishes io.EOF from CorruptInputError.
var ErrEndOfStream = errors.New("bitreader: end of stream")

// BitPosition is a 64-bit count of bits from the start of the compressed
// stream. bytes = bits/8, subbit = bits%8.
type BitPosition uint64

// Bytes returns the whole-byte offset containing this bit position.
func (p BitPosition) Bytes() int64 { return int64(p / 8) }

// SubBit returns the bit offset (0-7) within Bytes().
func (p BitPosition) SubBit() uint { return uint(p % 8) }

// byteSource adapts a filereader.FileReader to io.Reader so it can be
// wrapped in a bufio.Reader for amortized O(1) sequential reads, mirroring
// how the teacher's flate.Reader interface falls back to bufio.NewReader
// when the source doesn't already buffer (see pgzip's makeReader).
type byteSource struct {
	fr filereader.FileReader
}

func (b byteSource) Read(p []byte) (int, error) { return b.fr.Read(p) }

// BitReader exposes peek/read/seek over a FileReader at bit granularity.
type BitReader struct {
	fr  filereader.FileReader
	buf *bufio.Reader

	// pending holds bytes pulled ahead of the logical cursor; pending[0]'s
	// low bitOff bits have already been consumed.
	pending []byte
	bitOff  uint

	srcBytePos int64 // bytes pulled from fr into pending so far
	size       int64 // total size of fr, in bytes
	shortfall  bool  // true once fr has been exhausted
}

// New constructs a BitReader starting at fr's current position.
func New(fr filereader.FileReader) (*BitReader, error) {
	size, err := fr.Size()
	if err != nil {
		return nil, err
	}
	pos, err := fr.Tell()
	if err != nil {
		return nil, err
	}
	r := &BitReader{
		fr:         fr,
		buf:        bufio.NewReaderSize(byteSource{fr}, 64*1024),
		srcBytePos: pos,
		size:       size,
	}
	return r, nil
}

// Size returns the total size of the underlying stream in bits.
func (r *BitReader) Size() BitPosition { return BitPosition(r.size) * 8 }

// Tell returns the current bit position.
func (r *BitReader) Tell() BitPosition {
	consumedBytes := r.srcBytePos - int64(len(r.pending))
	return BitPosition(consumedBytes)*8 + BitPosition(r.bitOff)
}

// ensure pulls bytes from the source until at least n bits are buffered, or
// the source is exhausted.
func (r *BitReader) ensure(n uint) error {
	for uint64(len(r.pending))*8-uint64(r.bitOff) < uint64(n) {
		b, err := r.buf.ReadByte()
		if err != nil {
			r.shortfall = true
			if err == io.EOF {
				return ErrEndOfStream
			}
			return err
		}
		r.pending = append(r.pending, b)
		r.srcBytePos++
	}
	return nil
}

// extract builds an n-bit (n<=64) LSB-first value out of pending, treating
// any bits beyond what's actually buffered as zero.
func (r *BitReader) extract(n uint) uint64 {
	var v uint64
	var filled uint
	for i := 0; filled < n && i < len(r.pending); i++ {
		b := uint64(r.pending[i])
		avail := uint(8)
		if i == 0 {
			b >>= r.bitOff
			avail -= r.bitOff
		}
		take := n - filled
		if take > avail {
			take = avail
		}
		mask := uint64(1)<<take - 1
		v |= (b & mask) << filled
		filled += take
	}
	return v
}

// Peek returns the next n (0<=n<=64) bits without consuming them. Near the
// end of the stream it tolerates returning fewer real bits than requested,
// zero-padding the remainder, as long as at least one byte was available;
// callers must not Consume past the true end (Consume clamps defensively,
// but a subsequent Peek/Read will then report ErrEndOfStream).
func (r *BitReader) Peek(n uint) (uint64, error) {
	if n == 0 {
		return 0, nil
	}
	if n > 64 {
		return 0, errors.New("bitreader: n must be <= 64")
	}
	err := r.ensure(n)
	if err != nil && len(r.pending) == 0 {
		return 0, err
	}
	return r.extract(n), nil
}

// Consume advances the cursor by n bits that were already returned by Peek
// (or are assumed available). This is the "seekAfterPeek" operation from
// the component contract.
func (r *BitReader) Consume(n uint) {
	r.ensure(n)
	total := r.bitOff + n
	dropBytes := total / 8
	if int(dropBytes) > len(r.pending) {
		// Consuming past what we actually have buffered: clamp and let the
		// next Peek/Read discover the shortfall via ensure().
		r.pending = r.pending[:0]
		r.bitOff = 0
		return
	}
	r.pending = r.pending[dropBytes:]
	r.bitOff = total % 8
}

// SeekAfterPeek is an alias for Consume, named to match the component
// contract in the specification.
func (r *BitReader) SeekAfterPeek(n uint) { r.Consume(n) }

// Read returns and consumes the next n bits.
func (r *BitReader) Read(n uint) (uint64, error) {
	v, err := r.Peek(n)
	if err != nil {
		return 0, err
	}
	r.Consume(n)
	return v, nil
}

// AlignToByte discards any bits remaining in the current partially-consumed
// byte, as required before reading a STORED block's LEN/~LEN/data fields.
func (r *BitReader) AlignToByte() {
	if r.bitOff != 0 {
		r.pending = r.pending[1:]
		r.bitOff = 0
	}
}

// AlignToByteChecked is AlignToByte, additionally reporting whether the
// discarded padding bits were all zero (DEFLATE requires this before a
// STORED block).
func (r *BitReader) AlignToByteChecked() (zeroPadding bool) {
	zeroPadding = true
	if r.bitOff != 0 {
		b := r.pending[0]
		if b>>r.bitOff != 0 {
			zeroPadding = false
		}
	}
	r.AlignToByte()
	return zeroPadding
}

// ReadAlignedBytes reads n raw bytes starting at a byte-aligned position
// (call AlignToByte first if needed).
func (r *BitReader) ReadAlignedBytes(n int) ([]byte, error) {
	out := make([]byte, n)
	for i := range out {
		v, err := r.Read(8)
		if err != nil {
			return nil, err
		}
		out[i] = byte(v)
	}
	return out, nil
}

// Seek repositions the cursor to an arbitrary bit position, discarding any
// buffered lookahead.
func (r *BitReader) Seek(pos BitPosition) error {
	byteIdx := int64(pos) / 8
	bit := uint(int64(pos) % 8)
	if _, err := r.fr.Seek(byteIdx, io.SeekStart); err != nil {
		return err
	}
	r.buf.Reset(byteSource{r.fr})
	r.pending = r.pending[:0]
	r.bitOff = 0
	r.srcBytePos = byteIdx
	r.shortfall = false
	if bit != 0 {
		if err := r.ensure(1); err != nil {
			return err
		}
		r.bitOff = bit
	}
	return nil
}

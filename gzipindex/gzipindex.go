// Package gzipindex reads and writes the bit-exact binary checkpoint
// format used to seed random-access reads without rescanning a
// compressed stream. It plays the role the teacher's zran.Index plays in
// zran.go (an in-memory list of access points with enough decoder state
// to resume), but serializes to a fixed little-endian layout instead of
// keeping the points only in memory, and stores a compact Window instead
// of zran's full saved Huffman-decoder/history snapshot — DEFLATE
// back-reference distance is bounded at 32 KiB, so the uncompressed
// window alone is sufficient to resume decoding (the bit position plus a
// marker-tagged decode from there reconstructs everything zran captured
// imperatively).
package gzipindex

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"errors"
	"io"

	"github.com/coreos/rapidgzip/bitreader"
	"github.com/coreos/rapidgzip/window"
)

// Magic is the 6-byte file signature.
var Magic = [6]byte{'G', 'Z', 'I', 'D', 'X', 0}

// FormatVersion is the only version this package writes or accepts.
const FormatVersion = 1

const headerSize = 40  // up to and including numCheckpoints
const entrySize = 24    // compressedBitOffset(8) + uncompressedByteOffset(8) + windowSize(4) + windowFlags(4)

const windowFlagCompressed = 1 << 0

// Checkpoint is one access point: enough to resume decoding at
// CompressedBitOffset with Window as the seed.
type Checkpoint struct {
	CompressedBitOffset    bitreader.BitPosition
	UncompressedByteOffset int64
	Window                 *window.Window
}

// Index is a complete checkpoint table for one gzip stream.
type Index struct {
	CompressedSize     int64
	UncompressedSize    int64
	CheckpointSpacing   int64
	WindowSize          uint32
	Checkpoints         []Checkpoint
}

var (
	// ErrBadMagic is returned when the input doesn't start with Magic.
	ErrBadMagic = errors.New("gzipindex: bad magic")
	// ErrUnsupportedVersion is returned for a format version this package
	// doesn't understand.
	ErrUnsupportedVersion = errors.New("gzipindex: unsupported format version")
	// ErrTruncated is returned when the input ends before a declared
	// field or window could be fully read.
	ErrTruncated = errors.New("gzipindex: truncated index")
)

// Write serializes idx in the GZIDX format described in the
// specification, compressing each non-empty window with raw DEFLATE at an
// empty dictionary (matching how the window was itself produced — plain
// decoded bytes, not gzip-framed); a window whose compressed form is not
// smaller is stored raw instead.
func Write(w io.Writer, idx *Index) error {
	var header bytes.Buffer
	header.Write(Magic[:])
	header.WriteByte(FormatVersion)
	header.WriteByte(0) // reserved
	var tmp [8]byte
	putUint64 := func(v uint64) {
		binary.LittleEndian.PutUint64(tmp[:8], v)
		header.Write(tmp[:8])
	}
	putUint64(uint64(idx.CompressedSize))
	putUint64(uint64(idx.UncompressedSize))
	putUint64(uint64(idx.CheckpointSpacing))
	var tmp4 [4]byte
	binary.LittleEndian.PutUint32(tmp4[:], idx.WindowSize)
	header.Write(tmp4[:])
	binary.LittleEndian.PutUint32(tmp4[:], uint32(len(idx.Checkpoints)))
	header.Write(tmp4[:])

	if header.Len() != headerSize {
		panic("gzipindex: header layout drifted from spec")
	}
	if _, err := w.Write(header.Bytes()); err != nil {
		return err
	}

	type encodedWindow struct {
		data       []byte
		compressed bool
	}
	encoded := make([]encodedWindow, len(idx.Checkpoints))
	for i, cp := range idx.Checkpoints {
		raw := cp.Window.Bytes()
		if len(raw) == 0 {
			encoded[i] = encodedWindow{}
			continue
		}
		var buf bytes.Buffer
		fw, _ := flate.NewWriter(&buf, flate.BestSpeed)
		if _, err := fw.Write(raw); err != nil {
			return err
		}
		if err := fw.Close(); err != nil {
			return err
		}
		if buf.Len() < len(raw) {
			encoded[i] = encodedWindow{data: buf.Bytes(), compressed: true}
		} else {
			encoded[i] = encodedWindow{data: raw, compressed: false}
		}
	}

	for i, cp := range idx.Checkpoints {
		var entry [entrySize]byte
		binary.LittleEndian.PutUint64(entry[0:8], uint64(cp.CompressedBitOffset))
		binary.LittleEndian.PutUint64(entry[8:16], uint64(cp.UncompressedByteOffset))
		binary.LittleEndian.PutUint32(entry[16:20], uint32(len(encoded[i].data)))
		var flags uint32
		if encoded[i].compressed {
			flags |= windowFlagCompressed
		}
		binary.LittleEndian.PutUint32(entry[20:24], flags)
		if _, err := w.Write(entry[:]); err != nil {
			return err
		}
	}
	for _, e := range encoded {
		if _, err := w.Write(e.data); err != nil {
			return err
		}
	}
	return nil
}

// Read parses an Index previously produced by Write.
func Read(r io.Reader) (*Index, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, ErrTruncated
		}
		return nil, err
	}
	if !bytes.Equal(header[0:6], Magic[:]) {
		return nil, ErrBadMagic
	}
	if header[6] != FormatVersion {
		return nil, ErrUnsupportedVersion
	}

	idx := &Index{
		CompressedSize:    int64(binary.LittleEndian.Uint64(header[8:16])),
		UncompressedSize:  int64(binary.LittleEndian.Uint64(header[16:24])),
		CheckpointSpacing: int64(binary.LittleEndian.Uint64(header[24:32])),
		WindowSize:        binary.LittleEndian.Uint32(header[32:36]),
	}
	numCheckpoints := binary.LittleEndian.Uint32(header[36:40])

	type rawEntry struct {
		compressedBitOffset    uint64
		uncompressedByteOffset uint64
		windowSize             uint32
		flags                  uint32
	}
	rawEntries := make([]rawEntry, numCheckpoints)
	entryBuf := make([]byte, entrySize)
	for i := range rawEntries {
		if _, err := io.ReadFull(r, entryBuf); err != nil {
			return nil, ErrTruncated
		}
		rawEntries[i] = rawEntry{
			compressedBitOffset:    binary.LittleEndian.Uint64(entryBuf[0:8]),
			uncompressedByteOffset: binary.LittleEndian.Uint64(entryBuf[8:16]),
			windowSize:             binary.LittleEndian.Uint32(entryBuf[16:20]),
			flags:                  binary.LittleEndian.Uint32(entryBuf[20:24]),
		}
	}

	idx.Checkpoints = make([]Checkpoint, numCheckpoints)
	for i, re := range rawEntries {
		cp := Checkpoint{
			CompressedBitOffset:    bitreader.BitPosition(re.compressedBitOffset),
			UncompressedByteOffset: int64(re.uncompressedByteOffset),
		}
		if re.windowSize == 0 {
			cp.Window = window.Empty()
			idx.Checkpoints[i] = cp
			continue
		}
		raw := make([]byte, re.windowSize)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, ErrTruncated
		}
		if re.flags&windowFlagCompressed != 0 {
			fr := flate.NewReader(bytes.NewReader(raw))
			decoded, err := io.ReadAll(fr)
			if err != nil {
				return nil, err
			}
			if err := fr.Close(); err != nil {
				return nil, err
			}
			cp.Window = window.New(decoded)
		} else {
			cp.Window = window.New(raw)
		}
		idx.Checkpoints[i] = cp
	}
	return idx, nil
}

// FindCheckpoint returns the latest checkpoint with UncompressedByteOffset
// <= offset, mirroring zran.Extract's reverse linear scan but via binary
// search since Checkpoints is sorted by construction.
func (idx *Index) FindCheckpoint(offset int64) (Checkpoint, bool) {
	lo, hi := 0, len(idx.Checkpoints)-1
	best := -1
	for lo <= hi {
		mid := (lo + hi) / 2
		if idx.Checkpoints[mid].UncompressedByteOffset <= offset {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	if best < 0 {
		return Checkpoint{}, false
	}
	return idx.Checkpoints[best], true
}

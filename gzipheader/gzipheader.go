// Package gzipheader parses RFC 1952 gzip member headers and trailers. The
// field layout and flag bits are adapted from the teacher's gzran/gzip
// fork of compress/gzip, generalized here to report the exact byte length
// consumed (needed by parallelreader to locate each member's first DEFLATE
// bit precisely) rather than only the decoded metadata.
package gzipheader

import (
	"bytes"
	"errors"
	"time"
)

const (
	id1     = 0x1f
	id2     = 0x8b
	deflate = 8

	flagText    = 1 << 0
	flagHdrCRC  = 1 << 1
	flagExtra   = 1 << 2
	flagName    = 1 << 3
	flagComment = 1 << 4
)

// ErrHeader is returned for a malformed or unsupported gzip member header.
var ErrHeader = errors.New("gzipheader: invalid gzip header")

// Header is the decoded metadata of one gzip member.
type Header struct {
	Name    string
	Comment string
	Extra   []byte
	ModTime time.Time
	OS      byte
	HasCRC  bool

	// HeaderLength is the number of bytes from the member's first byte
	// (the 0x1f ID) to the first bit of the DEFLATE stream, inclusive of
	// any FEXTRA/FNAME/FCOMMENT/FHCRC fields.
	HeaderLength int
}

// byteReader is the minimal contract gzipheader needs of its source: any
// io.ByteReader, such as the *bufio.Reader that parallelreader passes in.
// A *bitreader.BitReader does not satisfy it (it has no ReadByte method).
type byteReader interface {
	ReadByte() (byte, error)
}

func readUint32LE(r byteReader) (uint32, error) {
	var v uint32
	for i := uint(0); i < 4; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= uint32(b) << (8 * i)
	}
	return v, nil
}

// Parse reads one gzip member header from r, which must be positioned at
// the member's first byte.
func Parse(r byteReader) (*Header, error) {
	h := &Header{}
	n := 0
	readByte := func() (byte, error) {
		b, err := r.ReadByte()
		if err == nil {
			n++
		}
		return b, err
	}

	b0, err := readByte()
	if err != nil {
		return nil, err
	}
	b1, err := readByte()
	if err != nil {
		return nil, err
	}
	if b0 != id1 || b1 != id2 {
		return nil, ErrHeader
	}
	cm, err := readByte()
	if err != nil {
		return nil, err
	}
	if cm != deflate {
		return nil, ErrHeader
	}
	flg, err := readByte()
	if err != nil {
		return nil, err
	}

	var mtimeBytes [4]byte
	for i := range mtimeBytes {
		mtimeBytes[i], err = readByte()
		if err != nil {
			return nil, err
		}
	}
	mtime := uint32(mtimeBytes[0]) | uint32(mtimeBytes[1])<<8 | uint32(mtimeBytes[2])<<16 | uint32(mtimeBytes[3])<<24
	if mtime > 0 {
		h.ModTime = time.Unix(int64(mtime), 0)
	}

	if _, err := readByte(); err != nil { // XFL, unused
		return nil, err
	}
	osByte, err := readByte()
	if err != nil {
		return nil, err
	}
	h.OS = osByte

	if flg&flagExtra != 0 {
		xlo, err := readByte()
		if err != nil {
			return nil, err
		}
		xhi, err := readByte()
		if err != nil {
			return nil, err
		}
		xlen := int(xlo) | int(xhi)<<8
		extra := make([]byte, xlen)
		for i := range extra {
			extra[i], err = readByte()
			if err != nil {
				return nil, err
			}
		}
		h.Extra = extra
	}
	if flg&flagName != 0 {
		var buf bytes.Buffer
		for {
			c, err := readByte()
			if err != nil {
				return nil, err
			}
			if c == 0 {
				break
			}
			buf.WriteByte(c)
		}
		h.Name = buf.String()
	}
	if flg&flagComment != 0 {
		var buf bytes.Buffer
		for {
			c, err := readByte()
			if err != nil {
				return nil, err
			}
			if c == 0 {
				break
			}
			buf.WriteByte(c)
		}
		h.Comment = buf.String()
	}
	if flg&flagHdrCRC != 0 {
		if _, err := readByte(); err != nil {
			return nil, err
		}
		if _, err := readByte(); err != nil {
			return nil, err
		}
		h.HasCRC = true
	}

	h.HeaderLength = n
	return h, nil
}

// Trailer is the 8-byte RFC 1952 footer: CRC-32 and uncompressed size mod
// 2^32, both little-endian.
type Trailer struct {
	CRC32           uint32
	UncompressedSize uint32
}

// ParseTrailer reads the 8-byte trailer following a member's DEFLATE
// stream.
func ParseTrailer(r byteReader) (*Trailer, error) {
	crc, err := readUint32LE(r)
	if err != nil {
		return nil, err
	}
	size, err := readUint32LE(r)
	if err != nil {
		return nil, err
	}
	return &Trailer{CRC32: crc, UncompressedSize: size}, nil
}

// Package deflate decodes a single DEFLATE block (RFC 1951) at a time,
// writing into a TaggedBuffer that can resolve back-references against a
// seed window supplied either immediately or — for speculative, seedless
// decoding of a chunk whose predecessor hasn't sealed yet — after the fact.
//
// The bit-level grammar (block header, STORED/FIXED/DYNAMIC handling,
// dynamic Huffman-table construction) is adapted from the teacher's
// compress/flate fork in zran/flate/inflate.go, restructured as a one-shot
// decoder over an external window rather than an io.Reader with an internal
// ring-buffer history.
package deflate

import (
	"errors"
	"fmt"

	"github.com/coreos/rapidgzip/bitreader"
	"github.com/coreos/rapidgzip/huffman"
	"github.com/coreos/rapidgzip/window"
)

// RFC 1951 §3.2.7 alphabet size limits.
const (
	MaxLiteralOrLengthSymbols = 286
	MaxDistanceSymbolCount    = 30
	NumCodeLengthCodes        = 19
)

// BlockType is the 2-bit DEFLATE block type field.
type BlockType int

const (
	Stored BlockType = iota
	Fixed
	Dynamic
)

// ErrorKind enumerates DeflateBlock's format-error taxonomy (§7).
type ErrorKind int

const (
	InvalidCompression ErrorKind = iota + 1
	LengthChecksumMismatch
	NonZeroPadding
	ExceededLiteralRange
	ExceededDistanceRange
	InvalidCLBackreference
	ExceededWindowRange
	InvalidBackreference
	UnexpectedLastBlock
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidCompression:
		return "INVALID_COMPRESSION"
	case LengthChecksumMismatch:
		return "LENGTH_CHECKSUM_MISMATCH"
	case NonZeroPadding:
		return "NON_ZERO_PADDING"
	case ExceededLiteralRange:
		return "EXCEEDED_LITERAL_RANGE"
	case ExceededDistanceRange:
		return "EXCEEDED_DISTANCE_RANGE"
	case InvalidCLBackreference:
		return "INVALID_CL_BACKREFERENCE"
	case ExceededWindowRange:
		return "EXCEEDED_WINDOW_RANGE"
	case InvalidBackreference:
		return "INVALID_BACKREFERENCE"
	case UnexpectedLastBlock:
		return "UNEXPECTED_LAST_BLOCK"
	default:
		return fmt.Sprintf("deflate.ErrorKind(%d)", int(k))
	}
}

// Error wraps an ErrorKind as an error, optionally carrying the bit offset
// at which it was detected (for CorruptInputError-style diagnostics).
type Error struct {
	Kind ErrorKind
	At   bitreader.BitPosition
}

func (e *Error) Error() string {
	return fmt.Sprintf("deflate: %s at bit %d", e.Kind, e.At)
}

var errInvalidBits = errors.New("deflate: internal error decoding code lengths")

// Placeholder marks a TaggedBuffer position whose value is not yet known:
// it is `distanceBeforeStart` bytes before the chunk's start, to be
// resolved once the chunk's seed window is known.
type Placeholder struct {
	Pos              int
	DistanceBeforeStart int
}

// TaggedBuffer is the marker-tagged output of one or more DeflateBlock
// decodes against a chunk: each position is either a resolved literal byte
// or an unresolved back-reference into the (not yet known) seed window —
// the mechanism that lets chunk k begin decoding before chunk k-1 has
// sealed (§4.7, §9).
type TaggedBuffer struct {
	Data       []byte
	resolved   []bool
	extDist    []int
	Unresolved []Placeholder
}

// NewTaggedBuffer returns an empty buffer with capacity hint cap.
func NewTaggedBuffer(capHint int) *TaggedBuffer {
	return &TaggedBuffer{
		Data:     make([]byte, 0, capHint),
		resolved: make([]bool, 0, capHint),
	}
}

func (t *TaggedBuffer) writeLiteral(b byte) {
	t.Data = append(t.Data, b)
	t.resolved = append(t.resolved, true)
}

// writeCopy appends length bytes copied from distance bytes back, tagging
// any position that reaches before the start of the buffer as unresolved.
func (t *TaggedBuffer) writeCopy(distance, length int) {
	for k := 0; k < length; k++ {
		i := len(t.Data)
		s := i - distance
		if s >= 0 {
			if t.resolved[s] {
				t.Data = append(t.Data, t.Data[s])
				t.resolved = append(t.resolved, true)
			} else {
				t.Data = append(t.Data, 0)
				t.resolved = append(t.resolved, false)
				d := t.extDistAt(s)
				for len(t.extDist) < len(t.Data) {
					t.extDist = append(t.extDist, 0)
				}
				t.extDist[len(t.Data)-1] = d
				t.Unresolved = append(t.Unresolved, Placeholder{Pos: len(t.Data) - 1, DistanceBeforeStart: d})
			}
		} else {
			before := -s
			t.Data = append(t.Data, 0)
			t.resolved = append(t.resolved, false)
			for len(t.extDist) < len(t.Data) {
				t.extDist = append(t.extDist, 0)
			}
			t.extDist[len(t.Data)-1] = before
			t.Unresolved = append(t.Unresolved, Placeholder{Pos: len(t.Data) - 1, DistanceBeforeStart: before})
		}
	}
}

func (t *TaggedBuffer) extDistAt(pos int) int {
	if pos < len(t.extDist) {
		return t.extDist[pos]
	}
	return 0
}

// Resolve patches every unresolved position by looking it up in seed, the
// now-known window that preceded this buffer's start. It is an error for
// any placeholder to reach beyond what seed holds.
func (t *TaggedBuffer) Resolve(seed *window.Window) error {
	for _, p := range t.Unresolved {
		b, ok := seed.At(p.DistanceBeforeStart)
		if !ok {
			if seed.Len() == 0 {
				return &Error{Kind: InvalidBackreference}
			}
			return &Error{Kind: ExceededWindowRange}
		}
		t.Data[p.Pos] = b
	}
	t.Unresolved = nil
	return nil
}

// bitSrc is the subset of *bitreader.BitReader used here, local so the unit
// tests can supply a fake.
type bitSrc interface {
	Peek(n uint) (uint64, error)
	Read(n uint) (uint64, error)
	Consume(n uint)
	Tell() bitreader.BitPosition
	AlignToByteChecked() bool
	ReadAlignedBytes(n int) ([]byte, error)
}

var fixedLiteralDecoder, fixedDistanceDecoder *huffman.Decoder

func init() {
	var err error
	fixedLiteralDecoder, err = huffman.New(fixedLiteralLengths())
	if err != nil {
		panic("deflate: fixed literal/length table is malformed: " + err.Error())
	}
	fixedDistanceDecoder, err = huffman.New(fixedDistanceLengths())
	if err != nil {
		panic("deflate: fixed distance table is malformed: " + err.Error())
	}
}

// DecodeBlock decodes exactly one DEFLATE block starting at br's current
// position, appending the output to buf. seed is nil to decode
// speculatively (back-references before buf's start become Placeholders),
// or the confirmed — possibly empty — window preceding buf's start, in
// which case back-references are resolved immediately and an out-of-range
// reference is a hard error.
func DecodeBlock(br bitSrc, buf *TaggedBuffer, seed *window.Window) (final bool, err error) {
	startBit := br.Tell()
	header, err := br.Read(3)
	if err != nil {
		return false, err
	}
	final = header&1 == 1
	switch BlockType((header >> 1) & 3) {
	case Stored:
		if err := decodeStored(br, buf); err != nil {
			return final, err
		}
	case Fixed:
		if err := decodeHuffmanBlock(br, buf, seed, fixedLiteralDecoder, fixedDistanceDecoder); err != nil {
			return final, err
		}
	case Dynamic:
		lit, dist, err := readDynamicTables(br)
		if err != nil {
			return final, err
		}
		if err := decodeHuffmanBlock(br, buf, seed, lit, dist); err != nil {
			return final, err
		}
	default:
		return final, &Error{Kind: InvalidCompression, At: startBit}
	}
	return final, nil
}

func decodeStored(br bitSrc, buf *TaggedBuffer) error {
	if !br.AlignToByteChecked() {
		return &Error{Kind: NonZeroPadding, At: br.Tell()}
	}
	header, err := br.ReadAlignedBytes(4)
	if err != nil {
		return err
	}
	length := int(header[0]) | int(header[1])<<8
	complement := int(header[2]) | int(header[3])<<8
	if length != complement^0xFFFF {
		return &Error{Kind: LengthChecksumMismatch, At: br.Tell()}
	}
	data, err := br.ReadAlignedBytes(length)
	if err != nil {
		return err
	}
	for _, b := range data {
		buf.writeLiteral(b)
	}
	return nil
}

func readDynamicTables(br bitSrc) (lit, dist *huffman.Decoder, err error) {
	header, err := br.Read(5 + 5 + 4)
	if err != nil {
		return nil, nil, err
	}
	nlit := int(header&0x1F) + 257
	ndist := int((header>>5)&0x1F) + 1
	nclen := int((header>>10)&0xF) + 4
	if nlit > MaxLiteralOrLengthSymbols {
		return nil, nil, &Error{Kind: ExceededLiteralRange, At: br.Tell()}
	}
	if ndist > MaxDistanceSymbolCount {
		return nil, nil, &Error{Kind: ExceededDistanceRange, At: br.Tell()}
	}
	if nclen > NumCodeLengthCodes {
		return nil, nil, &Error{Kind: ExceededLiteralRange, At: br.Tell()}
	}

	var clLengths [NumCodeLengthCodes]int
	for i := 0; i < nclen; i++ {
		v, err := br.Read(3)
		if err != nil {
			return nil, nil, err
		}
		clLengths[codeLengthOrder[i]] = int(v)
	}
	clDecoder, err := huffman.New(clLengths[:])
	if err != nil {
		return nil, nil, wrapHuffmanErr(err, br.Tell())
	}

	total := nlit + ndist
	lengths := make([]int, 0, total)
	for len(lengths) < total {
		sym, err := clDecoder.Decode(br)
		if err != nil {
			return nil, nil, wrapHuffmanErr(err, br.Tell())
		}
		switch {
		case sym < 16:
			lengths = append(lengths, sym)
		case sym == 16:
			if len(lengths) == 0 {
				return nil, nil, &Error{Kind: InvalidCLBackreference, At: br.Tell()}
			}
			v, err := br.Read(2)
			if err != nil {
				return nil, nil, err
			}
			prev := lengths[len(lengths)-1]
			for i := 0; i < int(v)+3; i++ {
				lengths = append(lengths, prev)
			}
		case sym == 17:
			v, err := br.Read(3)
			if err != nil {
				return nil, nil, err
			}
			for i := 0; i < int(v)+3; i++ {
				lengths = append(lengths, 0)
			}
		case sym == 18:
			v, err := br.Read(7)
			if err != nil {
				return nil, nil, err
			}
			for i := 0; i < int(v)+11; i++ {
				lengths = append(lengths, 0)
			}
		default:
			return nil, nil, errInvalidBits
		}
	}
	if len(lengths) != total {
		return nil, nil, &Error{Kind: ExceededLiteralRange, At: br.Tell()}
	}

	lit, err = huffman.New(lengths[:nlit])
	if err != nil {
		return nil, nil, wrapHuffmanErr(err, br.Tell())
	}
	dist, err = huffman.New(lengths[nlit:])
	if err != nil {
		return nil, nil, wrapHuffmanErr(err, br.Tell())
	}
	return lit, dist, nil
}

func wrapHuffmanErr(err error, at bitreader.BitPosition) error {
	var he *huffman.Error
	if errors.As(err, &he) {
		switch he.Kind {
		case huffman.EmptyAlphabet:
			return &Error{Kind: ExceededLiteralRange, At: at}
		case huffman.InvalidHuffmanCode:
			return &Error{Kind: InvalidCLBackreference, At: at}
		default:
			return &Error{Kind: InvalidCompression, At: at}
		}
	}
	return err
}

func decodeHuffmanBlock(br bitSrc, buf *TaggedBuffer, seed *window.Window, lit, dist *huffman.Decoder) error {
	for {
		sym, err := lit.Decode(br)
		if err != nil {
			return wrapDecodeErr(err, br.Tell())
		}
		switch {
		case sym < 256:
			buf.writeLiteral(byte(sym))
		case sym == 256:
			return nil
		default:
			idx := sym - 257
			if idx >= len(lengthBase) {
				return &Error{Kind: ExceededLiteralRange, At: br.Tell()}
			}
			length := lengthBase[idx]
			if lengthExtraBits[idx] > 0 {
				v, err := br.Read(lengthExtraBits[idx])
				if err != nil {
					return err
				}
				length += int(v)
			}
			distSym, err := dist.Decode(br)
			if err != nil {
				return wrapDecodeErr(err, br.Tell())
			}
			if distSym >= len(distanceBase) {
				return &Error{Kind: ExceededDistanceRange, At: br.Tell()}
			}
			distance := distanceBase[distSym]
			if distanceExtraBits[distSym] > 0 {
				v, err := br.Read(distanceExtraBits[distSym])
				if err != nil {
					return err
				}
				distance += int(v)
			}
			if distance > window.Size {
				return &Error{Kind: ExceededWindowRange, At: br.Tell()}
			}
			if seed != nil {
				// Seed known: resolve any before-start reach immediately.
				i := len(buf.Data)
				if distance > i {
					before := distance - i
					if before > seed.Len() {
						if seed.Len() == 0 {
							return &Error{Kind: InvalidBackreference, At: br.Tell()}
						}
						return &Error{Kind: ExceededWindowRange, At: br.Tell()}
					}
					// Materialize the seed-sourced prefix of this copy
					// directly, then continue the in-buffer copy for the
					// remainder.
					remaining := length
					for remaining > 0 && distance-i > 0 {
						b, _ := seed.At(distance - i)
						buf.writeLiteral(b)
						i++
						remaining--
					}
					if remaining > 0 {
						buf.writeCopy(distance, remaining)
					}
					continue
				}
			}
			buf.writeCopy(distance, length)
		}
	}
}

func wrapDecodeErr(err error, at bitreader.BitPosition) error {
	var he *huffman.Error
	if errors.As(err, &he) {
		return &Error{Kind: InvalidBackreference, At: at}
	}
	return err
}

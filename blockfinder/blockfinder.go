// Package blockfinder locates bit offsets at which a DEFLATE block
// plausibly begins, for splitting a compressed stream into chunks when no
// index is available. It mirrors the teacher's zran.BuildIndex scanning
// loop in spirit (walk the stream, stopping at decode-verified points) but
// replaces zran's "decode everything, checkpoint every span" strategy with
// a skip-ahead lookup table so candidates can be found without decoding
// the bytes in between.
package blockfinder

import (
	"github.com/coreos/rapidgzip/bitreader"
	"github.com/coreos/rapidgzip/deflate"
)

// PredicateBits is the width of the structural validity predicate: 1 bit
// final + 2 bits type + 5 bits HLIT + 5 bits HDIST.
const PredicateBits = 13

const predicateSize = 1 << PredicateBits

// IsCandidate reports whether the low PredicateBits bits of a peeked value
// satisfy the structural predicate from the specification: type must be
// DYNAMIC (0b10), and both HLIT and HDIST must leave the literal/length and
// distance alphabets within their DEFLATE-mandated bounds.
func IsCandidate(bits uint16) bool {
	bits &= predicateSize - 1
	blockType := (bits >> 1) & 0x3
	if blockType != 0x2 {
		return false
	}
	hlit := (bits >> 3) & 0x1F
	hdist := (bits >> 8) & 0x1F
	return hlit <= 29 && hdist <= 29
}

// shiftLUT[bits] is 0 when bits already satisfies IsCandidate, else the
// smallest positive shift s such that some completion of the unknown bits
// beyond what's fixed by a right-shift of s could still be a candidate —
// the NEXT_DEFLATE_CANDIDATE_LUT of the specification.
var shiftLUT [predicateSize]uint8

func init() {
	var valid [predicateSize]bool
	for x := 0; x < predicateSize; x++ {
		valid[x] = IsCandidate(uint16(x))
	}

	// prefixReachable[s][p] is true when some valid x has its low
	// PredicateBits-s bits equal to p; used to answer, for each shift s,
	// "does any candidate agree with what we already know after discarding
	// the low s bits as consumed" (the known bits x>>s become the low bits
	// of the window s bits later).
	prefixReachable := make([][]bool, PredicateBits+1)
	for s := 0; s <= PredicateBits; s++ {
		size := 1 << (PredicateBits - s)
		reachable := make([]bool, size)
		for x := 0; x < predicateSize; x++ {
			if valid[x] {
				reachable[x&(size-1)] = true
			}
		}
		prefixReachable[s] = reachable
	}

	for x := 0; x < predicateSize; x++ {
		if valid[x] {
			shiftLUT[x] = 0
			continue
		}
		for s := 1; s <= PredicateBits; s++ {
			if prefixReachable[s][x>>uint(s)] {
				shiftLUT[x] = uint8(s)
				break
			}
		}
	}
}

// NextCandidate scans br, starting at startBit, for the next bit offset
// that passes both the structural predicate and a speculative trial decode
// (see verify: the dynamic Huffman header and the blocks that follow, up to
// verifyWindow bytes of output or the final block). It
// returns ok=false, with br left past the scanned range, if the stream is
// exhausted before a candidate verifies.
func NextCandidate(br *bitreader.BitReader, startBit bitreader.BitPosition) (pos bitreader.BitPosition, ok bool, err error) {
	if err := br.Seek(startBit); err != nil {
		return 0, false, err
	}
	pos = startBit
	for {
		bits, err := br.Peek(PredicateBits)
		if err != nil {
			return 0, false, nil
		}
		shift := shiftLUT[uint16(bits)]
		if shift == 0 {
			if verify(br, pos) {
				return pos, true, nil
			}
			shift = 1
		}
		pos += bitreader.BitPosition(shift)
		if err := br.Seek(pos); err != nil {
			return 0, false, nil
		}
	}
}

// verifyWindow is the minimum amount of speculative output verify demands
// before accepting a candidate: enough to seed the next chunk's window.
const verifyWindow = 32 * 1024

// verify trial-decodes DEFLATE blocks speculatively (seed=nil, so any
// back-reference reaching before this point becomes a harmless Placeholder
// rather than an error), continuing block after block until it has produced
// at least verifyWindow bytes of output or hit the stream's final block,
// and reports whether every decoded block completed without a structural
// error — filtering the false positives the 13-bit predicate alone can't
// rule out.
func verify(br *bitreader.BitReader, pos bitreader.BitPosition) bool {
	saved := br.Tell()
	defer br.Seek(saved)

	if err := br.Seek(pos); err != nil {
		return false
	}
	scratch := deflate.NewTaggedBuffer(verifyWindow)
	for len(scratch.Data) < verifyWindow {
		final, err := deflate.DecodeBlock(br, scratch, nil)
		if err != nil {
			return false
		}
		if final {
			break
		}
	}
	return true
}

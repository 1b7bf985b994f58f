// Package chunker partitions a compressed DEFLATE stream into
// approximately equal-sized compressed spans, each anchored at a
// blockfinder-verified bit offset. It is the splitting counterpart to the
// teacher's zran.BuildIndex, which instead checkpoints every fixed
// *uncompressed* span while decoding serially; here the partitioning
// happens up front, over *compressed* bytes, without decoding in between.
package chunker

import (
	"github.com/coreos/rapidgzip/bitreader"
	"github.com/coreos/rapidgzip/blockfinder"
)

// DefaultChunkSize is the default target compressed span between
// partition points, 4 MiB.
const DefaultChunkSize = 4 * 1024 * 1024

// Boundary is one partition point: a verified candidate bit offset at or
// after a target split point.
type Boundary struct {
	StartBit bitreader.BitPosition
}

// Plan scans br for partition points spaced roughly chunkSizeBytes apart
// (in compressed bytes), starting from startBit and continuing to the end
// of the stream. The first boundary is always startBit itself — callers
// are expected to have already verified it is a real block start (e.g.
// the first block of a gzip member).
func Plan(br *bitreader.BitReader, startBit bitreader.BitPosition, chunkSizeBytes int) ([]Boundary, error) {
	if chunkSizeBytes <= 0 {
		chunkSizeBytes = DefaultChunkSize
	}
	boundaries := []Boundary{{StartBit: startBit}}

	target := startBit + bitreader.BitPosition(chunkSizeBytes)*8
	streamEnd := br.Size()
	for target < streamEnd {
		pos, ok, err := blockfinder.NextCandidate(br, target)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		last := boundaries[len(boundaries)-1]
		if pos <= last.StartBit {
			// NextCandidate must make forward progress; guard against a
			// pathological verify() that accepts the same bit twice.
			target = last.StartBit + bitreader.BitPosition(chunkSizeBytes)*8
			continue
		}
		boundaries = append(boundaries, Boundary{StartBit: pos})
		target = pos + bitreader.BitPosition(chunkSizeBytes)*8
	}
	return boundaries, nil
}

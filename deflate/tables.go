package deflate

// Tables from RFC 1951 §3.2.5 (length codes 257-285) and §3.2.5 (distance
// codes 0-29), reproduced verbatim — these are standard-mandated constants,
// not algorithmic choices, so there is nothing to adapt from the teacher
// here beyond the shape of the lookup.

var lengthBase = [29]int{
	3, 4, 5, 6, 7, 8, 9, 10, 11, 13,
	15, 17, 19, 23, 27, 31, 35, 43, 51, 59,
	67, 83, 99, 115, 131, 163, 195, 227, 258,
}

var lengthExtraBits = [29]uint{
	0, 0, 0, 0, 0, 0, 0, 0, 1, 1,
	1, 1, 2, 2, 2, 2, 3, 3, 3, 3,
	4, 4, 4, 4, 5, 5, 5, 5, 0,
}

var distanceBase = [30]int{
	1, 2, 3, 4, 5, 7, 9, 13, 17, 25,
	33, 49, 65, 97, 129, 193, 257, 385, 513, 769,
	1025, 1537, 2049, 3073, 4097, 6145, 8193, 12289, 16385, 24577,
}

var distanceExtraBits = [30]uint{
	0, 0, 0, 0, 1, 1, 2, 2, 3, 3,
	4, 4, 5, 5, 6, 6, 7, 7, 8, 8,
	9, 9, 10, 10, 11, 11, 12, 12, 13, 13,
}

// codeLengthOrder is the permutation in which code-length-code lengths
// appear in a DYNAMIC block header, RFC 1951 §3.2.7.
var codeLengthOrder = [19]int{
	16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15,
}

// fixedLiteralLengths is the RFC 1951 §3.2.6 fixed literal/length coding
// over all 288 symbols (286 and 287 complete the code but never occur).
func fixedLiteralLengths() []int {
	lengths := make([]int, 288)
	i := 0
	for ; i < 144; i++ {
		lengths[i] = 8
	}
	for ; i < 256; i++ {
		lengths[i] = 9
	}
	for ; i < 280; i++ {
		lengths[i] = 7
	}
	for ; i < 288; i++ {
		lengths[i] = 8
	}
	return lengths
}

// fixedDistanceLengths is the RFC 1951 fixed distance coding: all 32
// distance symbols use 5 bits (30 and 31 complete the code but never occur).
func fixedDistanceLengths() []int {
	lengths := make([]int, 32)
	for i := range lengths {
		lengths[i] = 5
	}
	return lengths
}

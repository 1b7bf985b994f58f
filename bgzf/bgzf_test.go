package bgzf

import "testing"

func TestVirtualOffsetRoundTrip(t *testing.T) {
	cases := []struct {
		compressed   int64
		uncompressed uint16
	}{
		{0, 0},
		{123456, 42},
		{1 << 40, MaxBlockSize - 1},
	}
	for _, tc := range cases {
		v := VirtualOffset(tc.compressed, tc.uncompressed)
		gotCompressed, gotUncompressed := Split(v)
		if gotCompressed != tc.compressed || gotUncompressed != tc.uncompressed {
			t.Errorf("round trip (%d,%d) -> %d -> (%d,%d)", tc.compressed, tc.uncompressed, v, gotCompressed, gotUncompressed)
		}
	}
}

func TestValidateBlockOffset(t *testing.T) {
	if err := ValidateBlockOffset(0); err != nil {
		t.Errorf("0 should be valid: %v", err)
	}
	if err := ValidateBlockOffset(MaxBlockSize - 1); err != nil {
		t.Errorf("MaxBlockSize-1 should be valid: %v", err)
	}
	if err := ValidateBlockOffset(MaxBlockSize); err == nil {
		t.Error("MaxBlockSize should be rejected")
	}
	if err := ValidateBlockOffset(-1); err == nil {
		t.Error("negative offset should be rejected")
	}
}

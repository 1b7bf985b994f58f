package deflate

import (
	"bytes"
	"compress/flate"
	"testing"

	"github.com/coreos/rapidgzip/bitreader"
	"github.com/coreos/rapidgzip/filereader"
	"github.com/coreos/rapidgzip/window"
)

// rawDeflate compresses data into a raw (headerless) DEFLATE stream using
// the standard library's encoder, giving the decoder real bit patterns to
// chew on without hand-assembling them.
func rawDeflate(t *testing.T, data []byte, level int) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, level)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// decodeAll runs DecodeBlock with an immediately-known empty seed until a
// final block, returning the fully resolved output.
func decodeAll(t *testing.T, compressed []byte) []byte {
	t.Helper()
	br, err := bitreader.New(filereader.NewBufferView(compressed))
	if err != nil {
		t.Fatal(err)
	}
	buf := NewTaggedBuffer(0)
	for {
		final, err := DecodeBlock(br, buf, window.Empty())
		if err != nil {
			t.Fatalf("DecodeBlock: %v", err)
		}
		if final {
			break
		}
	}
	if len(buf.Unresolved) != 0 {
		t.Fatalf("%d placeholders left unresolved despite seeded decode", len(buf.Unresolved))
	}
	return buf.Data
}

func TestDecodeStoredBlock(t *testing.T) {
	data := []byte("hello, stored block!")
	compressed := rawDeflate(t, data, flate.NoCompression)
	got := decodeAll(t, compressed)
	if !bytes.Equal(got, data) {
		t.Errorf("got %q, want %q", got, data)
	}
}

func TestDecodeFixedAndDynamicBlocks(t *testing.T) {
	cases := []struct {
		name  string
		level int
		data  []byte
	}{
		{"fixed-short", flate.BestCompression, []byte("ab")},
		{"dynamic-repetitive", flate.BestCompression, bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 200)},
		{"dynamic-text", flate.DefaultCompression, []byte(bigText)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			compressed := rawDeflate(t, tc.data, tc.level)
			got := decodeAll(t, compressed)
			if !bytes.Equal(got, tc.data) {
				t.Errorf("length mismatch: got %d bytes, want %d", len(got), len(tc.data))
			}
		})
	}
}

func TestDecodeMultipleBlocksAcrossOneStream(t *testing.T) {
	// A large, highly compressible payload at BestSpeed tends to span more
	// than one DEFLATE block, exercising the final-bit loop in decodeAll.
	data := bytes.Repeat([]byte("0123456789"), 50000)
	compressed := rawDeflate(t, data, flate.BestSpeed)
	got := decodeAll(t, compressed)
	if !bytes.Equal(got, data) {
		t.Error("multi-block round trip mismatch")
	}
}

func TestSpeculativeDecodeThenResolve(t *testing.T) {
	data := []byte("this text is decoded with an unknown seed first")
	compressed := rawDeflate(t, data, flate.BestCompression)

	br, err := bitreader.New(filereader.NewBufferView(compressed))
	if err != nil {
		t.Fatal(err)
	}
	buf := NewTaggedBuffer(0)
	for {
		final, err := DecodeBlock(br, buf, nil)
		if err != nil {
			t.Fatalf("DecodeBlock: %v", err)
		}
		if final {
			break
		}
	}
	if err := buf.Resolve(window.Empty()); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !bytes.Equal(buf.Data, data) {
		t.Errorf("got %q, want %q", buf.Data, data)
	}
}

func TestDecodeStoredBlockRejectsBadLengthChecksum(t *testing.T) {
	// Header bits: BFINAL=1, BTYPE=00 (stored), then byte-align, then a
	// LEN/~LEN pair that doesn't satisfy LEN == ^NLEN.
	raw := []byte{0x01, 0x05, 0x00, 0x05, 0x00, 'h', 'e', 'l', 'l', 'o'}
	br, err := bitreader.New(filereader.NewBufferView(raw))
	if err != nil {
		t.Fatal(err)
	}
	buf := NewTaggedBuffer(0)
	_, err = DecodeBlock(br, buf, window.Empty())
	de, ok := err.(*Error)
	if !ok || de.Kind != LengthChecksumMismatch {
		t.Errorf("err = %v, want LengthChecksumMismatch", err)
	}
}

func TestResolveFailsWhenSeedTooShort(t *testing.T) {
	data := []byte(bigText)
	compressed := rawDeflate(t, data, flate.BestCompression)

	br, err := bitreader.New(filereader.NewBufferView(compressed))
	if err != nil {
		t.Fatal(err)
	}
	buf := NewTaggedBuffer(0)
	for {
		final, err := DecodeBlock(br, buf, nil)
		if err != nil {
			t.Fatal(err)
		}
		if final {
			break
		}
	}
	if len(buf.Unresolved) == 0 {
		t.Skip("fixture produced no back-references reaching before the chunk start")
	}
	err = buf.Resolve(window.Empty())
	de, ok := err.(*Error)
	if !ok || de.Kind != InvalidBackreference {
		t.Errorf("err = %v, want InvalidBackreference", err)
	}
}

const bigText = `In the beginning of a long and repetitive passage, words tend to
recur: the quick brown fox, the lazy dog, repetitive words repetitive words,
and so the Huffman coder finds dynamic codes worth building, the quick
brown fox again, and again, and again, until enough repetition has built up
that both fixed and dynamic block types get exercised across a single
stream, the quick brown fox, the lazy dog, the quick brown fox.`

package parallelreader

import (
	"bytes"
	"compress/gzip"
	"io"
	"testing"

	"github.com/coreos/rapidgzip/filereader"
)

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func readAll(t *testing.T, r *Reader) []byte {
	t.Helper()
	var out bytes.Buffer
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		out.Write(buf[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
	}
	return out.Bytes()
}

func TestReadMatchesOriginalData(t *testing.T) {
	data := bytes.Repeat([]byte("parallel reader fixture content. "), 8000)
	compressed := gzipBytes(t, data)

	r, err := New(filereader.NewBufferView(compressed), Options{ChunkSize: 1 << 14, NumWorkers: 4, VerifyCRC32: true})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	got := readAll(t, r)
	if !bytes.Equal(got, data) {
		t.Fatalf("decoded length %d, want %d", len(got), len(data))
	}
}

func TestReadAcrossMultipleMembers(t *testing.T) {
	var buf bytes.Buffer
	parts := [][]byte{
		bytes.Repeat([]byte("member one "), 3000),
		bytes.Repeat([]byte("member two "), 3000),
		bytes.Repeat([]byte("member three "), 3000),
	}
	for _, p := range parts {
		buf.Write(gzipBytes(t, p))
	}
	var want bytes.Buffer
	for _, p := range parts {
		want.Write(p)
	}

	r, err := New(filereader.NewBufferView(buf.Bytes()), Options{ChunkSize: 1 << 13, NumWorkers: 4, VerifyCRC32: true})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	got := readAll(t, r)
	if !bytes.Equal(got, want.Bytes()) {
		t.Fatalf("multistream decode mismatch: got %d bytes, want %d", len(got), want.Len())
	}
}

func TestSeekForwardMatchesSequentialRead(t *testing.T) {
	data := bytes.Repeat([]byte("seek target content here. "), 6000)
	compressed := gzipBytes(t, data)

	r, err := New(filereader.NewBufferView(compressed), Options{ChunkSize: 1 << 13, NumWorkers: 4})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	target := int64(len(data) / 2)
	pos, err := r.Seek(target, io.SeekStart)
	if err != nil {
		t.Fatal(err)
	}
	if pos != target {
		t.Fatalf("Seek returned %d, want %d", pos, target)
	}

	buf := make([]byte, 100)
	n, err := r.Read(buf)
	if err != nil && err != io.EOF {
		t.Fatal(err)
	}
	if !bytes.Equal(buf[:n], data[target:target+int64(n)]) {
		t.Error("bytes read after Seek do not match the corresponding slice of the original data")
	}
}

func TestVerifyCRC32DetectsCorruption(t *testing.T) {
	data := []byte("a short member to corrupt")
	compressed := gzipBytes(t, data)
	// Flip a bit well inside the compressed payload (past the 10-byte
	// header) so the trailer CRC no longer matches the decoded bytes.
	if len(compressed) > 15 {
		compressed[12] ^= 0xFF
	}

	r, err := New(filereader.NewBufferView(compressed), Options{VerifyCRC32: true})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	_, err = io.ReadAll(r)
	if err == nil {
		t.Fatal("expected an error from a corrupted member, got nil")
	}
}

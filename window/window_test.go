package window

import (
	"bytes"
	"testing"
)

func TestEmptyIsNonNilZeroLength(t *testing.T) {
	w := Empty()
	if w == nil {
		t.Fatal("Empty() returned nil")
	}
	if w.Len() != 0 {
		t.Errorf("Len() = %d, want 0", w.Len())
	}
}

func TestNewTruncatesToSize(t *testing.T) {
	data := make([]byte, Size+100)
	for i := range data {
		data[i] = byte(i)
	}
	w := New(data)
	if w.Len() != Size {
		t.Fatalf("Len() = %d, want %d", w.Len(), Size)
	}
	if !bytes.Equal(w.Bytes(), data[100:]) {
		t.Error("New did not keep the trailing Size bytes")
	}
}

func TestAtResolvesDistance(t *testing.T) {
	w := New([]byte("abcdef"))
	b, ok := w.At(1)
	if !ok || b != 'f' {
		t.Errorf("At(1) = %q, %v; want 'f', true", b, ok)
	}
	b, ok = w.At(6)
	if !ok || b != 'a' {
		t.Errorf("At(6) = %q, %v; want 'a', true", b, ok)
	}
}

func TestAtOutOfRange(t *testing.T) {
	w := New([]byte("abc"))
	if _, ok := w.At(4); ok {
		t.Error("At(4) should fail: window only holds 3 bytes")
	}
	if _, ok := w.At(0); ok {
		t.Error("At(0) should fail: non-positive distance")
	}
}

func TestSlideWithinCapacity(t *testing.T) {
	prev := New([]byte("abc"))
	next := Slide(prev, []byte("def"))
	if !bytes.Equal(next.Bytes(), []byte("abcdef")) {
		t.Errorf("Slide = %q, want %q", next.Bytes(), "abcdef")
	}
}

func TestSlideOverCapacityKeepsTail(t *testing.T) {
	prev := New(bytes.Repeat([]byte{'x'}, Size))
	newData := bytes.Repeat([]byte{'y'}, 100)
	next := Slide(prev, newData)
	if next.Len() != Size {
		t.Fatalf("Len() = %d, want %d", next.Len(), Size)
	}
	if !bytes.Equal(next.Bytes()[Size-100:], newData) {
		t.Error("Slide did not append newData at the tail")
	}
	if !bytes.Equal(next.Bytes()[:Size-100], bytes.Repeat([]byte{'x'}, Size-100)) {
		t.Error("Slide did not keep the right prefix of prev")
	}
}

func TestSlideNewDataExceedsSize(t *testing.T) {
	prev := New([]byte("abc"))
	newData := bytes.Repeat([]byte{'z'}, Size+10)
	next := Slide(prev, newData)
	if next.Len() != Size {
		t.Fatalf("Len() = %d, want %d", next.Len(), Size)
	}
	if !bytes.Equal(next.Bytes(), newData[10:]) {
		t.Error("Slide should drop prev entirely and keep only newData's tail")
	}
}

func TestNilWindowMethodsAreSafe(t *testing.T) {
	var w *Window
	if w.Len() != 0 {
		t.Errorf("nil.Len() = %d, want 0", w.Len())
	}
	if w.Bytes() != nil {
		t.Error("nil.Bytes() should be nil")
	}
	if _, ok := w.At(1); ok {
		t.Error("nil.At(1) should fail")
	}
}

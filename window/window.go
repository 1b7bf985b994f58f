// Package window models the 32 KiB sliding window of uncompressed output
// that DEFLATE back-references read from, and that the parallel decoder
// must pass across chunk boundaries (the "seed window") and gzip index
// checkpoints.
package window

// Size is the maximum DEFLATE back-reference distance (32 KiB), RFC 1951
// §3.2.1.
const Size = 32768

// Window is an immutable, possibly-shared byte sequence of length <= Size
// representing the most recently decoded uncompressed bytes preceding some
// cut point. A nil *Window is treated as the empty window (valid only at
// the very start of a gzip member's uncompressed output).
type Window struct {
	data []byte
}

// Empty returns a (non-nil) zero-length window, used to mark "the seed is
// known to be empty" as distinct from "the seed is not yet known" (nil).
func Empty() *Window { return &Window{} }

// New copies data (keeping only the trailing Size bytes) into a sealed
// Window.
func New(data []byte) *Window {
	if len(data) > Size {
		data = data[len(data)-Size:]
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return &Window{data: cp}
}

// Len returns the number of bytes held.
func (w *Window) Len() int {
	if w == nil {
		return 0
	}
	return len(w.data)
}

// Bytes returns the window contents, oldest byte first.
func (w *Window) Bytes() []byte {
	if w == nil {
		return nil
	}
	return w.data
}

// At returns the byte `distance` positions before the end of the window
// (distance==1 is the most recently produced byte), resolving a DEFLATE
// back-reference whose target lies before the current chunk's start. ok is
// false when distance exceeds what the window holds (EXCEEDED_WINDOW_RANGE
// territory) or when distance is non-positive.
func (w *Window) At(distance int) (byte, bool) {
	if distance <= 0 {
		return 0, false
	}
	n := w.Len()
	idx := n - distance
	if idx < 0 {
		return 0, false
	}
	return w.data[idx], true
}

// Slide appends newData (produced after the window's cut point, in order)
// and returns a new Window holding only the most recent Size bytes overall
// — the tailWindow for the chunk that just finished.
func Slide(prev *Window, newData []byte) *Window {
	total := prev.Len() + len(newData)
	if total <= Size {
		merged := make([]byte, 0, total)
		merged = append(merged, prev.Bytes()...)
		merged = append(merged, newData...)
		return &Window{data: merged}
	}
	if len(newData) >= Size {
		return New(newData)
	}
	keepFromPrev := Size - len(newData)
	merged := make([]byte, 0, Size)
	merged = append(merged, prev.Bytes()[prev.Len()-keepFromPrev:]...)
	merged = append(merged, newData...)
	return &Window{data: merged}
}

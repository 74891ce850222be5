package gatt

import (
	"bytes"
	"sync"
)

// ValueCell holds the current value of one characteristic.
//
// Every read and write goes through a short critical section sized to a single
// copy, so the access dispatcher and a sampling task can share a cell.
type ValueCell struct {
	mu     sync.RWMutex
	value  []byte
	minLen int
	maxLen int
	fixed  bool
}

func newValueCell(d *Descriptor) *ValueCell {
	lo, hi := d.Bounds()
	c := &ValueCell{
		minLen: lo,
		maxLen: hi,
		fixed:  d.Fixed(),
	}
	switch {
	case d.Initial != nil:
		c.value = append(make([]byte, 0, hi), d.Initial...)
	case d.Fixed():
		c.value = make([]byte, d.Width)
	default:
		c.value = make([]byte, lo, hi)
	}
	return c
}

// Bytes returns a copy of the current value.
func (c *ValueCell) Bytes() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]byte, len(c.value))
	copy(out, c.value)
	return out
}

// Len returns the current value length.
func (c *ValueCell) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.value)
}

// Fits reports whether a value of n bytes can be stored in the cell.
func (c *ValueCell) Fits(n int) bool {
	return n >= c.minLen && n <= c.maxLen
}

// Set replaces the value. It fails with ErrWidthMismatch when b does not
// match the cell's width (or length bounds for variable cells), and reports
// whether the stored bytes changed.
func (c *ValueCell) Set(b []byte) (bool, error) {
	if !c.Fits(len(b)) {
		if c.fixed {
			return false, newError(KindWidthMismatch, Ref{}, "got %d bytes, want %d", len(b), c.maxLen)
		}
		return false, newError(KindWidthMismatch, Ref{}, "got %d bytes, want [%d, %d]", len(b), c.minLen, c.maxLen)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	changed := !bytes.Equal(c.value, b)
	c.value = append(c.value[:0], b...)
	return changed, nil
}

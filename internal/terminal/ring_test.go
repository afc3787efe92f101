package terminal

import (
	"bytes"
	"testing"
)

func TestRingBufferKeepsNewestBytes(t *testing.T) {
	r := newRingBuffer(8)

	r.write([]byte("abc"))
	if got := r.bytes(); !bytes.Equal(got, []byte("abc")) {
		t.Errorf("bytes = %q", got)
	}

	r.write([]byte("defgh"))
	if got := r.bytes(); !bytes.Equal(got, []byte("abcdefgh")) {
		t.Errorf("bytes = %q", got)
	}

	// Overflow evicts from the front.
	r.write([]byte("XY"))
	if got := r.bytes(); !bytes.Equal(got, []byte("cdefghXY")) {
		t.Errorf("bytes = %q", got)
	}

	// A single oversized write keeps only its tail.
	r.write([]byte("0123456789ABCDEF"))
	if got := r.bytes(); !bytes.Equal(got, []byte("89ABCDEF")) {
		t.Errorf("bytes = %q", got)
	}
}

func TestTerminalKey(t *testing.T) {
	if terminalKey("/a", "b") == terminalKey("/a/b", "") {
		t.Error("key collision between distinct (cwd, name) pairs")
	}
}

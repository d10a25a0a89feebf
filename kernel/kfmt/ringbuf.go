package kfmt

import "io"

// ringBufferSize is large enough to hold a full 80x25 text console. It must
// be a power of 2.
const ringBufferSize = 2048

// ringBuffer is a fixed-size byte FIFO. When full, writes overwrite the
// oldest buffered bytes.
type ringBuffer struct {
	buffer     [ringBufferSize]byte
	start, len int
}

// Write appends p to the buffer. It never fails.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.buffer[(rb.start+rb.len)&(ringBufferSize-1)] = b
		if rb.len < ringBufferSize {
			rb.len++
			continue
		}
		rb.start = (rb.start + 1) & (ringBufferSize - 1)
	}

	return len(p), nil
}

// Read drains up to len(p) buffered bytes into p. It returns io.EOF once the
// buffer is empty.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.len == 0 {
		return 0, io.EOF
	}

	n := 0
	for ; n < len(p) && rb.len > 0; n++ {
		p[n] = rb.buffer[rb.start]
		rb.start = (rb.start + 1) & (ringBufferSize - 1)
		rb.len--
	}

	return n, nil
}

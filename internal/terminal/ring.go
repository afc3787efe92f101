package terminal

// ringBuffer keeps the newest max bytes of PTY output for replay.
type ringBuffer struct {
	max  int
	data []byte
}

func newRingBuffer(max int) *ringBuffer {
	if max <= 0 {
		max = 1024
	}
	return &ringBuffer{max: max}
}

func (r *ringBuffer) write(p []byte) {
	if len(p) >= r.max {
		r.data = append(r.data[:0], p[len(p)-r.max:]...)
		return
	}
	r.data = append(r.data, p...)
	if overflow := len(r.data) - r.max; overflow > 0 {
		r.data = append(r.data[:0], r.data[overflow:]...)
	}
}

func (r *ringBuffer) bytes() []byte {
	out := make([]byte, len(r.data))
	copy(out, r.data)
	return out
}

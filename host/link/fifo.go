package link

import "bytes"

// fifo is a circular receive buffer between the serial reader and the
// engine. When full, the oldest bytes are overwritten: the newest frame on
// the wire is the one that matters.
type fifo struct {
	buf     []byte
	read    int
	write   int
	size    int
	dropped int
}

func newFifo(capacity int) *fifo {
	return &fifo{
		buf:  make([]byte, capacity+1),
		size: capacity + 1,
	}
}

// Write appends data, discarding the oldest bytes on overflow.
func (f *fifo) Write(data []byte) int {
	for _, b := range data {
		next := (f.write + 1) % f.size
		if next == f.read {
			// Full: drop the oldest byte
			f.read = (f.read + 1) % f.size
			f.dropped++
		}
		f.buf[f.write] = b
		f.write = next
	}
	return len(data)
}

// Available returns the number of buffered bytes
func (f *fifo) Available() int {
	if f.write >= f.read {
		return f.write - f.read
	}
	return f.size - f.read + f.write
}

// Data returns a contiguous copy of the buffered bytes without consuming them
func (f *fifo) Data() []byte {
	out := make([]byte, f.Available())
	if f.read <= f.write {
		copy(out, f.buf[f.read:f.write])
		return out
	}
	n := copy(out, f.buf[f.read:])
	copy(out[n:], f.buf[:f.write])
	return out
}

// Drain returns and consumes everything buffered
func (f *fifo) Drain() []byte {
	out := f.Data()
	f.Reset()
	return out
}

// CompleteLines counts non-empty LF-terminated lines in the buffer.
func (f *fifo) CompleteLines() int {
	data := f.Data()
	count := 0
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			return count
		}
		if len(bytes.TrimSpace(data[:i])) > 0 {
			count++
		}
		data = data[i+1:]
	}
}

// Dropped returns how many bytes were lost to overflow since the last reset
func (f *fifo) Dropped() int {
	return f.dropped
}

// Reset clears the buffer
func (f *fifo) Reset() {
	f.read = 0
	f.write = 0
	f.dropped = 0
}

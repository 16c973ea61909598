package stream

// FrameBuffer holds frames captured before the socket opens. It is bounded in
// bytes and drops the oldest frames when full.
type FrameBuffer struct {
	frames [][]byte
	size   int
	limit  int
}

// NewFrameBuffer creates a buffer holding at most limit bytes.
func NewFrameBuffer(limit int) *FrameBuffer {
	return &FrameBuffer{limit: limit}
}

// Push appends frame and returns how many older frames were dropped to fit
// it. A frame larger than the whole limit is kept alone.
func (b *FrameBuffer) Push(frame []byte) int {
	b.frames = append(b.frames, frame)
	b.size += len(frame)

	dropped := 0
	for b.size > b.limit && len(b.frames) > 1 {
		b.size -= len(b.frames[0])
		b.frames[0] = nil
		b.frames = b.frames[1:]
		dropped++
	}
	return dropped
}

// Drain returns the buffered frames in capture order and empties the buffer.
func (b *FrameBuffer) Drain() [][]byte {
	out := b.frames
	b.frames = nil
	b.size = 0
	return out
}

func (b *FrameBuffer) Len() int {
	return len(b.frames)
}

// Size is the number of buffered bytes.
func (b *FrameBuffer) Size() int {
	return b.size
}

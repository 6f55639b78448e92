package fastcgi

import (
	"container/list"
)

// chunkSize is the fixed size of each ring-buffer chunk.
const chunkSize = 131072

// minBlockSize is the threshold below which Commit rotates the write cursor
// to the next chunk rather than leaving a tiny remaining span for the next
// RequestWrite.
const minBlockSize = 256

// chunk is one fixed-size arena block in the ring buffer's chunk list.
type chunk struct {
	data [chunkSize]byte
	end  int // write cursor: data[:end] has been written
}

// frame describes a contiguous span of bytes in the ring buffer destined
// for one connection, with an optional "close on drain" flag.
type frame struct {
	size    int
	closeFD bool
	id      FullID
}

// closer is the collaborator the ring buffer tells to close a connection's
// fd once the last frame flagged closeFD for it has fully drained. The
// transceiver implements this.
type closer interface {
	closeConn(fd int)
}

// Buffer is a grow-only, chunk-rotating FIFO of outbound bytes tagged with
// per-frame destinations. It is accessed only by the transceiver's single
// I/O goroutine; no internal locking is performed.
type Buffer struct {
	chunks  *list.List // of *chunk
	writeAt *list.Element
	readPos int // offset into the chunk at the front of chunks

	frames []frame // FIFO; appended at back, consumed at front

	closer closer
}

// NewBuffer constructs an empty ring buffer. closer is told to close a
// connection's fd when a close-flagged frame for it fully drains.
func NewBuffer(c closer) *Buffer {
	b := &Buffer{chunks: list.New(), closer: c}
	first := &chunk{}
	el := b.chunks.PushBack(first)
	b.writeAt = el
	return b
}

// WriteBlock is a contiguous writable span returned by RequestWrite.
type WriteBlock struct {
	buf []byte
}

// RequestWrite returns a contiguous writable region of at most minSize
// bytes; the caller writes into it and then calls Commit with the number of
// bytes actually used.
func (b *Buffer) RequestWrite(minSize int) WriteBlock {
	c := b.writeAt.Value.(*chunk)
	avail := chunkSize - c.end
	n := minSize
	if n > avail {
		n = avail
	}
	if n < 0 {
		n = 0
	}
	return WriteBlock{buf: c.data[c.end : c.end+n]}
}

// Commit marks n bytes (n <= len of the block last handed out) as written
// and enqueues a frame describing their destination. If the remaining space
// in the current chunk falls below minBlockSize, the write cursor advances
// to a reused or freshly-allocated chunk.
func (b *Buffer) Commit(n int, id FullID, closeFD bool) {
	c := b.writeAt.Value.(*chunk)
	c.end += n
	if n > 0 {
		b.frames = append(b.frames, frame{size: n, closeFD: closeFD, id: id})
	}

	if chunkSize-c.end < minBlockSize {
		b.rotate()
	}
}

// rotate advances the write cursor to the next chunk, reusing a freed chunk
// from the tail of the list when one is available rather than allocating.
func (b *Buffer) rotate() {
	next := b.writeAt.Next()
	if next == nil {
		// No spare chunk sits after the write cursor: check whether the
		// chunk the read cursor still occupies can be reused (it can't,
		// it's still being drained), otherwise allocate a new one and
		// place it right after the current write position.
		nc := &chunk{}
		next = b.chunks.InsertAfter(nc, b.writeAt)
	} else {
		nc := next.Value.(*chunk)
		nc.end = 0
	}
	b.writeAt = next
}

// ReadBlock exposes the next contiguous region of unread bytes along with
// the fd it is destined for.
type ReadBlock struct {
	Buf []byte
	FD  int
}

// RequestRead returns the next contiguous unread span, capped by the
// remaining size of the head frame, and that frame's destination fd. It
// returns a zero-length Buf when the buffer holds no pending frames.
func (b *Buffer) RequestRead() ReadBlock {
	if len(b.frames) == 0 {
		return ReadBlock{}
	}
	head := b.frames[0]
	c := b.chunks.Front().Value.(*chunk)

	avail := c.end - b.readPos
	n := head.size
	if n > avail {
		n = avail
	}
	return ReadBlock{Buf: c.data[b.readPos : b.readPos+n], FD: head.id.FD}
}

// FreeRead consumes n bytes from the read cursor. When the head frame's
// remaining size reaches zero it is popped and, if it was flagged
// closeFD, the collaborator is told to close that fd. An emptied chunk at
// the front of the list rotates to the tail for reuse.
func (b *Buffer) FreeRead(n int) {
	for n > 0 {
		if len(b.frames) == 0 {
			return
		}
		head := &b.frames[0]
		take := n
		if take > head.size {
			take = head.size
		}

		b.readPos += take
		head.size -= take
		n -= take

		if head.size == 0 {
			done := b.frames[0]
			b.frames = b.frames[1:]
			if done.closeFD && b.closer != nil {
				b.closer.closeConn(done.id.FD)
			}
		}

		front := b.chunks.Front()
		c := front.Value.(*chunk)
		if b.readPos >= c.end && front != b.writeAt {
			b.chunks.MoveToBack(front)
			c.end = 0
			b.readPos = 0
		}
	}
}

// IsEmpty reports whether there is no pending unread data.
func (b *Buffer) IsEmpty() bool {
	c := b.chunks.Front().Value.(*chunk)
	return b.readPos == c.end && b.writeAt == b.chunks.Front()
}

package session

import "sync"

// outboundQueue is a byte-bounded FIFO of encoded frames. Producers never
// block; a frame that does not fit is refused.
type outboundQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	closed   bool

	maxBytes int
	curBytes int
	frames   [][]byte
}

func newOutboundQueue(maxBytes int) *outboundQueue {
	q := &outboundQueue{maxBytes: maxBytes}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

func (q *outboundQueue) enqueue(frame []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.curBytes+len(frame) > q.maxBytes {
		return false
	}
	q.frames = append(q.frames, frame)
	q.curBytes += len(frame)
	q.notEmpty.Signal()
	return true
}

// dequeue blocks until a frame is available. It returns false once the queue
// is closed and drained.
func (q *outboundQueue) dequeue() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.frames) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.frames) == 0 {
		return nil, false
	}
	frame := q.frames[0]
	q.frames[0] = nil
	q.frames = q.frames[1:]
	q.curBytes -= len(frame)
	return frame, true
}

// close stops new frames. Frames already queued are still handed out so a
// final error event can reach the peer.
func (q *outboundQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}

func (q *outboundQueue) bytes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.curBytes
}

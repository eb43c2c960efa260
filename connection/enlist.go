/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package connection

// Sender is implemented by Session. SendMessage is invoked when a
// write slot becomes free; returning (nil, false) means the session
// has nothing to send right now, and the slot passes to the next
// enlisted sender without writing a frame (spec §4.2 "enlist-to-send").
type Sender interface {
	SessionID() uint64
	SendMessage() (frame []byte, ok bool)
}

// sendQueue is the FIFO of enlisted Senders. A sender already present
// keeps its place; Enlist is a no-op for it, preserving the fairness
// guarantee that whoever enlisted first is served first (spec §4.2,
// §5 ordering guarantees).
type sendQueue struct {
	order   []uint64
	byID    map[uint64]Sender
}

func newSendQueue() *sendQueue {
	return &sendQueue{byID: make(map[uint64]Sender)}
}

func (q *sendQueue) Enlist(s Sender) {
	id := s.SessionID()
	if _, ok := q.byID[id]; ok {
		return
	}
	q.byID[id] = s
	q.order = append(q.order, id)
}

func (q *sendQueue) Remove(id uint64) {
	delete(q.byID, id)
	for i, v := range q.order {
		if v == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			return
		}
	}
}

func (q *sendQueue) Len() int { return len(q.order) }

// Next pops the head of the FIFO, invokes its SendMessage, and returns
// the frame to write. If the head has nothing to send, it is dropped
// from this round (re-enlisting is the session's own responsibility
// the next time it has data) and the next one is tried.
func (q *sendQueue) Next() (frame []byte, ok bool) {
	for len(q.order) > 0 {
		id := q.order[0]
		q.order = q.order[1:]
		s, exists := q.byID[id]
		delete(q.byID, id)
		if !exists {
			continue
		}
		if f, has := s.SendMessage(); has {
			return f, true
		}
	}
	return nil, false
}

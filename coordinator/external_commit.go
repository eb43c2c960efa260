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

package coordinator

// ExternalCommitHelper is the out-of-band wake-up mechanism of spec
// §4.4: "a named pipe or platform equivalent by which a writer in
// another process notifies readers in this process that a new
// snapshot exists." This sync client only ever runs one process
// against its local database (spec.md's non-goals exclude multi-
// process sharing of the same file), so the cross-process transport
// is modeled as a single buffered channel rather than a real named
// pipe: the receiving half is identical to what a platform helper
// would deliver (a wake-up with no payload), it is simply never
// driven by anything outside this process today.
type ExternalCommitHelper struct {
	n *Notifier
}

// NewExternalCommitHelper attaches a helper to n, the Coordinator's
// notifier worker it wakes.
func NewExternalCommitHelper(n *Notifier) *ExternalCommitHelper {
	return &ExternalCommitHelper{n: n}
}

// Notify wakes the notifier worker, as if a platform-specific
// out-of-band signal had just arrived.
func (h *ExternalCommitHelper) Notify() {
	h.n.Wake()
}

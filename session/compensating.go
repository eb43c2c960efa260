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

package session

// CompensatingWrite is a server-reported rejection of one of our own
// changesets, deferred until the DOWNLOAD that carries its server
// version arrives (spec §4.3 "Compensating writes", invariant 7 of
// spec §8).
type CompensatingWrite struct {
	ServerVersion uint64
	Message       string
}

// compensatingQueue holds writes not yet safe to surface to the
// application, in the order they were deferred.
type compensatingQueue struct {
	pending []CompensatingWrite
}

func newCompensatingQueue() *compensatingQueue {
	return &compensatingQueue{}
}

func (q *compensatingQueue) Defer(cw CompensatingWrite) {
	q.pending = append(q.pending, cw)
}

// Release returns every deferred write whose ServerVersion is now
// covered by a DOWNLOAD carrying download.server_version >= that
// version, removing them from the queue in the order they were
// deferred (spec invariant 7: "not delivered before the DOWNLOAD
// carrying server_version >= S").
func (q *compensatingQueue) Release(downloadServerVersion uint64) []CompensatingWrite {
	var ready []CompensatingWrite
	var keep []CompensatingWrite
	for _, cw := range q.pending {
		if cw.ServerVersion <= downloadServerVersion {
			ready = append(ready, cw)
		} else {
			keep = append(keep, cw)
		}
	}
	q.pending = keep
	return ready
}

// compensatingWriteRawCode classifies a ServerError as a compensating
// write rather than an outright rejection. It is purely a category
// tag: the server version the write was actually rejected at travels
// separately, on ServerError.CompensatingWriteServerVersion, never on
// this code.
const compensatingWriteRawCode = 231 // server-reserved: "compensating write"

func isCompensatingWrite(raw int) bool { return raw == compensatingWriteRawCode }

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

import "sync"

// schemaCache holds the parsed schema shared across every thread
// attached to this Coordinator, plus the transaction-version range
// for which it is known valid (spec §4.4 "schema cache").
type schemaCache struct {
	mu    sync.RWMutex
	ready bool
	value interface{}
	from  uint64
	to    uint64
}

// Cache widens the valid range monotonically: a schema already cached
// for [from, to] only ever grows, it is never replaced with a smaller
// span (spec §4.4 "cache_schema(new, v_from, v_to) widens the range
// monotonically").
func (c *schemaCache) Cache(value interface{}, vFrom, vTo uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ready {
		c.value, c.from, c.to, c.ready = value, vFrom, vTo, true
		return
	}
	if vFrom < c.from {
		c.from = vFrom
	}
	if vTo > c.to {
		c.to = vTo
	}
	c.value = value
}

// Advance extends the cached range to next when a read transaction
// moved forward without a schema change, i.e. prev is within the
// currently cached range (spec §4.4 "advance_schema_cache(prev, next)
// extends it when a read transaction advances without schema
// change").
func (c *schemaCache) Advance(prev, next uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ready || prev < c.from || prev > c.to {
		return
	}
	if next > c.to {
		c.to = next
	}
}

// Get returns the cached schema if version falls within its valid
// range.
func (c *schemaCache) Get(version uint64) (value interface{}, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.ready || version < c.from || version > c.to {
		return nil, false
	}
	return c.value, true
}

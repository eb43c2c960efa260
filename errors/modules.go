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

package errors

// Code ranges, one per package of the sync engine, each reserving a
// block of 100 so a package can grow its own error taxonomy without
// colliding with its neighbours.
const (
	MinPkgWire         = 100
	MinPkgReconnect    = 200
	MinPkgConnection   = 300
	MinPkgProgress     = 400
	MinPkgSubscription = 500
	MinPkgSession      = 600
	MinPkgStorage      = 700
	MinPkgCoordinator  = 800
	MinPkgSessionMgr   = 900
	MinPkgSyncEngine   = 1000
	MinPkgLogging      = 1100
	MinPkgConfig       = 1200
	MinPkgCertificate  = 1300
	MinPkgLoop         = 1400

	MinAvailable = 1500
)

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

package storage

import (
	"fmt"

	liberr "github.com/realm-sync/core/errors"
)

const pkgName = "realm-sync/core/storage"

// Claims liberr.MinPkgStorage+50 upward: database/gorm claims +0..19,
// database/kvmap claims +20..39, leaving +40..49 spare before this
// package's range.
const (
	ErrorParamEmpty liberr.CodeError = iota + liberr.MinPkgStorage + 50
	ErrorNotInitialized
	ErrorMigrationFailed
	ErrorQueryFailed
	ErrorNoProgressRow
	ErrorUnknownBootstrapVersion
)

func init() {
	if liberr.ExistInMapMessage(ErrorParamEmpty) {
		panic(fmt.Errorf("error code collision with package %s", pkgName))
	}
	liberr.RegisterIdFctMessage(ErrorParamEmpty, getMessage)
}

func getMessage(code liberr.CodeError) (message string) {
	switch code {
	case liberr.UnknownError:
		return liberr.NullMessage
	case ErrorParamEmpty:
		return "given parameters is empty"
	case ErrorNotInitialized:
		return "history store: database handle not initialized"
	case ErrorMigrationFailed:
		return "history store: schema migration failed"
	case ErrorQueryFailed:
		return "history store: query failed"
	case ErrorNoProgressRow:
		return "history store: no persisted SyncProgress row"
	case ErrorUnknownBootstrapVersion:
		return "history store: no pending bootstrap buffered for this query version"
	}

	return liberr.NullMessage
}

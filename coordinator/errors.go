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

import (
	"fmt"

	liberr "github.com/realm-sync/core/errors"
)

const pkgName = "realm-sync/core/coordinator"

const (
	ErrorParamEmpty liberr.CodeError = iota + liberr.MinPkgCoordinator
	ErrorAlreadyClosed
	ErrorWriteInCommitCallback
	ErrorWriterPanicked
	ErrorNoActiveReadTransaction
	ErrorSchemaCacheMiss
	ErrorUnknownWriteHandle
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
	case ErrorAlreadyClosed:
		return "coordinator: database already closed"
	case ErrorWriteInCommitCallback:
		return "coordinator: a commit completion callback may not begin another write"
	case ErrorWriterPanicked:
		return "coordinator: writer panicked, transaction rolled back"
	case ErrorNoActiveReadTransaction:
		return "coordinator: no active read transaction to promote"
	case ErrorSchemaCacheMiss:
		return "coordinator: no cached schema covers the requested version"
	case ErrorUnknownWriteHandle:
		return "coordinator: write handle does not belong to this coordinator"
	}

	return liberr.NullMessage
}

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

// Package logging is the structured logging backend shared by every
// component of the sync engine (connection, session, coordinator,
// session manager). It wraps logrus behind a small level-gated
// interface so components never import logrus directly, matching the
// way the rest of the module keeps third-party wiring behind a single
// adapter package.
package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Level mirrors logrus' severity levels under names that read naturally
// next to the sync engine's own vocabulary (a session "Warning"s about
// a stale bootstrap, it does not "Warn").
type Level uint8

const (
	DebugLevel Level = iota
	InfoLevel
	WarningLevel
	ErrorLevel
	FatalLevel
)

func (l Level) logrus() logrus.Level {
	switch l {
	case DebugLevel:
		return logrus.DebugLevel
	case InfoLevel:
		return logrus.InfoLevel
	case WarningLevel:
		return logrus.WarnLevel
	case FatalLevel:
		return logrus.FatalLevel
	default:
		return logrus.ErrorLevel
	}
}

// Fields carries structured context attached to a single log line:
// endpoint, session_id, connection_id, client_version, server_version,
// and whatever else a component wants correlated in the log stream.
type Fields map[string]interface{}

// Logger is the level-gated logging surface every component takes at
// construction, normally via a FuncLog closure so the concrete logger
// can be swapped (or replaced with a test spy) without touching the
// component's constructor signature.
type Logger interface {
	Debug(message string, data Fields, args ...interface{})
	Info(message string, data Fields, args ...interface{})
	Warning(message string, data Fields, args ...interface{})
	Error(message string, data Fields, args ...interface{})
	Fatal(message string, data Fields, args ...interface{})

	// SetLevel adjusts the minimum level that reaches the sink.
	SetLevel(lvl Level)

	// WithFields returns a Logger that always attaches the given
	// fields in addition to whatever is passed per call.
	WithFields(f Fields) Logger

	// Entry exposes the underlying *logrus.Entry for callers that
	// need to hand it to a library expecting one directly.
	Entry() *logrus.Entry
}

// FuncLog returns the active Logger for a component. Components take a
// FuncLog instead of a Logger so a reconfiguration (level change, sink
// swap) is visible without re-wiring every component that logs.
type FuncLog func() Logger

// New builds a Logger writing to out (os.Stderr in production, a
// bytes.Buffer in tests) at the given level.
func New(out io.Writer, lvl Level) Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(lvl.logrus())
	l.SetFormatter(&logrus.JSONFormatter{})

	return &logger{entry: logrus.NewEntry(l)}
}

// NewNop returns a Logger that discards everything, for components
// constructed without an explicit FuncLog (tests, standalone tools).
func NewNop() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &logger{entry: logrus.NewEntry(l)}
}

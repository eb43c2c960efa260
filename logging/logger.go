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

package logging

import "github.com/sirupsen/logrus"

type logger struct {
	entry *logrus.Entry
}

func (l *logger) fields(f Fields) logrus.Fields {
	if len(f) == 0 {
		return logrus.Fields{}
	}

	r := make(logrus.Fields, len(f))
	for k, v := range f {
		r[k] = v
	}

	return r
}

func (l *logger) log(lvl Level, message string, data Fields, args ...interface{}) {
	e := l.entry
	if len(data) > 0 {
		e = e.WithFields(l.fields(data))
	}

	if len(args) > 0 {
		e.Logf(lvl.logrus(), message, args...)
	} else {
		e.Log(lvl.logrus(), message)
	}
}

func (l *logger) Debug(message string, data Fields, args ...interface{}) {
	l.log(DebugLevel, message, data, args...)
}

func (l *logger) Info(message string, data Fields, args ...interface{}) {
	l.log(InfoLevel, message, data, args...)
}

func (l *logger) Warning(message string, data Fields, args ...interface{}) {
	l.log(WarningLevel, message, data, args...)
}

func (l *logger) Error(message string, data Fields, args ...interface{}) {
	l.log(ErrorLevel, message, data, args...)
}

func (l *logger) Fatal(message string, data Fields, args ...interface{}) {
	l.log(FatalLevel, message, data, args...)
}

func (l *logger) SetLevel(lvl Level) {
	l.entry.Logger.SetLevel(lvl.logrus())
}

func (l *logger) WithFields(f Fields) Logger {
	return &logger{entry: l.entry.WithFields(l.fields(f))}
}

func (l *logger) Entry() *logrus.Entry {
	return l.entry
}

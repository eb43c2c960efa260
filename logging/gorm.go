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

import (
	"context"
	"errors"
	"time"

	gorlog "gorm.io/gorm/logger"
)

// gormAdapter lets the local embedded database (history, schema cache,
// subscriptions, pending bootstraps) log through the same structured
// sink as the rest of the engine instead of GORM's own stdlib logger.
type gormAdapter struct {
	fct           FuncLog
	ignoreNotFound bool
	slowThreshold  time.Duration
}

// NewGormLogger adapts a FuncLog into a gorlog.Interface. When
// ignoreRecordNotFoundError is set, gorm.ErrRecordNotFound never
// reaches the sink as an Error-level line -- record-not-found is the
// normal outcome of a schema-cache or subscription lookup miss.
func NewGormLogger(fct FuncLog, ignoreRecordNotFoundError bool, slowThreshold time.Duration) gorlog.Interface {
	return &gormAdapter{fct: fct, ignoreNotFound: ignoreRecordNotFoundError, slowThreshold: slowThreshold}
}

func (g *gormAdapter) log() Logger {
	if g.fct == nil {
		return NewNop()
	}
	return g.fct()
}

func (g *gormAdapter) LogMode(gorlog.LogLevel) gorlog.Interface {
	return g
}

func (g *gormAdapter) Info(_ context.Context, msg string, args ...interface{}) {
	g.log().Info(msg, nil, args...)
}

func (g *gormAdapter) Warn(_ context.Context, msg string, args ...interface{}) {
	g.log().Warning(msg, nil, args...)
}

func (g *gormAdapter) Error(_ context.Context, msg string, args ...interface{}) {
	g.log().Error(msg, nil, args...)
}

func (g *gormAdapter) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := Fields{
		"elapsed_ms": elapsed.Milliseconds(),
		"rows":       rows,
		"sql":        sql,
	}

	if err != nil && !(g.ignoreNotFound && errors.Is(err, gorlog.ErrRecordNotFound)) {
		fields["error"] = err.Error()
		g.log().Error("query failed", fields)
		return
	}

	if g.slowThreshold > 0 && elapsed > g.slowThreshold {
		g.log().Warning("slow query", fields)
		return
	}

	g.log().Debug("query", fields)
}

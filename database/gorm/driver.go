/*
 * MIT License
 *
 * Copyright (c) 2022 Nicolas JUHEL
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

package gorm

import (
	"strings"

	drvsql "gorm.io/driver/sqlite"
	gormdb "gorm.io/gorm"
)

// The sync client only ever persists to a local file, so sqlite is the
// single supported driver -- unlike the server-side component this
// wrapper was adapted from, which dialed into a shared MySQL/Postgres/
// SQL Server/ClickHouse fleet.
const (
	DriverNone   = ""
	DriverSQLite = "sqlite"
)

type Driver string

func DriverFromString(drv string) Driver {
	if strings.EqualFold(drv, DriverSQLite) {
		return DriverSQLite
	}

	return DriverNone
}

func (d Driver) String() string {
	return string(d)
}

func (d Driver) Dialector(dsn string) gormdb.Dialector {
	if d == DriverSQLite {
		return drvsql.Open(dsn)
	}

	return nil
}

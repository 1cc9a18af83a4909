// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package dbutil

import (
	"strconv"
	"strings"

	"github.com/zeebo/errs"
)

// Error is the default dbutil error class.
var Error = errs.Class("dbutil")

// Implementation type of valid DBs.
type Implementation int

const (
	// Unknown is an unknown db type.
	Unknown Implementation = iota
	// Postgres is a Postgresdb type.
	Postgres
	// Cockroach is a Cockroachdb type.
	Cockroach
	// SQLite3 is a sqlite3 database.
	SQLite3
)

// ImplementationForScheme returns the Implementation that is used for
// the url with the provided scheme.
func ImplementationForScheme(scheme string) Implementation {
	switch scheme {
	case "pgx", "postgres", "postgresql":
		return Postgres
	case "cockroach":
		return Cockroach
	case "sqlite", "sqlite3":
		return SQLite3
	default:
		return Unknown
	}
}

// String returns the default name for a given implementation.
func (impl Implementation) String() string {
	switch impl {
	case Postgres:
		return "postgres"
	case Cockroach:
		return "cockroach"
	case SQLite3:
		return "sqlite3"
	default:
		return "<unknown>"
	}
}

// SplitConnStr returns the driver name and the driver specific source for a
// connection url such as "postgres://..." or "sqlite3://path/to/file.db".
func SplitConnStr(connstr string) (driver, source string, impl Implementation, err error) {
	scheme, rest, ok := strings.Cut(connstr, "://")
	if !ok {
		return "", "", Unknown, Error.New("could not parse db connection string %q", connstr)
	}

	impl = ImplementationForScheme(scheme)
	switch impl {
	case Postgres:
		return "pgx", connstr, impl, nil
	case Cockroach:
		// cockroach speaks the postgres wire protocol
		return "pgx", "postgres://" + rest, impl, nil
	case SQLite3:
		if rest == "" {
			return "", "", Unknown, Error.New("missing sqlite3 database path in %q", connstr)
		}
		return "sqlite3", rest, impl, nil
	default:
		return "", "", Unknown, Error.New("unsupported db scheme %q", scheme)
	}
}

// Rebind replaces "?" placeholders in query with the placeholders used by impl.
// Question marks inside quoted strings are left untouched.
func Rebind(impl Implementation, query string) string {
	if impl != Postgres && impl != Cockroach {
		return query
	}

	var out strings.Builder
	out.Grow(len(query) + 8)

	n := 0
	quote := byte(0)
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '\'' || ch == '"':
			quote = ch
		case ch == '?':
			n++
			out.WriteByte('$')
			out.WriteString(strconv.Itoa(n))
			continue
		}
		out.WriteByte(ch)
	}
	return out.String()
}

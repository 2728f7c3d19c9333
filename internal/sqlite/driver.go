//go:build !sqlite_vec || !cgo

// Package sqlite pins the process's SQLite driver. The default build uses the
// pure-Go modernc driver; building with -tags sqlite_vec switches to the cgo
// driver with the sqlite-vec extension registered. The retrieval index does
// not use the extension; it ranks by a brute-force scan in either build.
package sqlite

import (
	_ "modernc.org/sqlite"
)

// DriverName is the database/sql driver name for this build.
const DriverName = "sqlite"

// VecAvailable reports whether the sqlite-vec extension is compiled in.
const VecAvailable = false

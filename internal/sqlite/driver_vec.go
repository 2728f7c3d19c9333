//go:build sqlite_vec && cgo

package sqlite

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

// DriverName is the database/sql driver name for this build.
const DriverName = "sqlite3"

// VecAvailable reports whether the sqlite-vec extension is compiled in.
const VecAvailable = true

func init() {
	// Register sqlite-vec as an auto-loadable extension on the cgo driver.
	vec.Auto()
}

//go:build sqlite_vec && cgo

package vector

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register the sqlite-vec extension as auto-loadable for new cgo SQLite
	// connections. Connections opened through the modernc driver (the
	// database package default, which vector.db is opened with) do not get
	// vec0 tables and use the in-process cosine scan.
	vec.Auto()
}

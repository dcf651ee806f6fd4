//go:build sqlite_vec && !purego

package vectorstore

// Compiled with CGO and the sqlite_vec tag: mattn/go-sqlite3 with the
// sqlite-vec extension registered, so cosine distance runs inside SQLite.
//
//	CGO_ENABLED=1 go build -tags sqlite_vec ./...

import (
	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// VectorExtensionAvailable indicates if vector extension is available
	VectorExtensionAvailable = true

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)

// encodeVector serializes a vector in the sqlite-vec float32 blob format
func encodeVector(v []float32) ([]byte, error) {
	return sqlite_vec.SerializeFloat32(v)
}

//go:build purego || !sqlite_vec

package vectorstore

// Compiled without the sqlite_vec tag: modernc.org/sqlite, no C toolchain
// needed. Distances are computed in Go after loading candidate vectors.
//
//	CGO_ENABLED=0 go build -tags purego ./...

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// VectorExtensionAvailable indicates if vector extension is available
	VectorExtensionAvailable = false

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)

func encodeVector(v []float32) ([]byte, error) {
	return serializeVector(v), nil
}

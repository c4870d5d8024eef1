// Package testutil holds small helpers shared by the storage engine's
// crash-injection and end-to-end tests.
package testutil

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// TempDBPath returns a collision-free database file path under the
// system temp directory, suitable for parallel test binaries that each
// need their own on-disk file.
func TempDBPath(t interface{ TempDir() string }) string {
	return filepath.Join(t.TempDir(), uuid.NewString()+".fdb")
}

// MustRemove deletes path and its WAL sidecar, ignoring a missing file.
func MustRemove(path string) {
	os.Remove(path)
	os.Remove(path + ".wal")
}

// Package testutil holds scratch-space helpers shared across scangraph tests.
package testutil

import (
	"path/filepath"
	"testing"
)

// TempDir hands a test its scratch directory for database files and
// archived report uploads.
func TempDir(t *testing.T) string {
	t.Helper()
	return t.TempDir()
}

// DBPath returns a path for a throwaway scangraph database inside a
// fresh scratch directory.
func DBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "scangraph.db")
}

// Package report archives uploaded scan files on disk, one canonical path
// per scan period, so a report can be re-read or re-ingested later.
package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/insightguard/scangraph/internal/schema"
)

const archivedName = "report.csv"

// Archive stores uploads under BaseDir in a family/year/month layout, with a
// week or department sublevel where the family calls for one.
type Archive struct {
	BaseDir string
}

// Path returns the canonical archive location for one scan period without
// touching the filesystem.
func (a *Archive) Path(family schema.Family, year, month, weekIndex int, department string) string {
	dir := filepath.Join(a.BaseDir, string(family), fmt.Sprintf("%04d", year), fmt.Sprintf("%02d", month))
	switch family {
	case schema.FamilyWeekly:
		dir = filepath.Join(dir, fmt.Sprintf("week-%d", weekIndex))
	case schema.FamilyDept:
		dir = filepath.Join(dir, schema.DeptSlug(department))
	}
	return filepath.Join(dir, archivedName)
}

// Store writes the raw upload to its canonical path, creating directories as
// needed. Re-uploading the same period overwrites the previous file.
func (a *Archive) Store(family schema.Family, year, month, weekIndex int, department string, data []byte) (string, error) {
	path := a.Path(family, year, month, weekIndex, department)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write archive file: %w", err)
	}
	return path, nil
}

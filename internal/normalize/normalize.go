// Package normalize maps raw CSV rows into canonical entity and edge
// descriptors with derived keys. It is pure: no storage access, no side
// effects beyond error reporting.
package normalize

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/insightguard/scangraph/internal/schema"
)

// RowValidationError names the offending column of a single bad row. The
// orchestrator records it and continues with the next row.
type RowValidationError struct {
	Row    int
	Column string
	Reason string
}

func (e *RowValidationError) Error() string {
	return fmt.Sprintf("row %d, column %q: %s", e.Row, e.Column, e.Reason)
}

// ScanMeta carries the owning scan's metadata into normalization.
type ScanMeta struct {
	Family     schema.Family
	ScanID     string
	Year       int
	Month      int
	WeekIndex  int
	Department string
	ScanDate   time.Time
}

// Normalize maps one raw CSV row (column name to string) into a NormalizedRow
// for the scan's family, or fails with a *RowValidationError.
func Normalize(meta ScanMeta, rowNum int, row map[string]string) (schema.NormalizedRow, error) {
	switch meta.Family {
	case schema.FamilyWeekly:
		return normalizeWeekly(meta, rowNum, row)
	case schema.FamilyMonthlyWeb:
		return normalizeMonthlyWeb(meta, rowNum, row)
	case schema.FamilyDept:
		return normalizeDept(meta, rowNum, row)
	}
	return schema.NormalizedRow{}, &RowValidationError{Row: rowNum, Reason: fmt.Sprintf("unknown family %q", meta.Family)}
}

func field(row map[string]string, column string) string {
	return strings.TrimSpace(row[column])
}

func requireField(row map[string]string, column string, rowNum int) (string, error) {
	v := field(row, column)
	if v == "" {
		return "", &RowValidationError{Row: rowNum, Column: column, Reason: "missing required field"}
	}
	return v, nil
}

func requireIPv4(row map[string]string, column string, rowNum int) (string, error) {
	v, err := requireField(row, column, rowNum)
	if err != nil {
		return "", err
	}
	addr, err := netip.ParseAddr(v)
	if err != nil || !addr.Is4() {
		return "", &RowValidationError{Row: rowNum, Column: column, Reason: fmt.Sprintf("malformed IPv4 address %q", v)}
	}
	return v, nil
}

// parseSeverity parses and range-checks a severity. Out-of-range values are
// errors, never clamped.
func parseSeverity(row map[string]string, column string, rowNum int) (int, error) {
	v, err := requireField(row, column, rowNum)
	if err != nil {
		return 0, err
	}
	sev, err := strconv.Atoi(v)
	if err != nil {
		return 0, &RowValidationError{Row: rowNum, Column: column, Reason: fmt.Sprintf("non-numeric severity %q", v)}
	}
	if sev < 0 || sev > 5 {
		return 0, &RowValidationError{Row: rowNum, Column: column, Reason: fmt.Sprintf("severity %d out of range 0-5", sev)}
	}
	return sev, nil
}

func parseOptionalInt(row map[string]string, column string, rowNum int) (int, bool, error) {
	v := field(row, column)
	if v == "" {
		return 0, false, nil
	}
	// Exports sometimes render integers as floats ("443.0").
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false, &RowValidationError{Row: rowNum, Column: column, Reason: fmt.Sprintf("non-numeric value %q", v)}
	}
	return int(f), true, nil
}

func parseOptionalFloat(row map[string]string, column string, rowNum int) (*float64, error) {
	v := field(row, column)
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, &RowValidationError{Row: rowNum, Column: column, Reason: fmt.Sprintf("non-numeric value %q", v)}
	}
	return &f, nil
}

func parseOptionalBool(row map[string]string, column string, rowNum int) (bool, error) {
	v := strings.ToLower(field(row, column))
	switch v {
	case "", "false", "f", "no", "0":
		return false, nil
	case "true", "t", "yes", "1":
		return true, nil
	}
	return false, &RowValidationError{Row: rowNum, Column: column, Reason: fmt.Sprintf("unrecognized boolean %q", v)}
}

// webDetectionLayout is the Qualys-style timestamp used by web-app exports,
// e.g. "06 Jul 2024 02:01AM GMT".
const webDetectionLayout = "02 Jan 2006 03:04PM MST"

// parseOptionalTime accepts ISO-8601, falling back to the given layout. A
// present but unparseable value is a row error; absence is not.
func parseOptionalTime(row map[string]string, column, fallbackLayout string, rowNum int) (time.Time, error) {
	v := field(row, column)
	if v == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts.UTC(), nil
		}
	}
	if fallbackLayout != "" {
		if ts, err := time.Parse(fallbackLayout, v); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, &RowValidationError{Row: rowNum, Column: column, Reason: fmt.Sprintf("unparseable date %q", v)}
}

// finishObservation fills seen dates and age. Missing dates default to the
// scan date so repeated ingests of one file stay deterministic. A negative
// computed age is a data entry error: clamped to zero and flagged.
func finishObservation(meta ScanMeta, obs *schema.ObsDescriptor, ageDays int, ageKnown bool) {
	if obs.FirstSeen.IsZero() {
		obs.FirstSeen = meta.ScanDate
	}
	if obs.LastSeen.IsZero() {
		obs.LastSeen = meta.ScanDate
	}
	if ageKnown {
		obs.AgeDays = ageDays
	} else {
		obs.AgeDays = int(meta.ScanDate.Sub(obs.FirstSeen).Hours() / 24)
	}
	if obs.AgeDays < 0 {
		obs.AgeDays = 0
		obs.AgeClamped = true
	}
}

package db

import (
	"database/sql"
	"fmt"

	"github.com/insightguard/scangraph/internal/schema"
)

const scanColumns = `scan_id, family, year, month, week_index, department, dept_key, scan_date,
	source_file, status, rows_total, rows_ingested, rows_failed, created_at, updated_at`

func scanScanRow(row interface{ Scan(...any) error }) (Scan, error) {
	var s Scan
	err := row.Scan(
		&s.ScanID, &s.Family, &s.Year, &s.Month, &s.WeekIndex, &s.Department, &s.DeptKey, &s.ScanDate,
		&s.SourceFile, &s.Status, &s.RowsTotal, &s.RowsIngested, &s.RowsFailed, &s.CreatedAt, &s.UpdatedAt,
	)
	return s, err
}

// InsertScan creates the scan record in the ingesting state. The scan_id
// primary key makes a concurrent duplicate upload lose the race here.
func (db *DB) InsertScan(s Scan) (Scan, error) {
	row := db.QueryRow(
		`INSERT INTO scan (scan_id, family, year, month, week_index, department, dept_key, scan_date, source_file, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING `+scanColumns,
		s.ScanID, s.Family, s.Year, s.Month, s.WeekIndex, s.Department, s.DeptKey, s.ScanDate, s.SourceFile, ScanStatusIngesting,
	)
	out, err := scanScanRow(row)
	if err != nil {
		return Scan{}, fmt.Errorf("insert scan: %w", err)
	}
	return out, nil
}

// GetScan fetches one scan by id.
func (db *DB) GetScan(scanID string) (Scan, bool, error) {
	row := db.QueryRow(`SELECT `+scanColumns+` FROM scan WHERE scan_id = ?`, scanID)
	s, err := scanScanRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return Scan{}, false, nil
		}
		return Scan{}, false, fmt.Errorf("get scan: %w", err)
	}
	return s, true, nil
}

// GetCompletedScan fetches one scan by id and family, visible only once
// ingestion completed. In-flight and failed scans stay hidden from analytics.
func (db *DB) GetCompletedScan(family schema.Family, scanID string) (Scan, bool, error) {
	row := db.QueryRow(
		`SELECT `+scanColumns+` FROM scan WHERE scan_id = ? AND family = ? AND status = ?`,
		scanID, family, ScanStatusCompleted,
	)
	s, err := scanScanRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return Scan{}, false, nil
		}
		return Scan{}, false, fmt.Errorf("get completed scan: %w", err)
	}
	return s, true, nil
}

// ScanExists reports whether a scan id is already recorded in any state.
func (db *DB) ScanExists(scanID string) (bool, error) {
	var one int
	err := db.QueryRow(`SELECT 1 FROM scan WHERE scan_id = ?`, scanID).Scan(&one)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("scan exists: %w", err)
	}
	return true, nil
}

// FinalizeScan moves a scan to its terminal state and fixes its row counts.
func (db *DB) FinalizeScan(scanID, status string, rowsTotal, rowsIngested, rowsFailed int) error {
	if status != ScanStatusCompleted && status != ScanStatusFailed {
		return fmt.Errorf("finalize scan: invalid terminal status %q", status)
	}
	_, err := db.Exec(
		`UPDATE scan SET status = ?, rows_total = ?, rows_ingested = ?, rows_failed = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE scan_id = ?`,
		status, rowsTotal, rowsIngested, rowsFailed, scanID,
	)
	if err != nil {
		return fmt.Errorf("finalize scan: %w", err)
	}
	return nil
}

// MarkScanFailed is FinalizeScan for aborts where counts may be unknown.
func (db *DB) MarkScanFailed(scanID string) error {
	_, err := db.Exec(
		`UPDATE scan SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE scan_id = ?`,
		ScanStatusFailed, scanID,
	)
	if err != nil {
		return fmt.Errorf("mark scan failed: %w", err)
	}
	return nil
}

// ListScans returns a family's completed scans, newest period first.
func (db *DB) ListScans(family schema.Family) ([]Scan, error) {
	rows, err := db.Query(
		`SELECT `+scanColumns+` FROM scan
		 WHERE family = ? AND status = ?
		 ORDER BY scan_date DESC, year DESC, month DESC, week_index DESC, scan_id`,
		family, ScanStatusCompleted,
	)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	defer rows.Close()

	var scans []Scan
	for rows.Next() {
		s, err := scanScanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scan row: %w", err)
		}
		scans = append(scans, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list scans rows: %w", err)
	}
	return scans, nil
}

// LatestScan returns the most recent completed scan for a family, optionally
// narrowed to one department slug.
func (db *DB) LatestScan(family schema.Family, deptKey string) (Scan, bool, error) {
	query := `SELECT ` + scanColumns + ` FROM scan WHERE family = ? AND status = ?`
	args := []any{family, ScanStatusCompleted}
	if deptKey != "" {
		query += ` AND dept_key = ?`
		args = append(args, deptKey)
	}
	query += ` ORDER BY scan_date DESC, year DESC, month DESC, week_index DESC, scan_id LIMIT 1`

	row := db.QueryRow(query, args...)
	s, err := scanScanRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return Scan{}, false, nil
		}
		return Scan{}, false, fmt.Errorf("latest scan: %w", err)
	}
	return s, true, nil
}

// ListIngestErrors returns up to limit recorded row errors for a scan.
func (db *DB) ListIngestErrors(scanID string, limit int) ([]IngestError, error) {
	rows, err := db.Query(
		`SELECT id, scan_id, row_number, column_name, reason, created_at
		   FROM ingest_error WHERE scan_id = ? ORDER BY row_number LIMIT ?`,
		scanID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list ingest errors: %w", err)
	}
	defer rows.Close()

	var items []IngestError
	for rows.Next() {
		var e IngestError
		if err := rows.Scan(&e.ID, &e.ScanID, &e.RowNumber, &e.Column, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ingest error: %w", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list ingest errors rows: %w", err)
	}
	return items, nil
}

package db

import "fmt"

// ScanSummary holds the dashboard KPI counts for one completed scan.
type ScanSummary struct {
	TotalObservations        int
	Critical                 int
	High                     int
	HostCount                int
	VulnCount                int
	KnownExploitedCount      int
	RansomwareExploitedCount int
}

// GetScanSummary aggregates observation counts for one scan. Computed from
// the graph each call; completed scans are immutable so callers may cache.
func (db *DB) GetScanSummary(scanID string) (ScanSummary, error) {
	var s ScanSummary
	err := db.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN o.severity = 5 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN o.severity = 4 THEN 1 ELSE 0 END), 0),
		        COUNT(DISTINCT o.host_id),
		        COUNT(DISTINCT o.vuln_id),
		        COALESCE(SUM(CASE WHEN v.known_exploited = 1 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN v.ransomware_exploited = 1 THEN 1 ELSE 0 END), 0)
		   FROM observation o
		   JOIN vulnerability v ON v.id = o.vuln_id
		  WHERE o.scan_id = ?`,
		scanID,
	).Scan(
		&s.TotalObservations, &s.Critical, &s.High, &s.HostCount, &s.VulnCount,
		&s.KnownExploitedCount, &s.RansomwareExploitedCount,
	)
	if err != nil {
		return ScanSummary{}, fmt.Errorf("scan summary: %w", err)
	}
	return s, nil
}

package db

import (
	"database/sql"
	"fmt"
)

// DefaultTopN bounds the top-hosts and top-vulnerabilities chart lists.
const DefaultTopN = 10

// SeverityBucket is one bar of the severity histogram.
type SeverityBucket struct {
	Severity int
	Count    int
}

// TopHost is one entry of the hosts-by-findings chart.
type TopHost struct {
	IP       string
	Hostname string
	BaseURL  string
	Findings int
	Critical int
}

// TopVuln is one entry of the vulnerabilities-by-findings chart.
type TopVuln struct {
	VulnKey             string
	PluginID            string
	Name                string
	Severity            int
	CVSS                sql.NullFloat64
	KnownExploited      bool
	RansomwareExploited bool
	Findings            int
}

// ChartData bundles the aggregates behind the dashboard charts.
type ChartData struct {
	SeverityBuckets []SeverityBucket
	TopHosts        []TopHost
	TopVulns        []TopVuln
}

// GetChartData aggregates chart data for one scan. minSeverity 0 means
// unfiltered. Severity buckets cover every severity >= minSeverity even when
// the count is zero. Top lists are bounded by topN with deterministic
// tie-breaks: hosts by findings desc then host key; vulnerabilities by
// findings desc, severity desc, then name.
func (db *DB) GetChartData(scanID string, minSeverity, topN int) (ChartData, error) {
	if topN <= 0 {
		topN = DefaultTopN
	}
	var data ChartData

	bucketRows, err := db.Query(
		`SELECT severity, COUNT(*) FROM observation
		  WHERE scan_id = ? AND severity >= ?
		  GROUP BY severity`,
		scanID, minSeverity,
	)
	if err != nil {
		return ChartData{}, fmt.Errorf("severity buckets: %w", err)
	}
	defer bucketRows.Close()

	counts := make(map[int]int)
	for bucketRows.Next() {
		var severity, count int
		if err := bucketRows.Scan(&severity, &count); err != nil {
			return ChartData{}, fmt.Errorf("scan severity bucket: %w", err)
		}
		counts[severity] = count
	}
	if err := bucketRows.Err(); err != nil {
		return ChartData{}, fmt.Errorf("severity bucket rows: %w", err)
	}
	for severity := minSeverity; severity <= 5; severity++ {
		data.SeverityBuckets = append(data.SeverityBuckets, SeverityBucket{Severity: severity, Count: counts[severity]})
	}

	hostRows, err := db.Query(
		`SELECT h.ip_address, h.hostname, h.base_url,
		        COUNT(*) AS findings,
		        COALESCE(SUM(CASE WHEN o.severity = 5 THEN 1 ELSE 0 END), 0) AS critical
		   FROM observation o
		   JOIN host h ON h.id = o.host_id
		  WHERE o.scan_id = ? AND o.severity >= ?
		  GROUP BY o.host_id
		  ORDER BY findings DESC, h.host_key
		  LIMIT ?`,
		scanID, minSeverity, topN,
	)
	if err != nil {
		return ChartData{}, fmt.Errorf("top hosts: %w", err)
	}
	defer hostRows.Close()

	for hostRows.Next() {
		var h TopHost
		if err := hostRows.Scan(&h.IP, &h.Hostname, &h.BaseURL, &h.Findings, &h.Critical); err != nil {
			return ChartData{}, fmt.Errorf("scan top host: %w", err)
		}
		data.TopHosts = append(data.TopHosts, h)
	}
	if err := hostRows.Err(); err != nil {
		return ChartData{}, fmt.Errorf("top host rows: %w", err)
	}

	vulnRows, err := db.Query(
		`SELECT v.vuln_key, v.plugin_id, v.name, v.severity, v.cvss, v.known_exploited, v.ransomware_exploited,
		        COUNT(*) AS findings
		   FROM observation o
		   JOIN vulnerability v ON v.id = o.vuln_id
		  WHERE o.scan_id = ? AND o.severity >= ?
		  GROUP BY o.vuln_id
		  ORDER BY findings DESC, v.severity DESC, v.name
		  LIMIT ?`,
		scanID, minSeverity, topN,
	)
	if err != nil {
		return ChartData{}, fmt.Errorf("top vulns: %w", err)
	}
	defer vulnRows.Close()

	for vulnRows.Next() {
		var v TopVuln
		if err := vulnRows.Scan(&v.VulnKey, &v.PluginID, &v.Name, &v.Severity, &v.CVSS, &v.KnownExploited, &v.RansomwareExploited, &v.Findings); err != nil {
			return ChartData{}, fmt.Errorf("scan top vuln: %w", err)
		}
		data.TopVulns = append(data.TopVulns, v)
	}
	if err := vulnRows.Err(); err != nil {
		return ChartData{}, fmt.Errorf("top vuln rows: %w", err)
	}

	return data, nil
}

package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// FindingsFilter narrows the paginated findings list. MinSeverity 0 means
// unfiltered; Search matches case-insensitively against ip, hostname, base
// url, vulnerability name and plugin id.
type FindingsFilter struct {
	MinSeverity int
	Search      string
	Offset      int
	Limit       int
}

// Finding is one observation joined with its host and vulnerability.
type Finding struct {
	ObsID               string
	Severity            int
	CVSS                sql.NullFloat64
	FirstSeen           time.Time
	LastSeen            time.Time
	AgeDays             int
	IP                  string
	Hostname            string
	BaseURL             string
	URL                 string
	PluginID            string
	VulnName            string
	CVE                 string
	KnownExploited      bool
	RansomwareExploited bool
}

// FindingsPage is one page of findings plus the filtered total.
type FindingsPage struct {
	Total  int
	Items  []Finding
	Offset int
	Limit  int
}

// Ordering is severity desc, last_seen desc, obs_id asc. obs_id is the final
// tie-break so pagination over a fixed filter is a stable total order.
const findingsOrder = ` ORDER BY o.severity DESC, o.last_seen DESC, o.obs_id`

// ListFindings returns one page of a scan's findings.
func (db *DB) ListFindings(scanID string, filter FindingsFilter) (FindingsPage, error) {
	where := ` WHERE o.scan_id = ? AND o.severity >= ?`
	args := []any{scanID, filter.MinSeverity}
	if search := strings.TrimSpace(filter.Search); search != "" {
		needle := "%" + strings.ToLower(search) + "%"
		where += ` AND (LOWER(h.ip_address) LIKE ? OR LOWER(h.hostname) LIKE ? OR LOWER(h.base_url) LIKE ?
		           OR LOWER(v.name) LIKE ? OR LOWER(v.plugin_id) LIKE ?)`
		args = append(args, needle, needle, needle, needle, needle)
	}

	joins := ` FROM observation o
	   JOIN host h ON h.id = o.host_id
	   JOIN vulnerability v ON v.id = o.vuln_id`

	page := FindingsPage{Offset: filter.Offset, Limit: filter.Limit}

	if err := db.QueryRow(`SELECT COUNT(*)`+joins+where, args...).Scan(&page.Total); err != nil {
		return FindingsPage{}, fmt.Errorf("count findings: %w", err)
	}

	rows, err := db.Query(
		`SELECT o.obs_id, o.severity, o.cvss, o.first_seen, o.last_seen, o.age_days,
		        h.ip_address, h.hostname, h.base_url, o.url,
		        v.plugin_id, v.name, v.cve, v.known_exploited, v.ransomware_exploited`+
			joins+where+findingsOrder+` LIMIT ? OFFSET ?`,
		append(args, filter.Limit, filter.Offset)...,
	)
	if err != nil {
		return FindingsPage{}, fmt.Errorf("list findings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f Finding
		if err := rows.Scan(
			&f.ObsID, &f.Severity, &f.CVSS, &f.FirstSeen, &f.LastSeen, &f.AgeDays,
			&f.IP, &f.Hostname, &f.BaseURL, &f.URL,
			&f.PluginID, &f.VulnName, &f.CVE, &f.KnownExploited, &f.RansomwareExploited,
		); err != nil {
			return FindingsPage{}, fmt.Errorf("scan finding: %w", err)
		}
		page.Items = append(page.Items, f)
	}
	if err := rows.Err(); err != nil {
		return FindingsPage{}, fmt.Errorf("list findings rows: %w", err)
	}
	return page, nil
}

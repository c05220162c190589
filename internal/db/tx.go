package db

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/insightguard/scangraph/internal/schema"
)

// Tx wraps sql.Tx to reuse DB helpers within a transaction. All graph
// mutation goes through Tx methods: merge-by-key for the living entities,
// plain insert for the write-once observation.
type Tx struct {
	*sql.Tx
}

// Begin starts a transaction on the DB.
func (db *DB) Begin() (*Tx, error) {
	tx, err := db.DB.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Tx{Tx: tx}, nil
}

// GetHostByKey fetches a host by (family, key) within a transaction.
func (tx *Tx) GetHostByKey(family schema.Family, key string) (Host, bool, error) {
	var h Host
	err := tx.QueryRow(
		`SELECT id, family, host_key, ip_address, hostname, base_url, first_seen, last_seen, created_at, updated_at
		 FROM host WHERE family = ? AND host_key = ?`,
		family, key,
	).Scan(&h.ID, &h.Family, &h.HostKey, &h.IPAddress, &h.Hostname, &h.BaseURL, &h.FirstSeen, &h.LastSeen, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return Host{}, false, nil
		}
		return Host{}, false, fmt.Errorf("get host: %w", err)
	}
	return h, true, nil
}

// UpsertHost merges a host by (family, host_key). Mutable fields move to the
// newest non-empty values; first_seen keeps the earliest known value and
// last_seen the latest. A key collision with a conflicting IP identity is a
// schema violation.
func (tx *Tx) UpsertHost(h Host) (Host, error) {
	existing, found, err := tx.GetHostByKey(h.Family, h.HostKey)
	if err != nil {
		return Host{}, err
	}
	if found && existing.IPAddress != "" && h.IPAddress != "" && existing.IPAddress != h.IPAddress {
		return Host{}, &schema.Violation{
			Label: "Host", Key: h.HostKey,
			Reason: fmt.Sprintf("key already bound to ip %s", existing.IPAddress),
		}
	}

	var firstSeen, lastSeen any
	if h.FirstSeen.Valid {
		firstSeen = h.FirstSeen.Time
	}
	if h.LastSeen.Valid {
		lastSeen = h.LastSeen.Time
	}

	var out Host
	err = tx.QueryRow(
		`INSERT INTO host (family, host_key, ip_address, hostname, base_url, first_seen, last_seen)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(family, host_key) DO UPDATE SET
		   ip_address=CASE WHEN excluded.ip_address != '' THEN excluded.ip_address ELSE host.ip_address END,
		   hostname=CASE WHEN excluded.hostname != '' THEN excluded.hostname ELSE host.hostname END,
		   base_url=CASE WHEN excluded.base_url != '' THEN excluded.base_url ELSE host.base_url END,
		   first_seen=COALESCE(host.first_seen, excluded.first_seen),
		   last_seen=COALESCE(excluded.last_seen, host.last_seen),
		   updated_at=CURRENT_TIMESTAMP
		 RETURNING id, family, host_key, ip_address, hostname, base_url, first_seen, last_seen, created_at, updated_at`,
		h.Family, h.HostKey, h.IPAddress, h.Hostname, h.BaseURL, firstSeen, lastSeen,
	).Scan(&out.ID, &out.Family, &out.HostKey, &out.IPAddress, &out.Hostname, &out.BaseURL, &out.FirstSeen, &out.LastSeen, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return Host{}, fmt.Errorf("upsert host: %w", err)
	}
	return out, nil
}

// GetServiceByKey fetches a service by (family, key) within a transaction.
func (tx *Tx) GetServiceByKey(family schema.Family, key string) (Service, bool, error) {
	var s Service
	err := tx.QueryRow(
		`SELECT id, family, service_key, host_id, ip_address, port, protocol, created_at
		 FROM service WHERE family = ? AND service_key = ?`,
		family, key,
	).Scan(&s.ID, &s.Family, &s.ServiceKey, &s.HostID, &s.IPAddress, &s.Port, &s.Protocol, &s.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return Service{}, false, nil
		}
		return Service{}, false, fmt.Errorf("get service: %w", err)
	}
	return s, true, nil
}

// UpsertService merges a service by (family, service_key). A key collision
// that would rebind the service to a different host is a schema violation.
func (tx *Tx) UpsertService(s Service) (Service, error) {
	existing, found, err := tx.GetServiceByKey(s.Family, s.ServiceKey)
	if err != nil {
		return Service{}, err
	}
	if found {
		if existing.HostID != s.HostID {
			return Service{}, &schema.Violation{
				Label: "Service", Key: s.ServiceKey,
				Reason: "key already bound to a different host",
			}
		}
		return existing, nil
	}

	var out Service
	err = tx.QueryRow(
		`INSERT INTO service (family, service_key, host_id, ip_address, port, protocol)
		 VALUES (?, ?, ?, ?, ?, ?)
		 RETURNING id, family, service_key, host_id, ip_address, port, protocol, created_at`,
		s.Family, s.ServiceKey, s.HostID, s.IPAddress, s.Port, s.Protocol,
	).Scan(&out.ID, &out.Family, &out.ServiceKey, &out.HostID, &out.IPAddress, &out.Port, &out.Protocol, &out.CreatedAt)
	if err != nil {
		return Service{}, fmt.Errorf("insert service: %w", err)
	}
	return out, nil
}

// GetVulnerabilityByKey fetches a vulnerability by (family, key) within a
// transaction.
func (tx *Tx) GetVulnerabilityByKey(family schema.Family, key string) (Vulnerability, bool, error) {
	var v Vulnerability
	err := tx.QueryRow(
		`SELECT id, family, vuln_key, plugin_id, cve, name, severity, cvss, known_exploited, ransomware_exploited, solution, created_at, updated_at
		 FROM vulnerability WHERE family = ? AND vuln_key = ?`,
		family, key,
	).Scan(&v.ID, &v.Family, &v.VulnKey, &v.PluginID, &v.CVE, &v.Name, &v.Severity, &v.CVSS, &v.KnownExploited, &v.RansomwareExploited, &v.Solution, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return Vulnerability{}, false, nil
		}
		return Vulnerability{}, false, fmt.Errorf("get vulnerability: %w", err)
	}
	return v, true, nil
}

// UpsertVulnerability merges a vulnerability by (family, vuln_key). Severity,
// cvss and the exploited flags are last-write-wins; the identity (plugin id)
// behind a key may never change.
func (tx *Tx) UpsertVulnerability(v Vulnerability) (Vulnerability, error) {
	existing, found, err := tx.GetVulnerabilityByKey(v.Family, v.VulnKey)
	if err != nil {
		return Vulnerability{}, err
	}
	if found && existing.PluginID != "" && v.PluginID != "" && existing.PluginID != v.PluginID {
		return Vulnerability{}, &schema.Violation{
			Label: "Vulnerability", Key: v.VulnKey,
			Reason: fmt.Sprintf("key already bound to plugin %s", existing.PluginID),
		}
	}

	var out Vulnerability
	err = tx.QueryRow(
		`INSERT INTO vulnerability (family, vuln_key, plugin_id, cve, name, severity, cvss, known_exploited, ransomware_exploited, solution)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(family, vuln_key) DO UPDATE SET
		   name=excluded.name,
		   severity=excluded.severity,
		   cvss=excluded.cvss,
		   known_exploited=excluded.known_exploited,
		   ransomware_exploited=excluded.ransomware_exploited,
		   cve=CASE WHEN excluded.cve != '' THEN excluded.cve ELSE vulnerability.cve END,
		   solution=CASE WHEN excluded.solution != '' THEN excluded.solution ELSE vulnerability.solution END,
		   updated_at=CURRENT_TIMESTAMP
		 RETURNING id, family, vuln_key, plugin_id, cve, name, severity, cvss, known_exploited, ransomware_exploited, solution, created_at, updated_at`,
		v.Family, v.VulnKey, v.PluginID, v.CVE, v.Name, v.Severity, v.CVSS, v.KnownExploited, v.RansomwareExploited, v.Solution,
	).Scan(&out.ID, &out.Family, &out.VulnKey, &out.PluginID, &out.CVE, &out.Name, &out.Severity, &out.CVSS, &out.KnownExploited, &out.RansomwareExploited, &out.Solution, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return Vulnerability{}, fmt.Errorf("upsert vulnerability: %w", err)
	}
	return out, nil
}

// UpsertDepartment merges a department by its slug.
func (tx *Tx) UpsertDepartment(d Department) (Department, error) {
	var out Department
	err := tx.QueryRow(
		`INSERT INTO department (dept_key, name)
		 VALUES (?, ?)
		 ON CONFLICT(dept_key) DO UPDATE SET
		   name=CASE WHEN excluded.name != '' THEN excluded.name ELSE department.name END
		 RETURNING id, dept_key, name, created_at`,
		d.DeptKey, d.Name,
	).Scan(&out.ID, &out.DeptKey, &out.Name, &out.CreatedAt)
	if err != nil {
		return Department{}, fmt.Errorf("upsert department: %w", err)
	}
	return out, nil
}

// InsertObservation stores one write-once observation row. A missing obs_id
// is generated; observations are never merged.
func (tx *Tx) InsertObservation(o Observation) (Observation, error) {
	if o.ObsID == "" {
		o.ObsID = uuid.NewString()
	}

	var out Observation
	err := tx.QueryRow(
		`INSERT INTO observation (
			obs_id, scan_id, family, host_id, service_id, vuln_id, department_id,
			url, severity, cvss, first_seen, last_seen, age_days, age_clamped
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING id, obs_id, scan_id, family, host_id, service_id, vuln_id, department_id,
		           url, severity, cvss, first_seen, last_seen, age_days, age_clamped, created_at`,
		o.ObsID, o.ScanID, o.Family, o.HostID, o.ServiceID, o.VulnID, o.DepartmentID,
		o.URL, o.Severity, o.CVSS, o.FirstSeen, o.LastSeen, o.AgeDays, o.AgeClamped,
	).Scan(
		&out.ID, &out.ObsID, &out.ScanID, &out.Family, &out.HostID, &out.ServiceID, &out.VulnID, &out.DepartmentID,
		&out.URL, &out.Severity, &out.CVSS, &out.FirstSeen, &out.LastSeen, &out.AgeDays, &out.AgeClamped, &out.CreatedAt,
	)
	if err != nil {
		return Observation{}, fmt.Errorf("insert observation: %w", err)
	}
	return out, nil
}

// InsertIngestError records one row-level failure for a scan.
func (tx *Tx) InsertIngestError(e IngestError) error {
	_, err := tx.Exec(
		`INSERT INTO ingest_error (scan_id, row_number, column_name, reason) VALUES (?, ?, ?, ?)`,
		e.ScanID, e.RowNumber, e.Column, e.Reason,
	)
	if err != nil {
		return fmt.Errorf("insert ingest error: %w", err)
	}
	return nil
}

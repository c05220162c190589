package db

import (
	"database/sql"
	"time"

	"github.com/insightguard/scangraph/internal/schema"
)

// Scan lifecycle states. A scan is created as ingesting, reaches completed or
// failed exactly once, and is immutable afterward. Analytics queries only see
// completed scans.
const (
	ScanStatusIngesting = "ingesting"
	ScanStatusCompleted = "completed"
	ScanStatusFailed    = "failed"
)

// Scan is one ingested report file for one period and family.
type Scan struct {
	ScanID       string
	Family       schema.Family
	Year         int
	Month        int
	WeekIndex    sql.NullInt64
	Department   string
	DeptKey      string
	ScanDate     time.Time
	SourceFile   string
	Status       string
	RowsTotal    int
	RowsIngested int
	RowsFailed   int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Host is a living cross-scan entity keyed by (family, host_key).
type Host struct {
	ID        int64
	Family    schema.Family
	HostKey   string
	IPAddress string
	Hostname  string
	BaseURL   string
	FirstSeen sql.NullTime
	LastSeen  sql.NullTime
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Service is one (ip, port, protocol) endpoint on a host.
type Service struct {
	ID         int64
	Family     schema.Family
	ServiceKey string
	HostID     int64
	IPAddress  string
	Port       sql.NullInt64
	Protocol   string
	CreatedAt  time.Time
}

// Vulnerability is keyed by (family, vuln_key); its attributes are
// last-write-wins across re-ingestion, its key never changes.
type Vulnerability struct {
	ID                  int64
	Family              schema.Family
	VulnKey             string
	PluginID            string
	CVE                 string
	Name                string
	Severity            int
	CVSS                sql.NullFloat64
	KnownExploited      bool
	RansomwareExploited bool
	Solution            string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Department is keyed by its slug; dept family only.
type Department struct {
	ID        int64
	DeptKey   string
	Name      string
	CreatedAt time.Time
}

// Observation records "this vulnerability was found on this host/service
// during this scan". Write-once, never merged.
type Observation struct {
	ID           int64
	ObsID        string
	ScanID       string
	Family       schema.Family
	HostID       int64
	ServiceID    sql.NullInt64
	VulnID       int64
	DepartmentID sql.NullInt64
	URL          string
	Severity     int
	CVSS         sql.NullFloat64
	FirstSeen    time.Time
	LastSeen     time.Time
	AgeDays      int
	AgeClamped   bool
	CreatedAt    time.Time
}

// IngestError is one recorded row failure for a scan.
type IngestError struct {
	ID        int64
	ScanID    string
	RowNumber int
	Column    string
	Reason    string
	CreatedAt time.Time
}

package export

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/insightguard/scangraph/internal/db"
)

// ScanExport captures one completed scan for JSON export.
type ScanExport struct {
	Scan     ScanInfo      `json:"scan"`
	Summary  SummaryInfo   `json:"summary"`
	Findings []FindingInfo `json:"findings"`
}

type ScanInfo struct {
	ScanID       string `json:"scan_id"`
	Family       string `json:"family"`
	Year         int    `json:"year"`
	Month        int    `json:"month"`
	WeekIndex    *int   `json:"week_index,omitempty"`
	Department   string `json:"department,omitempty"`
	ScanDate     string `json:"scan_date"`
	SourceFile   string `json:"source_file"`
	RowsTotal    int    `json:"rows_total"`
	RowsIngested int    `json:"rows_ingested"`
	RowsFailed   int    `json:"rows_failed"`
}

type SummaryInfo struct {
	TotalObservations        int `json:"total_observations"`
	Critical                 int `json:"critical"`
	High                     int `json:"high"`
	HostCount                int `json:"host_count"`
	VulnCount                int `json:"vuln_count"`
	KnownExploitedCount      int `json:"known_exploited_count"`
	RansomwareExploitedCount int `json:"ransomware_exploited_count"`
}

type FindingInfo struct {
	ObsID               string   `json:"obs_id"`
	Severity            int      `json:"severity"`
	CVSS                *float64 `json:"cvss,omitempty"`
	IP                  string   `json:"ip,omitempty"`
	Hostname            string   `json:"hostname,omitempty"`
	BaseURL             string   `json:"base_url,omitempty"`
	URL                 string   `json:"url,omitempty"`
	PluginID            string   `json:"plugin_id"`
	Name                string   `json:"name"`
	CVE                 string   `json:"cve,omitempty"`
	FirstSeen           string   `json:"first_seen"`
	LastSeen            string   `json:"last_seen"`
	AgeDays             int      `json:"age_days"`
	KnownExploited      bool     `json:"known_exploited"`
	RansomwareExploited bool     `json:"ransomware_exploited"`
}

// BuildScanExport assembles the export payload for one scan.
func BuildScanExport(database *db.DB, scan db.Scan) (ScanExport, error) {
	summary, err := database.GetScanSummary(scan.ScanID)
	if err != nil {
		return ScanExport{}, fmt.Errorf("scan summary: %w", err)
	}

	payload := ScanExport{
		Scan: ScanInfo{
			ScanID:       scan.ScanID,
			Family:       string(scan.Family),
			Year:         scan.Year,
			Month:        scan.Month,
			Department:   scan.Department,
			ScanDate:     scan.ScanDate.UTC().Format("2006-01-02"),
			SourceFile:   scan.SourceFile,
			RowsTotal:    scan.RowsTotal,
			RowsIngested: scan.RowsIngested,
			RowsFailed:   scan.RowsFailed,
		},
		Summary: SummaryInfo{
			TotalObservations:        summary.TotalObservations,
			Critical:                 summary.Critical,
			High:                     summary.High,
			HostCount:                summary.HostCount,
			VulnCount:                summary.VulnCount,
			KnownExploitedCount:      summary.KnownExploitedCount,
			RansomwareExploitedCount: summary.RansomwareExploitedCount,
		},
		Findings: []FindingInfo{},
	}
	if scan.WeekIndex.Valid {
		week := int(scan.WeekIndex.Int64)
		payload.Scan.WeekIndex = &week
	}

	err = eachFinding(database, scan.ScanID, func(f db.Finding) error {
		info := FindingInfo{
			ObsID:               f.ObsID,
			Severity:            f.Severity,
			IP:                  f.IP,
			Hostname:            f.Hostname,
			BaseURL:             f.BaseURL,
			URL:                 f.URL,
			PluginID:            f.PluginID,
			Name:                f.VulnName,
			CVE:                 f.CVE,
			FirstSeen:           f.FirstSeen.UTC().Format(time.RFC3339),
			LastSeen:            f.LastSeen.UTC().Format(time.RFC3339),
			AgeDays:             f.AgeDays,
			KnownExploited:      f.KnownExploited,
			RansomwareExploited: f.RansomwareExploited,
		}
		if f.CVSS.Valid {
			cvss := f.CVSS.Float64
			info.CVSS = &cvss
		}
		payload.Findings = append(payload.Findings, info)
		return nil
	})
	if err != nil {
		return ScanExport{}, err
	}
	return payload, nil
}

// ExportScanJSON writes the scan, its summary and every finding as JSON.
func ExportScanJSON(database *db.DB, scan db.Scan, w io.Writer) error {
	payload, err := BuildScanExport(database, scan)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(payload); err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	return nil
}

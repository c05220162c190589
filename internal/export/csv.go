// Package export writes completed scans to portable formats.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/insightguard/scangraph/internal/db"
)

// exportPageSize bounds each findings query while streaming an export.
const exportPageSize = 200

// ExportScanCSV writes a flattened findings list for one scan.
func ExportScanCSV(database *db.DB, scanID string, w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	err := eachFinding(database, scanID, func(f db.Finding) error {
		if err := writer.Write(csvRow(f)); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// eachFinding pages through a scan's findings in stable order.
func eachFinding(database *db.DB, scanID string, fn func(db.Finding) error) error {
	for offset := 0; ; offset += exportPageSize {
		page, err := database.ListFindings(scanID, db.FindingsFilter{Offset: offset, Limit: exportPageSize})
		if err != nil {
			return fmt.Errorf("list findings: %w", err)
		}
		for _, f := range page.Items {
			if err := fn(f); err != nil {
				return err
			}
		}
		if offset+len(page.Items) >= page.Total || len(page.Items) == 0 {
			return nil
		}
	}
}

func csvHeader() []string {
	return []string{
		"obs_id", "severity", "cvss", "ip", "hostname", "base_url", "url",
		"plugin_id", "name", "cve", "first_seen", "last_seen", "age_days",
		"known_exploited", "ransomware_exploited",
	}
}

func csvRow(f db.Finding) []string {
	cvss := ""
	if f.CVSS.Valid {
		cvss = strconv.FormatFloat(f.CVSS.Float64, 'f', 1, 64)
	}
	return []string{
		f.ObsID,
		strconv.Itoa(f.Severity),
		cvss,
		f.IP,
		f.Hostname,
		f.BaseURL,
		f.URL,
		f.PluginID,
		f.VulnName,
		f.CVE,
		f.FirstSeen.UTC().Format(time.RFC3339),
		f.LastSeen.UTC().Format(time.RFC3339),
		strconv.Itoa(f.AgeDays),
		strconv.FormatBool(f.KnownExploited),
		strconv.FormatBool(f.RansomwareExploited),
	}
}

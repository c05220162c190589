package export

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/insightguard/scangraph/internal/db"
)

// ExportScanText writes a readable findings summary for one scan.
func ExportScanText(database *db.DB, scan db.Scan, w io.Writer) error {
	summary, err := database.GetScanSummary(scan.ScanID)
	if err != nil {
		return fmt.Errorf("scan summary: %w", err)
	}

	fmt.Fprintf(w, "Scan: %s (%s)\n", scan.ScanID, scan.ScanDate.UTC().Format("2006-01-02"))
	fmt.Fprintf(w, "Exported: %s\n\n", time.Now().UTC().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Observations: %d (critical %d, high %d)\n", summary.TotalObservations, summary.Critical, summary.High)
	fmt.Fprintf(w, "Hosts: %d  Vulnerabilities: %d\n\n", summary.HostCount, summary.VulnCount)

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "SEV\tHOST\tVULNERABILITY\tAGE")
	err = eachFinding(database, scan.ScanID, func(f db.Finding) error {
		host := f.Hostname
		if host == "" {
			host = f.IP
		}
		if host == "" {
			host = f.BaseURL
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%dd\n", f.Severity, host, f.VulnName, f.AgeDays)
		return nil
	})
	if err != nil {
		return err
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush text: %w", err)
	}
	return nil
}

package web

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/insightguard/scangraph/internal/export"
)

func (s *Server) apiScanExport(w http.ResponseWriter, r *http.Request) {
	scan, ok := s.getCompletedScan(w, r)
	if !ok {
		return
	}

	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "json"
	}

	switch format {
	case "json":
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", scan.ScanID+".json"))
		if err := export.ExportScanJSON(s.DB, scan, w); err != nil {
			s.serverError(w, err)
		}
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", scan.ScanID+".csv"))
		if err := export.ExportScanCSV(s.DB, scan.ScanID, w); err != nil {
			s.serverError(w, err)
		}
	default:
		s.badRequest(w, fmt.Errorf("unknown export format: %s", format))
	}
}

package web

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/insightguard/scangraph/internal/ingest"
	"github.com/insightguard/scangraph/internal/schema"
)

// maxUploadBytes caps report uploads at 50MB.
const maxUploadBytes = 50 << 20

func (s *Server) apiIngest(w http.ResponseWriter, r *http.Request) {
	family, err := parseFamily(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.badRequest(w, fmt.Errorf("parse form: %w", err))
		return
	}

	year, err := strconv.Atoi(strings.TrimSpace(r.FormValue("year")))
	if err != nil {
		s.badRequest(w, fmt.Errorf("invalid year"))
		return
	}
	month, err := strconv.Atoi(strings.TrimSpace(r.FormValue("month")))
	if err != nil {
		s.badRequest(w, fmt.Errorf("invalid month"))
		return
	}

	req := ingest.Request{
		Family:     family,
		Year:       year,
		Month:      month,
		Department: r.FormValue("department"),
	}
	if family == schema.FamilyWeekly {
		req.WeekIndex, err = strconv.Atoi(strings.TrimSpace(r.FormValue("week_index")))
		if err != nil {
			s.badRequest(w, fmt.Errorf("invalid week_index"))
			return
		}
	}

	file, header, err := r.FormFile("report")
	if err != nil {
		s.badRequest(w, fmt.Errorf("missing report file"))
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".csv") {
		s.badRequest(w, fmt.Errorf("report must be a .csv file"))
		return
	}
	req.SourceFile = header.Filename

	summary, err := s.Ingestor.Ingest(r.Context(), req, file)
	if err != nil {
		var dup *ingest.DuplicateScanError
		if errors.As(err, &dup) {
			s.conflict(w, err)
			return
		}
		var invalid *ingest.FileValidationError
		if errors.As(err, &invalid) {
			s.badRequest(w, err)
			return
		}
		s.serverError(w, err)
		return
	}

	resp := map[string]interface{}{
		"status":        "ok",
		"type":          string(family),
		"scan_id":       summary.ScanID,
		"year":          year,
		"month":         month,
		"stored_at":     summary.StoredAt,
		"rows_total":    summary.RowsTotal,
		"rows_ingested": summary.RowsIngested,
		"rows_failed":   summary.RowsFailed,
		"errors":        summary.Errors,
	}
	if family == schema.FamilyWeekly {
		resp["week_index"] = req.WeekIndex
	}
	if family == schema.FamilyDept {
		resp["department"] = strings.TrimSpace(req.Department)
	}
	s.jsonResponse(w, resp, http.StatusOK)
}

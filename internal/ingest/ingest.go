// Package ingest drives one scan file through its lifecycle: metadata
// validation, header check, archiving, row normalization and batched graph
// writes, ending in a completed or failed scan record.
package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/insightguard/scangraph/internal/db"
	"github.com/insightguard/scangraph/internal/normalize"
	"github.com/insightguard/scangraph/internal/report"
	"github.com/insightguard/scangraph/internal/schema"
)

const (
	// DefaultBatchSize is how many CSV rows share one write transaction.
	DefaultBatchSize = 200
	// DefaultMaxRetries bounds re-running a batch after lock contention.
	DefaultMaxRetries = 3
	// maxReportedErrors caps the error list returned to the uploader. The
	// full list stays queryable from the ingest_error table.
	maxReportedErrors = 50
)

// DuplicateScanError rejects a re-upload of an already recorded period.
type DuplicateScanError struct {
	ScanID string
}

func (e *DuplicateScanError) Error() string {
	return fmt.Sprintf("scan %s already ingested", e.ScanID)
}

// FileValidationError rejects a whole file before any write happens.
type FileValidationError struct {
	Reason string
}

func (e *FileValidationError) Error() string {
	return fmt.Sprintf("invalid scan file: %s", e.Reason)
}

// Request identifies the reporting period an uploaded file belongs to.
type Request struct {
	Family     schema.Family
	Year       int
	Month      int
	WeekIndex  int
	Department string
	SourceFile string
}

// RowError is one recorded per-row failure.
type RowError struct {
	Row    int    `json:"row"`
	Column string `json:"column,omitempty"`
	Reason string `json:"reason"`
}

// Summary reports the outcome of one ingestion.
type Summary struct {
	ScanID       string     `json:"scan_id"`
	RowsTotal    int        `json:"rows_total"`
	RowsIngested int        `json:"rows_ingested"`
	RowsFailed   int        `json:"rows_failed"`
	Errors       []RowError `json:"errors,omitempty"`
	StoredAt     string     `json:"stored_at"`
}

// Orchestrator ingests scan files. Zero values for BatchSize and MaxRetries
// fall back to the defaults.
type Orchestrator struct {
	DB         *db.DB
	Archive    *report.Archive
	BatchSize  int
	MaxRetries int
	Log        *slog.Logger
}

func (o *Orchestrator) batchSize() int {
	if o.BatchSize > 0 {
		return o.BatchSize
	}
	return DefaultBatchSize
}

func (o *Orchestrator) maxRetries() int {
	if o.MaxRetries > 0 {
		return o.MaxRetries
	}
	return DefaultMaxRetries
}

func (o *Orchestrator) log() *slog.Logger {
	if o.Log != nil {
		return o.Log
	}
	return slog.Default()
}

func validateRequest(req Request) error {
	if !schema.ValidFamily(req.Family) {
		return &FileValidationError{Reason: fmt.Sprintf("unknown report family %q", req.Family)}
	}
	if req.Year < 2000 || req.Year > 2100 {
		return &FileValidationError{Reason: fmt.Sprintf("year %d out of range", req.Year)}
	}
	if req.Month < 1 || req.Month > 12 {
		return &FileValidationError{Reason: fmt.Sprintf("month %d out of range", req.Month)}
	}
	if req.Family == schema.FamilyWeekly && (req.WeekIndex < 1 || req.WeekIndex > 5) {
		return &FileValidationError{Reason: fmt.Sprintf("week index %d out of range 1-5", req.WeekIndex)}
	}
	if req.Family == schema.FamilyDept && strings.TrimSpace(req.Department) == "" {
		return &FileValidationError{Reason: "department is required"}
	}
	return nil
}

// Ingest runs one upload end to end. A failed file-level check returns before
// anything is written; row-level failures are recorded and skipped. The scan
// reaches completed even when every row failed, so the caller can inspect the
// errors afterward.
func (o *Orchestrator) Ingest(ctx context.Context, req Request, r io.Reader) (Summary, error) {
	if err := validateRequest(req); err != nil {
		return Summary{}, err
	}

	scanID := schema.ScanID(req.Family, req.Year, req.Month, req.WeekIndex, req.Department)
	exists, err := o.DB.ScanExists(scanID)
	if err != nil {
		return Summary{}, fmt.Errorf("check duplicate scan: %w", err)
	}
	if exists {
		return Summary{}, &DuplicateScanError{ScanID: scanID}
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return Summary{}, fmt.Errorf("read upload: %w", err)
	}

	header, records, err := parseCSV(data)
	if err != nil {
		return Summary{}, err
	}
	desc, _ := schema.Describe(req.Family)
	if err := checkHeader(header, desc.RequiredColumns); err != nil {
		return Summary{}, err
	}

	storedAt, err := o.Archive.Store(req.Family, req.Year, req.Month, req.WeekIndex, req.Department, data)
	if err != nil {
		return Summary{}, fmt.Errorf("archive upload: %w", err)
	}

	scan := db.Scan{
		ScanID:     scanID,
		Family:     req.Family,
		Year:       req.Year,
		Month:      req.Month,
		Department: strings.TrimSpace(req.Department),
		ScanDate:   schema.ScanDate(req.Year, req.Month),
		SourceFile: req.SourceFile,
	}
	if req.Family == schema.FamilyWeekly {
		scan.WeekIndex.Int64 = int64(req.WeekIndex)
		scan.WeekIndex.Valid = true
	}
	if req.Family == schema.FamilyDept {
		scan.DeptKey = schema.DeptSlug(req.Department)
	}
	if _, err := o.DB.InsertScan(scan); err != nil {
		// A concurrent upload for the same period can slip past the
		// pre-check and lose the insert race here instead.
		if db.IsScanConflict(err) {
			return Summary{}, &DuplicateScanError{ScanID: scanID}
		}
		return Summary{}, fmt.Errorf("record scan: %w", err)
	}

	meta := normalize.ScanMeta{
		Family:     req.Family,
		ScanID:     scanID,
		Year:       req.Year,
		Month:      req.Month,
		WeekIndex:  req.WeekIndex,
		Department: scan.Department,
		ScanDate:   scan.ScanDate,
	}

	log := o.log().With("scan_id", scanID, "family", req.Family)
	log.Info("ingest started", "rows", len(records), "source_file", req.SourceFile)

	summary := Summary{ScanID: scanID, RowsTotal: len(records), StoredAt: storedAt}
	var allErrors []RowError

	size := o.batchSize()
	for start := 0; start < len(records); start += size {
		if err := ctx.Err(); err != nil {
			o.abort(scanID, log, err)
			return Summary{}, fmt.Errorf("ingest canceled: %w", err)
		}

		end := start + size
		if end > len(records) {
			end = len(records)
		}
		ingested, rowErrs, err := o.runBatch(ctx, meta, header, records[start:end], start)
		if err != nil {
			o.abort(scanID, log, err)
			return Summary{}, err
		}
		summary.RowsIngested += ingested
		allErrors = append(allErrors, rowErrs...)
	}

	summary.RowsFailed = len(allErrors)
	if err := o.DB.FinalizeScan(scanID, db.ScanStatusCompleted, summary.RowsTotal, summary.RowsIngested, summary.RowsFailed); err != nil {
		return Summary{}, fmt.Errorf("finalize scan: %w", err)
	}

	summary.Errors = allErrors
	if len(summary.Errors) > maxReportedErrors {
		summary.Errors = summary.Errors[:maxReportedErrors]
	}

	log.Info("ingest completed",
		"rows_total", summary.RowsTotal,
		"rows_ingested", summary.RowsIngested,
		"rows_failed", summary.RowsFailed)
	return summary, nil
}

func (o *Orchestrator) abort(scanID string, log *slog.Logger, cause error) {
	log.Error("ingest aborted", "error", cause)
	if err := o.DB.MarkScanFailed(scanID); err != nil {
		log.Error("mark scan failed", "error", err)
	}
}

// runBatch applies one slice of rows in a single transaction, retrying the
// whole batch on lock contention. Row errors roll back with the transaction
// and are re-collected on retry, so they are recorded exactly once.
func (o *Orchestrator) runBatch(ctx context.Context, meta normalize.ScanMeta, header []string, records [][]string, offset int) (int, []RowError, error) {
	var lastErr error
	for attempt := 0; attempt <= o.maxRetries(); attempt++ {
		if attempt > 0 {
			backoff := 50 * time.Millisecond << (attempt - 1)
			select {
			case <-ctx.Done():
				return 0, nil, fmt.Errorf("ingest canceled: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		ingested, rowErrs, err := o.applyBatch(meta, header, records, offset)
		if err == nil {
			return ingested, rowErrs, nil
		}
		if !db.IsTransient(err) {
			return 0, nil, err
		}
		lastErr = err
		o.log().Warn("batch retry", "scan_id", meta.ScanID, "attempt", attempt+1, "error", err)
	}
	return 0, nil, fmt.Errorf("batch gave up after %d retries: %w", o.maxRetries(), lastErr)
}

func (o *Orchestrator) applyBatch(meta normalize.ScanMeta, header []string, records [][]string, offset int) (int, []RowError, error) {
	tx, err := o.DB.Begin()
	if err != nil {
		return 0, nil, db.Classify(err)
	}
	defer tx.Rollback()

	ingested := 0
	var rowErrs []RowError
	for i, record := range records {
		// Header is line 1 of the file, data rows start at line 2.
		rowNum := offset + i + 2
		row := zipRow(header, record)

		normRow, err := normalize.Normalize(meta, rowNum, row)
		if err != nil {
			var rve *normalize.RowValidationError
			if errors.As(err, &rve) {
				rowErrs = append(rowErrs, RowError{Row: rve.Row, Column: rve.Column, Reason: rve.Reason})
				continue
			}
			return 0, nil, fmt.Errorf("normalize row %d: %w", rowNum, err)
		}
		if err := schema.Validate(normRow); err != nil {
			rowErrs = append(rowErrs, RowError{Row: rowNum, Reason: err.Error()})
			continue
		}

		if err := applyRow(tx, meta, normRow); err != nil {
			var violation *schema.Violation
			if errors.As(err, &violation) {
				rowErrs = append(rowErrs, RowError{Row: rowNum, Reason: violation.Error()})
				continue
			}
			return 0, nil, db.Classify(err)
		}
		ingested++
	}

	for _, re := range rowErrs {
		err := tx.InsertIngestError(db.IngestError{
			ScanID: meta.ScanID, RowNumber: re.Row, Column: re.Column, Reason: re.Reason,
		})
		if err != nil {
			return 0, nil, db.Classify(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, db.Classify(err)
	}
	return ingested, rowErrs, nil
}

// applyRow merges one normalized row into the graph: upsert the living
// entities, then record the write-once observation pointing at them.
func applyRow(tx *db.Tx, meta normalize.ScanMeta, row schema.NormalizedRow) error {
	host := db.Host{
		Family:    row.Host.Family,
		HostKey:   row.Host.Key,
		IPAddress: row.Host.IP,
		Hostname:  row.Host.Hostname,
		BaseURL:   row.Host.BaseURL,
	}
	host.FirstSeen.Time, host.FirstSeen.Valid = row.Obs.FirstSeen, true
	host.LastSeen.Time, host.LastSeen.Valid = row.Obs.LastSeen, true
	storedHost, err := tx.UpsertHost(host)
	if err != nil {
		return err
	}

	obs := db.Observation{
		ScanID:     meta.ScanID,
		Family:     row.Obs.Family,
		HostID:     storedHost.ID,
		URL:        row.Obs.URL,
		Severity:   row.Obs.Severity,
		FirstSeen:  row.Obs.FirstSeen,
		LastSeen:   row.Obs.LastSeen,
		AgeDays:    row.Obs.AgeDays,
		AgeClamped: row.Obs.AgeClamped,
	}
	if row.Obs.CVSS != nil {
		obs.CVSS.Float64, obs.CVSS.Valid = *row.Obs.CVSS, true
	}

	if row.Service != nil {
		svc := db.Service{
			Family:     row.Service.Family,
			ServiceKey: row.Service.Key,
			HostID:     storedHost.ID,
			IPAddress:  row.Service.IP,
			Protocol:   row.Service.Protocol,
		}
		svc.Port.Int64, svc.Port.Valid = int64(row.Service.Port), true
		storedSvc, err := tx.UpsertService(svc)
		if err != nil {
			return err
		}
		obs.ServiceID.Int64, obs.ServiceID.Valid = storedSvc.ID, true
	}

	vuln := db.Vulnerability{
		Family:              row.Vuln.Family,
		VulnKey:             row.Vuln.Key,
		PluginID:            row.Vuln.PluginID,
		CVE:                 row.Vuln.CVE,
		Name:                row.Vuln.Name,
		Severity:            row.Vuln.Severity,
		KnownExploited:      row.Vuln.KnownExploited,
		RansomwareExploited: row.Vuln.RansomwareExploited,
		Solution:            row.Vuln.Solution,
	}
	if row.Vuln.CVSS != nil {
		vuln.CVSS.Float64, vuln.CVSS.Valid = *row.Vuln.CVSS, true
	}
	storedVuln, err := tx.UpsertVulnerability(vuln)
	if err != nil {
		return err
	}
	obs.VulnID = storedVuln.ID

	if row.Dept != nil {
		dept, err := tx.UpsertDepartment(db.Department{DeptKey: row.Dept.Key, Name: row.Dept.Name})
		if err != nil {
			return err
		}
		obs.DepartmentID.Int64, obs.DepartmentID.Valid = dept.ID, true
	}

	_, err = tx.InsertObservation(obs)
	return err
}

func parseCSV(data []byte) ([]string, [][]string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	all, err := reader.ReadAll()
	if err != nil {
		return nil, nil, &FileValidationError{Reason: fmt.Sprintf("malformed CSV: %v", err)}
	}
	if len(all) == 0 {
		return nil, nil, &FileValidationError{Reason: "empty file"}
	}

	header := all[0]
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if len(header) > 0 {
		// Excel exports often lead with a UTF-8 BOM.
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}
	return header, all[1:], nil
}

func checkHeader(header, required []string) error {
	present := make(map[string]bool, len(header))
	for _, col := range header {
		present[col] = true
	}
	var missing []string
	for _, col := range required {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return &FileValidationError{Reason: fmt.Sprintf("missing required columns: %s", strings.Join(missing, ", "))}
	}
	return nil
}

func zipRow(header, record []string) map[string]string {
	row := make(map[string]string, len(header))
	for i, col := range header {
		if i < len(record) {
			row[col] = record[i]
		}
	}
	return row
}

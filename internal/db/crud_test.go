package db

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/insightguard/scangraph/internal/schema"
)

func mustBegin(t *testing.T, db *DB) *Tx {
	t.Helper()
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	return tx
}

func insertTestScan(t *testing.T, db *DB, family schema.Family, scanID string, year, month int) Scan {
	t.Helper()
	s, err := db.InsertScan(Scan{
		ScanID:     scanID,
		Family:     family,
		Year:       year,
		Month:      month,
		ScanDate:   schema.ScanDate(year, month),
		SourceFile: "report.csv",
	})
	if err != nil {
		t.Fatalf("insert scan %s: %v", scanID, err)
	}
	return s
}

func TestUpsertHostMergeByKey(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	tx := mustBegin(t, db)
	defer tx.Rollback()

	seen := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	h1, err := tx.UpsertHost(Host{
		Family:    schema.FamilyWeekly,
		HostKey:   "10.0.0.5",
		IPAddress: "10.0.0.5",
		Hostname:  "web1",
		FirstSeen: sql.NullTime{Time: seen, Valid: true},
		LastSeen:  sql.NullTime{Time: seen, Valid: true},
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	// Same key again: same row, newest non-empty hostname wins, first_seen
	// keeps the earliest value and last_seen advances.
	later := seen.AddDate(0, 0, 7)
	h2, err := tx.UpsertHost(Host{
		Family:    schema.FamilyWeekly,
		HostKey:   "10.0.0.5",
		IPAddress: "10.0.0.5",
		Hostname:  "web1-updated",
		LastSeen:  sql.NullTime{Time: later, Valid: true},
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if h2.ID != h1.ID {
		t.Fatalf("expected merge into host %d, got new host %d", h1.ID, h2.ID)
	}
	if h2.Hostname != "web1-updated" {
		t.Fatalf("expected hostname web1-updated, got %q", h2.Hostname)
	}
	if !h2.FirstSeen.Valid || !h2.FirstSeen.Time.Equal(seen) {
		t.Fatalf("expected first_seen to stay %v, got %v", seen, h2.FirstSeen)
	}
	if !h2.LastSeen.Valid || !h2.LastSeen.Time.Equal(later) {
		t.Fatalf("expected last_seen to advance to %v, got %v", later, h2.LastSeen)
	}

	// An empty hostname on a later merge must not erase the stored one.
	h3, err := tx.UpsertHost(Host{Family: schema.FamilyWeekly, HostKey: "10.0.0.5", IPAddress: "10.0.0.5"})
	if err != nil {
		t.Fatalf("third upsert: %v", err)
	}
	if h3.Hostname != "web1-updated" {
		t.Fatalf("empty hostname erased stored value: %q", h3.Hostname)
	}

	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM host`).Scan(&count); err != nil {
		t.Fatalf("count hosts: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 host row, got %d", count)
	}
}

func TestUpsertHostFamilyIsolation(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	tx := mustBegin(t, db)
	defer tx.Rollback()

	h1, err := tx.UpsertHost(Host{Family: schema.FamilyWeekly, HostKey: "10.0.0.5", IPAddress: "10.0.0.5"})
	if err != nil {
		t.Fatalf("weekly upsert: %v", err)
	}
	h2, err := tx.UpsertHost(Host{Family: schema.FamilyDept, HostKey: "10.0.0.5", IPAddress: "10.0.0.5"})
	if err != nil {
		t.Fatalf("dept upsert: %v", err)
	}
	if h1.ID == h2.ID {
		t.Fatalf("same key in different families must be distinct hosts")
	}
}

func TestUpsertHostIPConflictIsViolation(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	tx := mustBegin(t, db)
	defer tx.Rollback()

	if _, err := tx.UpsertHost(Host{Family: schema.FamilyWeekly, HostKey: "10.0.0.5", IPAddress: "10.0.0.5"}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	_, err := tx.UpsertHost(Host{Family: schema.FamilyWeekly, HostKey: "10.0.0.5", IPAddress: "10.0.0.99"})
	var violation *schema.Violation
	if !errors.As(err, &violation) {
		t.Fatalf("expected schema violation, got %v", err)
	}
}

func TestUpsertServiceRebindIsViolation(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	tx := mustBegin(t, db)
	defer tx.Rollback()

	h1, err := tx.UpsertHost(Host{Family: schema.FamilyWeekly, HostKey: "10.0.0.5", IPAddress: "10.0.0.5"})
	if err != nil {
		t.Fatalf("upsert host 1: %v", err)
	}
	h2, err := tx.UpsertHost(Host{Family: schema.FamilyWeekly, HostKey: "10.0.0.6", IPAddress: "10.0.0.6"})
	if err != nil {
		t.Fatalf("upsert host 2: %v", err)
	}

	key := schema.ServiceKey("10.0.0.5", 443, "tcp")
	s1, err := tx.UpsertService(Service{
		Family: schema.FamilyWeekly, ServiceKey: key, HostID: h1.ID,
		IPAddress: "10.0.0.5", Port: sql.NullInt64{Int64: 443, Valid: true}, Protocol: "tcp",
	})
	if err != nil {
		t.Fatalf("insert service: %v", err)
	}

	s2, err := tx.UpsertService(Service{
		Family: schema.FamilyWeekly, ServiceKey: key, HostID: h1.ID,
		IPAddress: "10.0.0.5", Port: sql.NullInt64{Int64: 443, Valid: true}, Protocol: "tcp",
	})
	if err != nil {
		t.Fatalf("re-upsert service: %v", err)
	}
	if s2.ID != s1.ID {
		t.Fatalf("expected merge into service %d, got %d", s1.ID, s2.ID)
	}

	_, err = tx.UpsertService(Service{
		Family: schema.FamilyWeekly, ServiceKey: key, HostID: h2.ID,
		IPAddress: "10.0.0.5", Port: sql.NullInt64{Int64: 443, Valid: true}, Protocol: "tcp",
	})
	var violation *schema.Violation
	if !errors.As(err, &violation) {
		t.Fatalf("expected schema violation on host rebind, got %v", err)
	}
}

func TestUpsertVulnerabilityMerge(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	tx := mustBegin(t, db)
	defer tx.Rollback()

	key := schema.VulnKey("12345", "", "OpenSSL Heartbeat")
	v1, err := tx.UpsertVulnerability(Vulnerability{
		Family: schema.FamilyWeekly, VulnKey: key, PluginID: "12345",
		Name: "OpenSSL Heartbeat", Severity: 4,
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	// Severity and flags are last-write-wins, cve fills in when first seen.
	v2, err := tx.UpsertVulnerability(Vulnerability{
		Family: schema.FamilyWeekly, VulnKey: key, PluginID: "12345",
		Name: "OpenSSL Heartbeat", Severity: 5, CVE: "CVE-2014-0160",
		KnownExploited: true,
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if v2.ID != v1.ID {
		t.Fatalf("expected merge into vuln %d, got %d", v1.ID, v2.ID)
	}
	if v2.Severity != 5 || !v2.KnownExploited {
		t.Fatalf("expected last-write-wins severity 5 and known_exploited, got %+v", v2)
	}
	if v2.CVE != "CVE-2014-0160" {
		t.Fatalf("expected cve to fill in, got %q", v2.CVE)
	}

	// Same key with a different plugin identity must be rejected.
	_, err = tx.UpsertVulnerability(Vulnerability{
		Family: schema.FamilyWeekly, VulnKey: key, PluginID: "99999",
		Name: "OpenSSL Heartbeat", Severity: 5,
	})
	var violation *schema.Violation
	if !errors.As(err, &violation) {
		t.Fatalf("expected schema violation on plugin rebind, got %v", err)
	}
}

func TestScanLifecycle(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	scanID := schema.ScanID(schema.FamilyWeekly, 2024, 7, 2, "")
	s := insertTestScan(t, db, schema.FamilyWeekly, scanID, 2024, 7)
	if s.Status != ScanStatusIngesting {
		t.Fatalf("expected new scan ingesting, got %q", s.Status)
	}

	// The primary key makes a duplicate upload lose the race.
	_, err := db.InsertScan(Scan{ScanID: scanID, Family: schema.FamilyWeekly, Year: 2024, Month: 7, ScanDate: s.ScanDate})
	if err == nil {
		t.Fatalf("expected duplicate scan insert to fail")
	}
	if !IsScanConflict(err) {
		t.Fatalf("expected scan conflict, got %v", err)
	}

	exists, err := db.ScanExists(scanID)
	if err != nil {
		t.Fatalf("scan exists: %v", err)
	}
	if !exists {
		t.Fatalf("expected scan to exist")
	}

	// Ingesting scans stay invisible to analytics.
	if _, found, err := db.GetCompletedScan(schema.FamilyWeekly, scanID); err != nil {
		t.Fatalf("get completed scan: %v", err)
	} else if found {
		t.Fatalf("ingesting scan must not be visible as completed")
	}

	if err := db.FinalizeScan(scanID, "half-done", 3, 2, 1); err == nil {
		t.Fatalf("expected invalid terminal status to be rejected")
	}
	if err := db.FinalizeScan(scanID, ScanStatusCompleted, 3, 2, 1); err != nil {
		t.Fatalf("finalize scan: %v", err)
	}

	got, found, err := db.GetCompletedScan(schema.FamilyWeekly, scanID)
	if err != nil {
		t.Fatalf("get completed scan: %v", err)
	}
	if !found {
		t.Fatalf("expected completed scan to be visible")
	}
	if got.RowsTotal != 3 || got.RowsIngested != 2 || got.RowsFailed != 1 {
		t.Fatalf("unexpected row counts: %+v", got)
	}
}

func TestListScansAndLatest(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	mar := schema.ScanID(schema.FamilyMonthlyWeb, 2024, 3, 0, "")
	jul := schema.ScanID(schema.FamilyMonthlyWeb, 2024, 7, 0, "")
	insertTestScan(t, db, schema.FamilyMonthlyWeb, mar, 2024, 3)
	insertTestScan(t, db, schema.FamilyMonthlyWeb, jul, 2024, 7)

	stale := schema.ScanID(schema.FamilyMonthlyWeb, 2024, 8, 0, "")
	insertTestScan(t, db, schema.FamilyMonthlyWeb, stale, 2024, 8)

	if err := db.FinalizeScan(mar, ScanStatusCompleted, 1, 1, 0); err != nil {
		t.Fatalf("finalize mar: %v", err)
	}
	if err := db.FinalizeScan(jul, ScanStatusCompleted, 1, 1, 0); err != nil {
		t.Fatalf("finalize jul: %v", err)
	}
	if err := db.MarkScanFailed(stale); err != nil {
		t.Fatalf("fail stale: %v", err)
	}

	scans, err := db.ListScans(schema.FamilyMonthlyWeb)
	if err != nil {
		t.Fatalf("list scans: %v", err)
	}
	if len(scans) != 2 {
		t.Fatalf("expected 2 completed scans, got %d", len(scans))
	}
	if scans[0].ScanID != jul || scans[1].ScanID != mar {
		t.Fatalf("expected newest first [%s %s], got %+v", jul, mar, scans)
	}

	latest, found, err := db.LatestScan(schema.FamilyMonthlyWeb, "")
	if err != nil {
		t.Fatalf("latest scan: %v", err)
	}
	if !found || latest.ScanID != jul {
		t.Fatalf("expected latest %s, got %+v found=%v", jul, latest, found)
	}
}

func TestLatestScanByDepartment(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	finance := schema.ScanID(schema.FamilyDept, 2024, 7, 0, "Finance")
	hr := schema.ScanID(schema.FamilyDept, 2024, 8, 0, "Human Resources")

	s1, err := db.InsertScan(Scan{
		ScanID: finance, Family: schema.FamilyDept, Year: 2024, Month: 7,
		Department: "Finance", DeptKey: schema.DeptSlug("Finance"),
		ScanDate: schema.ScanDate(2024, 7),
	})
	if err != nil {
		t.Fatalf("insert finance scan: %v", err)
	}
	if _, err := db.InsertScan(Scan{
		ScanID: hr, Family: schema.FamilyDept, Year: 2024, Month: 8,
		Department: "Human Resources", DeptKey: schema.DeptSlug("Human Resources"),
		ScanDate: schema.ScanDate(2024, 8),
	}); err != nil {
		t.Fatalf("insert hr scan: %v", err)
	}
	if err := db.FinalizeScan(finance, ScanStatusCompleted, 1, 1, 0); err != nil {
		t.Fatalf("finalize finance: %v", err)
	}
	if err := db.FinalizeScan(hr, ScanStatusCompleted, 1, 1, 0); err != nil {
		t.Fatalf("finalize hr: %v", err)
	}

	latest, found, err := db.LatestScan(schema.FamilyDept, "finance")
	if err != nil {
		t.Fatalf("latest finance: %v", err)
	}
	if !found || latest.ScanID != s1.ScanID {
		t.Fatalf("expected finance scan %s, got %+v found=%v", s1.ScanID, latest, found)
	}

	_, found, err = db.LatestScan(schema.FamilyDept, "legal")
	if err != nil {
		t.Fatalf("latest legal: %v", err)
	}
	if found {
		t.Fatalf("expected no scan for unknown department")
	}
}

func TestInsertIngestErrorsAndList(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	scanID := schema.ScanID(schema.FamilyWeekly, 2024, 7, 1, "")
	insertTestScan(t, db, schema.FamilyWeekly, scanID, 2024, 7)

	tx := mustBegin(t, db)
	for i, reason := range []string{"invalid severity", "missing ip", "bad date"} {
		if err := tx.InsertIngestError(IngestError{ScanID: scanID, RowNumber: i + 2, Column: "severity", Reason: reason}); err != nil {
			t.Fatalf("insert ingest error: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	errs, err := db.ListIngestErrors(scanID, 2)
	if err != nil {
		t.Fatalf("list ingest errors: %v", err)
	}
	if len(errs) != 2 {
		t.Fatalf("expected limit of 2 errors, got %d", len(errs))
	}
	if errs[0].RowNumber != 2 || errs[1].RowNumber != 3 {
		t.Fatalf("expected row order 2,3 got %+v", errs)
	}
}

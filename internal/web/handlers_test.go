package web

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/insightguard/scangraph/internal/db"
	"github.com/insightguard/scangraph/internal/ingest"
	"github.com/insightguard/scangraph/internal/report"
	"github.com/insightguard/scangraph/internal/testutil"
)

func newTestServer(t *testing.T) (*db.DB, *Server) {
	t.Helper()
	dir := testutil.TempDir(t)
	database, err := db.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ingestor := &ingest.Orchestrator{
		DB:      database,
		Archive: &report.Archive{BaseDir: filepath.Join(dir, "uploads")},
		Log:     log,
	}
	return database, NewServer(database, ingestor, log)
}

func uploadReport(t *testing.T, server *Server, path string, fields map[string]string, csvData string) *httptest.ResponseRecorder {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("write field %s: %v", key, err)
		}
	}
	part, err := writer.CreateFormFile("report", "report.csv")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte(csvData)); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "http://localhost:8080"+path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func getJSON(t *testing.T, server *Server, path string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "http://localhost:8080"+path, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	var resp map[string]interface{}
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal %s: %v", path, err)
		}
	}
	return rec.Code, resp
}

const weeklyCSV = `ip,Hostname,port,protocol,plugin_id,severity,name
10.0.0.1,web1,443,tcp,11111,5,Remote Code Execution
10.0.0.2,db1,,,22222,nine,Privilege Escalation
10.0.0.1,web1,22,tcp,33333,3,Weak Cipher
`

func weeklyFields() map[string]string {
	return map[string]string{"year": "2024", "month": "7", "week_index": "2"}
}

func TestIngestWeeklyUpload(t *testing.T) {
	_, server := newTestServer(t)

	rec := uploadReport(t, server, "/api/ingest/weekly-dhs", weeklyFields(), weeklyCSV)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["scan_id"] != "weekly_dhs_2024_07_wk2" {
		t.Fatalf("unexpected scan id %v", resp["scan_id"])
	}
	if resp["rows_total"].(float64) != 3 || resp["rows_ingested"].(float64) != 2 {
		t.Fatalf("unexpected counts: %v", resp)
	}
	errs := resp["errors"].([]interface{})
	if len(errs) != 1 {
		t.Fatalf("expected 1 row error, got %v", errs)
	}
}

func TestIngestDuplicateUploadConflicts(t *testing.T) {
	_, server := newTestServer(t)

	if rec := uploadReport(t, server, "/api/ingest/weekly-dhs", weeklyFields(), weeklyCSV); rec.Code != http.StatusOK {
		t.Fatalf("first upload: %d", rec.Code)
	}
	if rec := uploadReport(t, server, "/api/ingest/weekly-dhs", weeklyFields(), weeklyCSV); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate, got %d", rec.Code)
	}
}

func TestIngestRejectsBadRequests(t *testing.T) {
	_, server := newTestServer(t)

	if rec := uploadReport(t, server, "/api/ingest/no-such-family", weeklyFields(), weeklyCSV); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown family: expected 400, got %d", rec.Code)
	}

	fields := weeklyFields()
	fields["week_index"] = "9"
	if rec := uploadReport(t, server, "/api/ingest/weekly-dhs", fields, weeklyCSV); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad week: expected 400, got %d", rec.Code)
	}

	if rec := uploadReport(t, server, "/api/ingest/weekly-dhs", weeklyFields(), "wrong,columns\n1,2\n"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad header: expected 400, got %d", rec.Code)
	}
}

func TestScansAndSummaryEndpoints(t *testing.T) {
	_, server := newTestServer(t)
	uploadReport(t, server, "/api/ingest/weekly-dhs", weeklyFields(), weeklyCSV)

	code, resp := getJSON(t, server, "/api/weekly-dhs/scans")
	if code != http.StatusOK {
		t.Fatalf("list scans: expected 200, got %d", code)
	}
	items := resp["items"].([]interface{})
	if len(items) != 1 {
		t.Fatalf("expected 1 scan, got %v", items)
	}
	scan := items[0].(map[string]interface{})
	if scan["scan_id"] != "weekly_dhs_2024_07_wk2" || scan["week_index"].(float64) != 2 {
		t.Fatalf("unexpected scan item: %v", scan)
	}

	code, resp = getJSON(t, server, "/api/weekly-dhs/weekly_dhs_2024_07_wk2/summary")
	if code != http.StatusOK {
		t.Fatalf("summary: expected 200, got %d", code)
	}
	summary := resp["summary"].(map[string]interface{})
	if summary["total_observations"].(float64) != 2 || summary["critical"].(float64) != 1 {
		t.Fatalf("unexpected summary: %v", summary)
	}

	// Unknown scans and scans under the wrong family both 404.
	if code, _ := getJSON(t, server, "/api/weekly-dhs/weekly_dhs_1999_01_wk1/summary"); code != http.StatusNotFound {
		t.Fatalf("unknown scan: expected 404, got %d", code)
	}
	if code, _ := getJSON(t, server, "/api/dept-scan/weekly_dhs_2024_07_wk2/summary"); code != http.StatusNotFound {
		t.Fatalf("wrong family: expected 404, got %d", code)
	}
}

func TestChartsAndFindingsEndpoints(t *testing.T) {
	_, server := newTestServer(t)
	uploadReport(t, server, "/api/ingest/weekly-dhs", weeklyFields(), weeklyCSV)

	code, resp := getJSON(t, server, "/api/weekly-dhs/weekly_dhs_2024_07_wk2/charts")
	if code != http.StatusOK {
		t.Fatalf("charts: expected 200, got %d", code)
	}
	buckets := resp["severity_buckets"].([]interface{})
	if len(buckets) != 6 {
		t.Fatalf("expected 6 buckets, got %d", len(buckets))
	}
	hosts := resp["top_hosts"].([]interface{})
	if len(hosts) != 1 {
		t.Fatalf("expected 1 top host, got %v", hosts)
	}
	if hosts[0].(map[string]interface{})["findings"].(float64) != 2 {
		t.Fatalf("unexpected top host: %v", hosts[0])
	}

	code, resp = getJSON(t, server, "/api/weekly-dhs/weekly_dhs_2024_07_wk2/findings?min_severity=4")
	if code != http.StatusOK {
		t.Fatalf("findings: expected 200, got %d", code)
	}
	if resp["total"].(float64) != 1 {
		t.Fatalf("expected 1 filtered finding, got %v", resp["total"])
	}
	finding := resp["items"].([]interface{})[0].(map[string]interface{})
	if finding["name"] != "Remote Code Execution" || finding["severity"].(float64) != 5 {
		t.Fatalf("unexpected finding: %v", finding)
	}

	// Filters that match nothing are an empty page, not an error.
	code, resp = getJSON(t, server, "/api/weekly-dhs/weekly_dhs_2024_07_wk2/findings?search=no-such-host")
	if code != http.StatusOK || resp["total"].(float64) != 0 {
		t.Fatalf("empty search: expected 200 with 0 results, got %d %v", code, resp["total"])
	}

	if code, _ := getJSON(t, server, "/api/weekly-dhs/weekly_dhs_2024_07_wk2/findings?min_severity=12"); code != http.StatusBadRequest {
		t.Fatalf("bad min_severity: expected 400, got %d", code)
	}
}

func TestGraphEndpoint(t *testing.T) {
	_, server := newTestServer(t)
	uploadReport(t, server, "/api/ingest/weekly-dhs", weeklyFields(), weeklyCSV)

	code, resp := getJSON(t, server, "/api/weekly-dhs/weekly_dhs_2024_07_wk2/graph")
	if code != http.StatusOK {
		t.Fatalf("graph: expected 200, got %d", code)
	}
	graph := resp["graph"].(map[string]interface{})
	if graph["observation_count"].(float64) != 2 {
		t.Fatalf("expected 2 observations in sample, got %v", graph["observation_count"])
	}

	nodes := graph["nodes"].([]interface{})
	links := graph["links"].([]interface{})
	ids := make(map[string]bool)
	types := make(map[string]int)
	for _, n := range nodes {
		node := n.(map[string]interface{})
		ids[node["id"].(string)] = true
		types[node["type"].(string)]++
	}
	if types["scan"] != 1 || types["host"] != 1 || types["observation"] != 2 || types["service"] != 2 {
		t.Fatalf("unexpected node mix: %v", types)
	}
	for _, l := range links {
		link := l.(map[string]interface{})
		if !ids[link["source"].(string)] || !ids[link["target"].(string)] {
			t.Fatalf("dangling link: %v", link)
		}
	}
}

func TestExportEndpoint(t *testing.T) {
	_, server := newTestServer(t)
	uploadReport(t, server, "/api/ingest/weekly-dhs", weeklyFields(), weeklyCSV)

	req := httptest.NewRequest(http.MethodGet, "http://localhost:8080/api/weekly-dhs/weekly_dhs_2024_07_wk2/export?format=csv", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("export csv: expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("expected text/csv, got %q", ct)
	}
	body := rec.Body.String()
	if !bytes.Contains([]byte(body), []byte("Remote Code Execution")) {
		t.Fatalf("expected finding in export, got %q", body)
	}

	if code, _ := getJSON(t, server, "/api/weekly-dhs/weekly_dhs_2024_07_wk2/export?format=xml"); code != http.StatusBadRequest {
		t.Fatalf("unknown format: expected 400, got %d", code)
	}
}

func TestDashboardLatestEndpoints(t *testing.T) {
	_, server := newTestServer(t)

	// No data yet.
	if code, _ := getJSON(t, server, "/api/dashboard/weekly-latest"); code != http.StatusNotFound {
		t.Fatalf("empty dashboard: expected 404, got %d", code)
	}

	uploadReport(t, server, "/api/ingest/weekly-dhs", weeklyFields(), weeklyCSV)
	older := weeklyFields()
	older["week_index"] = "1"
	uploadReport(t, server, "/api/ingest/weekly-dhs", older, weeklyCSV)

	code, resp := getJSON(t, server, "/api/dashboard/weekly-latest")
	if code != http.StatusOK {
		t.Fatalf("dashboard: expected 200, got %d", code)
	}
	scan := resp["scan"].(map[string]interface{})
	if scan["scan_id"] != "weekly_dhs_2024_07_wk2" {
		t.Fatalf("expected latest week 2 scan, got %v", scan["scan_id"])
	}
	if _, ok := resp["summary"]; !ok {
		t.Fatalf("dashboard missing summary")
	}
	if _, ok := resp["graph"]; !ok {
		t.Fatalf("dashboard missing graph")
	}

	deptCSV := "IP,QID,Title,Severity\n10.1.0.1,44444,Outdated TLS,3\n"
	deptFields := map[string]string{"year": "2024", "month": "7", "department": "Finance"}
	if rec := uploadReport(t, server, "/api/ingest/dept-scan", deptFields, deptCSV); rec.Code != http.StatusOK {
		t.Fatalf("dept upload: %d %s", rec.Code, rec.Body.String())
	}

	code, resp = getJSON(t, server, "/api/dashboard/dept-latest?department=Finance")
	if code != http.StatusOK {
		t.Fatalf("dept dashboard: expected 200, got %d", code)
	}
	if resp["scan"].(map[string]interface{})["scan_id"] != "dept_scan_finance_2024_07" {
		t.Fatalf("unexpected dept scan: %v", resp["scan"])
	}

	if code, _ := getJSON(t, server, "/api/dashboard/dept-latest?department=Legal"); code != http.StatusNotFound {
		t.Fatalf("unknown department: expected 404, got %d", code)
	}
}

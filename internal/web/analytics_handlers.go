package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/insightguard/scangraph/internal/db"
	"github.com/insightguard/scangraph/internal/schema"
)

// getCompletedScan resolves the {family}/{scanID} route pair to a completed
// scan, or writes the error response and reports !ok.
func (s *Server) getCompletedScan(w http.ResponseWriter, r *http.Request) (db.Scan, bool) {
	family, err := parseFamily(r)
	if err != nil {
		s.badRequest(w, err)
		return db.Scan{}, false
	}
	scanID := chi.URLParam(r, "scanID")
	scan, found, err := s.DB.GetCompletedScan(family, scanID)
	if err != nil {
		s.serverError(w, err)
		return db.Scan{}, false
	}
	if !found {
		s.notFound(w, fmt.Errorf("scan %q not found", scanID))
		return db.Scan{}, false
	}
	return scan, true
}

type scanResponse struct {
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

func mapScan(scan db.Scan) scanResponse {
	resp := scanResponse{
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
	}
	if scan.WeekIndex.Valid {
		week := int(scan.WeekIndex.Int64)
		resp.WeekIndex = &week
	}
	return resp
}

func (s *Server) apiListScans(w http.ResponseWriter, r *http.Request) {
	family, err := parseFamily(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}

	scans, err := s.DB.ListScans(family)
	if err != nil {
		s.serverError(w, err)
		return
	}

	items := make([]scanResponse, 0, len(scans))
	for _, scan := range scans {
		items = append(items, mapScan(scan))
	}
	s.jsonResponse(w, map[string]interface{}{"items": items, "total": len(items)}, http.StatusOK)
}

func mapSummary(summary db.ScanSummary) map[string]interface{} {
	return map[string]interface{}{
		"total_observations":         summary.TotalObservations,
		"critical":                   summary.Critical,
		"high":                       summary.High,
		"host_count":                 summary.HostCount,
		"vuln_count":                 summary.VulnCount,
		"known_exploited_count":      summary.KnownExploitedCount,
		"ransomware_exploited_count": summary.RansomwareExploitedCount,
	}
}

func (s *Server) apiScanSummary(w http.ResponseWriter, r *http.Request) {
	scan, ok := s.getCompletedScan(w, r)
	if !ok {
		return
	}
	summary, err := s.DB.GetScanSummary(scan.ScanID)
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.jsonResponse(w, map[string]interface{}{
		"scan":    mapScan(scan),
		"summary": mapSummary(summary),
	}, http.StatusOK)
}

func (s *Server) apiScanCharts(w http.ResponseWriter, r *http.Request) {
	scan, ok := s.getCompletedScan(w, r)
	if !ok {
		return
	}
	minSeverity, err := parseMinSeverity(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}

	data, err := s.DB.GetChartData(scan.ScanID, minSeverity, db.DefaultTopN)
	if err != nil {
		s.serverError(w, err)
		return
	}

	type bucketResponse struct {
		Severity int `json:"severity"`
		Count    int `json:"count"`
	}
	type hostResponse struct {
		IP       string `json:"ip,omitempty"`
		Hostname string `json:"hostname,omitempty"`
		BaseURL  string `json:"base_url,omitempty"`
		Findings int    `json:"findings"`
		Critical int    `json:"critical"`
	}
	type vulnResponse struct {
		VulnKey             string   `json:"vuln_key"`
		PluginID            string   `json:"plugin_id"`
		Name                string   `json:"name"`
		Severity            int      `json:"severity"`
		CVSS                *float64 `json:"cvss,omitempty"`
		KnownExploited      bool     `json:"known_exploited"`
		RansomwareExploited bool     `json:"ransomware_exploited"`
		Findings            int      `json:"findings"`
	}

	resp := struct {
		SeverityBuckets []bucketResponse `json:"severity_buckets"`
		TopHosts        []hostResponse   `json:"top_hosts"`
		TopVulns        []vulnResponse   `json:"top_vulns"`
	}{
		SeverityBuckets: make([]bucketResponse, 0, len(data.SeverityBuckets)),
		TopHosts:        make([]hostResponse, 0, len(data.TopHosts)),
		TopVulns:        make([]vulnResponse, 0, len(data.TopVulns)),
	}
	for _, b := range data.SeverityBuckets {
		resp.SeverityBuckets = append(resp.SeverityBuckets, bucketResponse{Severity: b.Severity, Count: b.Count})
	}
	for _, h := range data.TopHosts {
		resp.TopHosts = append(resp.TopHosts, hostResponse{
			IP: h.IP, Hostname: h.Hostname, BaseURL: h.BaseURL,
			Findings: h.Findings, Critical: h.Critical,
		})
	}
	for _, v := range data.TopVulns {
		mapped := vulnResponse{
			VulnKey: v.VulnKey, PluginID: v.PluginID, Name: v.Name,
			Severity: v.Severity, KnownExploited: v.KnownExploited,
			RansomwareExploited: v.RansomwareExploited, Findings: v.Findings,
		}
		if v.CVSS.Valid {
			mapped.CVSS = &v.CVSS.Float64
		}
		resp.TopVulns = append(resp.TopVulns, mapped)
	}

	s.jsonResponse(w, resp, http.StatusOK)
}

func (s *Server) apiScanFindings(w http.ResponseWriter, r *http.Request) {
	scan, ok := s.getCompletedScan(w, r)
	if !ok {
		return
	}
	filter, err := parseFindingsFilter(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}

	page, err := s.DB.ListFindings(scan.ScanID, filter)
	if err != nil {
		s.serverError(w, err)
		return
	}

	type findingResponse struct {
		ObsID               string   `json:"obs_id"`
		Severity            int      `json:"severity"`
		CVSS                *float64 `json:"cvss,omitempty"`
		FirstSeen           string   `json:"first_seen"`
		LastSeen            string   `json:"last_seen"`
		AgeDays             int      `json:"age_days"`
		IP                  string   `json:"ip,omitempty"`
		Hostname            string   `json:"hostname,omitempty"`
		BaseURL             string   `json:"base_url,omitempty"`
		URL                 string   `json:"url,omitempty"`
		PluginID            string   `json:"plugin_id"`
		Name                string   `json:"name"`
		CVE                 string   `json:"cve,omitempty"`
		KnownExploited      bool     `json:"known_exploited"`
		RansomwareExploited bool     `json:"ransomware_exploited"`
	}

	items := make([]findingResponse, 0, len(page.Items))
	for _, f := range page.Items {
		mapped := findingResponse{
			ObsID:               f.ObsID,
			Severity:            f.Severity,
			FirstSeen:           f.FirstSeen.UTC().Format(time.RFC3339),
			LastSeen:            f.LastSeen.UTC().Format(time.RFC3339),
			AgeDays:             f.AgeDays,
			IP:                  f.IP,
			Hostname:            f.Hostname,
			BaseURL:             f.BaseURL,
			URL:                 f.URL,
			PluginID:            f.PluginID,
			Name:                f.VulnName,
			CVE:                 f.CVE,
			KnownExploited:      f.KnownExploited,
			RansomwareExploited: f.RansomwareExploited,
		}
		if f.CVSS.Valid {
			mapped.CVSS = &f.CVSS.Float64
		}
		items = append(items, mapped)
	}

	s.jsonResponse(w, map[string]interface{}{
		"items":  items,
		"total":  page.Total,
		"offset": page.Offset,
		"limit":  page.Limit,
	}, http.StatusOK)
}

func mapGraph(sample db.GraphSample) map[string]interface{} {
	nodes := sample.Nodes
	if nodes == nil {
		nodes = []db.GraphNode{}
	}
	links := sample.Links
	if links == nil {
		links = []db.GraphLink{}
	}
	return map[string]interface{}{
		"nodes":             nodes,
		"links":             links,
		"observation_count": sample.ObservationCount,
		"host_count":        sample.HostCount,
		"vuln_count":        sample.VulnCount,
	}
}

func (s *Server) apiScanGraph(w http.ResponseWriter, r *http.Request) {
	scan, ok := s.getCompletedScan(w, r)
	if !ok {
		return
	}
	sample, err := s.DB.GetGraphSample(scan, db.DefaultGraphObservations)
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.jsonResponse(w, map[string]interface{}{
		"scan":  mapScan(scan),
		"graph": mapGraph(sample),
	}, http.StatusOK)
}

func (s *Server) dashboardLatest(w http.ResponseWriter, family schema.Family, deptKey string) {
	scan, found, err := s.DB.LatestScan(family, deptKey)
	if err != nil {
		s.serverError(w, err)
		return
	}
	if !found {
		s.notFound(w, fmt.Errorf("no completed scan for %s", family))
		return
	}

	summary, err := s.DB.GetScanSummary(scan.ScanID)
	if err != nil {
		s.serverError(w, err)
		return
	}
	sample, err := s.DB.GetGraphSample(scan, db.DefaultGraphObservations)
	if err != nil {
		s.serverError(w, err)
		return
	}

	s.jsonResponse(w, map[string]interface{}{
		"scan":    mapScan(scan),
		"summary": mapSummary(summary),
		"graph":   mapGraph(sample),
	}, http.StatusOK)
}

func (s *Server) apiDashboardWeeklyLatest(w http.ResponseWriter, r *http.Request) {
	s.dashboardLatest(w, schema.FamilyWeekly, "")
}

func (s *Server) apiDashboardMonthlyWebLatest(w http.ResponseWriter, r *http.Request) {
	s.dashboardLatest(w, schema.FamilyMonthlyWeb, "")
}

func (s *Server) apiDashboardDeptLatest(w http.ResponseWriter, r *http.Request) {
	deptKey := ""
	if dept := r.URL.Query().Get("department"); dept != "" {
		deptKey = schema.DeptSlug(dept)
	}
	s.dashboardLatest(w, schema.FamilyDept, deptKey)
}

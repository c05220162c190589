package db

import (
	"database/sql"
	"fmt"
)

// DefaultGraphObservations caps how many observations seed the visualization
// sample so the force layout stays tractable.
const DefaultGraphObservations = 50

// GraphNode is one node of the bounded visualization sample.
type GraphNode struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Type     string   `json:"type"`
	Severity *int     `json:"severity,omitempty"`
	CVSS     *float64 `json:"cvss,omitempty"`
	URL      string   `json:"url,omitempty"`
}

// GraphLink is one edge of the sample.
type GraphLink struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

// GraphSample is a bounded, deterministic nodes-and-links sample of one
// scan's subgraph, plus the counts the dashboard shows next to it.
type GraphSample struct {
	Nodes            []GraphNode
	Links            []GraphLink
	ObservationCount int
	HostCount        int
	VulnCount        int
}

type graphBuilder struct {
	nodes    []GraphNode
	links    []GraphLink
	nodeSeen map[string]bool
	linkSeen map[string]bool
}

func newGraphBuilder() *graphBuilder {
	return &graphBuilder{nodeSeen: make(map[string]bool), linkSeen: make(map[string]bool)}
}

func (b *graphBuilder) addNode(n GraphNode) {
	if b.nodeSeen[n.ID] {
		return
	}
	b.nodeSeen[n.ID] = true
	b.nodes = append(b.nodes, n)
}

func (b *graphBuilder) addLink(source, target, linkType string) {
	key := source + "->" + target + ":" + linkType
	if b.linkSeen[key] {
		return
	}
	b.linkSeen[key] = true
	b.links = append(b.links, GraphLink{Source: source, Target: target, Type: linkType})
}

// GetGraphSample builds the visualization sample for one scan: the maxObs
// highest-severity observations (obs_id breaks ties, so repeated calls return
// the same sample) with their host, service, vulnerability and department
// neighborhoods, plus the scan node itself.
func (db *DB) GetGraphSample(scan Scan, maxObs int) (GraphSample, error) {
	if maxObs <= 0 {
		maxObs = DefaultGraphObservations
	}

	rows, err := db.Query(
		`SELECT o.obs_id, o.severity, o.cvss, o.url,
		        h.host_key, h.ip_address, h.hostname, h.base_url,
		        s.service_key, s.port, s.protocol,
		        v.vuln_key, v.name, v.severity, v.cvss,
		        d.dept_key, d.name
		   FROM observation o
		   JOIN host h ON h.id = o.host_id
		   JOIN vulnerability v ON v.id = o.vuln_id
		   LEFT JOIN service s ON s.id = o.service_id
		   LEFT JOIN department d ON d.id = o.department_id
		  WHERE o.scan_id = ?
		  ORDER BY o.severity DESC, o.obs_id
		  LIMIT ?`,
		scan.ScanID, maxObs,
	)
	if err != nil {
		return GraphSample{}, fmt.Errorf("graph sample: %w", err)
	}
	defer rows.Close()

	b := newGraphBuilder()
	b.addNode(GraphNode{ID: scan.ScanID, Label: scan.ScanID, Type: "scan"})

	sample := GraphSample{}
	hostSeen := make(map[string]bool)
	vulnSeen := make(map[string]bool)

	for rows.Next() {
		var (
			obsID                      string
			obsSeverity                int
			obsCVSS                    sql.NullFloat64
			obsURL                     string
			hostKey, ip, hostname, url string
			serviceKey, protocol       sql.NullString
			servicePort                sql.NullInt64
			vulnKey, vulnName          string
			vulnSeverity               int
			vulnCVSS                   sql.NullFloat64
			deptKey, deptName          sql.NullString
		)
		if err := rows.Scan(
			&obsID, &obsSeverity, &obsCVSS, &obsURL,
			&hostKey, &ip, &hostname, &url,
			&serviceKey, &servicePort, &protocol,
			&vulnKey, &vulnName, &vulnSeverity, &vulnCVSS,
			&deptKey, &deptName,
		); err != nil {
			return GraphSample{}, fmt.Errorf("scan graph row: %w", err)
		}

		sample.ObservationCount++

		obsNode := GraphNode{ID: obsID, Label: "Obs " + obsID, Type: "observation", Severity: intPtr(obsSeverity), URL: obsURL}
		if obsCVSS.Valid {
			obsNode.CVSS = &obsCVSS.Float64
		}
		b.addNode(obsNode)
		b.addLink(obsID, scan.ScanID, "FOUND_IN")

		hostLabel := hostname
		if hostLabel == "" {
			hostLabel = url
		}
		if hostLabel == "" {
			hostLabel = hostKey
		}
		if !hostSeen[hostKey] {
			hostSeen[hostKey] = true
			sample.HostCount++
		}
		b.addNode(GraphNode{ID: "host:" + hostKey, Label: hostLabel, Type: "host"})
		b.addLink("host:"+hostKey, obsID, "HAS_OBSERVATION")

		if serviceKey.Valid {
			svcID := "service:" + serviceKey.String
			label := fmt.Sprintf("%s:%d/%s", ip, servicePort.Int64, protocol.String)
			b.addNode(GraphNode{ID: svcID, Label: label, Type: "service"})
			b.addLink("host:"+hostKey, svcID, "RUNS")
			b.addLink(svcID, obsID, "HAS_OBSERVATION")
		}

		if !vulnSeen[vulnKey] {
			vulnSeen[vulnKey] = true
			sample.VulnCount++
		}
		vulnNode := GraphNode{ID: "vuln:" + vulnKey, Label: vulnName, Type: "vulnerability", Severity: intPtr(vulnSeverity)}
		if vulnCVSS.Valid {
			vulnNode.CVSS = &vulnCVSS.Float64
		}
		b.addNode(vulnNode)
		b.addLink(obsID, "vuln:"+vulnKey, "OF_VULNERABILITY")

		if deptKey.Valid {
			deptID := "dept:" + deptKey.String
			b.addNode(GraphNode{ID: deptID, Label: deptName.String, Type: "department"})
			b.addLink(scan.ScanID, deptID, "FOR_DEPARTMENT")
			b.addLink(deptID, "host:"+hostKey, "OWNS_HOST")
		}
	}
	if err := rows.Err(); err != nil {
		return GraphSample{}, fmt.Errorf("graph sample rows: %w", err)
	}

	sample.Nodes = b.nodes
	sample.Links = b.links
	return sample, nil
}

func intPtr(v int) *int { return &v }

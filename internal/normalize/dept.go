package normalize

import (
	"github.com/insightguard/scangraph/internal/schema"
)

// normalizeDept maps one departmental scan row. Required: IP, QID, Severity,
// Title. The owning department comes from the scan metadata, not the row.
func normalizeDept(meta ScanMeta, rowNum int, row map[string]string) (schema.NormalizedRow, error) {
	ip, err := requireIPv4(row, "IP", rowNum)
	if err != nil {
		return schema.NormalizedRow{}, err
	}
	qid, err := requireField(row, "QID", rowNum)
	if err != nil {
		return schema.NormalizedRow{}, err
	}
	title, err := requireField(row, "Title", rowNum)
	if err != nil {
		return schema.NormalizedRow{}, err
	}
	severity, err := parseSeverity(row, "Severity", rowNum)
	if err != nil {
		return schema.NormalizedRow{}, err
	}
	firstSeen, err := parseOptionalTime(row, "First Detected", webDetectionLayout, rowNum)
	if err != nil {
		return schema.NormalizedRow{}, err
	}
	lastSeen, err := parseOptionalTime(row, "Last Detected", webDetectionLayout, rowNum)
	if err != nil {
		return schema.NormalizedRow{}, err
	}

	nr := schema.NormalizedRow{
		Host: schema.HostDescriptor{
			Family:   meta.Family,
			Key:      ip,
			IP:       ip,
			Hostname: field(row, "DNS"),
		},
		Vuln: schema.VulnDescriptor{
			Family:   meta.Family,
			Key:      schema.VulnKey(qid, field(row, "CVE ID"), title),
			PluginID: qid,
			CVE:      field(row, "CVE ID"),
			Name:     title,
			Severity: severity,
			Solution: field(row, "Solution"),
		},
		Dept: &schema.DeptDescriptor{
			Family: meta.Family,
			Key:    schema.DeptSlug(meta.Department),
			Name:   meta.Department,
		},
		Obs: schema.ObsDescriptor{
			Family:    meta.Family,
			Severity:  severity,
			FirstSeen: firstSeen,
			LastSeen:  lastSeen,
		},
	}

	port, portKnown, err := parseOptionalInt(row, "Port", rowNum)
	if err != nil {
		return schema.NormalizedRow{}, err
	}
	protocol := field(row, "Protocol")
	if portKnown && protocol != "" {
		nr.Service = &schema.ServiceDescriptor{
			Family:   meta.Family,
			Key:      schema.ServiceKey(ip, port, protocol),
			IP:       ip,
			Port:     port,
			Protocol: protocol,
		}
	}

	finishObservation(meta, &nr.Obs, 0, false)
	return nr, nil
}

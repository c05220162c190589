package normalize

import (
	"github.com/insightguard/scangraph/internal/schema"
)

// normalizeMonthlyWeb maps one monthly web-application DHS row. The host is
// the web application itself, keyed by its base URL; there is no service.
// Required: QID, NAME, SEVERITY, WEB APPLICATION.
func normalizeMonthlyWeb(meta ScanMeta, rowNum int, row map[string]string) (schema.NormalizedRow, error) {
	qid, err := requireField(row, "QID", rowNum)
	if err != nil {
		return schema.NormalizedRow{}, err
	}
	name, err := requireField(row, "NAME", rowNum)
	if err != nil {
		return schema.NormalizedRow{}, err
	}
	webapp, err := requireField(row, "WEB APPLICATION", rowNum)
	if err != nil {
		return schema.NormalizedRow{}, err
	}
	severity, err := parseSeverity(row, "SEVERITY", rowNum)
	if err != nil {
		return schema.NormalizedRow{}, err
	}
	cvss, err := parseOptionalFloat(row, "BASE CVSS", rowNum)
	if err != nil {
		return schema.NormalizedRow{}, err
	}
	firstSeen, err := parseOptionalTime(row, "FIRST DETECTION", webDetectionLayout, rowNum)
	if err != nil {
		return schema.NormalizedRow{}, err
	}
	lastSeen, err := parseOptionalTime(row, "LAST DETECTION", webDetectionLayout, rowNum)
	if err != nil {
		return schema.NormalizedRow{}, err
	}

	url := field(row, "URL")
	if url == "" {
		url = "/"
	}

	nr := schema.NormalizedRow{
		Host: schema.HostDescriptor{
			Family:   meta.Family,
			Key:      webapp,
			Hostname: webapp,
			BaseURL:  webapp,
		},
		Vuln: schema.VulnDescriptor{
			Family:   meta.Family,
			Key:      schema.VulnKey(qid, field(row, "CVE"), name),
			PluginID: qid,
			CVE:      field(row, "CVE"),
			Name:     name,
			Severity: severity,
			CVSS:     cvss,
			Solution: field(row, "SOLUTION"),
		},
		Obs: schema.ObsDescriptor{
			Family:    meta.Family,
			URL:       url,
			Severity:  severity,
			CVSS:      cvss,
			FirstSeen: firstSeen,
			LastSeen:  lastSeen,
		},
	}

	finishObservation(meta, &nr.Obs, 0, false)
	return nr, nil
}

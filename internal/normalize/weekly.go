package normalize

import (
	"github.com/insightguard/scangraph/internal/schema"
)

// normalizeWeekly maps one weekly network DHS row. Required: ip, plugin_id,
// severity, name. A service descriptor is produced only when both port and
// protocol are present.
func normalizeWeekly(meta ScanMeta, rowNum int, row map[string]string) (schema.NormalizedRow, error) {
	ip, err := requireIPv4(row, "ip", rowNum)
	if err != nil {
		return schema.NormalizedRow{}, err
	}
	pluginID, err := requireField(row, "plugin_id", rowNum)
	if err != nil {
		return schema.NormalizedRow{}, err
	}
	name, err := requireField(row, "name", rowNum)
	if err != nil {
		return schema.NormalizedRow{}, err
	}
	severity, err := parseSeverity(row, "severity", rowNum)
	if err != nil {
		return schema.NormalizedRow{}, err
	}
	cvss, err := parseOptionalFloat(row, "cvss_base_score", rowNum)
	if err != nil {
		return schema.NormalizedRow{}, err
	}
	knownExploited, err := parseOptionalBool(row, "known_exploited", rowNum)
	if err != nil {
		return schema.NormalizedRow{}, err
	}
	ransomwareExploited, err := parseOptionalBool(row, "ransomware_exploited", rowNum)
	if err != nil {
		return schema.NormalizedRow{}, err
	}
	firstSeen, err := parseOptionalTime(row, "initial_detection", "", rowNum)
	if err != nil {
		return schema.NormalizedRow{}, err
	}
	lastSeen, err := parseOptionalTime(row, "latest_detection", "", rowNum)
	if err != nil {
		return schema.NormalizedRow{}, err
	}
	ageDays, ageKnown, err := parseOptionalInt(row, "age_days", rowNum)
	if err != nil {
		return schema.NormalizedRow{}, err
	}

	nr := schema.NormalizedRow{
		Host: schema.HostDescriptor{
			Family:   meta.Family,
			Key:      ip,
			IP:       ip,
			Hostname: field(row, "Hostname"),
		},
		Vuln: schema.VulnDescriptor{
			Family:              meta.Family,
			Key:                 schema.VulnKey(pluginID, field(row, "cve"), name),
			PluginID:            pluginID,
			CVE:                 field(row, "cve"),
			Name:                name,
			Severity:            severity,
			CVSS:                cvss,
			KnownExploited:      knownExploited,
			RansomwareExploited: ransomwareExploited,
			Solution:            field(row, "solution"),
		},
		Obs: schema.ObsDescriptor{
			Family:    meta.Family,
			Severity:  severity,
			CVSS:      cvss,
			FirstSeen: firstSeen,
			LastSeen:  lastSeen,
		},
	}

	port, portKnown, err := parseOptionalInt(row, "port", rowNum)
	if err != nil {
		return schema.NormalizedRow{}, err
	}
	protocol := field(row, "protocol")
	if portKnown && protocol != "" {
		nr.Service = &schema.ServiceDescriptor{
			Family:   meta.Family,
			Key:      schema.ServiceKey(ip, port, protocol),
			IP:       ip,
			Port:     port,
			Protocol: protocol,
		}
	}

	finishObservation(meta, &nr.Obs, ageDays, ageKnown)
	return nr, nil
}

package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// HostDescriptor identifies a host (or web application) within a family.
// Key is the IP for network families and the application base URL for the
// web family.
type HostDescriptor struct {
	Family   Family
	Key      string
	IP       string
	Hostname string
	BaseURL  string
}

// ServiceDescriptor identifies one (ip, port, protocol) service.
type ServiceDescriptor struct {
	Family   Family
	Key      string
	IP       string
	Port     int
	Protocol string
}

// VulnDescriptor identifies one vulnerability and carries its mutable
// attributes. Identity never changes; attributes are last-write-wins.
type VulnDescriptor struct {
	Family              Family
	Key                 string
	PluginID            string
	CVE                 string
	Name                string
	Severity            int
	CVSS                *float64
	KnownExploited      bool
	RansomwareExploited bool
	Solution            string
}

// DeptDescriptor identifies a department by its slug.
type DeptDescriptor struct {
	Family Family
	Key    string
	Name   string
}

// ObsDescriptor carries the per-finding fields of one CSV row. Observations
// are write-once; they are never merged.
type ObsDescriptor struct {
	Family     Family
	URL        string
	Severity   int
	CVSS       *float64
	FirstSeen  time.Time
	LastSeen   time.Time
	AgeDays    int
	AgeClamped bool
}

// NormalizedRow is the canonical output of the row normalizer: one host, an
// optional service, one vulnerability, an optional department and the
// observation tying them to the scan.
type NormalizedRow struct {
	Host    HostDescriptor
	Service *ServiceDescriptor
	Vuln    VulnDescriptor
	Dept    *DeptDescriptor
	Obs     ObsDescriptor
}

// DeriveKey hashes the given parts into a stable identifier. Parts are
// lowercased and trimmed first so cosmetic differences collapse to one key.
func DeriveKey(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0x1f})
		}
		h.Write([]byte(strings.ToLower(strings.TrimSpace(p))))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// VulnKey derives a vulnerability key from the scanner plugin id (or CVE when
// no plugin id exists) and the vulnerability name.
func VulnKey(pluginID, cve, name string) string {
	id := strings.TrimSpace(pluginID)
	if id == "" {
		id = strings.TrimSpace(cve)
	}
	return DeriveKey(id, name)
}

// ServiceKey derives a service key from its (ip, port, protocol) triple.
func ServiceKey(ip string, port int, protocol string) string {
	return DeriveKey(ip, fmt.Sprintf("%d", port), protocol)
}

// Package schema declares, per report family, the entity labels, uniqueness
// keys and required CSV columns, and validates normalized rows against them.
package schema

import (
	"fmt"
	"strings"
	"time"
)

// Family identifies one report family. Families share entity shape but have
// disjoint label and key namespaces.
type Family string

const (
	FamilyWeekly     Family = "weekly_dhs"
	FamilyMonthlyWeb Family = "monthly_dhs_web"
	FamilyDept       Family = "dept_scan"
)

// Families returns all known report families in declaration order.
func Families() []Family {
	return []Family{FamilyWeekly, FamilyMonthlyWeb, FamilyDept}
}

// ValidFamily reports whether f is a known report family.
func ValidFamily(f Family) bool {
	switch f {
	case FamilyWeekly, FamilyMonthlyWeb, FamilyDept:
		return true
	}
	return false
}

// RouteSlug returns the URL path segment used for this family.
func (f Family) RouteSlug() string {
	switch f {
	case FamilyWeekly:
		return "weekly-dhs"
	case FamilyMonthlyWeb:
		return "monthly-dhs-web"
	case FamilyDept:
		return "dept-scan"
	}
	return string(f)
}

// FromRouteSlug resolves a URL path segment back to its family.
func FromRouteSlug(slug string) (Family, bool) {
	for _, f := range Families() {
		if f.RouteSlug() == slug {
			return f, true
		}
	}
	return "", false
}

// Descriptor describes one family's label namespace: node labels, the unique
// key field per label, fields carrying secondary indexes, and the CSV columns
// a file of this family must provide.
type Descriptor struct {
	Family          Family
	NodeLabels      []string
	UniqueKeys      map[string]string
	IndexedFields   []string
	RequiredColumns []string
	HasServices     bool
	HasDepartments  bool
}

var registry = map[Family]Descriptor{
	FamilyWeekly: {
		Family:          FamilyWeekly,
		NodeLabels:      []string{"Scan", "Host", "Service", "Vulnerability", "Observation"},
		UniqueKeys:      map[string]string{"Scan": "scan_id", "Host": "ip", "Service": "service_id", "Vulnerability": "vuln_id", "Observation": "obs_id"},
		IndexedFields:   []string{"severity", "scan_date", "hostname"},
		RequiredColumns: []string{"ip", "plugin_id", "severity", "name"},
		HasServices:     true,
	},
	FamilyMonthlyWeb: {
		Family:          FamilyMonthlyWeb,
		NodeLabels:      []string{"Scan", "Host", "Vulnerability", "Observation"},
		UniqueKeys:      map[string]string{"Scan": "scan_id", "Host": "base_url", "Vulnerability": "vuln_id", "Observation": "obs_id"},
		IndexedFields:   []string{"severity", "scan_date", "base_url"},
		RequiredColumns: []string{"QID", "NAME", "SEVERITY", "WEB APPLICATION"},
	},
	FamilyDept: {
		Family:          FamilyDept,
		NodeLabels:      []string{"Scan", "Host", "Service", "Vulnerability", "Observation", "Department"},
		UniqueKeys:      map[string]string{"Scan": "scan_id", "Host": "ip", "Service": "service_id", "Vulnerability": "vuln_id", "Observation": "obs_id", "Department": "dept_id"},
		IndexedFields:   []string{"severity", "scan_date", "hostname"},
		RequiredColumns: []string{"IP", "QID", "Severity", "Title"},
		HasServices:     true,
		HasDepartments:  true,
	},
}

// Describe returns the descriptor for a family.
func Describe(f Family) (Descriptor, bool) {
	d, ok := registry[f]
	return d, ok
}

// ScanID derives the deterministic scan identifier for one reporting period.
// Department is only consulted for the dept family, weekIndex only for weekly.
func ScanID(f Family, year, month, weekIndex int, department string) string {
	switch f {
	case FamilyWeekly:
		return fmt.Sprintf("weekly_dhs_%04d_%02d_wk%d", year, month, weekIndex)
	case FamilyMonthlyWeb:
		return fmt.Sprintf("monthly_dhs_web_%04d_%02d", year, month)
	case FamilyDept:
		return fmt.Sprintf("dept_scan_%s_%04d_%02d", DeptSlug(department), year, month)
	}
	return ""
}

// ScanDate is the canonical date of a reporting period: the first of its month.
func ScanDate(year, month int) time.Time {
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
}

// DeptSlug normalizes a department name into a stable identifier.
func DeptSlug(name string) string {
	slug := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
	var b strings.Builder
	for _, ch := range slug {
		if ch == '_' || ch == '-' || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') {
			b.WriteRune(ch)
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}

// Violation reports a descriptor that breaks a family's schema rules. The
// upsert engine refuses the write and the row is skipped.
type Violation struct {
	Label  string
	Key    string
	Reason string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("schema violation on %s %q: %s", v.Label, v.Key, v.Reason)
}

// Validate checks a normalized row against its family's descriptor before it
// reaches the upsert engine.
func Validate(row NormalizedRow) error {
	d, ok := Describe(row.Host.Family)
	if !ok {
		return &Violation{Label: "Host", Key: row.Host.Key, Reason: fmt.Sprintf("unknown family %q", row.Host.Family)}
	}
	if row.Host.Key == "" {
		return &Violation{Label: "Host", Reason: "empty host key"}
	}
	if row.Vuln.Key == "" {
		return &Violation{Label: "Vulnerability", Reason: "empty vulnerability key"}
	}
	if row.Vuln.Family != d.Family {
		return &Violation{Label: "Vulnerability", Key: row.Vuln.Key, Reason: "family mismatch"}
	}
	if row.Vuln.Severity < 0 || row.Vuln.Severity > 5 {
		return &Violation{Label: "Vulnerability", Key: row.Vuln.Key, Reason: fmt.Sprintf("severity %d out of range", row.Vuln.Severity)}
	}
	if row.Obs.Severity < 0 || row.Obs.Severity > 5 {
		return &Violation{Label: "Observation", Reason: fmt.Sprintf("severity %d out of range", row.Obs.Severity)}
	}
	if row.Service != nil {
		if !d.HasServices {
			return &Violation{Label: "Service", Key: row.Service.Key, Reason: fmt.Sprintf("family %s has no service label", d.Family)}
		}
		if row.Service.Key == "" {
			return &Violation{Label: "Service", Reason: "empty service key"}
		}
		if row.Service.Family != d.Family {
			return &Violation{Label: "Service", Key: row.Service.Key, Reason: "family mismatch"}
		}
	}
	if row.Dept != nil {
		if !d.HasDepartments {
			return &Violation{Label: "Department", Key: row.Dept.Key, Reason: fmt.Sprintf("family %s has no department label", d.Family)}
		}
		if row.Dept.Key == "" {
			return &Violation{Label: "Department", Reason: "empty department key"}
		}
	}
	return nil
}

package schema

import (
	"strings"
	"testing"
)

func TestScanIDFormats(t *testing.T) {
	cases := []struct {
		family Family
		want   string
	}{
		{FamilyWeekly, "weekly_dhs_2024_07_wk2"},
		{FamilyMonthlyWeb, "monthly_dhs_web_2024_07"},
		{FamilyDept, "dept_scan_public_works_2024_07"},
	}
	for _, tc := range cases {
		got := ScanID(tc.family, 2024, 7, 2, "Public Works")
		if got != tc.want {
			t.Fatalf("%s: scan id %q, want %q", tc.family, got, tc.want)
		}
	}
}

func TestDeptSlug(t *testing.T) {
	cases := map[string]string{
		"IT":            "it",
		"Public Works":  "public_works",
		"R&D (East)":    "rd_east",
		"  Facilities ": "facilities",
		"":              "unknown",
		"///":           "unknown",
	}
	for in, want := range cases {
		if got := DeptSlug(in); got != want {
			t.Fatalf("DeptSlug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	a := VulnKey("19506", "", "Nessus Scan Information")
	b := VulnKey(" 19506 ", "", "nessus scan information")
	if a != b {
		t.Fatalf("expected identical keys, got %q and %q", a, b)
	}
	if len(a) != 16 {
		t.Fatalf("key length %d, want 16", len(a))
	}
	c := VulnKey("", "CVE-2024-1234", "Nessus Scan Information")
	if c == a {
		t.Fatalf("plugin and CVE keyed vulns should differ")
	}
}

func TestServiceKeySeparatesFields(t *testing.T) {
	// "10.0.0.1", 23, "tcp" must not collide with "10.0.0.12", 3, "tcp".
	if ServiceKey("10.0.0.1", 23, "tcp") == ServiceKey("10.0.0.12", 3, "tcp") {
		t.Fatal("service keys collided across field boundaries")
	}
}

func TestDescribe(t *testing.T) {
	for _, f := range Families() {
		d, ok := Describe(f)
		if !ok {
			t.Fatalf("no descriptor for %s", f)
		}
		if d.Family != f {
			t.Fatalf("descriptor family %s, want %s", d.Family, f)
		}
		if len(d.RequiredColumns) == 0 {
			t.Fatalf("%s: no required columns", f)
		}
		if _, ok := d.UniqueKeys["Scan"]; !ok {
			t.Fatalf("%s: scan label missing unique key", f)
		}
	}
	if _, ok := Describe(Family("bogus")); ok {
		t.Fatal("bogus family should not resolve")
	}
}

func TestRouteSlugRoundTrip(t *testing.T) {
	for _, f := range Families() {
		got, ok := FromRouteSlug(f.RouteSlug())
		if !ok || got != f {
			t.Fatalf("route slug round trip failed for %s", f)
		}
	}
	if _, ok := FromRouteSlug("nope"); ok {
		t.Fatal("unknown slug should not resolve")
	}
}

func TestValidate(t *testing.T) {
	cvss := 9.8
	good := NormalizedRow{
		Host: HostDescriptor{Family: FamilyWeekly, Key: "10.0.0.5", IP: "10.0.0.5"},
		Service: &ServiceDescriptor{
			Family: FamilyWeekly, Key: ServiceKey("10.0.0.5", 443, "tcp"),
			IP: "10.0.0.5", Port: 443, Protocol: "tcp",
		},
		Vuln: VulnDescriptor{Family: FamilyWeekly, Key: VulnKey("11111", "", "x"), Name: "x", Severity: 4, CVSS: &cvss},
		Obs:  ObsDescriptor{Family: FamilyWeekly, Severity: 4},
	}
	if err := Validate(good); err != nil {
		t.Fatalf("valid row rejected: %v", err)
	}

	bad := good
	bad.Vuln.Severity = 9
	if err := Validate(bad); err == nil {
		t.Fatal("severity 9 accepted")
	} else if !strings.Contains(err.Error(), "severity") {
		t.Fatalf("unexpected violation message: %v", err)
	}

	bad = good
	bad.Host.Key = ""
	if Validate(bad) == nil {
		t.Fatal("empty host key accepted")
	}

	bad = good
	bad.Service = &ServiceDescriptor{Family: FamilyMonthlyWeb, Key: "k"}
	webRow := NormalizedRow{
		Host:    HostDescriptor{Family: FamilyMonthlyWeb, Key: "https://portal.example.gov"},
		Service: bad.Service,
		Vuln:    VulnDescriptor{Family: FamilyMonthlyWeb, Key: "vk", Severity: 3},
		Obs:     ObsDescriptor{Family: FamilyMonthlyWeb, Severity: 3},
	}
	if Validate(webRow) == nil {
		t.Fatal("service descriptor accepted for web family")
	}

	deptOnWeekly := good
	deptOnWeekly.Dept = &DeptDescriptor{Family: FamilyWeekly, Key: "it", Name: "IT"}
	if Validate(deptOnWeekly) == nil {
		t.Fatal("department descriptor accepted for weekly family")
	}
}

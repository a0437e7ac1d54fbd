package dmarc

import (
	"reflect"
	"testing"
)

func TestParseRecord(t *testing.T) {
	testCases := []struct {
		name      string
		raw       string
		check     func(t *testing.T, d *Record)
		expectErr bool
	}{
		{
			name: "full record",
			raw:  "v=DMARC1; p=none; rua=mailto:agg@example.com; ruf=mailto:for@example.com; fo=1:d:s; adkim=s; aspf=r; pct=50; ri=3600; sp=quarantine;",
			check: func(t *testing.T, d *Record) {
				if d.Policy != PolicyNone || d.SubdomainPolicy != PolicyQuarantine {
					t.Errorf("p/sp = %s/%s", d.Policy, d.SubdomainPolicy)
				}
				if d.AlignmentDKIM != AlignmentStrict || d.AlignmentSPF != AlignmentRelaxed {
					t.Errorf("adkim/aspf = %s/%s", d.AlignmentDKIM, d.AlignmentSPF)
				}
				if d.Percent != 50 || d.ReportInterval != 3600 {
					t.Errorf("pct/ri = %d/%d", d.Percent, d.ReportInterval)
				}
				if !reflect.DeepEqual(d.FailureOptions, []FailureOption{"1", "d", "s"}) {
					t.Errorf("fo = %v", d.FailureOptions)
				}
				if len(d.AggregateReportURI) != 1 || d.AggregateReportURI[0].Address != "agg@example.com" {
					t.Errorf("rua = %v", d.AggregateReportURI)
				}
				if len(d.ForensicReportURI) != 1 || d.ForensicReportURI[0].Address != "for@example.com" {
					t.Errorf("ruf = %v", d.ForensicReportURI)
				}
			},
		},
		{
			name: "defaults",
			raw:  "v=DMARC1; p=reject",
			check: func(t *testing.T, d *Record) {
				if d.AlignmentDKIM != AlignmentRelaxed || d.AlignmentSPF != AlignmentRelaxed {
					t.Errorf("alignment defaults = %s/%s", d.AlignmentDKIM, d.AlignmentSPF)
				}
				if d.Percent != 100 {
					t.Errorf("pct default = %d", d.Percent)
				}
				if d.EffectiveSubdomainPolicy() != PolicyReject {
					t.Errorf("sp fallback = %s", d.EffectiveSubdomainPolicy())
				}
			},
		},
		{
			name: "explicit subdomain policy",
			raw:  "v=DMARC1; p=reject; sp=none",
			check: func(t *testing.T, d *Record) {
				if d.EffectiveSubdomainPolicy() != PolicyNone {
					t.Errorf("sp = %s", d.EffectiveSubdomainPolicy())
				}
			},
		},
		{
			name: "rua with size limits",
			raw:  "v=DMARC1; p=none; rua=mailto:a@example.com!10m, mailto:b@example.net!1k",
			check: func(t *testing.T, d *Record) {
				want := []URI{
					{Address: "a@example.com", MaxSize: 10 << 20},
					{Address: "b@example.net", MaxSize: 1 << 10},
				}
				if !reflect.DeepEqual(d.AggregateReportURI, want) {
					t.Errorf("rua = %v, want %v", d.AggregateReportURI, want)
				}
			},
		},
		{
			name: "unknown tags ignored",
			raw:  "v=DMARC1; p=none; np=none; future=x",
			check: func(t *testing.T, d *Record) {
				if d.Policy != PolicyNone {
					t.Errorf("p = %s", d.Policy)
				}
			},
		},
		{name: "wrong version", raw: "v=DMARC2; p=none", expectErr: true},
		{name: "missing version", raw: "p=none", expectErr: true},
		{name: "invalid policy", raw: "v=DMARC1; p=destroy", expectErr: true},
		{name: "invalid alignment", raw: "v=DMARC1; p=none; adkim=x", expectErr: true},
		{name: "pct out of range", raw: "v=DMARC1; p=none; pct=150", expectErr: true},
		{name: "invalid fo", raw: "v=DMARC1; p=none; fo=9", expectErr: true},
		{name: "non-mailto rua", raw: "v=DMARC1; p=none; rua=https://example.com/report", expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := ParseRecord(tc.raw)
			if (err != nil) != tc.expectErr {
				t.Fatalf("ParseRecord(%q) error = %v, expectErr = %v", tc.raw, err, tc.expectErr)
			}
			if err == nil {
				tc.check(t, d)
			}
		})
	}
}

func TestParseURI(t *testing.T) {
	testCases := []struct {
		input     string
		expected  URI
		expectErr bool
	}{
		{input: "mailto:dmarc@example.org", expected: URI{Address: "dmarc@example.org"}},
		{input: " mailto:dmarc@example.org!10m ", expected: URI{Address: "dmarc@example.org", MaxSize: 10 << 20}},
		{input: "mailto:dmarc@example.org!512", expected: URI{Address: "dmarc@example.org", MaxSize: 512}},
		{input: "mailto:dmarc@example.org!2g", expected: URI{Address: "dmarc@example.org", MaxSize: 2 << 30}},
		{input: "http://example.org/", expectErr: true},
		{input: "mailto:no-domain", expectErr: true},
		{input: "mailto:a@example.org!", expectErr: true},
		{input: "mailto:a@example.org!10x", expectErr: true},
	}
	for _, tc := range testCases {
		got, err := ParseURI(tc.input)
		if (err != nil) != tc.expectErr {
			t.Errorf("ParseURI(%q) error = %v", tc.input, err)
			continue
		}
		if err == nil && got != tc.expected {
			t.Errorf("ParseURI(%q) = %+v, want %+v", tc.input, got, tc.expected)
		}
	}
}

func TestURIDomain(t *testing.T) {
	u := URI{Address: "dmarc@Sub.Example.ORG"}
	if got := u.Domain(); got != "sub.example.org" {
		t.Errorf("Domain() = %q", got)
	}
}

func TestExtractFromDomain(t *testing.T) {
	testCases := []struct {
		name     string
		from     []string
		expected string
	}{
		{name: "single", from: []string{"hello@example.org"}, expected: "example.org"},
		{name: "display name", from: []string{"Alice <alice@Example.ORG>"}, expected: "example.org"},
		{name: "same domain twice", from: []string{"a@example.org", "b@example.org"}, expected: "example.org"},
		{name: "two domains exempt", from: []string{"a@example.org", "b@example.net"}, expected: ""},
		{name: "missing from", from: nil, expected: ""},
		{name: "broken address", from: []string{"no-at-sign"}, expected: ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractFromDomain(tc.from); got != tc.expected {
				t.Errorf("ExtractFromDomain(%v) = %q, want %q", tc.from, got, tc.expected)
			}
		})
	}
}

func TestAlignment(t *testing.T) {
	testCases := []struct {
		a, b            string
		strict, relaxed bool
	}{
		{"example.org", "example.org", true, true},
		{"sub.example.org", "example.org", false, true},
		{"example.org", "sub.example.org", false, true},
		{"a.b.example.org", "example.org", false, true},
		{"badexample.org", "example.org", false, false},
		{"example.net", "example.org", false, false},
	}
	for _, tc := range testCases {
		if got := AlignsStrict(tc.a, tc.b); got != tc.strict {
			t.Errorf("AlignsStrict(%s, %s) = %v", tc.a, tc.b, got)
		}
		if got := AlignsRelaxed(tc.a, tc.b); got != tc.relaxed {
			t.Errorf("AlignsRelaxed(%s, %s) = %v", tc.a, tc.b, got)
		}
		// Strict alignment always implies relaxed alignment.
		if tc.strict && !tc.relaxed {
			t.Errorf("strict without relaxed for (%s, %s)", tc.a, tc.b)
		}
	}
}

func TestIsSubdomainRelation(t *testing.T) {
	if IsSubdomainRelation("example.org", "example.org") {
		t.Error("exact match reported as subdomain relation")
	}
	if !IsSubdomainRelation("sub.example.org", "example.org") {
		t.Error("subdomain relation not detected")
	}
}

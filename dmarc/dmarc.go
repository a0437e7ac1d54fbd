// Package dmarc parses DMARC policy records (RFC 7489) and evaluates
// identifier alignment between the RFC5322.From domain and the identifiers
// authenticated by SPF and DKIM.
package dmarc

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/titussanchez/mail-auth/internal/tagparse"
)

var ErrNotAligned = errors.New("dmarc: identifiers are not aligned")

// AlignmentMode is the aspf=/adkim= tag value.
type AlignmentMode string

const (
	AlignmentRelaxed AlignmentMode = "r"
	AlignmentStrict  AlignmentMode = "s"
)

// FailureOption is one element of the fo= tag.
type FailureOption string

const (
	FailureAllFail  FailureOption = "0" // report when no mechanism yields an aligned pass
	FailureAnyFail  FailureOption = "1" // report when any mechanism fails to yield an aligned pass
	FailureDKIMOnly FailureOption = "d" // report on DKIM evaluation failure
	FailureSPFOnly  FailureOption = "s" // report on SPF evaluation failure
)

// Policy is the p=/sp= tag value.
type Policy string

const (
	PolicyNone       Policy = "none"
	PolicyQuarantine Policy = "quarantine"
	PolicyReject     Policy = "reject"
)

// Record is a parsed DMARC policy record. Records are immutable after
// parsing and shared by reference between concurrent evaluations.
type Record struct {
	Version            string          // v= must be DMARC1
	Policy             Policy          // p=
	SubdomainPolicy    Policy          // sp= empty when absent; EffectiveSubdomainPolicy falls back to p=
	AlignmentDKIM      AlignmentMode   // adkim= defaults to relaxed
	AlignmentSPF       AlignmentMode   // aspf= defaults to relaxed
	FailureOptions     []FailureOption // fo=
	Percent            int             // pct=
	ReportInterval     uint32          // ri= seconds between aggregate reports
	AggregateReportURI []URI           // rua=
	ForensicReportURI  []URI           // ruf=
	raw                string
}

// Raw returns the unparsed record text.
func (d *Record) Raw() string { return d.raw }

// EffectiveSubdomainPolicy is sp=, falling back to p= when absent
// (RFC 7489 §6.3).
func (d *Record) EffectiveSubdomainPolicy() Policy {
	if d.SubdomainPolicy == "" {
		return d.Policy
	}
	return d.SubdomainPolicy
}

// ParseRecord parses a TXT DMARC record. Unknown tags are ignored; known
// tags with invalid values make the record unusable.
func ParseRecord(raw string) (*Record, error) {
	tags, err := tagparse.Parse(raw)
	if err != nil {
		return nil, err
	}

	d := &Record{
		Percent:       100,
		AlignmentDKIM: AlignmentRelaxed,
		AlignmentSPF:  AlignmentRelaxed,
		raw:           raw,
	}
	for _, tag := range tags {
		v := tag.Value
		switch tag.Name {
		case "v":
			d.Version = v
			if d.Version != "DMARC1" {
				return nil, fmt.Errorf("invalid version: %s", v)
			}
		case "p":
			d.Policy = Policy(v)
			if d.Policy != PolicyNone && d.Policy != PolicyQuarantine && d.Policy != PolicyReject {
				return nil, fmt.Errorf("invalid p value: %s", v)
			}
		case "sp":
			d.SubdomainPolicy = Policy(v)
			if d.SubdomainPolicy != PolicyNone && d.SubdomainPolicy != PolicyQuarantine && d.SubdomainPolicy != PolicyReject {
				return nil, fmt.Errorf("invalid sp value: %s", v)
			}
		case "adkim":
			d.AlignmentDKIM = AlignmentMode(v)
			if d.AlignmentDKIM != AlignmentRelaxed && d.AlignmentDKIM != AlignmentStrict {
				return nil, fmt.Errorf("invalid adkim value: %s", v)
			}
		case "aspf":
			d.AlignmentSPF = AlignmentMode(v)
			if d.AlignmentSPF != AlignmentRelaxed && d.AlignmentSPF != AlignmentStrict {
				return nil, fmt.Errorf("invalid aspf value: %s", v)
			}
		case "fo":
			for _, f := range strings.Split(v, ":") {
				switch FailureOption(strings.TrimSpace(f)) {
				case FailureAllFail, FailureAnyFail, FailureDKIMOnly, FailureSPFOnly:
					d.FailureOptions = append(d.FailureOptions, FailureOption(strings.TrimSpace(f)))
				default:
					return nil, fmt.Errorf("invalid fo value: %s", f)
				}
			}
		case "pct":
			pct, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid pct value: %s", v)
			}
			if pct < 0 || pct > 100 {
				return nil, fmt.Errorf("pct value out of range: %d", pct)
			}
			d.Percent = pct
		case "ri":
			ri, err := strconv.Atoi(v)
			if err != nil || ri < 0 {
				return nil, fmt.Errorf("invalid ri value: %s", v)
			}
			d.ReportInterval = uint32(ri)
		case "rua":
			uris, err := parseURIList(v)
			if err != nil {
				return nil, fmt.Errorf("invalid rua value: %w", err)
			}
			d.AggregateReportURI = uris
		case "ruf":
			uris, err := parseURIList(v)
			if err != nil {
				return nil, fmt.Errorf("invalid ruf value: %w", err)
			}
			d.ForensicReportURI = uris
		}
	}

	if d.Version == "" {
		return nil, errors.New("missing version tag in DMARC record")
	}
	return d, nil
}

// IsRecord reports whether a TXT string looks like a DMARC record, used to
// skip unrelated TXT records on the same name.
func IsRecord(raw string) bool {
	return strings.HasPrefix(strings.TrimSpace(raw), "v=DMARC1")
}

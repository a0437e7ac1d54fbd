package dmarc

import "fmt"

// Result is one axis (SPF or DKIM) of a DMARC evaluation.
type Result struct {
	Status ResultStatus
	// Err explains fail, temperror and permerror results.
	Err error
}

// ResultStatus enumerates the axis verdicts.
type ResultStatus string

const (
	ResultNone    ResultStatus = "none"
	ResultPass    ResultStatus = "pass"
	ResultFail    ResultStatus = "fail"
	ResultTempErr ResultStatus = "temperror"
	ResultPermErr ResultStatus = "permerror"
)

func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s (%v)", r.Status, r.Err)
	}
	return string(r.Status)
}

// Pass reports an aligned pass on this axis.
func (r Result) Pass() bool { return r.Status == ResultPass }

// Output is the verdict of a DMARC evaluation for one message.
type Output struct {
	// Domain is the RFC5322.From domain the policy applies to. Empty when
	// DMARC was skipped (multi-domain or missing From).
	Domain string
	// Policy is the applicable policy: p= of the discovered record, or sp=
	// when the message was authenticated via a subdomain relation. It also
	// reports the policy that would apply when alignment failed over a
	// subdomain relation.
	Policy Policy
	// SPFResult and DKIMResult are the two alignment axes. Both stay none
	// when no underlying authenticator passed; the caller decides what to
	// do with an unauthenticated message.
	SPFResult  Result
	DKIMResult Result
	// Record is the policy record the verdict was computed from, nil when
	// none was found.
	Record *Record
}

// ResultString renders an Authentication-Results style fragment.
func (o *Output) ResultString() string {
	status := "none"
	switch {
	case o.DKIMResult.Pass() || o.SPFResult.Pass():
		status = "pass"
	case o.DKIMResult.Status == ResultFail || o.SPFResult.Status == ResultFail:
		status = "fail"
	case o.DKIMResult.Status == ResultTempErr || o.SPFResult.Status == ResultTempErr:
		status = "temperror"
	case o.DKIMResult.Status == ResultPermErr || o.SPFResult.Status == ResultPermErr:
		status = "permerror"
	}
	if o.Domain == "" {
		return "dmarc=" + status
	}
	return fmt.Sprintf("dmarc=%s header.from=%s", status, o.Domain)
}

// Package spf defines the SPF collaborator surface consumed by the DMARC
// evaluator. The evaluation itself (RFC 7208) is out of scope for this
// library; callers plug in any evaluator producing these verdicts.
package spf

import "context"

// Result is an SPF verdict (RFC 7208 §2.6).
type Result string

const (
	ResultNone      Result = "none"
	ResultNeutral   Result = "neutral"
	ResultPass      Result = "pass"
	ResultFail      Result = "fail"
	ResultSoftFail  Result = "softfail"
	ResultTempError Result = "temperror"
	ResultPermError Result = "permerror"
)

// Output is the settled outcome of an SPF evaluation for one message.
type Output struct {
	Result Result
	// Domain is the domain the verdict applies to: RFC5321.MailFrom, or
	// HELO when MailFrom was empty.
	Domain string
	// Explanation carries the publishing domain's exp= text on fail.
	Explanation string
}

// Pass reports a passing evaluation.
func (o *Output) Pass() bool { return o != nil && o.Result == ResultPass }

// Verifier evaluates SPF for a connection. Implementations resolve the
// domain's SPF policy against the connecting address.
type Verifier interface {
	VerifySPF(ctx context.Context, ip string, heloDomain string, mailFrom string) (*Output, error)
}

package mailauth

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/titussanchez/mail-auth/dkim"
	"github.com/titussanchez/mail-auth/dmarc"
	"github.com/titussanchez/mail-auth/internal/header"
	"github.com/titussanchez/mail-auth/spf"
)

// VerifyDMARC evaluates the DMARC policy of the message's RFC5322.From
// domain against the already-settled DKIM and SPF results.
//
// Messages whose From headers span more than one domain are exempt from
// DMARC checking (RFC 7489 §6.6.1) and yield the zero Output, as do messages
// without a usable From header.
func (r *Resolver) VerifyDMARC(ctx context.Context, msg []byte, dkimOutputs []*dkim.Output, mailFromDomain string, spfOutput *spf.Output) *dmarc.Output {
	headers, _, err := header.SplitMessage(msg)
	if err != nil {
		return &dmarc.Output{}
	}
	fromDomain := dmarc.ExtractFromDomain(header.ExtractHeaderValues(headers, "from"))
	if fromDomain == "" {
		return &dmarc.Output{}
	}

	record, err := r.dmarcTreeWalk(ctx, fromDomain)
	if err != nil {
		// Transient DNS trouble: the policy is unknown, not absent.
		tempErr := dmarc.Result{Status: dmarc.ResultTempErr, Err: err}
		return &dmarc.Output{Domain: fromDomain, SPFResult: tempErr, DKIMResult: tempErr}
	}
	none := dmarc.Result{Status: dmarc.ResultNone}
	if record == nil {
		return &dmarc.Output{Domain: fromDomain, SPFResult: none, DKIMResult: none}
	}

	output := &dmarc.Output{
		Domain:     fromDomain,
		Policy:     record.Policy,
		SPFResult:  none,
		DKIMResult: none,
		Record:     record,
	}

	hasDkimPass := false
	for _, o := range dkimOutputs {
		if o.Pass() && o.Signature != nil {
			hasDkimPass = true
			break
		}
	}

	// With no passing authenticator both axes stay none; the caller decides
	// what to do with an unauthenticated message.
	if !spfOutput.Pass() && !hasDkimPass {
		return output
	}

	if spfOutput.Pass() {
		mailFrom := strings.ToLower(mailFromDomain)
		switch {
		case mailFrom == fromDomain:
			output.SPFResult = dmarc.Result{Status: dmarc.ResultPass}
		case record.AlignmentSPF == dmarc.AlignmentRelaxed && dmarc.AlignsRelaxed(mailFrom, fromDomain):
			output.Policy = record.EffectiveSubdomainPolicy()
			output.SPFResult = dmarc.Result{Status: dmarc.ResultPass}
		default:
			output.SPFResult = dmarc.Result{Status: dmarc.ResultFail, Err: dmarc.ErrNotAligned}
		}
	}

	if hasDkimPass {
		exact, related := false, false
		for _, o := range dkimOutputs {
			if !o.Pass() || o.Signature == nil {
				continue
			}
			d := strings.ToLower(o.Signature.Domain)
			if d == fromDomain {
				exact = true
			} else if dmarc.IsSubdomainRelation(d, fromDomain) {
				related = true
			}
		}
		switch {
		case exact:
			output.DKIMResult = dmarc.Result{Status: dmarc.ResultPass}
		case record.AlignmentDKIM == dmarc.AlignmentRelaxed && related:
			output.Policy = record.EffectiveSubdomainPolicy()
			output.DKIMResult = dmarc.Result{Status: dmarc.ResultPass}
		default:
			// Even a failed strict alignment over a subdomain relation
			// reports the policy that would govern the subdomain.
			if related {
				output.Policy = record.EffectiveSubdomainPolicy()
			}
			output.DKIMResult = dmarc.Result{Status: dmarc.ResultFail, Err: dmarc.ErrNotAligned}
		}
	}

	return output
}

// dmarcTreeWalk discovers the applicable DMARC record by querying
// _dmarc.<candidate> from the full From domain upward. Deep names jump
// straight to the 4-label candidate rather than trimming one label at a
// time, approximating the organizational domain without a full PSL walk;
// candidates at or above a public suffix are never queried.
//
// A missing or unusable record continues the walk; transient DNS failures
// abort it.
func (r *Resolver) dmarcTreeWalk(ctx context.Context, domain string) (*dmarc.Record, error) {
	labels := strings.Split(domain, ".")
	x := len(labels)
	if x <= 1 {
		return nil, nil
	}
	for x != 0 {
		candidate := strings.Join(labels[len(labels)-x:], ".")
		if suffix, _ := publicsuffix.PublicSuffix(candidate); suffix == candidate {
			return nil, nil
		}

		record, err := r.lookupDmarc(ctx, "_dmarc."+candidate+".")
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, ErrRecordNotFound) && !errors.Is(err, ErrInvalidRecordType) {
			return nil, err
		}

		if x < 5 {
			x--
		} else {
			x = 4
		}
	}
	return nil, nil
}

// VerifyDMARCReportAddress validates the external report addresses of a
// DMARC record published by domain (RFC 7489 §7.1). An address is accepted
// when its domain is the publishing domain or a subdomain of it, or when the
// destination has opted in via a record at
// <publishing-domain>.report.dmarc.<address-domain>. A transient DNS failure
// makes the whole validation unusable and returns an error; a missing opt-in
// merely rejects that one address.
func (r *Resolver) VerifyDMARCReportAddress(ctx context.Context, domain string, uris []dmarc.URI) ([]dmarc.URI, error) {
	pub := strings.ToLower(domain)
	accepted := make([]dmarc.URI, 0, len(uris))
	for _, uri := range uris {
		addrDomain := uri.Domain()
		if addrDomain == pub || strings.HasSuffix(addrDomain, "."+pub) {
			accepted = append(accepted, uri)
			continue
		}
		_, err := r.lookupDmarc(ctx, pub+".report.dmarc."+addrDomain+".")
		switch {
		case err == nil:
			accepted = append(accepted, uri)
		case errors.Is(err, ErrRecordNotFound), errors.Is(err, ErrInvalidRecordType):
			// Not authorized; skip this address.
		default:
			return nil, err
		}
	}
	return accepted, nil
}

package mailauth

import (
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"

	"github.com/titussanchez/mail-auth/dkim"
	"github.com/titussanchez/mail-auth/domainkey"
	"github.com/titussanchez/mail-auth/internal/bodyhash"
	"github.com/titussanchez/mail-auth/internal/canonical"
	"github.com/titussanchez/mail-auth/internal/header"
)

// VerifyDKIM verifies every DKIM-Signature header of the raw message and
// returns one Output per signature, in header order. Signatures are
// independent: a parse failure or a missing key on one never aborts the
// others, and any passing signature satisfies DKIM for DMARC purposes.
//
// The error return reports an unusable message; per-signature problems are
// carried in the outputs.
func (r *Resolver) VerifyDKIM(ctx context.Context, msg []byte) ([]*dkim.Output, error) {
	headers, body, err := header.SplitMessage(msg)
	if err != nil {
		return nil, err
	}

	outputs := []*dkim.Output{}
	for _, h := range headers {
		if header.FieldName(h) != "dkim-signature" {
			continue
		}
		outputs = append(outputs, r.verifySignature(ctx, h, headers, body))
	}
	return outputs, nil
}

func (r *Resolver) verifySignature(ctx context.Context, raw string, headers []string, body []byte) *dkim.Output {
	sig, err := dkim.ParseSignature(raw)
	if err != nil {
		return &dkim.Output{
			Status:  dkim.VerifyStatusPermErr,
			Err:     err,
			Message: "signature could not be parsed",
		}
	}
	out := &dkim.Output{Signature: sig}

	ca := sig.GetCanonicalizationAndAlgorithm()
	bh := bodyhash.New(canonical.Canonicalization(ca.Body), ca.HashAlgo, sig.Limit)
	if _, err := bh.Write(body); err != nil {
		out.Status, out.Err, out.Message = dkim.VerifyStatusPermErr, err, "failed to hash body"
		return out
	}
	if err := bh.Close(); err != nil {
		out.Status, out.Err, out.Message = dkim.VerifyStatusPermErr, err, "failed to hash body"
		return out
	}

	// An l= beyond the canonical body length is unsatisfiable: the hash
	// would cover bytes the message does not have (RFC 6376 §3.7).
	if sig.Limit > 0 && bh.CanonicalLength() < sig.Limit {
		out.Status = dkim.VerifyStatusFail
		out.Err = fmt.Errorf("%w: l=%d body=%d", dkim.ErrBodyLengthMismatch, sig.Limit, bh.CanonicalLength())
		out.Message = "body is shorter than the length limit"
		return out
	}

	key, err := r.lookupDomainKey(ctx, fqdn(sig.Selector, "_domainkey", sig.Domain))
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) || errors.Is(err, ErrInvalidRecordType) {
			out.Status, out.Err, out.Message = dkim.VerifyStatusPermErr, err, "domain key is not found"
		} else {
			out.Status, out.Err, out.Message = dkim.VerifyStatusTempErr, err, "failed to lookup domain key"
		}
		return out
	}

	result := sig.Verify(headers, bh.Sum(), key, r.now())
	out.Status = result.Status()
	out.Err = result.Error()
	out.Message = result.Message()

	if out.Pass() && sig.AtpsDomain != "" {
		name := fqdn(atpsLabel(sig.Domain, sig.AtpsHash), "_atps", sig.AtpsDomain)
		if ok, err := r.lookupAtps(ctx, name); err == nil && ok {
			out.IsAtps = true
		}
	}
	return out
}

// atpsLabel derives the DNS label registered for a third-party signing
// domain: the base32 encoding of the domain's hash (RFC 6541 §4.2).
func atpsLabel(domain string, algo domainkey.HashAlgo) string {
	var sum []byte
	d := []byte(strings.ToLower(domain))
	if algo == domainkey.HashAlgoSHA256 {
		h := sha256.Sum256(d)
		sum = h[:]
	} else {
		h := sha1.Sum(d)
		sum = h[:]
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum)
}

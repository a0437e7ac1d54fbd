package dkim

import (
	"fmt"
	"strings"
	"time"

	"github.com/titussanchez/mail-auth/domainkey"
	"github.com/titussanchez/mail-auth/internal/canonical"
	"github.com/titussanchez/mail-auth/internal/header"
	"github.com/titussanchez/mail-auth/internal/tagparse"
)

// VerifyResult is the outcome of checking one signature.
type VerifyResult struct {
	status    VerifyStatus
	err       error
	msg       string
	domainKey *domainkey.DomainKey
}

func (v *VerifyResult) Status() VerifyStatus { return v.status }
func (v *VerifyResult) Error() error         { return v.err }
func (v *VerifyResult) Message() string      { return v.msg }

// DomainKey returns the key record the signature was checked against, when
// one was available.
func (v *VerifyResult) DomainKey() *domainkey.DomainKey { return v.domainKey }

func newVerifyResult(status VerifyStatus, err error, msg string, key *domainkey.DomainKey) *VerifyResult {
	return &VerifyResult{status: status, err: err, msg: msg, domainKey: key}
}

// Verify checks this signature against the message headers, the precomputed
// body hash and the published key record. It performs no I/O; the caller
// resolves the key record and computes the body hash with the signature's
// canonicalization, hash and l= limit. The result is attached to the
// signature and returned.
func (ds *Signature) Verify(headers []string, bodyHash string, key *domainkey.DomainKey, now time.Time) *VerifyResult {
	ds.VerifyResult = ds.verify(headers, bodyHash, key, now)
	return ds.VerifyResult
}

func (ds *Signature) verify(headers []string, bodyHash string, key *domainkey.DomainKey, now time.Time) *VerifyResult {
	if key == nil {
		return newVerifyResult(VerifyStatusPermErr, domainkey.ErrKeyRevoked, "domain key is missing", nil)
	}

	// A revoked key fails permanently before the signature bytes are even
	// decoded (RFC 6376 §3.6.1).
	if key.Revoked {
		return newVerifyResult(VerifyStatusPermErr, domainkey.ErrKeyRevoked, "domain key is revoked", key)
	}

	testFlagMsg := ""
	if key.Flags.Testing() {
		testFlagMsg = " test mode"
	}

	if !key.Flags.AllowsEmail() {
		return newVerifyResult(VerifyStatusPermErr,
			fmt.Errorf("domain key does not permit the email service"),
			"service type is invalid"+testFlagMsg, key)
	}
	if !key.Flags.AllowsHash(ds.Algorithm.keyHashAlgo()) {
		return newVerifyResult(VerifyStatusPermErr,
			fmt.Errorf("domain key does not permit hash algorithm of %s", ds.Algorithm),
			"hash algorithm is not acceptable"+testFlagMsg, key)
	}

	// t=s forbids the AUID domain from being a subdomain of d=.
	if key.Flags.MatchDomain() {
		if idDomain := ds.identityDomain(); idDomain != "" && idDomain != ds.Domain {
			return newVerifyResult(VerifyStatusPermErr,
				fmt.Errorf("i= domain %s does not match d= domain %s required by the t=s flag", idDomain, ds.Domain),
				"identity does not match domain"+testFlagMsg, key)
		}
	}

	if ds.Version != 1 {
		return newVerifyResult(VerifyStatusPermErr,
			fmt.Errorf("DKIM-Signature version is invalid: %d", ds.Version),
			"version is invalid"+testFlagMsg, key)
	}

	if ds.SignatureExpiration != 0 && now.Unix() > ds.SignatureExpiration {
		return newVerifyResult(VerifyStatusFail,
			fmt.Errorf("%w: now=%d expiration=%d", ErrSignatureExpired, now.Unix(), ds.SignatureExpiration),
			"signature is expired"+testFlagMsg, key)
	}

	if ds.BodyHash != bodyHash {
		return newVerifyResult(VerifyStatusFail,
			fmt.Errorf("%w: %s != %s", ErrBodyHashMismatch, ds.BodyHash, bodyHash),
			"body hash is not match"+testFlagMsg, key)
	}

	// Reassemble the signed header bytes: the listed headers bottom-up,
	// then this signature header with its b= value emptied, hashed without
	// a trailing CRLF.
	selected := header.ExtractHeaders(headers, ds.SignedHeaderNames())
	stripped := header.StripBValue(ds.Raw())
	canon := canonical.Canonicalization(ds.canonAndAlgo.Header)
	hashed := header.HashHeaders(append(selected, stripped), canon, ds.canonAndAlgo.HashAlgo)

	signature, err := tagparse.DecodeBase64(ds.Signature)
	if err != nil {
		return newVerifyResult(VerifyStatusFail,
			fmt.Errorf("failed to decode signature: %w", err),
			"invalid signature"+testFlagMsg, key)
	}

	pub, err := key.Key()
	if err != nil {
		return newVerifyResult(VerifyStatusPermErr,
			fmt.Errorf("failed to parse public key: %w", err),
			"invalid public key"+testFlagMsg, key)
	}

	if err := header.Verify(pub, ds.canonAndAlgo.HashAlgo, hashed, signature); err != nil {
		return newVerifyResult(VerifyStatusFail,
			fmt.Errorf("failed to verify signature: %w", err),
			"invalid signature"+testFlagMsg, key)
	}

	return newVerifyResult(VerifyStatusPass, nil, "good signature"+testFlagMsg, key)
}

// Output is the per-signature verification outcome surfaced to callers. A
// message carrying several DKIM-Signature headers yields one Output each;
// any passing signature satisfies DKIM for DMARC purposes.
type Output struct {
	// Signature is nil when the header could not be parsed.
	Signature *Signature
	Status    VerifyStatus
	Err       error
	Message   string
	// IsAtps reports that the signing domain is an authorized third-party
	// signer for the From domain (RFC 6541).
	IsAtps bool
}

// Pass reports whether this signature verified.
func (o *Output) Pass() bool { return o.Status == VerifyStatusPass }

// ResultString renders an Authentication-Results style fragment.
func (o *Output) ResultString() string {
	if o.Status == VerifyStatusNeutral || o.Status == VerifyStatusNone || o.Status == "" {
		return "dkim=none"
	}

	var result strings.Builder
	fmt.Fprintf(&result, "dkim=%s (%s)", o.Status, o.Message)
	if o.Signature != nil {
		if o.Signature.Domain != "" {
			fmt.Fprintf(&result, " header.d=%s", o.Signature.Domain)
		}
		if o.Signature.Selector != "" {
			fmt.Fprintf(&result, " header.s=%s", o.Signature.Selector)
		}
		if o.Signature.Identity != "" {
			fmt.Fprintf(&result, " header.i=%s", o.Signature.Identity)
		}
	}
	return result.String()
}

package dkim

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/titussanchez/mail-auth/domainkey"
	"github.com/titussanchez/mail-auth/internal/header"
	"github.com/titussanchez/mail-auth/internal/tagparse"
)

// Signature is a parsed DKIM-Signature header field. Parsed signatures are
// immutable except for the verification result attached by the verifier.
type Signature struct {
	Algorithm           SignatureAlgorithm // a=
	Signature           string             // b= base64, FWS stripped
	BodyHash            string             // bh= base64, FWS stripped
	Canonicalization    string             // c= as received
	Domain              string             // d= signing domain (SDID)
	Headers             string             // h= colon-separated signed header names
	Identity            string             // i= agent or user identifier (AUID)
	Limit               int64              // l= body length limit, 0 means unlimited
	QueryType           string             // q= defaults to dns/txt
	Selector            string             // s=
	Timestamp           int64              // t= signing time
	Version             int                // v= must be 1
	SignatureExpiration int64              // x=
	CopiedHeaders       string             // z= display only, never verified
	ReportRequest       bool               // r=y requests failure reports (RFC 6651)
	AtpsDomain          string             // atps= authorizing domain (RFC 6541)
	AtpsHash            domainkey.HashAlgo // atpsh= hash for the ATPS label

	VerifyResult *VerifyResult

	raw          string
	canonAndAlgo *CanonicalizationAndAlgorithm
}

// Raw returns the header as received, or the assembled form for signatures
// built by a Signer.
func (ds *Signature) Raw() string {
	if ds.raw == "" {
		return "DKIM-Signature: " + ds.String()
	}
	return ds.raw
}

// GetCanonicalizationAndAlgorithm returns the parsed c=/a=/l= combination.
func (ds *Signature) GetCanonicalizationAndAlgorithm() *CanonicalizationAndAlgorithm {
	return ds.canonAndAlgo
}

// The VerifySignature capability.

func (ds *Signature) SignatureValue() string            { return ds.Signature }
func (ds *Signature) SignatureAlgo() SignatureAlgorithm { return ds.Algorithm }
func (ds *Signature) SignerDomain() string              { return ds.Domain }
func (ds *Signature) KeySelector() string               { return ds.Selector }

// String renders the header value (without the field name), with the b=
// value folded for readability.
func (ds *Signature) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "v=%d; a=%s; c=%s; d=%s; s=%s;\r\n", ds.Version, ds.Algorithm, ds.Canonicalization, ds.Domain, ds.Selector)
	if ds.Identity != "" {
		fmt.Fprintf(&sb, "        i=%s;\r\n", ds.Identity)
	}
	fmt.Fprintf(&sb, "        h=%s;\r\n", ds.Headers)
	if ds.Limit > 0 {
		fmt.Fprintf(&sb, "        l=%d;\r\n", ds.Limit)
	}
	fmt.Fprintf(&sb, "        bh=%s;\r\n", ds.BodyHash)
	fmt.Fprintf(&sb, "        t=%d;", ds.Timestamp)
	if ds.SignatureExpiration != 0 {
		fmt.Fprintf(&sb, " x=%d;", ds.SignatureExpiration)
	}
	if ds.ReportRequest {
		sb.WriteString(" r=y;")
	}
	if ds.AtpsDomain != "" {
		fmt.Fprintf(&sb, " atps=%s; atpsh=%s;", ds.AtpsDomain, ds.AtpsHash)
	}
	fmt.Fprintf(&sb, "\r\n        b=%s", header.WrapSignatureWithBreaks(ds.Signature))
	return sb.String()
}

// SignedHeaderNames returns the h= list split into names, order preserved.
func (ds *Signature) SignedHeaderNames() []string {
	return tagparse.ColonList(ds.Headers)
}

// signsFrom reports whether the h= list includes From, which RFC 6376 §5.4
// requires of every signature.
func (ds *Signature) signsFrom() bool {
	for _, h := range ds.SignedHeaderNames() {
		if strings.EqualFold(h, "from") {
			return true
		}
	}
	return false
}

// identityDomain is the domain part of the i= value.
func (ds *Signature) identityDomain() string {
	i := strings.LastIndex(ds.Identity, "@")
	if i < 0 {
		return ""
	}
	return ds.Identity[i+1:]
}

// ParseSignature parses a raw DKIM-Signature header field.
func ParseSignature(s string) (*Signature, error) {
	k, v := header.ParseHeaderField(s)
	if !strings.EqualFold(k, "dkim-signature") {
		return nil, fmt.Errorf("invalid header field: %s", k)
	}

	tags, err := tagparse.Parse(v)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DKIM-Signature header field: %w", err)
	}
	// RFC 6376 §3.2: tags with duplicate names make the whole header invalid.
	if name, dup := tags.HasDuplicates(); dup {
		return nil, fmt.Errorf("duplicate tag %q in DKIM-Signature", name)
	}
	if err := tags.Require("v", "a", "b", "bh", "d", "h", "s"); err != nil {
		return nil, err
	}

	result := &Signature{raw: s, AtpsHash: domainkey.HashAlgoSHA1}
	for _, tag := range tags {
		value := tag.Value
		switch tag.Name {
		case "v":
			version, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid version: %s", value)
			}
			result.Version = version
		case "a":
			switch SignatureAlgorithm(value) {
			case SignatureAlgorithmRSA_SHA1, SignatureAlgorithmRSA_SHA256, SignatureAlgorithmED25519_SHA256:
				result.Algorithm = SignatureAlgorithm(value)
			default:
				return nil, fmt.Errorf("invalid algorithm: %s", value)
			}
		case "b":
			result.Signature = tagparse.StripFWS(value)
		case "bh":
			result.BodyHash = tagparse.StripFWS(value)
		case "c":
			result.Canonicalization = tagparse.StripFWS(value)
		case "d":
			result.Domain = tagparse.StripFWS(value)
		case "h":
			result.Headers = strings.Join(tagparse.ColonList(value), ":")
		case "i":
			result.Identity = tagparse.StripFWS(value)
		case "l":
			limit, err := strconv.ParseInt(value, 10, 64)
			if err != nil || limit < 0 {
				return nil, fmt.Errorf("invalid limit for 'l' tag: %s", value)
			}
			if limit > 1<<32 {
				return nil, fmt.Errorf("body length 'l' value too large: %d", limit)
			}
			result.Limit = limit
		case "q":
			result.QueryType = value
		case "r":
			result.ReportRequest = value == "y"
		case "s":
			result.Selector = tagparse.StripFWS(value)
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid timestamp: %s", value)
			}
			result.Timestamp = ts
		case "x":
			exp, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid signature expiration: %s", value)
			}
			result.SignatureExpiration = exp
		case "z":
			result.CopiedHeaders = value
		case "atps":
			result.AtpsDomain = strings.ToLower(tagparse.StripFWS(value))
		case "atpsh":
			switch domainkey.HashAlgo(value) {
			case domainkey.HashAlgoSHA1, domainkey.HashAlgoSHA256:
				result.AtpsHash = domainkey.HashAlgo(value)
			default:
				return nil, fmt.Errorf("invalid atpsh value: %s", value)
			}
		}
		// Unrecognized tags MUST be ignored (RFC 6376 §3.2).
	}

	if result.Version != 1 {
		return nil, fmt.Errorf("invalid version: %d", result.Version)
	}
	if result.Domain == "" {
		return nil, fmt.Errorf("d= tag must not be empty")
	}
	if result.Headers == "" {
		return nil, fmt.Errorf("h= tag must not be empty")
	}
	if !result.signsFrom() {
		return nil, ErrFromHeaderMissing
	}

	// The AUID defaults to an empty local part at the signing domain; when
	// present its domain must be d= or a subdomain of it (RFC 6376 §3.5).
	if result.Identity == "" {
		result.Identity = "@" + result.Domain
	} else if idDomain := result.identityDomain(); idDomain != "" {
		if idDomain != result.Domain && !strings.HasSuffix(idDomain, "."+result.Domain) {
			return nil, fmt.Errorf("i= tag domain must be the same as or a subdomain of the d= tag domain")
		}
	}

	// The expiration must be later than the signing time (RFC 6376 §3.5).
	if result.SignatureExpiration != 0 && result.Timestamp != 0 &&
		result.SignatureExpiration <= result.Timestamp {
		return nil, fmt.Errorf("x= tag value must be greater than t= tag value")
	}

	canHeader, canBody, err := header.ParseCanonicalization(result.Canonicalization)
	if err != nil {
		return nil, err
	}
	result.canonAndAlgo = &CanonicalizationAndAlgorithm{
		Header:    Canonicalization(canHeader),
		Body:      Canonicalization(canBody),
		Algorithm: result.Algorithm,
		Limit:     result.Limit,
		HashAlgo:  result.Algorithm.HashAlgo(),
	}
	return result, nil
}

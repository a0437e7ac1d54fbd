package dkim

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/titussanchez/mail-auth/domainkey"
	"github.com/titussanchez/mail-auth/internal/bodyhash"
	"github.com/titussanchez/mail-auth/internal/canonical"
	"github.com/titussanchez/mail-auth/internal/header"
)

// Signer assembles DKIM-Signature headers for outbound messages. It owns its
// private key exclusively and is safe for concurrent use once configured.
type Signer struct {
	// Domain is the signing domain (d=). Required.
	Domain string
	// Selector names the key within the domain (s=). Required.
	Selector string
	// Identity is the optional AUID (i=); its domain part must be Domain or
	// a subdomain of it.
	Identity string
	// Algorithm defaults to the key type's sha256 algorithm when empty.
	// rsa-sha1 is honored but deprecated.
	Algorithm SignatureAlgorithm
	// HeaderKeys are the names of the headers to sign (h=). From is
	// mandatory. Defaults to a sensible set when empty.
	HeaderKeys []string
	// HeaderCanonicalization and BodyCanonicalization default to relaxed.
	HeaderCanonicalization Canonicalization
	BodyCanonicalization   Canonicalization
	// Expiration is the optional x= value; it must be later than the
	// signing time.
	Expiration int64
	// BodyLimit is the optional l= value. Signing with a limit weakens the
	// signature and is discouraged.
	BodyLimit int64
	// RequestReport sets r=y to request failure reports (RFC 6651).
	RequestReport bool
	// AtpsDomain emits atps=/atpsh= tags naming the From domain that
	// authorized this third-party signer (RFC 6541). AtpsHash defaults
	// to sha1.
	AtpsDomain string
	AtpsHash   domainkey.HashAlgo
	// Key signs the header hash. Required.
	Key crypto.Signer
	// Now supplies the signing time; defaults to time.Now.
	Now func() time.Time
}

// defaultHeaderKeys mirrors the commonly signed set recommended by
// RFC 6376 §5.4.1.
var defaultHeaderKeys = []string{
	"From", "To", "Cc", "Subject", "Date", "Message-ID",
	"Reply-To", "In-Reply-To", "References", "MIME-Version",
	"Content-Type", "Content-Transfer-Encoding",
}

// Sign computes a DKIM-Signature for the raw message and returns the
// complete header field, CRLF terminated, ready to prepend to the message.
func (s *Signer) Sign(msg []byte) (string, error) {
	sig, err := s.prepare()
	if err != nil {
		return "", err
	}

	headers, body, err := header.SplitMessage(msg)
	if err != nil {
		return "", err
	}

	// Body hash first: bh= is part of the signed header bytes.
	bh := bodyhash.New(canonical.Canonicalization(sig.canonAndAlgo.Body), sig.canonAndAlgo.HashAlgo, sig.Limit)
	if _, err := bh.Write(body); err != nil {
		return "", err
	}
	if err := bh.Close(); err != nil {
		return "", err
	}
	if sig.Limit > 0 && bh.CanonicalLength() < sig.Limit {
		return "", fmt.Errorf("body length limit %d exceeds canonical body length %d", sig.Limit, bh.CanonicalLength())
	}
	sig.BodyHash = bh.Sum()

	// Select the signed headers bottom-up and append the signature header
	// itself with an empty b= value.
	signed := header.ExtractHeaders(headers, sig.SignedHeaderNames())
	if header.ExtractHeader(signed, "from") == "" {
		return "", ErrFromHeaderMissing
	}
	unsigned := "DKIM-Signature: " + sig.String()

	canon := canonical.Canonicalization(sig.canonAndAlgo.Header)
	b64, err := header.Sign(append(signed, unsigned), s.Key, canon, sig.canonAndAlgo.HashAlgo)
	if err != nil {
		return "", err
	}
	sig.Signature = b64
	return "DKIM-Signature: " + sig.String() + "\r\n", nil
}

// prepare validates the configuration and builds the unsigned Signature.
func (s *Signer) prepare() (*Signature, error) {
	if s.Key == nil {
		return nil, errors.New("private key is nil")
	}
	if s.Domain == "" {
		return nil, errors.New("signing domain must not be empty")
	}
	if s.Selector == "" {
		return nil, errors.New("selector must not be empty")
	}

	algo := s.Algorithm
	if algo == "" {
		switch s.Key.Public().(type) {
		case *rsa.PublicKey:
			algo = SignatureAlgorithmRSA_SHA256
		case ed25519.PublicKey:
			algo = SignatureAlgorithmED25519_SHA256
		default:
			return nil, fmt.Errorf("unknown key type: %T", s.Key.Public())
		}
	}

	keys := s.HeaderKeys
	if len(keys) == 0 {
		keys = defaultHeaderKeys
	}
	fromListed := false
	for _, k := range keys {
		if strings.EqualFold(k, "from") {
			fromListed = true
			break
		}
	}
	if !fromListed {
		return nil, ErrFromHeaderMissing
	}

	if s.Identity != "" {
		i := strings.LastIndex(s.Identity, "@")
		if i < 0 {
			return nil, errors.New("identity must contain an @ sign")
		}
		if d := s.Identity[i+1:]; d != s.Domain && !strings.HasSuffix(d, "."+s.Domain) {
			return nil, errors.New("identity domain must be the signing domain or a subdomain of it")
		}
	}

	ch := s.HeaderCanonicalization
	if ch == "" {
		ch = CanonicalizationRelaxed
	}
	cb := s.BodyCanonicalization
	if cb == "" {
		cb = CanonicalizationRelaxed
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	t := now().Unix()
	if s.Expiration != 0 && s.Expiration <= t {
		return nil, errors.New("expiration must be later than the signing time")
	}

	atpsHash := s.AtpsHash
	if s.AtpsDomain != "" && atpsHash == "" {
		atpsHash = domainkey.HashAlgoSHA1
	}

	sig := &Signature{
		Version:             1,
		Algorithm:           algo,
		Canonicalization:    string(ch) + "/" + string(cb),
		Domain:              s.Domain,
		Selector:            s.Selector,
		Identity:            s.Identity,
		Headers:             strings.Join(keys, ":"),
		Limit:               s.BodyLimit,
		Timestamp:           t,
		SignatureExpiration: s.Expiration,
		ReportRequest:       s.RequestReport,
		AtpsDomain:          strings.ToLower(s.AtpsDomain),
		AtpsHash:            atpsHash,
	}
	sig.canonAndAlgo = &CanonicalizationAndAlgorithm{
		Header:    ch,
		Body:      cb,
		Algorithm: algo,
		Limit:     s.BodyLimit,
		HashAlgo:  algo.HashAlgo(),
	}
	return sig, nil
}

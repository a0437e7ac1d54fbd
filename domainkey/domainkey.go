// Package domainkey parses DKIM public key records published as TXT at
// <selector>._domainkey.<domain> (RFC 6376 §3.6.1).
package domainkey

import (
	"errors"
	"fmt"
	"strings"

	"github.com/titussanchez/mail-auth/internal/tagparse"
)

var (
	ErrInvalidVersion = errors.New("invalid domain key version")
	ErrInvalidKeyType = errors.New("invalid key type")
	ErrKeyRevoked     = errors.New("domain key is revoked")
)

type HashAlgo string

const (
	HashAlgoSHA1   HashAlgo = "sha1"
	HashAlgoSHA256 HashAlgo = "sha256"
)

type KeyType string

const (
	KeyTypeRSA     KeyType = "rsa"
	KeyTypeED25519 KeyType = "ed25519"
)

// Flags is the record's capability bitset: the acceptable hash set (h=), the
// service set (s=) and the behavior flags (t=).
type Flags uint64

const (
	FlagHashSHA1 Flags = 1 << iota
	FlagHashSHA256
	FlagServiceAll
	FlagServiceEmail
	FlagTesting
	FlagMatchDomain

	// flagHasService marks that an s= tag was present, so an empty service
	// set means "restricted to services we do not recognize".
	flagHasService
)

// AllowsHash reports whether signatures using the given hash are acceptable.
// A record without an h= tag accepts every hash.
func (f Flags) AllowsHash(h HashAlgo) bool {
	if f&(FlagHashSHA1|FlagHashSHA256) == 0 {
		return true
	}
	switch h {
	case HashAlgoSHA1:
		return f&FlagHashSHA1 != 0
	case HashAlgoSHA256:
		return f&FlagHashSHA256 != 0
	}
	return false
}

// AllowsEmail reports whether the record permits use for email. A record
// without an s= tag permits every service.
func (f Flags) AllowsEmail() bool {
	if f&flagHasService == 0 {
		return true
	}
	return f&(FlagServiceAll|FlagServiceEmail) != 0
}

// Testing reports the t=y flag: the domain is testing DKIM and verifiers
// should not treat failures differently from unsigned mail.
func (f Flags) Testing() bool { return f&FlagTesting != 0 }

// MatchDomain reports the t=s flag: the i= domain must match d= exactly,
// subdomains are not acceptable.
func (f Flags) MatchDomain() bool { return f&FlagMatchDomain != 0 }

// DomainKey is a parsed key record. Records are immutable after parsing and
// safe to share between concurrent verifications.
type DomainKey struct {
	Version   string  // v= must be DKIM1 when present
	KeyType   KeyType // k= defaults to rsa
	Notes     string  // n=
	PublicKey string  // p= base64, whitespace stripped
	Flags     Flags   // h= + s= + t= combined
	Revoked   bool    // p= present but empty
	raw       string
}

// Raw returns the unparsed record text.
func (d *DomainKey) Raw() string { return d.raw }

// ParseRecord parses a TXT key record. Unknown tags are ignored; a present
// but empty p= marks the key revoked, which callers must treat as a permanent
// failure without consulting the signature (RFC 6376 §3.6.1).
func ParseRecord(r string) (*DomainKey, error) {
	tags, err := tagparse.Parse(r)
	if err != nil {
		return nil, err
	}

	key := &DomainKey{KeyType: KeyTypeRSA, raw: r}
	for _, tag := range tags {
		switch tag.Name {
		case "v":
			key.Version = tag.Value
		case "h":
			for _, algo := range tagparse.ColonList(tag.Value) {
				switch HashAlgo(algo) {
				case HashAlgoSHA1:
					key.Flags |= FlagHashSHA1
				case HashAlgoSHA256:
					key.Flags |= FlagHashSHA256
					// Unknown hash algorithms are skipped; a record listing only
					// unknown algorithms sets no hash flag, so AllowsHash treats
					// it like a record without h= and accepts every hash.
				}
			}
		case "k":
			switch KeyType(tag.Value) {
			case KeyTypeRSA:
				key.KeyType = KeyTypeRSA
			case KeyTypeED25519:
				key.KeyType = KeyTypeED25519
			default:
				return nil, fmt.Errorf("%w: %s", ErrInvalidKeyType, tag.Value)
			}
		case "n":
			key.Notes = tag.Value
		case "p":
			key.PublicKey = tagparse.StripFWS(tag.Value)
			if key.PublicKey == "" {
				key.Revoked = true
			}
		case "s":
			key.Flags |= flagHasService
			for _, svc := range tagparse.ColonList(tag.Value) {
				switch svc {
				case "*":
					key.Flags |= FlagServiceAll
				case "email":
					key.Flags |= FlagServiceEmail
				}
			}
		case "t":
			for _, flag := range tagparse.ColonList(tag.Value) {
				switch flag {
				case "y":
					key.Flags |= FlagTesting
				case "s":
					key.Flags |= FlagMatchDomain
				}
			}
		}
	}

	if key.Version != "" && key.Version != "DKIM1" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidVersion, key.Version)
	}
	if !key.Revoked && key.PublicKey == "" {
		// Without a p= tag this is not a key record at all.
		return nil, errors.New("record has no p= tag")
	}
	return key, nil
}

// IsKeyRecord reports whether a TXT string looks like a DKIM key record,
// used to skip unrelated TXT records on the same name.
func IsKeyRecord(r string) bool {
	return strings.Contains(r, "p=") || strings.Contains(r, "v=DKIM1")
}

package domainkey

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
)

// MinRSAKeyBits is the smallest RSA modulus accepted during verification.
// RFC 8301 obsoletes keys below 1024 bits; 2048 is the recommended floor.
const MinRSAKeyBits = 1024

var ErrKeyTooSmall = errors.New("rsa public key is too small")

// Key decodes and parses the record's p= value according to its key type.
// Revoked keys never yield a usable key.
func (d *DomainKey) Key() (crypto.PublicKey, error) {
	if d.Revoked {
		return nil, ErrKeyRevoked
	}
	decoded, err := base64.StdEncoding.DecodeString(d.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key: %w", err)
	}
	return ParsePublicKey(decoded, d.KeyType)
}

// ParsePublicKey parses the decoded p= bytes.
//
// RFC 6376 publishes k=rsa keys as DER; both PKIX (SubjectPublicKeyInfo, the
// common form) and PKCS#1 RSAPublicKey are accepted for interoperability.
// RFC 8463 publishes k=ed25519 keys as the raw 32-octet key; PKIX form is
// accepted as a fallback.
func ParsePublicKey(decoded []byte, keyType KeyType) (crypto.PublicKey, error) {
	if keyType == "" {
		keyType = KeyTypeRSA
	}

	switch keyType {
	case KeyTypeRSA:
		var rsaPub *rsa.PublicKey
		if pub, err := x509.ParsePKCS1PublicKey(decoded); err == nil {
			rsaPub = pub
		} else {
			pub, err := x509.ParsePKIXPublicKey(decoded)
			if err != nil {
				return nil, fmt.Errorf("failed to parse rsa public key: %w", err)
			}
			var ok bool
			rsaPub, ok = pub.(*rsa.PublicKey)
			if !ok {
				return nil, fmt.Errorf("invalid rsa public key type: %T", pub)
			}
		}
		if bits := rsaPub.N.BitLen(); bits < MinRSAKeyBits {
			return nil, fmt.Errorf("%w: %d bits", ErrKeyTooSmall, bits)
		}
		return rsaPub, nil

	case KeyTypeED25519:
		if len(decoded) == ed25519.PublicKeySize {
			return ed25519.PublicKey(decoded), nil
		}
		pub, err := x509.ParsePKIXPublicKey(decoded)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ed25519 public key: %w", err)
		}
		if edPub, ok := pub.(ed25519.PublicKey); ok {
			return edPub, nil
		}
		return nil, fmt.Errorf("invalid ed25519 public key type: %T", pub)

	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidKeyType, keyType)
	}
}

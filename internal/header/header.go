// Package header holds the message header plumbing shared by the dkim and
// dmarc packages: splitting a raw message, selecting signed fields and
// computing the header hash signature.
package header

import (
	"bytes"
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/titussanchez/mail-auth/internal/canonical"
)

const crlf = "\r\n"

var (
	ErrInvalidEmailFormat = errors.New("invalid email address format")
	ErrInvalidMessage     = errors.New("invalid message format")
)

// SplitMessage splits a raw RFC 5322 message into its header fields and body.
// Each returned field is the raw bytes of one field including folded
// continuation lines and the trailing CRLF. Bare LF line endings are accepted.
func SplitMessage(msg []byte) (headers []string, body []byte, err error) {
	rest := msg
	var field []byte
	for len(rest) > 0 {
		line, remainder := cutLine(rest)
		if len(bytes.TrimRight(line, "\r\n")) == 0 {
			// Blank line terminates the header section.
			rest = remainder
			break
		}
		if line[0] == ' ' || line[0] == '\t' {
			if field == nil {
				return nil, nil, fmt.Errorf("%w: continuation line before first header field", ErrInvalidMessage)
			}
			field = append(field, line...)
		} else {
			if field != nil {
				headers = append(headers, string(field))
			}
			field = append([]byte(nil), line...)
		}
		rest = remainder
	}
	if field != nil {
		headers = append(headers, string(field))
	}
	return headers, rest, nil
}

// cutLine returns the next line including its terminator and the remainder.
func cutLine(b []byte) (line, rest []byte) {
	i := bytes.IndexByte(b, '\n')
	if i < 0 {
		return b, nil
	}
	return b[:i+1], b[i+1:]
}

// ParseHeaderField splits a field into its name and value, both trimmed.
func ParseHeaderField(s string) (string, string) {
	name, value, _ := strings.Cut(s, ":")
	return strings.TrimSpace(name), strings.TrimSpace(value)
}

// FieldName returns the lowercased name of a raw header field.
func FieldName(s string) string {
	name, _, _ := strings.Cut(s, ":")
	return strings.ToLower(strings.TrimSpace(name))
}

// StripWhiteSpace removes every whitespace rune from s.
func StripWhiteSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// WrapSignatureWithBreaks folds a base64 signature value at 64 characters for
// readable DKIM-Signature headers.
func WrapSignatureWithBreaks(s string) string {
	var chunks []string
	for len(s) > 64 {
		chunks = append(chunks, s[:64])
		s = s[64:]
	}
	chunks = append(chunks, s)
	return strings.Join(chunks, "\r\n         ")
}

// ExtractHeaders selects the signed header fields per RFC 6376 §5.4.2: the h=
// list is processed left to right and each name consumes one field from the
// bottom of the message upward, so a name listed N times selects the N
// bottom-most instances. Names without a remaining field contribute nothing.
func ExtractHeaders(headers []string, keys []string) []string {
	byName := make(map[string][]string)
	for _, h := range headers {
		byName[FieldName(h)] = append(byName[FieldName(h)], h)
	}

	var ret []string
	for _, key := range keys {
		key = strings.ToLower(strings.TrimSpace(key))
		if fields := byName[key]; len(fields) > 0 {
			ret = append(ret, fields[len(fields)-1])
			byName[key] = fields[:len(fields)-1]
		}
	}
	return ret
}

// ExtractHeader returns the first field named key, or "".
func ExtractHeader(headers []string, key string) string {
	for _, h := range headers {
		if strings.EqualFold(FieldName(h), key) {
			return h
		}
	}
	return ""
}

// ExtractHeaderValues returns the values of every field named key, in order.
func ExtractHeaderValues(headers []string, key string) []string {
	var values []string
	for _, h := range headers {
		if strings.EqualFold(FieldName(h), key) {
			_, v := ParseHeaderField(h)
			values = append(values, v)
		}
	}
	return values
}

// StripBValue empties the b= tag value of a signature header while keeping
// every other byte intact, including folding. Required before hashing the
// signature header itself (RFC 6376 §3.5, §3.7).
func StripBValue(raw string) string {
	start := findBTagStart(raw)
	if start < 0 {
		return raw
	}
	end := findBTagEnd(raw, start)
	return raw[:start] + raw[end:]
}

// findBTagStart locates the position right after "b=", or -1.
func findBTagStart(s string) int {
	for i := 0; i+1 < len(s); i++ {
		if (s[i] == 'b' || s[i] == 'B') && s[i+1] == '=' {
			if i == 0 || s[i-1] == ';' || s[i-1] == ' ' || s[i-1] == '\t' {
				return i + 2
			}
		}
	}
	return -1
}

// findBTagEnd scans the b= value, skipping folded continuations, and returns
// the index of the terminating ";" or line break.
func findBTagEnd(s string, start int) int {
	i := start
	for i < len(s) {
		if i+2 < len(s) && s[i] == '\r' && s[i+1] == '\n' && (s[i+2] == ' ' || s[i+2] == '\t') {
			i += 3
			continue
		}
		if s[i] == ';' || s[i] == '\r' || s[i] == '\n' {
			break
		}
		i++
	}
	return i
}

// HashHeaders canonicalizes the given fields in order and digests them. The
// last field is the signature header itself and is hashed without its
// trailing CRLF (RFC 6376 §3.7).
func HashHeaders(headers []string, canon canonical.Canonicalization, hashAlgo crypto.Hash) []byte {
	var sb strings.Builder
	for _, h := range headers {
		sb.WriteString(canonical.Header(h, canon))
	}
	s := strings.TrimSuffix(sb.String(), crlf)

	switch hashAlgo {
	case crypto.SHA1:
		sum := sha1.Sum([]byte(s))
		return sum[:]
	default:
		sum := sha256.Sum256([]byte(s))
		return sum[:]
	}
}

// Sign computes the header hash over headers (the signature header with an
// emptied b= last) and signs it with key. RSA keys produce PKCS#1 v1.5
// signatures over the digest; ed25519 keys sign the precomputed SHA-256
// digest directly (RFC 8463). The signature is returned base64-encoded.
func Sign(headers []string, key crypto.Signer, canon canonical.Canonicalization, hashAlgo crypto.Hash) (string, error) {
	if key == nil {
		return "", errors.New("private key is nil")
	}
	hashed := HashHeaders(headers, canon, hashAlgo)

	var opts crypto.SignerOpts
	switch key.Public().(type) {
	case *rsa.PublicKey:
		opts = hashAlgo
	case ed25519.PublicKey:
		opts = crypto.Hash(0)
	default:
		return "", fmt.Errorf("unsupported private key type: %T", key.Public())
	}

	signature, err := key.Sign(rand.Reader, hashed, opts)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(signature), nil
}

// Verify checks a header hash signature against a parsed public key.
func Verify(pub crypto.PublicKey, hashAlgo crypto.Hash, hashed, signature []byte) error {
	switch pub := pub.(type) {
	case *rsa.PublicKey:
		return rsa.VerifyPKCS1v15(pub, hashAlgo, hashed, signature)
	case ed25519.PublicKey:
		if !ed25519.Verify(pub, hashed, signature) {
			return errors.New("ed25519 signature mismatch")
		}
		return nil
	default:
		return fmt.Errorf("unsupported public key type: %T", pub)
	}
}

// ParseCanonicalization parses a c= value such as "relaxed/simple". An empty
// value means simple/simple; a single algorithm applies to the header with
// the body defaulting to simple (RFC 6376 §3.5).
func ParseCanonicalization(s string) (hdr, body canonical.Canonicalization, err error) {
	if s == "" {
		return canonical.Simple, canonical.Simple, nil
	}
	h, b, ok := strings.Cut(s, "/")
	if !ok {
		b = string(canonical.Simple)
	}
	switch canonical.Canonicalization(h) {
	case canonical.Simple, canonical.Relaxed:
		hdr = canonical.Canonicalization(h)
	default:
		return "", "", fmt.Errorf("invalid canonicalization: %s", s)
	}
	switch canonical.Canonicalization(b) {
	case canonical.Simple, canonical.Relaxed:
		body = canonical.Canonicalization(b)
	default:
		return "", "", fmt.Errorf("invalid canonicalization: %s", s)
	}
	return hdr, body, nil
}

// ParseAddress extracts the addr-spec from a From-style header value,
// honoring quoted display names.
func ParseAddress(s string) string {
	var quoted, angled bool
	var start, end int
	for i, r := range s {
		switch {
		case r == '"' && !angled:
			quoted = !quoted
		case r == '<' && !quoted:
			angled = true
			start = i
		case r == '>' && !quoted:
			angled = false
			end = i
		}
	}
	if start < end {
		return strings.TrimSpace(s[start+1 : end])
	}
	return strings.TrimSpace(s)
}

// ParseAddressDomain returns the domain after the final "@" of the address in
// a From-style header value.
func ParseAddressDomain(s string) (string, error) {
	addr := ParseAddress(s)
	if addr == "" {
		return "", ErrInvalidEmailFormat
	}
	i := strings.LastIndex(addr, "@")
	if i < 0 || i == len(addr)-1 {
		return "", ErrInvalidEmailFormat
	}
	return addr[i+1:], nil
}

package dmarc

import (
	"fmt"
	"strconv"
	"strings"
)

// URI is one rua=/ruf= destination: a mailto: address with an optional
// maximum report size in bytes (RFC 7489 §6.2, "!" suffix).
type URI struct {
	Address string
	MaxSize int64
}

// Domain returns the domain part of the address, lowercased.
func (u *URI) Domain() string {
	i := strings.LastIndex(u.Address, "@")
	if i < 0 {
		return ""
	}
	return strings.ToLower(u.Address[i+1:])
}

// ParseURI parses a single report destination such as
// "mailto:dmarc@example.org!10m".
func ParseURI(s string) (URI, error) {
	s = strings.TrimSpace(s)
	rest, ok := strings.CutPrefix(s, "mailto:")
	if !ok {
		return URI{}, fmt.Errorf("unsupported report URI scheme: %s", s)
	}

	addr, size, hasSize := strings.Cut(rest, "!")
	uri := URI{Address: addr}
	if !strings.Contains(addr, "@") {
		return URI{}, fmt.Errorf("invalid report address: %s", addr)
	}
	if hasSize {
		max, err := parseSize(size)
		if err != nil {
			return URI{}, err
		}
		uri.MaxSize = max
	}
	return uri, nil
}

// parseSize parses the size limit with its optional k/m/g/t unit suffix.
func parseSize(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty size limit")
	}
	mult := int64(1)
	switch s[len(s)-1] {
	case 'k', 'K':
		mult = 1 << 10
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1 << 20
		s = s[:len(s)-1]
	case 'g', 'G':
		mult = 1 << 30
		s = s[:len(s)-1]
	case 't', 'T':
		mult = 1 << 40
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size limit: %s", s)
	}
	return n * mult, nil
}

func parseURIList(v string) ([]URI, error) {
	var uris []URI
	for _, raw := range strings.Split(v, ",") {
		uri, err := ParseURI(raw)
		if err != nil {
			return nil, err
		}
		uris = append(uris, uri)
	}
	return uris, nil
}

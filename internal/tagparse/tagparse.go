// Package tagparse parses the tag=value record syntax shared by
// DKIM-Signature headers, DKIM key records and DMARC records (RFC 6376 §3.2).
package tagparse

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var ErrMalformed = errors.New("malformed tag list")

// Tag is a single name=value pair in the order it appeared.
type Tag struct {
	Name  string
	Value string
}

// List is an ordered tag list. Lookups return the first occurrence of a name;
// record parsers that must reject duplicates check HasDuplicates themselves.
type List []Tag

// Parse splits s into tags separated by ";". Whitespace around "=" and ";" is
// ignored, tag names are lowercased. A trailing ";" is allowed. Unknown tags
// are kept; callers decide which names they recognize.
func Parse(s string) (List, error) {
	var list List
	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, ErrMalformed
		}
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || len(name) > 100 {
			return nil, ErrMalformed
		}
		value = strings.TrimSpace(value)
		list = append(list, Tag{Name: name, Value: value})
	}
	return list, nil
}

// Get returns the value of the first tag named name.
func (l List) Get(name string) (string, bool) {
	for _, t := range l {
		if t.Name == name {
			return t.Value, true
		}
	}
	return "", false
}

// Has reports whether the list contains a tag named name.
func (l List) Has(name string) bool {
	_, ok := l.Get(name)
	return ok
}

// HasDuplicates reports the name of the first tag that appears more than once.
func (l List) HasDuplicates() (string, bool) {
	seen := make(map[string]bool, len(l))
	for _, t := range l {
		if seen[t.Name] {
			return t.Name, true
		}
		seen[t.Name] = true
	}
	return "", false
}

// Require returns an error naming the first missing tag out of names.
func (l List) Require(names ...string) error {
	for _, name := range names {
		if !l.Has(name) {
			return fmt.Errorf("%w: required tag %q is missing", ErrMalformed, name)
		}
	}
	return nil
}

// StripFWS removes every CRLF, space and tab, which covers folding
// whitespace. Used for b=, bh= and p= values before decoding.
func StripFWS(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "")
	s = strings.ReplaceAll(s, "\t", "")
	return strings.ReplaceAll(s, " ", "")
}

// DecodeBase64 decodes a base64 tag value after stripping FWS.
func DecodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(StripFWS(s))
}

// ColonList splits a colon-separated value such as h= or z=, trimming FWS
// around each element. Empty elements are dropped.
func ColonList(s string) []string {
	var out []string
	for _, e := range strings.Split(s, ":") {
		e = strings.TrimSpace(StripFWS(e))
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}

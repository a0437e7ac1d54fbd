package dmarc

import (
	"strings"

	"github.com/titussanchez/mail-auth/internal/header"
)

// ExtractFromDomain returns the RFC5322.From domain the DMARC policy applies
// to. Multi-valued From headers whose addresses span more than one domain are
// exempt from DMARC checking (RFC 7489 §6.6.1) and yield "", as do missing or
// unparseable From headers.
func ExtractFromDomain(fromValues []string) string {
	fromDomain := ""
	for _, from := range fromValues {
		domain, err := header.ParseAddressDomain(from)
		if err != nil {
			return ""
		}
		domain = strings.ToLower(domain)
		if fromDomain == "" {
			fromDomain = domain
		} else if fromDomain != domain {
			return ""
		}
	}
	return fromDomain
}

// AlignsStrict reports exact identifier alignment.
func AlignsStrict(domain, fromDomain string) bool {
	return domain == fromDomain
}

// AlignsRelaxed reports that one domain is the other or a subdomain of it.
func AlignsRelaxed(domain, fromDomain string) bool {
	return domain == fromDomain ||
		strings.HasSuffix(domain, "."+fromDomain) ||
		strings.HasSuffix(fromDomain, "."+domain)
}

// IsSubdomainRelation reports a non-exact relaxed relation: alignment that,
// when accepted, shifts the applicable policy from p= to sp=.
func IsSubdomainRelation(domain, fromDomain string) bool {
	return domain != fromDomain && AlignsRelaxed(domain, fromDomain)
}

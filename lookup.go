package mailauth

import (
	"context"
	"strings"

	"github.com/titussanchez/mail-auth/dmarc"
	"github.com/titussanchez/mail-auth/domainkey"
)

// lookupDmarc fetches and parses the DMARC record at name (fully qualified,
// trailing dot). Unrelated TXT records on the same name are skipped; a
// DMARC-looking record that does not parse is ErrInvalidRecordType.
func (r *Resolver) lookupDmarc(ctx context.Context, name string) (*dmarc.Record, error) {
	key := cacheKey{name: name, kind: kindDmarc}
	if v, ok := r.cache.get(key, r.now()); ok {
		return v.(*dmarc.Record), nil
	}

	res, err := r.lookupTXT(ctx, name)
	if err != nil {
		return nil, err
	}

	sawCandidate := false
	for _, txt := range res {
		if !dmarc.IsRecord(txt) {
			continue
		}
		sawCandidate = true
		record, err := dmarc.ParseRecord(txt)
		if err != nil {
			continue
		}
		r.cache.put(key, record, r.now().Add(r.cacheTTL))
		return record, nil
	}
	if sawCandidate {
		return nil, ErrInvalidRecordType
	}
	return nil, ErrRecordNotFound
}

// lookupDomainKey fetches and parses the DKIM key record at name. Revoked
// keys are returned as records; the verifier maps them to permerror.
func (r *Resolver) lookupDomainKey(ctx context.Context, name string) (*domainkey.DomainKey, error) {
	key := cacheKey{name: name, kind: kindDomainKey}
	if v, ok := r.cache.get(key, r.now()); ok {
		return v.(*domainkey.DomainKey), nil
	}

	res, err := r.lookupTXT(ctx, name)
	if err != nil {
		return nil, err
	}

	sawCandidate := false
	for _, txt := range res {
		if !domainkey.IsKeyRecord(txt) {
			continue
		}
		sawCandidate = true
		record, err := domainkey.ParseRecord(txt)
		if err != nil {
			continue
		}
		r.cache.put(key, record, r.now().Add(r.cacheTTL))
		return record, nil
	}
	if sawCandidate {
		return nil, ErrInvalidRecordType
	}
	return nil, ErrRecordNotFound
}

// lookupAtps checks for an ATPS registration at name. Any TXT answer counts
// as a registration (RFC 6541 §4.4); only v=ATPS1 records are expected there.
func (r *Resolver) lookupAtps(ctx context.Context, name string) (bool, error) {
	key := cacheKey{name: name, kind: kindAtps}
	if _, ok := r.cache.get(key, r.now()); ok {
		return true, nil
	}

	res, err := r.lookupTXT(ctx, name)
	if err != nil {
		return false, err
	}
	if len(res) == 0 {
		return false, ErrRecordNotFound
	}
	r.cache.put(key, AtpsRegistration{}, r.now().Add(r.cacheTTL))
	return true, nil
}

// fqdn appends the trailing dot of a fully-qualified query name.
func fqdn(labels ...string) string {
	return strings.Join(labels, ".") + "."
}

// Package mailauth authenticates email messages with DKIM (RFC 6376) and
// evaluates DMARC policies (RFC 7489) over DKIM and SPF results.
//
// All operations hang off a Resolver, which wraps a DNS TXT transport with
// record parsing and a time-bounded cache:
//
//	r := mailauth.New()
//	outputs, err := r.VerifyDKIM(ctx, rawMessage)
//	verdict := r.VerifyDMARC(ctx, rawMessage, outputs, mailFromDomain, spfOutput)
package mailauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/titussanchez/mail-auth/spf"
)

var (
	// ErrRecordNotFound reports that the queried name exists but holds no
	// record of the requested kind, or does not exist at all.
	ErrRecordNotFound = errors.New("dns record not found")
	// ErrInvalidRecordType reports that a TXT record was found but could
	// not be parsed as the requested kind.
	ErrInvalidRecordType = errors.New("invalid dns record type")
)

// DNSError wraps a transport failure. It is transient: callers map it to
// temperror.
type DNSError struct {
	inner error
}

func (e *DNSError) Error() string { return fmt.Sprintf("dns lookup failed: %v", e.inner) }
func (e *DNSError) Unwrap() error { return e.inner }

// Txt is the DNS transport consumed by the Resolver. Implementations perform
// a single TXT query for the fully-qualified name (trailing dot included).
type Txt interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// Resolver is the handle every verification runs through. It holds the
// transport, the record cache and the clock; it carries no per-message
// state and is safe for concurrent use.
type Resolver struct {
	txt      Txt
	spf      spf.Verifier
	now      func() time.Time
	cacheTTL time.Duration
	cache    *recordCache
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTransport replaces the DNS transport. The default queries the system
// resolver with a 5 second timeout.
func WithTransport(txt Txt) Option {
	return func(r *Resolver) { r.txt = txt }
}

// WithSPFVerifier plugs in the SPF collaborator used by VerifySPF.
func WithSPFVerifier(v spf.Verifier) Option {
	return func(r *Resolver) { r.spf = v }
}

// WithClock replaces the wall clock, used for cache expiry and for the x=
// expiration check. The t= tag is not compared with the clock.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithCacheTTL sets how long fetched records stay cached. The transport
// does not surface per-record TTLs, so one duration applies to all kinds.
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Resolver) { r.cacheTTL = ttl }
}

// New builds a Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		txt:      &systemTxt{resolver: net.DefaultResolver},
		now:      time.Now,
		cacheTTL: 5 * time.Minute,
		cache:    newRecordCache(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// VerifySPF delegates to the configured SPF collaborator. Without one the
// result is none.
func (r *Resolver) VerifySPF(ctx context.Context, ip, heloDomain, mailFrom string) (*spf.Output, error) {
	if r.spf == nil {
		return &spf.Output{Result: spf.ResultNone}, nil
	}
	return r.spf.VerifySPF(ctx, ip, heloDomain, mailFrom)
}

// systemTxt is the default transport on top of net.Resolver.
type systemTxt struct {
	resolver *net.Resolver
}

func (t *systemTxt) LookupTXT(ctx context.Context, name string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return t.resolver.LookupTXT(ctx, name)
}

// lookupTXT runs one transport query and maps NXDOMAIN onto
// ErrRecordNotFound and anything else onto DNSError.
func (r *Resolver) lookupTXT(ctx context.Context, name string) ([]string, error) {
	res, err := r.txt.LookupTXT(ctx, name)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, &DNSError{inner: err}
	}
	return res, nil
}

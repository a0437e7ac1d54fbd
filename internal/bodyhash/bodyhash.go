// Package bodyhash computes the bh= body hash: the digest of the
// canonicalized message body, optionally truncated to the l= byte limit.
package bodyhash

import (
	"crypto"
	_ "crypto/sha1"   // registered for rsa-sha1 records
	_ "crypto/sha256" // registered for rsa-sha256 / ed25519-sha256 records
	"encoding/base64"
	"hash"
	"io"

	"github.com/titussanchez/mail-auth/internal/canonical"
)

// BodyHash streams a message body through the configured canonicalization
// into a digest. Write the raw body, Close, then read Sum and CanonicalLength.
type BodyHash struct {
	w      io.WriteCloser
	hasher hash.Hash
	count  *countWriter
	limit  int64
}

// New builds a body hasher. limit is the l= value; 0 means no limit.
// Truncation happens after canonicalization, per RFC 6376 §3.7.
func New(canon canonical.Canonicalization, hashAlgo crypto.Hash, limit int64) *BodyHash {
	if limit < 0 {
		limit = 0
	}
	hasher := hashAlgo.New()

	// canonicalizer -> counter -> limiter -> hasher
	var w io.Writer = hasher
	if limit > 0 {
		w = newLimitWriter(w, limit)
	}
	count := &countWriter{w: w}

	return &BodyHash{
		w:      canonical.Body(count, canon),
		hasher: hasher,
		count:  count,
		limit:  limit,
	}
}

func (b *BodyHash) Write(p []byte) (int, error) {
	return b.w.Write(p)
}

// Close finishes canonicalization. Must be called before Sum.
func (b *BodyHash) Close() error {
	return b.w.Close()
}

// Sum returns the base64-encoded digest.
func (b *BodyHash) Sum() string {
	return base64.StdEncoding.EncodeToString(b.hasher.Sum(nil))
}

// CanonicalLength is the length of the canonical body before truncation.
// A verifier rejects signatures whose l= exceeds this value.
func (b *BodyHash) CanonicalLength() int64 {
	return b.count.n
}

// countWriter counts the canonical bytes passing through, ahead of the limiter.
type countWriter struct {
	w io.Writer
	n int64
}

func (c *countWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

package bodyhash

import (
	"crypto"
	"testing"

	"github.com/titussanchez/mail-auth/internal/canonical"
)

func sum(t *testing.T, canon canonical.Canonicalization, hashAlgo crypto.Hash, limit int64, body string) *BodyHash {
	t.Helper()
	bh := New(canon, hashAlgo, limit)
	if _, err := bh.Write([]byte(body)); err != nil {
		t.Fatal(err)
	}
	if err := bh.Close(); err != nil {
		t.Fatal(err)
	}
	return bh
}

func TestBodyHashSHA256(t *testing.T) {
	testCases := []struct {
		name     string
		canon    canonical.Canonicalization
		limit    int64
		body     string
		expected string
		length   int64
	}{
		{
			// Simple canonicalization of an empty body is a lone CRLF.
			name:     "empty body simple",
			canon:    canonical.Simple,
			body:     "",
			expected: "frcCV1k9oG9oKj3dpUqdJg1PxRT2RSN/XKdLCPjaYaY=",
			length:   2,
		},
		{
			// Relaxed canonicalization of an empty body is the empty string.
			name:     "empty body relaxed",
			canon:    canonical.Relaxed,
			body:     "",
			expected: "47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=",
			length:   0,
		},
		{
			name:     "relaxed wsp and trailing lines",
			canon:    canonical.Relaxed,
			body:     "Hello  World \t\r\n\r\n\r\n",
			expected: "sIAi0xXPHrEtJmW97Q5q9AZTwKC+l1Iy+0m8vQIc/DY=",
			length:   13,
		},
		{
			name:     "rfc6376 example relaxed",
			canon:    canonical.Relaxed,
			body:     " C \r\nD \t E\r\n\r\n\r\n",
			expected: "unak6JHq0wL+Q1HP7dW1tjBx9FLA6DffoZ0qrLwbbpo=",
			length:   9,
		},
		{
			// l=5 truncates the canonical body to "Hello".
			name:     "length limit truncates after canonicalization",
			canon:    canonical.Relaxed,
			limit:    5,
			body:     "Hello World\r\n",
			expected: "GF+NsyJx/iX1Yab8k4suJkMG7DBO2lGAB9F2SCY4GWk=",
			length:   13,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			bh := sum(t, tc.canon, crypto.SHA256, tc.limit, tc.body)
			if got := bh.Sum(); got != tc.expected {
				t.Errorf("Sum() = %s, want %s", got, tc.expected)
			}
			if got := bh.CanonicalLength(); got != tc.length {
				t.Errorf("CanonicalLength() = %d, want %d", got, tc.length)
			}
		})
	}
}

// The canonical length reports the full body even when a limit discards the
// tail, so verifiers can reject l= values beyond the body.
func TestCanonicalLengthWithShortLimit(t *testing.T) {
	bh := sum(t, canonical.Simple, crypto.SHA256, 100, "short\r\n")
	if got := bh.CanonicalLength(); got != 7 {
		t.Errorf("CanonicalLength() = %d, want 7", got)
	}
}

func TestLimitWriter(t *testing.T) {
	var out []byte
	w := newLimitWriter(writerFunc(func(p []byte) (int, error) {
		out = append(out, p...)
		return len(p), nil
	}), 4)

	for _, chunk := range []string{"ab", "cd", "ef"} {
		n, err := w.Write([]byte(chunk))
		if err != nil {
			t.Fatal(err)
		}
		if n != len(chunk) {
			t.Errorf("Write(%q) = %d, want %d", chunk, n, len(chunk))
		}
	}
	if string(out) != "abcd" {
		t.Errorf("limited output = %q, want abcd", out)
	}
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

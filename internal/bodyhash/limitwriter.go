package bodyhash

import (
	"io"
)

// limitWriter forwards at most limit bytes to the underlying writer and
// silently discards the rest. It always reports full writes so the upstream
// canonicalizer never sees a short write.
type limitWriter struct {
	w     io.Writer
	limit int64
}

func newLimitWriter(w io.Writer, limit int64) *limitWriter {
	if limit < 0 {
		limit = 0
	}
	return &limitWriter{w: w, limit: limit}
}

func (lw *limitWriter) Write(p []byte) (int, error) {
	if lw.limit <= 0 {
		return len(p), nil
	}
	toWrite := int64(len(p))
	if toWrite > lw.limit {
		toWrite = lw.limit
	}
	n, err := lw.w.Write(p[:toWrite])
	lw.limit -= int64(n)
	return len(p), err
}

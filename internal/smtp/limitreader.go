package smtp

import (
	"errors"
	"io"
)

var errMessageTooLarge = errors.New("maximum message size exceeded")

// limitReader fails with errMessageTooLarge once more than maxSize bytes
// are read. Unlike io.LimitReader it distinguishes a message that ends
// exactly at the limit from one that exceeds it.
type limitReader struct {
	r        io.Reader
	maxSize  int64
	read     int64
	exceeded bool
}

// newLimitReader wraps r. A maxSize of zero or less disables the limit.
func newLimitReader(r io.Reader, maxSize int64) *limitReader {
	return &limitReader{r: r, maxSize: maxSize}
}

func (l *limitReader) Read(p []byte) (int, error) {
	if l.exceeded {
		return 0, errMessageTooLarge
	}
	if l.maxSize <= 0 {
		return l.r.Read(p)
	}

	// Read at most one byte past the limit, enough to detect overflow.
	if room := l.maxSize - l.read + 1; int64(len(p)) > room {
		p = p[:room]
	}

	n, err := l.r.Read(p)
	if l.read+int64(n) > l.maxSize {
		n = int(l.maxSize - l.read)
		l.read = l.maxSize
		l.exceeded = true
		return n, errMessageTooLarge
	}
	l.read += int64(n)
	return n, err
}

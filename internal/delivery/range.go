// Package delivery streams stored proof videos to authorized viewers with
// byte-range support. Responses pin the Content-Type recorded at upload and
// forbid caching, sniffing and framing.
package delivery

import (
	"errors"
	"strconv"
	"strings"
)

// ErrUnsatisfiable means the requested range lies entirely outside the file.
var ErrUnsatisfiable = errors.New("requested range not satisfiable")

// ByteRange is a resolved half-open request window [Start, Start+Length).
type ByteRange struct {
	Start  int64
	Length int64
}

// End returns the inclusive last byte offset, as used in Content-Range.
func (r ByteRange) End() int64 { return r.Start + r.Length - 1 }

// ContentRange renders the Content-Range header value for a file of the
// given total size.
func (r ByteRange) ContentRange(size int64) string {
	return "bytes " + strconv.FormatInt(r.Start, 10) + "-" + strconv.FormatInt(r.End(), 10) +
		"/" + strconv.FormatInt(size, 10)
}

// ParseRange resolves a Range header against a file of the given size.
// It returns nil for an absent, malformed or multi-part header, in which
// case the caller serves the full file. ErrUnsatisfiable is returned when
// the syntax is valid but no byte of the file is covered; that case must
// produce a 416 with a "bytes */size" Content-Range.
func ParseRange(header string, size int64) (*ByteRange, error) {
	if header == "" {
		return nil, nil
	}
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return nil, nil
	}
	spec := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if strings.Contains(spec, ",") {
		// Multi-part ranges are not worth multipart/byteranges plumbing for
		// video seeking; players fall back to the full stream.
		return nil, nil
	}
	dash := strings.Index(spec, "-")
	if dash < 0 {
		return nil, nil
	}
	startRaw, endRaw := spec[:dash], spec[dash+1:]

	if startRaw == "" {
		// Suffix form: last N bytes.
		n, err := strconv.ParseInt(endRaw, 10, 64)
		if err != nil || n < 0 {
			return nil, nil
		}
		if n == 0 || size == 0 {
			return nil, ErrUnsatisfiable
		}
		if n > size {
			n = size
		}
		return &ByteRange{Start: size - n, Length: n}, nil
	}

	start, err := strconv.ParseInt(startRaw, 10, 64)
	if err != nil || start < 0 {
		return nil, nil
	}
	if start >= size {
		return nil, ErrUnsatisfiable
	}
	if endRaw == "" {
		// Open-ended: from start to the last byte.
		return &ByteRange{Start: start, Length: size - start}, nil
	}
	end, err := strconv.ParseInt(endRaw, 10, 64)
	if err != nil || end < start {
		return nil, nil
	}
	if end >= size {
		end = size - 1
	}
	return &ByteRange{Start: start, Length: end - start + 1}, nil
}

// Package streaming serves stored media with HTTP byte-range support,
// reading spans directly from the object store without buffering them.
package streaming

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrRangeNotSatisfiable is wrapped by RangeError.
var ErrRangeNotSatisfiable = errors.New("range not satisfiable")

// RangeError reports a well-formed range that does not fit the object.
type RangeError struct {
	Header string
	Size   int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range %q outside object of %d bytes", e.Header, e.Size)
}

func (e *RangeError) Unwrap() error {
	return ErrRangeNotSatisfiable
}

// Range is an inclusive byte span.
type Range struct {
	Start int64
	End   int64
}

// Length returns the number of bytes in the span.
func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

// ContentRange formats the Content-Range header value for an object of size bytes.
func (r Range) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// ParseRange interprets a Range header against an object of size bytes.
//
// It returns (nil, nil) when the whole object should be served: no header,
// or a header that is not a single "bytes=<start>-[<end>]" span. Multi-range
// and suffix forms are served whole as well. A span whose start is at or past
// the end, or whose end precedes its start, yields a *RangeError. An end past
// the object is clamped to the last byte.
func ParseRange(header string, size int64) (*Range, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, nil
	}

	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return nil, nil
	}

	startStr, endStr, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok || startStr == "" {
		return nil, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return nil, nil
	}

	end := size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < 0 {
			return nil, nil
		}
	}

	if start >= size || end < start {
		return nil, &RangeError{Header: header, Size: size}
	}
	if end >= size {
		end = size - 1
	}

	return &Range{Start: start, End: end}, nil
}

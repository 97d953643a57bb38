package stream

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ChunkSize is the fixed transfer unit of the upstream source. Byte ranges
// are translated onto this grid: the stream opens at Start/ChunkSize and
// the first chunk is trimmed by Start%ChunkSize.
const ChunkSize int64 = 1 << 20

var ErrInvalidRange = errors.New("range header is invalid")

// ByteRange is the inclusive byte window of a single response, together
// with the total object size it was derived from. Invariant:
// 0 <= Start <= End <= TotalSize-1.
type ByteRange struct {
	Start     int64
	End       int64
	TotalSize int64
}

// ParseRangeHeader derives the effective byte range for a request. An
// absent header means the full object. Only single "bytes=start-end"
// ranges are understood; the end bound is optional and is CLAMPED to the
// last byte of the object when it overshoots. A header that is present
// but syntactically invalid, or whose start lies beyond the object, is
// rejected with ErrInvalidRange (a client error, never a clamp).
func ParseRangeHeader(header string, totalSize int64) (ByteRange, error) {
	full := ByteRange{Start: 0, End: totalSize - 1, TotalSize: totalSize}
	if header == "" {
		return full, nil
	}

	value, found := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !found {
		return ByteRange{}, fmt.Errorf("%w: unsupported unit in %q", ErrInvalidRange, header)
	}

	if strings.Contains(value, ",") {
		return ByteRange{}, fmt.Errorf("%w: multipart ranges are not supported", ErrInvalidRange)
	}

	startRaw, endRaw, found := strings.Cut(value, "-")
	if !found {
		return ByteRange{}, fmt.Errorf("%w: missing separator in %q", ErrInvalidRange, header)
	}

	start, err := strconv.ParseInt(strings.TrimSpace(startRaw), 10, 64)
	if err != nil || start < 0 {
		return ByteRange{}, fmt.Errorf("%w: invalid start in %q", ErrInvalidRange, header)
	}

	end := totalSize - 1
	if trimmed := strings.TrimSpace(endRaw); trimmed != "" {
		end, err = strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return ByteRange{}, fmt.Errorf("%w: invalid end in %q", ErrInvalidRange, header)
		}
		if end > totalSize-1 {
			end = totalSize - 1
		}
	}

	if start >= totalSize || start > end {
		return ByteRange{}, fmt.Errorf("%w: window %d-%d outside object of %d bytes", ErrInvalidRange, start, end, totalSize)
	}

	return ByteRange{Start: start, End: end, TotalSize: totalSize}, nil
}

// ChunkIndex is the index of the upstream chunk containing Start.
func (r ByteRange) ChunkIndex() int64 {
	return r.Start / ChunkSize
}

// ChunkOffset is the intra-chunk byte offset of Start, i.e. how much of
// the first yielded chunk precedes the requested window.
func (r ByteRange) ChunkOffset() int64 {
	return r.Start % ChunkSize
}

// Length is the number of bytes in the response body.
func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

// IsPartial reports whether the response should be a 206: the effective
// window starts beyond byte zero.
func (r ByteRange) IsPartial() bool {
	return r.Start > 0
}

// ContentRange renders the Content-Range header value for this window.
func (r ByteRange) ContentRange() string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, r.TotalSize)
}

package stream_test

import (
	"testing"

	"github.com/Johnmclane5/TgSearchBot/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tenMiB int64 = 10 * 1024 * 1024

func TestParseRangeHeaderAbsentMeansFullObject(t *testing.T) {
	byteRange, err := stream.ParseRangeHeader("", tenMiB)

	require.NoError(t, err)
	assert.Equal(t, int64(0), byteRange.Start)
	assert.Equal(t, tenMiB-1, byteRange.End)
	assert.Equal(t, tenMiB, byteRange.Length())
	assert.False(t, byteRange.IsPartial())
}

func TestParseRangeHeaderWindows(t *testing.T) {
	tests := []struct {
		name          string
		header        string
		expectedStart int64
		expectedEnd   int64
	}{
		{"open ended from zero", "bytes=0-", 0, tenMiB - 1},
		{"open ended from midpoint", "bytes=5242880-", 5242880, tenMiB - 1},
		{"bounded", "bytes=100-199", 100, 199},
		{"single byte", "bytes=42-42", 42, 42},
		{"end clamped to object size", "bytes=100-99999999999", 100, tenMiB - 1},
		{"surrounding whitespace", " bytes=0-99 ", 0, 99},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			byteRange, err := stream.ParseRangeHeader(test.header, tenMiB)

			require.NoError(t, err)
			assert.Equal(t, test.expectedStart, byteRange.Start)
			assert.Equal(t, test.expectedEnd, byteRange.End)
			assert.Equal(t, tenMiB, byteRange.TotalSize)
		})
	}
}

func TestParseRangeHeaderRejectsInvalidHeaders(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"wrong unit", "chunks=0-100"},
		{"no unit", "0-100"},
		{"missing separator", "bytes=100"},
		{"suffix range", "bytes=-500"},
		{"non numeric start", "bytes=abc-100"},
		{"non numeric end", "bytes=0-def"},
		{"start beyond object", "bytes=10485760-"},
		{"start after end", "bytes=200-100"},
		{"multipart", "bytes=0-100,200-300"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := stream.ParseRangeHeader(test.header, tenMiB)
			assert.ErrorIs(t, err, stream.ErrInvalidRange)
		})
	}
}

func TestByteRangeChunkTranslation(t *testing.T) {
	byteRange, err := stream.ParseRangeHeader("bytes=1500000-", tenMiB)
	require.NoError(t, err)

	assert.Equal(t, int64(1), byteRange.ChunkIndex())
	assert.Equal(t, int64(451424), byteRange.ChunkOffset())

	aligned, err := stream.ParseRangeHeader("bytes=5242880-", tenMiB)
	require.NoError(t, err)

	assert.Equal(t, int64(5), aligned.ChunkIndex())
	assert.Equal(t, int64(0), aligned.ChunkOffset())
	assert.True(t, aligned.IsPartial())
	assert.Equal(t, "bytes 5242880-10485759/10485760", aligned.ContentRange())
}

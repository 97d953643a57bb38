package ingest_test

import (
	"testing"

	"github.com/Johnmclane5/TgSearchBot/internal/ingest"
	"github.com/stretchr/testify/assert"
)

func Test_NormalizeDisplayName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain release name", "Alpha.Movie.2020.1080p.mkv", "alpha movie 2020 1080p"},
		{"extension mid-name", "Bravo.2021.mkv.torrent", "bravo 2021"},
		{"mp4 extension", "Charlie_Show_S01E02.mp4", "charlie show s01e02"},
		{"webm extension", "delta-clip.webm", "delta clip"},
		{"uppercase extension", "Echo.Movie.MKV", "echo movie"},
		{"earliest extension wins", "Foxtrot.mp4.mkv", "foxtrot"},
		{"no recognized extension", "Golf Anthem.flac", "golf anthem flac"},
		{"ampersand and punctuation", "Tom & Jerry's: Adventure.mkv", "tom and jerrys adventure"},
		{"only extension", ".mkv", ""},
		{"empty input", "", ""},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, ingest.NormalizeDisplayName(test.input))
		})
	}
}

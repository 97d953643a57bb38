package search_test

import (
	"testing"

	"github.com/Johnmclane5/TgSearchBot/internal/search"
	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"whitespace trimmed and collapsed", "  test  query  ", "test query"},
		{"ampersand becomes and", "test & query", "test and query"},
		{"tight ampersand becomes and", "Tom & Jerry", "tom and jerry"},
		{"colon removed", "test:query", "testquery"},
		{"apostrophe removed", "test'query", "testquery"},
		{"comma removed", "test,query", "testquery"},
		{"dot is a separator", "test.query", "test query"},
		{"underscore is a separator", "test_query", "test query"},
		{"hyphen is a separator", "test-query", "test query"},
		{"parens are separators", "test(query)", "test query"},
		{"brackets are separators", "test[query]", "test query"},
		{"bang is a separator", "test!query", "test query"},
		{"mixed title", "Spider-Man: Homecoming [2017]!", "spider man homecoming 2017"},
		{"empty input", "", ""},
		{"separators only", " .-_()[]! ", ""},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, search.Sanitize(test.input))
		})
	}
}

func TestSanitizeIsIdempotent(t *testing.T) {
	inputs := []string{"Spider-Man: Homecoming [2017]!", "Tom & Jerry", "plain words"}
	for _, input := range inputs {
		once := search.Sanitize(input)
		assert.Equal(t, once, search.Sanitize(once))
	}
}

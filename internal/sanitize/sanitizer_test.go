package sanitize

import (
	"strings"
	"testing"
)

func TestSanitizeKeepsFormattingAndDropsScripts(t *testing.T) {
	sanitizer := NewContentSanitizer()

	testCases := []struct {
		name           string
		input          string
		wantContains   []string
		wantNotContain []string
	}{
		{
			name:         "paragraph",
			input:        "<p>hello</p>",
			wantContains: []string{"<p>hello</p>"},
		},
		{
			name:           "script removed",
			input:          "<p>hi</p><script>alert(1)</script>",
			wantContains:   []string{"<p>hi</p>"},
			wantNotContain: []string{"script", "alert"},
		},
		{
			name:           "event handler removed",
			input:          `<p onclick="steal()">x</p>`,
			wantNotContain: []string{"onclick", "steal"},
		},
		{
			name:         "link gets noreferrer",
			input:        `<a href="https://example.org">site</a>`,
			wantContains: []string{`href="https://example.org"`, "noreferrer"},
		},
		{
			name:           "javascript link dropped",
			input:          `<a href="javascript:alert(1)">x</a>`,
			wantNotContain: []string{"javascript"},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			got := sanitizer.Sanitize(testCase.input)
			for _, fragment := range testCase.wantContains {
				if !strings.Contains(got, fragment) {
					t.Fatalf("expected %q in %q", fragment, got)
				}
			}
			for _, fragment := range testCase.wantNotContain {
				if strings.Contains(got, fragment) {
					t.Fatalf("expected %q to be removed from %q", fragment, got)
				}
			}
		})
	}
}

func TestCharCountMeasuresVisibleText(t *testing.T) {
	sanitizer := NewContentSanitizer()

	testCases := []struct {
		input string
		want  int
	}{
		{input: "", want: 0},
		{input: "<p></p>", want: 0},
		{input: "<p>   </p>", want: 0},
		{input: "<p>hello</p>", want: 5},
		{input: "<p>a &amp; b</p>", want: 5},
		{input: "<p>héllo</p>", want: 5},
		{input: "<p><strong>bold</strong> text</p>", want: 9},
	}
	for _, testCase := range testCases {
		if got := sanitizer.CharCount(testCase.input); got != testCase.want {
			t.Fatalf("CharCount(%q) = %d, want %d", testCase.input, got, testCase.want)
		}
	}
}

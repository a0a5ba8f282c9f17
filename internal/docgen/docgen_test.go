package docgen

import (
	"strings"
	"testing"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

func testMarkdown() goldmark.Markdown {
	return goldmark.New(goldmark.WithExtensions(extension.GFM))
}

func TestRender(t *testing.T) {
	html, err := Render(testMarkdown(), "Trip plan", "# Day one\n\nVisit the *old town*.\n")
	if err != nil {
		t.Fatal(err)
	}
	out := string(html)

	for _, want := range []string{
		"<!DOCTYPE html>",
		"<title>Trip plan</title>",
		"<h1>Day one</h1>",
		"<em>old town</em>",
		"</html>",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered page missing %q:\n%s", want, out)
		}
	}
}

func TestRenderEscapesTitle(t *testing.T) {
	html, err := Render(testMarkdown(), `Notes <script>"x"</script>`, "body")
	if err != nil {
		t.Fatal(err)
	}
	out := string(html)
	if strings.Contains(out, "<title>Notes <script>") {
		t.Error("title not escaped")
	}
	if !strings.Contains(out, "&lt;script&gt;") {
		t.Errorf("escaped title missing:\n%s", out)
	}
}

func TestRenderGFMTable(t *testing.T) {
	html, err := Render(testMarkdown(), "t", "| a | b |\n|---|---|\n| 1 | 2 |\n")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(html), "<table>") {
		t.Errorf("table extension not applied:\n%s", html)
	}
}

func TestSanitizeFileName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Trip plan", "Trip plan"},
		{"a/b\\c:d", "a_b_c_d"},
		{`what? "really" <yes>`, "what_ _really_ _yes_"},
		{"  spaced  ", "spaced"},
		{"///", "___"},
		{"", "untitled"},
	}
	for _, tc := range cases {
		if got := SanitizeFileName(tc.in); got != tc.want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

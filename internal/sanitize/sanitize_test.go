package sanitize_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/zynqcloud/oneshot/internal/sanitize"
)

func TestFilenameTakesLastSegment(t *testing.T) {
	got := sanitize.Filename(`a/b\c/hello.txt`)
	want := "hello.txt"
	if got != want {
		t.Errorf("Filename = %q, want %q", got, want)
	}
}

func TestFilenameRejectsDotsAndEmpty(t *testing.T) {
	for _, in := range []string{"", "   ", ".", "..", "./", "../"} {
		if got := sanitize.Filename(in); got != "" {
			t.Errorf("Filename(%q) = %q, want empty", in, got)
		}
	}
}

func TestFilenameStripsIllegalChars(t *testing.T) {
	got := sanitize.Filename(`weird<>:"|?*name.txt`)
	if strings.ContainsAny(got, `<>:"|?*`) {
		t.Errorf("Filename left illegal characters: %q", got)
	}
}

func TestFilenameCollapsesWhitespaceAndTrailingDots(t *testing.T) {
	got := sanitize.Filename("my   file...   ")
	if got != "my file" {
		t.Errorf("Filename = %q, want %q", got, "my file")
	}
}

func TestFilenameTruncatesOnUTF8Boundary(t *testing.T) {
	// 90 copies of a 3-byte rune = 270 bytes, over the 200-byte cap.
	raw := strings.Repeat("世", 90) + ".txt"
	got := sanitize.Filename(raw)
	if len(got) > 200 {
		t.Fatalf("Filename returned %d bytes, want <= 200", len(got))
	}
	if !utf8.ValidString(got) {
		t.Errorf("Filename truncated mid-rune: %q", got)
	}
}

func TestFilenameIdempotent(t *testing.T) {
	cases := []string{
		"hello.txt",
		`a/b\c/../weird<name>.png`,
		"   spaced   out . ",
		strings.Repeat("x", 500) + ".bin",
	}
	for _, c := range cases {
		if !sanitize.Idempotent(c) {
			t.Errorf("Idempotent(%q) = false", c)
		}
	}
}

func TestExt(t *testing.T) {
	cases := map[string]string{
		"hello.txt":      ".txt",
		"archive.tar.gz": ".gz",
		"noext":          "",
		".hidden":        "",
	}
	for in, want := range cases {
		if got := sanitize.Ext(in); got != want {
			t.Errorf("Ext(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestContentDispositionASCII(t *testing.T) {
	got := sanitize.ContentDisposition("hello.txt")
	want := `attachment; filename="hello.txt"; filename*=UTF-8''hello.txt`
	if got != want {
		t.Errorf("ContentDisposition = %q, want %q", got, want)
	}
}

func TestContentDispositionNonASCIIFallback(t *testing.T) {
	got := sanitize.ContentDisposition("日报.txt")
	if strings.Contains(got, "日报") {
		t.Errorf("fallback filename must not contain raw non-ASCII: %q", got)
	}
	if !strings.Contains(got, "filename*=UTF-8''%E6%97%A5%E6%8A%A5.txt") {
		t.Errorf("missing correctly percent-encoded filename*: %q", got)
	}
}

func TestContentDispositionQuoteEscaped(t *testing.T) {
	got := sanitize.ContentDisposition(`weird"name.txt`)
	if !strings.Contains(got, `filename="weird_name.txt"`) {
		t.Errorf("quote in fallback not escaped: %q", got)
	}
}

package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestOutputFileName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"sing-box", "sing-box.json"},
		{"config.jsonc", "config.jsonc"},
		{"  spaced name ", "spaced name.json"},
	}
	for _, c := range cases {
		got, err := outputFileName(c.in)
		if err != nil {
			t.Fatalf("%q: unexpected err: %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("%q: got=%q, want=%q", c.in, got, c.want)
		}
	}

	for _, bad := range []string{"a/b", `a\b`, "a\nb", strings.Repeat("x", 201)} {
		_, err := outputFileName(bad)
		var ae *APIError
		if !errors.As(err, &ae) || ae.Status != http.StatusBadRequest {
			t.Fatalf("%q: err=%v, want 400 APIError", bad, err)
		}
	}
}

func TestContentDispositionAttachment(t *testing.T) {
	got := contentDispositionAttachment(`my "box".json`)
	want := `attachment; filename="my \"box\".json"; filename*=UTF-8''my%20%22box%22.json`
	if got != want {
		t.Fatalf("got=%q, want=%q", got, want)
	}
}

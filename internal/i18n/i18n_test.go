package i18n

import (
	"strings"
	"testing"
)

func TestResolveSubstitutesParams(t *testing.T) {
	tr, err := New("en")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got := tr.Resolve("requester.too_short", "en", map[string]string{"min": "20"})
	if !strings.Contains(got, "20") {
		t.Fatalf("placeholder not substituted: %q", got)
	}
	if strings.Contains(got, "{min}") {
		t.Fatalf("placeholder left in output: %q", got)
	}
}

func TestResolveLocaleFallback(t *testing.T) {
	tr, err := New("en")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	// unknown locale falls back to the default catalog
	def := tr.Resolve("requester.submitted", "en", nil)
	got := tr.Resolve("requester.submitted", "xx", nil)
	if got != def {
		t.Fatalf("fallback mismatch: %q vs %q", got, def)
	}
	// a known locale resolves from its own catalog
	ru := tr.Resolve("requester.submitted", "ru", nil)
	if ru == "" || ru == "requester.submitted" {
		t.Fatalf("ru catalog missing key: %q", ru)
	}
}

func TestResolveMissingKeyEchoesKey(t *testing.T) {
	tr, err := New("en")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := tr.Resolve("no.such.key", "en", nil); got != "no.such.key" {
		t.Fatalf("missing key: %q", got)
	}
}

func TestNewRejectsUnknownDefault(t *testing.T) {
	if _, err := New("zz"); err == nil {
		t.Fatalf("expected error for missing default catalog")
	}
}

package canonical

import (
	"math"
	"strings"
	"testing"
)

func TestCanonicalizeDeterministic(t *testing.T) {
	value := map[string]any{
		"zeta":  1,
		"alpha": []any{"b", "a"},
		"nested": map[string]any{
			"y": true,
			"x": nil,
		},
	}
	first, err := Canonicalize(value)
	if err != nil {
		t.Fatalf("Canonicalize() err=%v", err)
	}
	second, err := Canonicalize(value)
	if err != nil {
		t.Fatalf("Canonicalize() err=%v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("expected byte-identical output, got %q vs %q", first, second)
	}
	want := `{"alpha":["b","a"],"nested":{"x":null,"y":true},"zeta":1}`
	if string(first) != want {
		t.Fatalf("got %q, want %q", first, want)
	}
}

func TestCanonicalizeSortsKeysLexicographically(t *testing.T) {
	a, err := Canonicalize(map[string]any{"b": 1, "a": 2, "c": 3})
	if err != nil {
		t.Fatalf("Canonicalize() err=%v", err)
	}
	if got, want := string(a), `{"a":2,"b":1,"c":3}`; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestCanonicalizeNumericForms(t *testing.T) {
	got, err := Canonicalize(map[string]any{
		"int":        10,
		"wholeFloat": 10.0,
		"frac":       0.5,
	})
	if err != nil {
		t.Fatalf("Canonicalize() err=%v", err)
	}
	want := `{"frac":0.5,"int":10,"wholeFloat":10}`
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestCanonicalizeNormalizesLineEndings(t *testing.T) {
	for _, input := range []string{"a\nb", "a\r\nb", "a\rb"} {
		got, err := Canonicalize(input)
		if err != nil {
			t.Fatalf("Canonicalize(%q) err=%v", input, err)
		}
		if string(got) != `"a\nb"` {
			t.Fatalf("Canonicalize(%q) = %q, want %q", input, got, `"a\nb"`)
		}
	}
	lf, err := FingerprintValue("a\nb")
	if err != nil {
		t.Fatalf("FingerprintValue() err=%v", err)
	}
	cr, err := FingerprintValue("a\rb")
	if err != nil {
		t.Fatalf("FingerprintValue() err=%v", err)
	}
	if lf != cr {
		t.Fatalf("CR-only and LF endings fingerprint differently: %s vs %s", lf, cr)
	}
}

func TestCanonicalizeRejectsNonFinite(t *testing.T) {
	if _, err := Canonicalize(map[string]any{"x": math.Inf(1)}); err == nil {
		t.Fatalf("expected error for non-finite float")
	}
	if _, err := Canonicalize(map[string]any{"x": math.NaN()}); err == nil {
		t.Fatalf("expected error for NaN")
	}
}

func TestFingerprintIsPureLowerHex(t *testing.T) {
	fp := Fingerprint([]byte("payload"))
	if len(fp) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(fp))
	}
	if fp != strings.ToLower(fp) {
		t.Fatalf("expected lowercase, got %q", fp)
	}
	if strings.Contains(fp, ":") {
		t.Fatalf("fingerprint must not carry a prefix: %q", fp)
	}
}

func TestNormalizeHash(t *testing.T) {
	prefixed, err := NormalizeHash("sha256:DEADBEEF")
	if err != nil {
		t.Fatalf("NormalizeHash() err=%v", err)
	}
	bare, err := NormalizeHash("deadbeef")
	if err != nil {
		t.Fatalf("NormalizeHash() err=%v", err)
	}
	if prefixed != "deadbeef" || bare != "deadbeef" {
		t.Fatalf("got %q and %q, want both deadbeef", prefixed, bare)
	}
}

func TestNormalizeHashRejectsNonHex(t *testing.T) {
	for _, input := range []string{"", "sha256:", "not-hex", "sha256:zzzz"} {
		if _, err := NormalizeHash(input); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestShort(t *testing.T) {
	fp := Fingerprint([]byte("x"))
	if got := Short(fp); got != fp[:12] {
		t.Fatalf("got %q, want %q", got, fp[:12])
	}
}

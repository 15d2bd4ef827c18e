package crypto

import (
	"strings"
	"testing"
)

const (
	testKey = "0123456789abcdef0123456789abcdef"
	testIV  = "0123456789abcdef"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec(testKey, testIV)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func TestCodecRoundTrip(t *testing.T) {
	c := newTestCodec(t)
	inputs := []string{
		"alice@example.com",
		"a",
		"exactly sixteen!",
		"Hi there",
		strings.Repeat("long body ", 200),
		"unicode: xin chào ✉",
	}
	for _, in := range inputs {
		enc := c.Encode(in)
		if enc == in {
			t.Errorf("Encode(%q) returned plaintext", in)
		}
		dec, err := c.Decode(enc)
		if err != nil {
			t.Fatalf("Decode(%q): %v", in, err)
		}
		if dec != in {
			t.Errorf("round trip of %q gave %q", in, dec)
		}
	}
}

func TestCodecDeterministic(t *testing.T) {
	c := newTestCodec(t)
	a := c.Encode("bob@example.com")
	b := c.Encode("bob@example.com")
	if a != b {
		t.Errorf("equal plaintexts produced different ciphertexts: %q vs %q", a, b)
	}
	if other := c.Encode("carol@example.com"); other == a {
		t.Errorf("different plaintexts produced equal ciphertexts")
	}
}

func TestCodecEmptyPassthrough(t *testing.T) {
	c := newTestCodec(t)
	if got := c.Encode(""); got != "" {
		t.Errorf("Encode(\"\") = %q, want empty", got)
	}
	got, err := c.Decode("")
	if err != nil {
		t.Fatalf("Decode(\"\"): %v", err)
	}
	if got != "" {
		t.Errorf("Decode(\"\") = %q, want empty", got)
	}
}

func TestCodecDecodeCorrupt(t *testing.T) {
	c := newTestCodec(t)
	for _, in := range []string{"zz", "deadbeef", c.Encode("hello")[2:]} {
		if _, err := c.Decode(in); err == nil {
			t.Errorf("Decode(%q) succeeded, want error", in)
		}
	}
}

func TestNewCodecKeyValidation(t *testing.T) {
	if _, err := NewCodec("short", testIV); err == nil {
		t.Error("NewCodec accepted short key")
	}
	if _, err := NewCodec(testKey, "short"); err == nil {
		t.Error("NewCodec accepted short IV")
	}
	if _, err := NewCodec(testKey, testIV); err != nil {
		t.Errorf("NewCodec rejected valid material: %v", err)
	}
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "hunter2" {
		t.Fatal("hash equals password")
	}
	if !ComparePassword("hunter2", hash) {
		t.Error("correct password rejected")
	}
	if ComparePassword("hunter3", hash) {
		t.Error("wrong password accepted")
	}
}

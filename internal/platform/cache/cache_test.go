package cache

import (
	"testing"
	"time"
)

func TestTTLRoundTrip(t *testing.T) {
	c := NewTTL[string](8, time.Minute)
	if _, ok := c.Get("missing"); ok {
		t.Fatal("expected miss for unknown key")
	}
	c.Set("k", "v")
	got, ok := c.Get("k")
	if !ok {
		t.Fatal("expected hit after set")
	}
	if got != "v" {
		t.Fatalf("value = %q, want %q", got, "v")
	}
}

func TestTTLExpiry(t *testing.T) {
	c := NewTTL[int](8, 10*time.Millisecond)
	c.Set("k", 42)
	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestHashPartsIsStable(t *testing.T) {
	a := HashParts("name", "avatar")
	b := HashParts("name", "avatar")
	if a != b {
		t.Fatalf("hash not stable: %q != %q", a, b)
	}
	if a == HashParts("name") {
		t.Fatal("different parts should hash differently")
	}
	if len(a) != 64 {
		t.Fatalf("digest length = %d, want 64", len(a))
	}
}

func TestKeyJoinsParts(t *testing.T) {
	if got := Key("friends", "1", "42"); got != "friends:1:42" {
		t.Fatalf("key = %q", got)
	}
}

package model

import "testing"

func TestComposePoolID(t *testing.T) {
	got := ComposePoolID("0xFACfacFACfacFACfacFACfacFACfacFACfacFACf", "0xPoolAddr")
	want := "0xfacfacfacfacfacfacfacfacfacfacfacfacfacf-0xpooladdr"
	if got != want {
		t.Fatalf("pool id mismatch: %s != %s", got, want)
	}
}

func TestPoolMetadataKey(t *testing.T) {
	pool := PoolMetadata{
		Protocol: "testdex",
		Chain:    "testnet",
		Address:  "0xAbCd",
		PoolID:   "0xfac-0xabcd",
	}
	if pool.Key() != "testdex:testnet:0xabcd:0xfac-0xabcd" {
		t.Fatalf("key mismatch: %s", pool.Key())
	}
}

func TestTokenEqual(t *testing.T) {
	a := Token{Chain: "testnet", Address: "0xAAAA"}
	b := Token{Chain: "testnet", Address: "0xaaaa", Symbol: "other"}
	if !a.Equal(b) {
		t.Fatalf("tokens with same chain and address must compare equal")
	}

	c := Token{Chain: "othernet", Address: "0xaaaa"}
	if a.Equal(c) {
		t.Fatalf("tokens on different chains must not compare equal")
	}
}

func TestNormalizeAddress(t *testing.T) {
	if NormalizeAddress("  0xABCdef  ") != "0xabcdef" {
		t.Fatalf("normalize mismatch: %q", NormalizeAddress("  0xABCdef  "))
	}
}

package ledger

import "testing"

func TestAssetEqualityByCodeAndIssuer(t *testing.T) {
	issuer := "GA7QYNF7SOWQ3GLR2BGMZEHXAVIRZA4KVWLTJJFC7MGXUA74P7UJVSGZ"
	other := "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H"

	a := Asset{Code: "DMB", Issuer: issuer}
	b := Asset{Code: "DMB", Issuer: issuer}
	if a != b {
		t.Fatal("same code and issuer must compare equal")
	}
	if a == (Asset{Code: "DMB", Issuer: other}) {
		t.Fatal("different issuers must not compare equal")
	}
	if a == (Asset{Code: "DMC", Issuer: issuer}) {
		t.Fatal("different codes must not compare equal")
	}
	if !Native.IsNative() {
		t.Fatal("zero value should be the native asset")
	}
	if a.IsNative() {
		t.Fatal("credit asset misreported as native")
	}
}

func TestPoolIDIsOrderIndependent(t *testing.T) {
	issuer := "GA7QYNF7SOWQ3GLR2BGMZEHXAVIRZA4KVWLTJJFC7MGXUA74P7UJVSGZ"
	custom := Asset{Code: "DMB", Issuer: issuer}

	p1, err := NewPool(Native, custom)
	if err != nil {
		t.Fatalf("NewPool(native, custom): %v", err)
	}
	p2, err := NewPool(custom, Native)
	if err != nil {
		t.Fatalf("NewPool(custom, native): %v", err)
	}
	if p1.HexID() != p2.HexID() {
		t.Fatalf("pool id depends on argument order: %s vs %s", p1.HexID(), p2.HexID())
	}
	if !p1.AssetA.IsNative() {
		t.Fatal("native asset must sort first in the canonical pair")
	}
	if len(p1.HexID()) != 64 {
		t.Fatalf("pool id should be 32 bytes hex, got %q", p1.HexID())
	}
}

func TestPoolIDIsDeterministic(t *testing.T) {
	issuer := "GA7QYNF7SOWQ3GLR2BGMZEHXAVIRZA4KVWLTJJFC7MGXUA74P7UJVSGZ"
	custom := Asset{Code: "DMB", Issuer: issuer}

	first, err := NewPool(Native, custom)
	if err != nil {
		t.Fatal(err)
	}
	second, err := NewPool(Native, custom)
	if err != nil {
		t.Fatal(err)
	}
	if first.HexID() != second.HexID() {
		t.Fatal("pool id must be a pure function of the asset pair")
	}
}

func TestPoolRejectsIdenticalAssets(t *testing.T) {
	if _, err := NewPool(Native, Native); err == nil {
		t.Fatal("pool over a single asset should be rejected")
	}
}

func TestCanonicalOrderingByCodeThenIssuer(t *testing.T) {
	issuerA := "GA7QYNF7SOWQ3GLR2BGMZEHXAVIRZA4KVWLTJJFC7MGXUA74P7UJVSGZ"
	issuerB := "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H"

	p, err := NewPool(Asset{Code: "ZZZ", Issuer: issuerA}, Asset{Code: "AAA", Issuer: issuerA})
	if err != nil {
		t.Fatal(err)
	}
	if p.AssetA.Code != "AAA" {
		t.Fatalf("expected code ordering, got %s first", p.AssetA.Code)
	}

	p, err = NewPool(Asset{Code: "DMB", Issuer: issuerB}, Asset{Code: "DMB", Issuer: issuerA})
	if err != nil {
		t.Fatal(err)
	}
	if p.AssetA.Issuer != issuerA {
		t.Fatal("same code should fall back to issuer ordering")
	}

	longCode := Asset{Code: "LONGCODE", Issuer: issuerA}
	p, err = NewPool(longCode, Asset{Code: "ZZZZ", Issuer: issuerB})
	if err != nil {
		t.Fatal(err)
	}
	if p.AssetA.Code != "ZZZZ" {
		t.Fatal("alphanum4 must sort before alphanum12")
	}

	if _, err := NewPool(Asset{Code: "DMB", Issuer: issuerA}, Native); err != nil {
		t.Fatalf("native pair in either order should derive: %v", err)
	}

	if (Asset{Code: "DMB", Issuer: issuerA}).String() != "DMB:"+issuerA {
		t.Fatal("String should render code:issuer")
	}
	if Native.String() != "native" {
		t.Fatal("native String mismatch")
	}
}

func TestBalanceForLooksUpByDescriptor(t *testing.T) {
	issuer := "GA7QYNF7SOWQ3GLR2BGMZEHXAVIRZA4KVWLTJJFC7MGXUA74P7UJVSGZ"
	state := &AccountState{
		ID: "GABC",
		Balances: []Balance{
			{Asset: Native, Amount: "9999.5"},
			{Asset: Asset{Code: "DMB", Issuer: issuer}, Amount: "1000000.0000000"},
		},
	}
	if got := state.BalanceFor(Native); got != "9999.5" {
		t.Fatalf("native balance: got %q", got)
	}
	if got := state.BalanceFor(Asset{Code: "DMB", Issuer: issuer}); got != "1000000.0000000" {
		t.Fatalf("credit balance: got %q", got)
	}
	if got := state.BalanceFor(Asset{Code: "NOPE", Issuer: issuer}); got != "" {
		t.Fatalf("missing trustline should yield empty, got %q", got)
	}
}

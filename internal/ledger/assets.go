package ledger

import (
	"encoding/hex"
	"fmt"

	"github.com/stellar/go/txnbuild"
)

// Asset identifies a Stellar asset by (code, issuer). The zero value is the
// native lumen. Two descriptors are the same asset iff code and issuer match.
type Asset struct {
	Code   string `json:"code"`
	Issuer string `json:"issuer,omitempty"`
}

// Native is the lumen descriptor.
var Native = Asset{}

// IsNative reports whether a is the native asset.
func (a Asset) IsNative() bool {
	return a.Code == "" && a.Issuer == ""
}

func (a Asset) String() string {
	if a.IsNative() {
		return "native"
	}
	return a.Code + ":" + a.Issuer
}

// ToTxnbuild converts the descriptor to the SDK representation.
func (a Asset) ToTxnbuild() txnbuild.Asset {
	if a.IsNative() {
		return txnbuild.NativeAsset{}
	}
	return txnbuild.CreditAsset{Code: a.Code, Issuer: a.Issuer}
}

// ToChangeTrust converts the descriptor to a trustline target.
func (a Asset) ToChangeTrust() txnbuild.ChangeTrustAsset {
	return txnbuild.ChangeTrustAssetWrapper{Asset: a.ToTxnbuild()}
}

// rank orders asset types per the protocol rule:
// native < alphanum4 < alphanum12.
func (a Asset) rank() int {
	switch {
	case a.IsNative():
		return 0
	case len(a.Code) <= 4:
		return 1
	default:
		return 2
	}
}

// less implements the protocol's canonical asset ordering.
func (a Asset) less(b Asset) bool {
	if a.rank() != b.rank() {
		return a.rank() < b.rank()
	}
	if a.Code != b.Code {
		return a.Code < b.Code
	}
	return a.Issuer < b.Issuer
}

// Pool describes a constant-product liquidity pool over a canonically ordered
// asset pair at the protocol fee (30 bps).
type Pool struct {
	AssetA Asset
	AssetB Asset
	ID     txnbuild.LiquidityPoolId
}

// NewPool canonically orders the pair and derives the pool ID. The ID is a
// pure function of the ordered pair and the fee: the same two assets always
// yield the same pool, whichever order the caller passes them in.
func NewPool(a, b Asset) (Pool, error) {
	if a == b {
		return Pool{}, fmt.Errorf("pool requires two distinct assets, got %s twice", a)
	}
	if b.less(a) {
		a, b = b, a
	}
	id, err := txnbuild.NewLiquidityPoolId(a.ToTxnbuild(), b.ToTxnbuild())
	if err != nil {
		return Pool{}, fmt.Errorf("derive pool id: %w", err)
	}
	return Pool{AssetA: a, AssetB: b, ID: id}, nil
}

// HexID renders the 32-byte pool ID as lowercase hex.
func (p Pool) HexID() string {
	return hex.EncodeToString(p.ID[:])
}

// ShareAsset returns the pool-share trustline target for the pair.
func (p Pool) ShareAsset() txnbuild.LiquidityPoolShareChangeTrustAsset {
	return txnbuild.LiquidityPoolShareChangeTrustAsset{
		LiquidityPoolParameters: txnbuild.LiquidityPoolParameters{
			AssetA: p.AssetA.ToTxnbuild(),
			AssetB: p.AssetB.ToTxnbuild(),
			Fee:    txnbuild.LiquidityPoolFeeV18,
		},
	}
}

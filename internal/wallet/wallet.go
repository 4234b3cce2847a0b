// Package wallet 为钱包界面提供地址与余额的查询能力。
// 它是薄封装：真正的状态来自账本网关，界面按固定间隔轮询。
package wallet

import (
	"context"

	"github.com/stellar/go/keypair"

	xerrors "github.com/chopan123/stellar-workshop-dmb/internal/errors"
	"github.com/chopan123/stellar-workshop-dmb/internal/ledger"
)

// Balances 汇总钱包界面展示所需的余额信息。
type Balances struct {
	Native string           `json:"native"`
	Assets []ledger.Balance `json:"assets,omitempty"`
}

// Wallet 持有一个本地密钥对并通过账本网关查询其链上状态。
type Wallet struct {
	kp      *keypair.Full
	gateway ledger.Gateway
}

// New 生成新的随机密钥对并返回钱包。
func New(gateway ledger.Gateway) (*Wallet, error) {
	if gateway == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置账本网关")
	}
	kp, err := keypair.Random()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "生成密钥对失败")
	}
	return &Wallet{kp: kp, gateway: gateway}, nil
}

// FromSeed 从已有的私钥种子恢复钱包。
func FromSeed(seed string, gateway ledger.Gateway) (*Wallet, error) {
	if gateway == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置账本网关")
	}
	kp, err := keypair.ParseFull(seed)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析私钥失败")
	}
	return &Wallet{kp: kp, gateway: gateway}, nil
}

// Address 返回钱包的公钥地址。
func (w *Wallet) Address() string {
	return w.kp.Address()
}

// Keypair 返回底层密钥对，供工作流签名使用。
func (w *Wallet) Keypair() *keypair.Full {
	return w.kp
}

// Fund 请求测试网水龙头为钱包注资。
func (w *Wallet) Fund(ctx context.Context) error {
	return w.gateway.Fund(ctx, w.kp.Address())
}

// Balances 拉取账户当前余额。账户尚未注资时返回空余额而非错误，
// 方便界面在注资完成前轮询。
func (w *Wallet) Balances(ctx context.Context) (*Balances, error) {
	state, err := w.gateway.AccountDetail(ctx, w.kp.Address())
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeNotFound {
			return &Balances{}, nil
		}
		return nil, err
	}
	out := &Balances{}
	for _, b := range state.Balances {
		if b.Asset.IsNative() {
			out.Native = b.Amount
			continue
		}
		out.Assets = append(out.Assets, b)
	}
	return out, nil
}

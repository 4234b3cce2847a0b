package workflow

import (
	"context"
	"math/big"
	"time"

	"github.com/stellar/go/amount"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/price"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"

	xerrors "github.com/chopan123/stellar-workshop-dmb/internal/errors"
	"github.com/chopan123/stellar-workshop-dmb/internal/ledger"
)

// runIssuance 执行资产发行工作流：
// 生成三个账户（发行方、持有方、交易方）→ 水龙头注资 → 定义资产 →
// 持有方信任线 → 发行全部供应量 → 锁定发行账户 → 建立流动性池并注入
// 初始流动性 → 交易方通过严格发送路径支付完成一次兑换。
func (e *Executor) runIssuance(ctx context.Context) (*Result, error) {
	if e.params.AssetCode == "" || e.params.AssetSupply == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "发行工作流缺少资产参数")
	}

	result := newResult(KindIssuance)

	var issuer, holder, trader *keypair.Full
	if err := e.runStep(ctx, result, "generate_identities", func(context.Context) (*stepOutcome, error) {
		var err error
		if issuer, err = keypair.Random(); err != nil {
			return nil, err
		}
		if holder, err = keypair.Random(); err != nil {
			return nil, err
		}
		if trader, err = keypair.Random(); err != nil {
			return nil, err
		}
		result.Outputs["issuer"] = issuer.Address()
		result.Outputs["holder"] = holder.Address()
		result.Outputs["trader"] = trader.Address()
		return &stepOutcome{detail: map[string]string{
			"issuer": issuer.Address(),
			"holder": holder.Address(),
			"trader": trader.Address(),
		}}, nil
	}); err != nil {
		return result, err
	}

	if err := e.runStep(ctx, result, "fund_accounts", func(ctx context.Context) (*stepOutcome, error) {
		for _, kp := range []*keypair.Full{issuer, holder, trader} {
			if err := e.ledger.Fund(ctx, kp.Address()); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}); err != nil {
		return result, err
	}

	// 资产由 (代码, 发行方) 唯一确定，本身不上链，首条信任线使其生效。
	asset := ledger.Asset{Code: e.params.AssetCode, Issuer: issuer.Address()}
	result.Outputs["asset"] = asset.String()

	if err := e.runStep(ctx, result, "holder_trustline", func(ctx context.Context) (*stepOutcome, error) {
		state, err := e.ledger.LoadAccount(ctx, holder.Address())
		if err != nil {
			return nil, err
		}
		receipt, err := e.ledger.BuildAndSubmit(ctx, ledger.Step{
			State:   state,
			Signers: []*keypair.Full{holder},
			Operations: []txnbuild.Operation{
				&txnbuild.ChangeTrust{
					Line:  asset.ToChangeTrust(),
					Limit: txnbuild.MaxTrustlineLimit,
				},
			},
		})
		return receiptOutcome(receipt), err
	}); err != nil {
		return result, err
	}

	if err := e.runStep(ctx, result, "issue_supply", func(ctx context.Context) (*stepOutcome, error) {
		state, err := e.ledger.LoadAccount(ctx, issuer.Address())
		if err != nil {
			return nil, err
		}
		receipt, err := e.ledger.BuildAndSubmit(ctx, ledger.Step{
			State:   state,
			Signers: []*keypair.Full{issuer},
			Operations: []txnbuild.Operation{
				&txnbuild.Payment{
					Destination: holder.Address(),
					Amount:      e.params.AssetSupply,
					Asset:       asset.ToTxnbuild(),
				},
			},
		})
		return receiptOutcome(receipt), err
	}); err != nil {
		return result, err
	}

	// 主密钥权重清零、三档门槛抬高到 1 之后，发行账户不可再签任何交易，
	// 供应量就此封顶。
	if err := e.runStep(ctx, result, "lock_issuer", func(ctx context.Context) (*stepOutcome, error) {
		state, err := e.ledger.LoadAccount(ctx, issuer.Address())
		if err != nil {
			return nil, err
		}
		receipt, err := e.ledger.BuildAndSubmit(ctx, ledger.Step{
			State:   state,
			Signers: []*keypair.Full{issuer},
			Operations: []txnbuild.Operation{
				&txnbuild.SetOptions{
					MasterWeight:    txnbuild.NewThreshold(0),
					LowThreshold:    txnbuild.NewThreshold(1),
					MediumThreshold: txnbuild.NewThreshold(1),
					HighThreshold:   txnbuild.NewThreshold(1),
				},
			},
		})
		return receiptOutcome(receipt), err
	}); err != nil {
		return result, err
	}

	pool, err := ledger.NewPool(ledger.Native, asset)
	if err != nil {
		return result, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "推导流动性池标识失败")
	}
	result.Outputs["pool_id"] = pool.HexID()

	if err := e.runStep(ctx, result, "create_pool", func(ctx context.Context) (*stepOutcome, error) {
		minPrice, maxPrice, err := priceBounds(e.params.PoolNativeAmount, e.params.PoolAssetAmount, e.params.SlippageBPS)
		if err != nil {
			return nil, err
		}
		state, err := e.ledger.LoadAccount(ctx, holder.Address())
		if err != nil {
			return nil, err
		}
		receipt, err := e.ledger.BuildAndSubmit(ctx, ledger.Step{
			State:   state,
			Signers: []*keypair.Full{holder},
			Operations: []txnbuild.Operation{
				&txnbuild.ChangeTrust{
					Line:  pool.ShareAsset(),
					Limit: txnbuild.MaxTrustlineLimit,
				},
				&txnbuild.LiquidityPoolDeposit{
					LiquidityPoolID: pool.ID,
					MaxAmountA:      e.params.PoolNativeAmount,
					MaxAmountB:      e.params.PoolAssetAmount,
					MinPrice:        minPrice,
					MaxPrice:        maxPrice,
				},
			},
		})
		return receiptOutcome(receipt), err
	}); err != nil {
		return result, err
	}

	if err := e.runStep(ctx, result, "trader_trustline", func(ctx context.Context) (*stepOutcome, error) {
		state, err := e.ledger.LoadAccount(ctx, trader.Address())
		if err != nil {
			return nil, err
		}
		receipt, err := e.ledger.BuildAndSubmit(ctx, ledger.Step{
			State:   state,
			Signers: []*keypair.Full{trader},
			Operations: []txnbuild.Operation{
				&txnbuild.ChangeTrust{
					Line:  asset.ToChangeTrust(),
					Limit: txnbuild.MaxTrustlineLimit,
				},
			},
		})
		return receiptOutcome(receipt), err
	}); err != nil {
		return result, err
	}

	// 路径留空，由网络在原生资产与新资产之间自行寻路（经由刚建的池）。
	if err := e.runStep(ctx, result, "path_payment_swap", func(ctx context.Context) (*stepOutcome, error) {
		state, err := e.ledger.LoadAccount(ctx, trader.Address())
		if err != nil {
			return nil, err
		}
		receipt, err := e.ledger.BuildAndSubmit(ctx, ledger.Step{
			State:   state,
			Signers: []*keypair.Full{trader},
			Operations: []txnbuild.Operation{
				&txnbuild.PathPaymentStrictSend{
					SendAsset:   txnbuild.NativeAsset{},
					SendAmount:  e.params.SwapSendAmount,
					Destination: trader.Address(),
					DestAsset:   asset.ToTxnbuild(),
					DestMin:     e.params.SwapDestMin,
				},
			},
		})
		return receiptOutcome(receipt), err
	}); err != nil {
		return result, err
	}

	result.FinishedAt = time.Now().Unix()
	return result, nil
}

func receiptOutcome(receipt *ledger.Receipt) *stepOutcome {
	if receipt == nil {
		return nil
	}
	return &stepOutcome{hash: receipt.Hash, ledger: receipt.Ledger}
}

// priceBounds 根据注入比例与滑点（基点）计算存入池子时的价格上下限。
// 价格定义为 A/B，即每单位 B 资产折合的 A 资产数量。
func priceBounds(amountA, amountB string, slippageBPS int) (xdr.Price, xdr.Price, error) {
	a, err := amount.ParseInt64(amountA)
	if err != nil {
		return xdr.Price{}, xdr.Price{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析注入数量失败")
	}
	b, err := amount.ParseInt64(amountB)
	if err != nil {
		return xdr.Price{}, xdr.Price{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析注入数量失败")
	}
	if a <= 0 || b <= 0 {
		return xdr.Price{}, xdr.Price{}, xerrors.New(xerrors.CodeInvalidArgument, "注入数量必须为正")
	}
	if slippageBPS < 0 || slippageBPS >= 10000 {
		return xdr.Price{}, xdr.Price{}, xerrors.New(xerrors.CodeInvalidArgument, "滑点基点超出范围")
	}

	ratio := new(big.Rat).SetFrac64(a, b)
	bps := int64(slippageBPS)
	lower := new(big.Rat).Mul(ratio, big.NewRat(10000-bps, 10000))
	upper := new(big.Rat).Mul(ratio, big.NewRat(10000+bps, 10000))

	minPrice, err := price.Parse(lower.FloatString(7))
	if err != nil {
		return xdr.Price{}, xdr.Price{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "换算价格下限失败")
	}
	maxPrice, err := price.Parse(upper.FloatString(7))
	if err != nil {
		return xdr.Price{}, xdr.Price{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "换算价格上限失败")
	}
	return minPrice, maxPrice, nil
}

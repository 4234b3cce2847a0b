package workflow

import (
	"context"
	"strings"
	"time"

	"github.com/stellar/go/keypair"

	"github.com/chopan123/stellar-workshop-dmb/internal/defindex"
	xerrors "github.com/chopan123/stellar-workshop-dmb/internal/errors"
)

// runVault 执行金库工作流：
// 生成管理账户并空投注资 → 通过网关创建金库（四个角色均为管理账户，
// 含首笔存款）→ 本地签名后由网关代提交，从结构化返回值提取合约地址 →
// 生成存款账户并注资 → 请求存款包络、签名、等待状态传播后提交。
func (e *Executor) runVault(ctx context.Context) (*Result, error) {
	if e.vault == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置金库网关")
	}
	if e.params.VaultAsset == "" || e.params.VaultStrategy == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "金库工作流缺少资产或策略地址")
	}

	result := newResult(KindVault)

	var manager *keypair.Full
	if err := e.runStep(ctx, result, "prepare_manager", func(ctx context.Context) (*stepOutcome, error) {
		var err error
		if manager, err = keypair.Random(); err != nil {
			return nil, err
		}
		if err := e.ledger.Airdrop(ctx, manager.Address()); err != nil {
			return nil, err
		}
		// 注资后确认账户已可见，后续签名才有意义。
		if _, err := e.ledger.LoadAccount(ctx, manager.Address()); err != nil {
			return nil, err
		}
		result.Outputs["manager"] = manager.Address()
		return &stepOutcome{detail: map[string]string{"manager": manager.Address()}}, nil
	}); err != nil {
		return result, err
	}

	var vaultAddress string
	if err := e.runStep(ctx, result, "create_vault", func(ctx context.Context) (*stepOutcome, error) {
		envelope, err := e.vault.CreateVault(ctx, defindex.CreateVaultRequest{
			Roles: defindex.Roles{
				EmergencyManager: manager.Address(),
				FeeReceiver:      manager.Address(),
				Manager:          manager.Address(),
				RebalanceManager: manager.Address(),
			},
			FeeBPS: e.params.VaultFeeBPS,
			Assets: []defindex.AssetAllocation{{
				Address: e.params.VaultAsset,
				Strategies: []defindex.Strategy{{
					Address: e.params.VaultStrategy,
					Name:    e.params.VaultStrategyName,
					Paused:  false,
				}},
			}},
			Name:       e.params.VaultName,
			Symbol:     e.params.VaultSymbol,
			Upgradable: true,
			Caller:     manager.Address(),
			Deposits:   []string{e.params.VaultDeposit},
		})
		if err != nil {
			return nil, err
		}
		signed, err := e.ledger.SignEnvelope(envelope, manager)
		if err != nil {
			return nil, err
		}
		submitted, err := e.vault.Send(ctx, signed)
		if err != nil {
			return nil, err
		}
		vaultAddress = strings.TrimSpace(submitted.ReturnValue)
		if vaultAddress == "" {
			return nil, xerrors.New(xerrors.CodeGatewayUnavailable, "网关回执缺少金库合约地址")
		}
		result.Outputs["vault_address"] = vaultAddress
		return &stepOutcome{
			hash:   submitted.Hash,
			detail: map[string]string{"vault_address": vaultAddress},
		}, nil
	}); err != nil {
		return result, err
	}

	var depositor *keypair.Full
	if err := e.runStep(ctx, result, "prepare_depositor", func(ctx context.Context) (*stepOutcome, error) {
		var err error
		if depositor, err = keypair.Random(); err != nil {
			return nil, err
		}
		if err := e.ledger.Airdrop(ctx, depositor.Address()); err != nil {
			return nil, err
		}
		if _, err := e.ledger.LoadAccount(ctx, depositor.Address()); err != nil {
			return nil, err
		}
		result.Outputs["depositor"] = depositor.Address()
		return &stepOutcome{detail: map[string]string{"depositor": depositor.Address()}}, nil
	}); err != nil {
		return result, err
	}

	if err := e.runStep(ctx, result, "deposit", func(ctx context.Context) (*stepOutcome, error) {
		envelope, err := e.vault.Deposit(ctx, vaultAddress, defindex.DepositRequest{
			Amounts:     []string{e.params.DepositAmount},
			Caller:      depositor.Address(),
			Invest:      e.params.InvestOnDeposit,
			SlippageBPS: e.params.SlippageBPS,
		})
		if err != nil {
			return nil, err
		}
		signed, err := e.ledger.SignEnvelope(envelope, depositor)
		if err != nil {
			return nil, err
		}
		// 等待网关侧金库状态传播。这是经验性让步，不是正确性保证。
		if err := e.wait(ctx, e.params.SettleDelay); err != nil {
			return nil, err
		}
		submitted, err := e.vault.Send(ctx, signed)
		if err != nil {
			return nil, err
		}
		return &stepOutcome{hash: submitted.Hash}, nil
	}); err != nil {
		return result, err
	}

	result.FinishedAt = time.Now().Unix()
	return result, nil
}

package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chopan123/stellar-workshop-dmb/internal/defindex"
	xerrors "github.com/chopan123/stellar-workshop-dmb/internal/errors"
	"github.com/chopan123/stellar-workshop-dmb/internal/ledger"
	"github.com/chopan123/stellar-workshop-dmb/pkg/logger"
)

// Params 收敛两个工作流的业务参数。
type Params struct {
	AssetCode        string
	AssetSupply      string
	PoolNativeAmount string
	PoolAssetAmount  string
	SwapSendAmount   string
	SwapDestMin      string
	SlippageBPS      int

	VaultName         string
	VaultSymbol       string
	VaultFeeBPS       int
	VaultAsset        string
	VaultStrategy     string
	VaultStrategyName string
	VaultDeposit      string
	DepositAmount     string
	InvestOnDeposit   bool
	SettleDelay       time.Duration
}

// Executor 驱动工作流执行，是系统的业务核心。
type Executor struct {
	ledger *ledger.Client
	vault  defindex.Gateway
	params Params
	wait   WaitFunc
	log    *slog.Logger
}

// Option 定义可选的 Executor 配置。
type Option func(*Executor)

// WithWait 替换金库流程中的固定等待实现，测试用零等待注入。
func WithWait(wait WaitFunc) Option {
	return func(e *Executor) {
		if wait != nil {
			e.wait = wait
		}
	}
}

// WithLogger 指定日志实例。
func WithLogger(log *slog.Logger) Option {
	return func(e *Executor) {
		if log != nil {
			e.log = log
		}
	}
}

// New 创建一个 Executor。金库网关允许为空，此时金库工作流不可用。
func New(ledgerClient *ledger.Client, vaultGateway defindex.Gateway, params Params, opts ...Option) (*Executor, error) {
	if ledgerClient == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置账本客户端")
	}
	e := &Executor{
		ledger: ledgerClient,
		vault:  vaultGateway,
		params: params,
		wait:   defaultWait,
		log:    logger.Named("workflow"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

// Execute 按类型执行一次工作流运行。
// 步骤严格串行，首个失败立即终止并返回携带结构化信息的错误。
func (e *Executor) Execute(ctx context.Context, kind Kind) (*Result, error) {
	switch kind {
	case KindIssuance:
		return e.runIssuance(ctx)
	case KindVault:
		return e.runVault(ctx)
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的工作流类型 "+string(kind))
	}
}

// stepOutcome 是单步执行的内部产出。
type stepOutcome struct {
	hash   string
	ledger int32
	detail map[string]string
}

// runStep 执行单个步骤并记录结构化事件。任何失败都会中断整个运行。
func (e *Executor) runStep(ctx context.Context, result *Result, name string, fn func(ctx context.Context) (*stepOutcome, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	e.log.Info("工作流步骤开始", "workflow", string(result.Kind), "step", name)

	outcome, err := fn(ctx)
	elapsed := time.Since(start)
	if err != nil {
		e.log.Error("工作流步骤失败",
			"workflow", string(result.Kind), "step", name,
			"duration", elapsed.String(), "error", err)
		return wrapStepError(name, err)
	}

	step := StepResult{Name: name, DurationMS: elapsed.Milliseconds()}
	if outcome != nil {
		step.Hash = outcome.hash
		step.Ledger = outcome.ledger
		step.Detail = outcome.detail
	}
	result.Steps = append(result.Steps, step)
	e.log.Info("工作流步骤完成",
		"workflow", string(result.Kind), "step", name,
		"hash", step.Hash, "ledger", step.Ledger, "duration", elapsed.String())
	return nil
}

// wrapStepError 标注失败步骤，同时保留内层统一错误的错误码与元数据。
func wrapStepError(step string, err error) error {
	if _, ok := xerrors.From(err); ok {
		return fmt.Errorf("步骤 %s 失败: %w", step, err)
	}
	return xerrors.Wrap(xerrors.CodeWorkflowFailure, err, "步骤 "+step+" 失败")
}

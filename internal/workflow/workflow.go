// Package workflow 实现两个多步测试网工作流：
// 资产发行（发行、锁定、建池、兑换）与 DefIndex 金库（创建、存款）。
// 工作流是严格串行的：每一步依赖上一步在账本上生效后的最新账户状态，
// 任何一步失败立即终止整个运行。
package workflow

import (
	"context"
	"fmt"
	"time"
)

// Kind 标识工作流类型。
type Kind string

const (
	KindIssuance Kind = "asset_issuance"
	KindVault    Kind = "vault_workshop"
)

// ParseKind 校验外部输入的工作流类型。
func ParseKind(raw string) (Kind, error) {
	switch Kind(raw) {
	case KindIssuance:
		return KindIssuance, nil
	case KindVault:
		return KindVault, nil
	default:
		return "", fmt.Errorf("未知的工作流类型 %q", raw)
	}
}

// StepResult 是单个步骤的结构化结果，替代逐行的控制台叙述输出。
type StepResult struct {
	Name       string            `json:"name"`
	Hash       string            `json:"hash,omitempty"`
	Ledger     int32             `json:"ledger,omitempty"`
	Detail     map[string]string `json:"detail,omitempty"`
	DurationMS int64             `json:"duration_ms"`
}

// Result 汇总一次运行产出的全部信息。
// Outputs 收敛关键产物（账户地址、资产、池 ID、金库合约地址等）。
type Result struct {
	Kind       Kind              `json:"kind"`
	Steps      []StepResult      `json:"steps"`
	Outputs    map[string]string `json:"outputs"`
	StartedAt  int64             `json:"started_at"`
	FinishedAt int64             `json:"finished_at"`
}

func newResult(kind Kind) *Result {
	return &Result{
		Kind:      kind,
		Outputs:   make(map[string]string),
		StartedAt: time.Now().Unix(),
	}
}

// WaitFunc 等待一段固定时间或上下文取消。金库流程在提交存款前
// 使用它等待网关状态传播；测试注入零等待实现。
type WaitFunc func(ctx context.Context, d time.Duration) error

func defaultWait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

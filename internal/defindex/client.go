// Package defindex 封装 DefIndex 金库网关的 HTTP 接口：
// 创建金库、生成存款交易以及代提交已签名的交易包络。
package defindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	xerrors "github.com/chopan123/stellar-workshop-dmb/internal/errors"
)

const defaultTimeout = 30 * time.Second

// Config 描述调用金库网关所需的信息。
type Config struct {
	BaseURL string
	APIKey  string
	Network string
	Timeout time.Duration
}

// Strategy 描述金库中某个资产挂载的策略合约。
type Strategy struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Paused  bool   `json:"paused"`
}

// AssetAllocation 是金库管理的一个 (资产, 策略列表) 组合。
type AssetAllocation struct {
	Address    string     `json:"address"`
	Strategies []Strategy `json:"strategies"`
}

// Roles 指定金库的四个管理角色。演示流程中四个角色由同一账户承担。
type Roles struct {
	EmergencyManager string
	FeeReceiver      string
	Manager          string
	RebalanceManager string
}

// marshalRoles 网关侧以数字下标标识角色。
func (r Roles) marshalRoles() map[string]string {
	return map[string]string{
		"0": r.EmergencyManager,
		"1": r.FeeReceiver,
		"2": r.Manager,
		"3": r.RebalanceManager,
	}
}

// CreateVaultRequest 描述创建金库（含首笔存款）的全部参数。
type CreateVaultRequest struct {
	Roles      Roles
	FeeBPS     int
	Assets     []AssetAllocation
	Name       string
	Symbol     string
	Upgradable bool
	Caller     string
	// Deposits 按 Assets 顺序给出初始存款金额（最小单位）。
	Deposits []string
}

// DepositRequest 描述向既有金库追加存款的参数。
type DepositRequest struct {
	Amounts     []string
	Caller      string
	Invest      bool
	SlippageBPS int
}

// SubmitResult 是网关代提交交易后的结构化回执。
// ReturnValue 在创建金库时携带新合约地址。
type SubmitResult struct {
	Status      string `json:"status"`
	Hash        string `json:"txHash"`
	ReturnValue string `json:"returnValue"`
}

// Gateway 抽象金库网关，便于工作流在测试中使用脚本化假网关。
type Gateway interface {
	// CreateVault 请求一笔未签名的金库创建交易包络。
	CreateVault(ctx context.Context, req CreateVaultRequest) (string, error)
	// Deposit 请求一笔未签名的存款交易包络。
	Deposit(ctx context.Context, vault string, req DepositRequest) (string, error)
	// Send 代提交已签名的交易包络并返回结构化回执。
	Send(ctx context.Context, signedXDR string) (*SubmitResult, error)
}

// Client 通过 HTTP 访问 DefIndex 金库网关。
type Client struct {
	baseURL    string
	apiKey     string
	network    string
	httpClient *http.Client
}

// NewClient 根据配置创建网关客户端。
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未提供金库网关地址")
	}
	network := strings.TrimSpace(cfg.Network)
	if network == "" {
		network = "testnet"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		network: network,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// CreateVault 实现 Gateway 接口。
func (c *Client) CreateVault(ctx context.Context, req CreateVaultRequest) (string, error) {
	if len(req.Assets) == 0 {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "创建金库至少需要一个资产配置")
	}
	body := map[string]any{
		"roles":         req.Roles.marshalRoles(),
		"vault_fee_bps": req.FeeBPS,
		"assets":        req.Assets,
		"name_symbol":   map[string]string{"name": req.Name, "symbol": req.Symbol},
		"upgradable":    req.Upgradable,
		"caller":        req.Caller,
	}
	if len(req.Deposits) > 0 {
		body["deposit_amounts"] = req.Deposits
	}
	return c.requestEnvelope(ctx, "/vault", body)
}

// Deposit 实现 Gateway 接口。
func (c *Client) Deposit(ctx context.Context, vault string, req DepositRequest) (string, error) {
	vault = strings.TrimSpace(vault)
	if vault == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "存款请求缺少金库地址")
	}
	body := map[string]any{
		"amounts":     req.Amounts,
		"caller":      req.Caller,
		"invest":      req.Invest,
		"slippageBps": req.SlippageBPS,
	}
	return c.requestEnvelope(ctx, "/vault/"+url.PathEscape(vault)+"/deposit", body)
}

// Send 实现 Gateway 接口。
func (c *Client) Send(ctx context.Context, signedXDR string) (*SubmitResult, error) {
	raw, err := c.post(ctx, "/send", map[string]any{"xdr": signedXDR})
	if err != nil {
		return nil, err
	}
	var result SubmitResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeGatewayUnavailable, err, "解析金库网关回执失败")
	}
	if !strings.EqualFold(result.Status, "success") {
		return nil, xerrors.New(xerrors.CodeSubmissionRejected, "金库网关拒绝交易",
			xerrors.WithMetadata("status", result.Status),
			xerrors.WithMetadata("hash", result.Hash))
	}
	return &result, nil
}

// requestEnvelope 请求网关生成一笔未签名包络。
func (c *Client) requestEnvelope(ctx context.Context, path string, body map[string]any) (string, error) {
	raw, err := c.post(ctx, path, body)
	if err != nil {
		return "", err
	}
	var decoded struct {
		XDR string `json:"xdr"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", xerrors.Wrap(xerrors.CodeGatewayUnavailable, err, "解析金库网关响应失败")
	}
	if strings.TrimSpace(decoded.XDR) == "" {
		return "", xerrors.New(xerrors.CodeGatewayUnavailable, "金库网关响应缺少交易包络")
	}
	return decoded.XDR, nil
}

func (c *Client) post(ctx context.Context, path string, body map[string]any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化金库网关请求失败")
	}
	endpoint := c.baseURL + path + "?network=" + url.QueryEscape(c.network)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "构建金库网关请求失败")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeGatewayUnavailable, err, "请求金库网关失败")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeGatewayUnavailable, err, "读取金库网关响应失败")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, c.statusError(path, resp.StatusCode, raw)
	}
	return raw, nil
}

// statusError 将网关的错误响应映射为统一错误码：
// 4xx 视为结构化拒绝，5xx 与传输层问题视为网关不可用。
func (c *Client) statusError(path string, status int, raw []byte) error {
	detail := strings.TrimSpace(string(raw))
	var structured struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &structured); err == nil {
		if structured.Error != "" {
			detail = structured.Error
		} else if structured.Message != "" {
			detail = structured.Message
		}
	}
	code := xerrors.CodeGatewayUnavailable
	if status < http.StatusInternalServerError {
		code = xerrors.CodeSubmissionRejected
	}
	return xerrors.New(code, fmt.Sprintf("金库网关 %s 返回状态 %d", path, status),
		xerrors.WithMetadata("status", fmt.Sprintf("%d", status)),
		xerrors.WithMetadata("detail", detail))
}

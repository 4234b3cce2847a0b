package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chopan123/stellar-workshop-dmb/internal/auth"
	xerrors "github.com/chopan123/stellar-workshop-dmb/internal/errors"
	"github.com/chopan123/stellar-workshop-dmb/internal/observability/metrics"
	"github.com/chopan123/stellar-workshop-dmb/internal/run"
	"github.com/chopan123/stellar-workshop-dmb/internal/wallet"
)

// Server 负责暴露 REST 接口，供外部提交和查询工作流运行。
type Server struct {
	addr     string
	runs     *run.Service
	wallet   *wallet.Wallet
	sessions *auth.Service
}

// ServerOption 定义可选配置。
type ServerOption func(*Server)

// WithWallet 挂载钱包查询端点。
func WithWallet(w *wallet.Wallet) ServerOption {
	return func(s *Server) {
		s.wallet = w
	}
}

// WithSessions 挂载会话服务，启用后钱包端点要求携带会话令牌。
func WithSessions(sessions *auth.Service) ServerOption {
	return func(s *Server) {
		s.sessions = sessions
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, runs *run.Service, opts ...ServerOption) *Server {
	s := &Server{addr: addr, runs: runs}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler 返回完整路由，便于测试直接驱动。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/runs", instrument("runs", http.HandlerFunc(s.handleRuns)))
	mux.Handle("/api/v1/runs/stats", instrument("run_stats", http.HandlerFunc(s.handleRunStats)))
	mux.Handle("/api/v1/runs/", instrument("run_detail", http.HandlerFunc(s.handleRunDetail)))
	mux.Handle("/api/v1/session", instrument("session", http.HandlerFunc(s.handleSession)))

	walletHandler := http.Handler(http.HandlerFunc(s.handleWallet))
	if s.sessions != nil {
		walletHandler = s.sessions.Middleware("wallet")(walletHandler)
	}
	mux.Handle("/api/v1/wallet", instrument("wallet", walletHandler))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitRun(w, r)
	case http.MethodGet:
		s.handleListRuns(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "仅支持 GET/POST")
	}
}

// handleSubmitRun 处理提交工作流运行的请求。
func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "运行服务未初始化")
		return
	}
	var req run.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "请求体解析失败")
		return
	}
	created, err := s.runs.Submit(r.Context(), req)
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

// handleListRuns 处理查询运行列表的请求。
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "运行服务未初始化")
		return
	}
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	runs, err := s.runs.List(r.Context(), opts...)
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleRunDetail 返回单个运行的完整状态。
func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "仅支持 GET")
		return
	}
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "运行服务未初始化")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not_found", "运行不存在")
		return
	}
	record, err := s.runs.Get(r.Context(), id)
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleRunStats 返回运行统计信息。
func (s *Server) handleRunStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "仅支持 GET")
		return
	}
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "运行服务未初始化")
		return
	}
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	stats, err := s.runs.Stats(r.Context(), opts...)
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// sessionRequest 是登录请求体。
type sessionRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleSession 处理钱包界面的登录与注销。
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil || !s.sessions.Enabled() {
		writeError(w, http.StatusNotFound, "not_found", "会话服务未启用")
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req sessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "请求体解析失败")
			return
		}
		session, err := s.sessions.Login(req.Username, req.Password)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "用户名或密码错误")
			return
		}
		writeJSON(w, http.StatusOK, session)
	case http.MethodDelete:
		session, err := s.sessions.Verify(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		s.sessions.Logout(session.Token)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "仅支持 POST/DELETE")
	}
}

// walletView 是钱包端点的响应体。
type walletView struct {
	Address  string           `json:"address"`
	Balances *wallet.Balances `json:"balances"`
}

// handleWallet 返回钱包地址与余额，供界面轮询。
func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "仅支持 GET")
		return
	}
	if s.wallet == nil {
		writeError(w, http.StatusNotFound, "not_found", "钱包未配置")
		return
	}
	balances, err := s.wallet.Balances(r.Context())
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, walletView{Address: s.wallet.Address(), Balances: balances})
}

// listOptionsFromQuery 将查询参数映射为列表过滤选项。
func listOptionsFromQuery(r *http.Request) ([]run.ListOption, error) {
	query := r.URL.Query()
	var opts []run.ListOption

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return nil, errors.New("limit 必须是正整数")
		}
		opts = append(opts, run.WithLimit(limit))
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, errors.New("offset 必须是非负整数")
		}
		opts = append(opts, run.WithOffset(offset))
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []run.Status
		for _, part := range strings.Split(raw, ",") {
			status := run.Status(strings.TrimSpace(part))
			if status == "" {
				continue
			}
			if !run.IsValidStatus(status) {
				return nil, errors.New("无效的运行状态 " + string(status))
			}
			statuses = append(statuses, status)
		}
		if len(statuses) > 0 {
			opts = append(opts, run.WithStatuses(statuses...))
		}
	}
	if raw := query.Get("kind"); raw != "" {
		kinds := strings.Split(raw, ",")
		opts = append(opts, run.WithKinds(kinds...))
	}
	if raw := query.Get("updated_since"); raw != "" {
		ts, err := parseTimestamp(raw)
		if err != nil {
			return nil, errors.New("updated_since 解析失败")
		}
		opts = append(opts, run.WithUpdatedSince(ts))
	}
	if raw := query.Get("updated_until"); raw != "" {
		ts, err := parseTimestamp(raw)
		if err != nil {
			return nil, errors.New("updated_until 解析失败")
		}
		opts = append(opts, run.WithUpdatedUntil(ts))
	}
	if raw := query.Get("has_result"); raw != "" {
		hasResult, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, errors.New("has_result 必须是布尔值")
		}
		opts = append(opts, run.WithResultPresence(hasResult))
	}
	if raw := query.Get("order"); raw != "" {
		switch strings.ToLower(raw) {
		case "asc":
			opts = append(opts, run.WithSortOrder(run.SortByUpdatedAsc))
		case "desc":
			opts = append(opts, run.WithSortOrder(run.SortByUpdatedDesc))
		default:
			return nil, errors.New("order 仅支持 asc/desc")
		}
	}
	if raw := query.Get("q"); raw != "" {
		opts = append(opts, run.WithQuery(raw))
	}
	return opts, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(unix, 0), nil
	}
	return time.Parse(time.RFC3339, raw)
}

// writeRunError 将内部错误映射为 HTTP 状态码与结构化响应。
func writeRunError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case run.CodeRunValidation, xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case run.CodeRunNotFound, xerrors.CodeNotFound:
		status = http.StatusNotFound
	case run.CodeRunConflict, xerrors.CodeConflict:
		status = http.StatusConflict
	case xerrors.CodeGatewayUnavailable:
		status = http.StatusBadGateway
	}
	writeError(w, status, string(code), err.Error())
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// instrument 记录每个端点的请求指标。
func instrument(handler string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		metrics.ObserveHTTPRequest(handler, r.Method, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "shutting_down", "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

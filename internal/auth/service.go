package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	passwordSaltBytes = 16
	tokenBytes        = 32
	defaultSessionTTL = time.Hour
)

// Service 负责为钱包接口签发和校验会话令牌。
// 会话保存在内存中，进程重启后需要重新登录。
type Service struct {
	enabled  bool
	ttl      time.Duration
	username string
	password string

	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewService 构造会话服务实例。
func NewService(cfg Config) (*Service, error) {
	svc := &Service{
		enabled:  cfg.Enabled,
		ttl:      cfg.SessionTTL,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
	if svc.ttl <= 0 {
		svc.ttl = defaultSessionTTL
	}
	if !cfg.Enabled {
		return svc, nil
	}
	if strings.TrimSpace(cfg.DemoUser) == "" {
		return nil, errors.New("demo user must be configured when auth is enabled")
	}
	hashed, err := hashPassword(cfg.DemoPassword)
	if err != nil {
		return nil, fmt.Errorf("hash demo password: %w", err)
	}
	svc.username = strings.TrimSpace(cfg.DemoUser)
	svc.password = hashed
	return svc, nil
}

// Enabled 返回服务是否启用。未启用时所有接口直接放行。
func (s *Service) Enabled() bool {
	return s != nil && s.enabled
}

// Login 校验账号密码并签发新的会话令牌。
func (s *Service) Login(username, password string) (*Session, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	if strings.TrimSpace(username) != s.username || !verifyPassword(s.password, password) {
		return nil, ErrInvalidCredentials
	}
	token, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	session := &Session{
		Token:     token,
		Username:  s.username,
		ExpiresAt: s.now().Add(s.ttl),
	}
	s.mu.Lock()
	s.sessions[token] = session
	s.mu.Unlock()
	return session, nil
}

// Verify 校验 Authorization 头携带的令牌并返回会话。过期会话被即时清理。
func (s *Service) Verify(authorization string) (*Session, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return nil, ErrMissingToken
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[token]
	if !ok {
		return nil, ErrInvalidToken
	}
	if s.now().After(session.ExpiresAt) {
		delete(s.sessions, token)
		return nil, ErrSessionExpired
	}
	clone := *session
	return &clone, nil
}

// Logout 注销会话。注销不存在的令牌不视为错误。
func (s *Service) Logout(token string) {
	if !s.Enabled() || token == "" {
		return
	}
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashPassword(password string) (string, error) {
	if strings.TrimSpace(password) == "" {
		return "", errors.New("password cannot be empty")
	}
	salt := make([]byte, passwordSaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	digest := sha256.Sum256(append(salt, []byte(password)...))
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedDigest := base64.RawStdEncoding.EncodeToString(digest[:])
	return encodedSalt + ":" + encodedDigest, nil
}

func verifyPassword(hashed, password string) bool {
	if hashed == "" {
		return false
	}
	parts := strings.SplitN(hashed, ":", 2)
	if len(parts) != 2 {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}
	digest := sha256.Sum256(append(salt, []byte(password)...))
	return subtle.ConstantTimeCompare(expected, digest[:]) == 1
}

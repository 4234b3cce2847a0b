package auth

import "context"

// sessionKey 是上下文中存储 Session 的键类型。
type sessionKey struct{}

// WithSession 将已验证的会话信息存储到上下文中。
func WithSession(ctx context.Context, session *Session) context.Context {
	if session == nil {
		return ctx
	}
	return context.WithValue(ctx, sessionKey{}, session)
}

// SessionFromContext 从上下文中提取已验证的会话信息。
func SessionFromContext(ctx context.Context) *Session {
	if ctx == nil {
		return nil
	}
	if session, ok := ctx.Value(sessionKey{}).(*Session); ok {
		return session
	}
	return nil
}

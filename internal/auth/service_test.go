package auth

import (
	"errors"
	"testing"
	"time"
)

func newEnabledService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Config{
		Enabled:      true,
		SessionTTL:   time.Minute,
		DemoUser:     "demo",
		DemoPassword: "secret",
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestLoginAndVerify(t *testing.T) {
	svc := newEnabledService(t)

	session, err := svc.Login("demo", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if session.Token == "" || session.Username != "demo" {
		t.Fatalf("unexpected session: %+v", session)
	}

	verified, err := svc.Verify("Bearer " + session.Token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.Username != "demo" {
		t.Fatalf("unexpected verified session: %+v", verified)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := newEnabledService(t)

	if _, err := svc.Login("demo", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := svc.Login("stranger", "secret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}

func TestVerifyRejectsExpiredSession(t *testing.T) {
	svc := newEnabledService(t)

	session, err := svc.Login("demo", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := svc.Verify("Bearer " + session.Token); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected expired session, got %v", err)
	}
	// 过期后令牌被清理，再次校验报无效。
	if _, err := svc.Verify("Bearer " + session.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token after cleanup, got %v", err)
	}
}

func TestLogoutInvalidatesToken(t *testing.T) {
	svc := newEnabledService(t)

	session, err := svc.Login("demo", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	svc.Logout(session.Token)
	if _, err := svc.Verify("Bearer " + session.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token after logout, got %v", err)
	}
}

func TestDisabledService(t *testing.T) {
	svc, err := NewService(Config{Enabled: false})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if svc.Enabled() {
		t.Fatal("expected disabled service")
	}
	if _, err := svc.Login("demo", "secret"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected disabled error, got %v", err)
	}
}

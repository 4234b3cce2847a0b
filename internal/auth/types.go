package auth

import (
	"errors"
	"time"
)

// Common errors returned by the session subsystem.
var (
	ErrDisabled           = errors.New("authentication disabled")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrMissingToken       = errors.New("missing bearer token")
	ErrSessionExpired     = errors.New("session expired")
)

// Session represents an issued bearer session for the wallet endpoints.
type Session struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Config configures the session service. A single demo account is enough to
// gate the workshop wallet UI.
type Config struct {
	Enabled      bool
	SessionTTL   time.Duration
	DemoUser     string
	DemoPassword string
}

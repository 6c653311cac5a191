// Package auth persists workspace credentials.
package auth

import "errors"

var ErrNotFound = errors.New("token not found")

// Token is one installed workspace credential: the bearer token plus the
// identity it was issued to. Cookie is only set for browser-session
// tokens.
type Token struct {
	TeamID string `json:"team_id"`
	UserID string `json:"user_id"`
	Token  string `json:"token"`
	Cookie string `json:"cookie,omitempty"`
}

// TokenStore persists credentials across restarts. Implementations must be
// safe for concurrent use.
type TokenStore interface {
	Put(t *Token) error
	Get(teamID string) (*Token, error)
	List() ([]*Token, error)
	Delete(teamID string) error
	Close() error
}

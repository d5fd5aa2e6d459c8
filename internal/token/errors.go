package token

import "errors"

var (
	// ErrTokenInvalid is returned when a token is malformed, carries a bad
	// signature, or has no matching issuance record
	ErrTokenInvalid = errors.New("token invalid")

	// ErrTokenExpired is returned when a token's lifetime has elapsed
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenAlreadyUsed is returned when a token's single-use flag is set
	ErrTokenAlreadyUsed = errors.New("token already used")

	// ErrTokenScopeMismatch is returned when a task-level token is redeemed
	// against an assignee-scoped flow or vice versa
	ErrTokenScopeMismatch = errors.New("token scope mismatch")
)

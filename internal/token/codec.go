// Package token implements the capability tokens behind the email-link
// approval flow. A token is a signed, self-contained credential authorizing
// exactly one approve/reject action on one task; validity is proven by the
// signature alone, while single-use is enforced by the audit record stored
// with the task.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Action is the decision a token authorizes, fixed at issuance time
type Action string

const (
	ActionApprove Action = "APPROVE"
	ActionReject  Action = "REJECT"
)

// IsValid returns true if the action is one of the defined constants
func (a Action) IsValid() bool {
	return a == ActionApprove || a == ActionReject
}

// String returns the string representation of the action
func (a Action) String() string {
	return string(a)
}

// Claims is the payload carried inside a capability token. Expiry is a
// verification-time policy derived from IssuedAt, not a visible field.
type Claims struct {
	TaskID        string `json:"task_id"`
	ActorID       string `json:"actor_id"`
	Action        Action `json:"action"`
	AssigneeScope string `json:"assignee_scope,omitempty"`
	IssuedAt      int64  `json:"issued_at"`
}

// DefaultTTL is the token lifetime applied when none is configured
const DefaultTTL = 7 * 24 * time.Hour

// Codec signs and verifies capability tokens with an HMAC-SHA256 key
type Codec struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// Option configures the codec
type Option func(*Codec)

// WithTTL overrides the token lifetime enforced at verification
func WithTTL(ttl time.Duration) Option {
	return func(c *Codec) {
		c.ttl = ttl
	}
}

// WithClock overrides the time source, for tests
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// NewCodec creates a codec with the given signing key
func NewCodec(key []byte, opts ...Option) *Codec {
	c := &Codec{
		key: key,
		ttl: DefaultTTL,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encode serializes and signs the claims into an opaque token string
func (c *Codec) Encode(claims Claims) (string, error) {
	if !claims.Action.IsValid() {
		return "", fmt.Errorf("%w: action %q", ErrTokenInvalid, claims.Action)
	}

	body, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}

	payload := base64.RawURLEncoding.EncodeToString(body)
	return payload + "." + c.sign(payload), nil
}

// Decode verifies the signature and expiry and returns the claims.
// Verification needs no server-side state beyond the signing key.
func (c *Codec) Decode(raw string) (*Claims, error) {
	payload, sig, ok := strings.Cut(raw, ".")
	if !ok || payload == "" || sig == "" {
		return nil, fmt.Errorf("%w: malformed token", ErrTokenInvalid)
	}

	if !hmac.Equal([]byte(c.sign(payload)), []byte(sig)) {
		return nil, fmt.Errorf("%w: bad signature", ErrTokenInvalid)
	}

	body, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	var claims Claims
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !claims.Action.IsValid() || claims.TaskID == "" || claims.ActorID == "" {
		return nil, fmt.Errorf("%w: incomplete claims", ErrTokenInvalid)
	}

	issuedAt := time.Unix(claims.IssuedAt, 0)
	if c.now().After(issuedAt.Add(c.ttl)) {
		return nil, fmt.Errorf("%w: issued %s", ErrTokenExpired, issuedAt.Format(time.RFC3339))
	}

	return &claims, nil
}

// sign computes the base64url HMAC-SHA256 signature of the payload
func (c *Codec) sign(payload string) string {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Digest returns the hex SHA-256 of a raw token, the value stored in the
// task's audit list so the raw credential is never persisted
func Digest(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Package auth stores the credential pair issued by the sync service and
// keeps the access token fresh across CLI invocations.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"codetrail/internal/common"
)

// expiryLeeway makes a token count as expired slightly before its real
// deadline, so an in-flight request does not race the cutoff.
const expiryLeeway = 30 * time.Second

// Tokens is the persisted credential pair.
type Tokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
}

// Valid reports whether the access token can still be presented at now.
func (t *Tokens) Valid(now time.Time) bool {
	if t.AccessToken == "" {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return true
	}
	return now.Add(expiryLeeway).Before(t.ExpiresAt)
}

// FromAccessToken decodes the subject and expiry baked into a JWT access
// token. The signature is not checked; the service verifies it on every
// request, the client only needs the claims to schedule refreshes.
func FromAccessToken(accessToken, refreshToken string) (*Tokens, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return nil, common.ErrInvalidToken
	}

	t := &Tokens{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		UserID:       claims.Subject,
	}
	if claims.ExpiresAt != nil {
		t.ExpiresAt = claims.ExpiresAt.Time
	}
	return t, nil
}

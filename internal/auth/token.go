package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sys3222/akshare-mcp-adapter/internal/errs"
)

// TokenService issues and validates signed bearer tokens (C2). The
// signing secret is a process-wide constant loaded at startup; rotating
// it requires a restart, per the spec.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService builds a TokenService. ttl defaults to 30 minutes
// when zero.
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	if ttl == 0 {
		ttl = 30 * time.Minute
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}
}

type claims struct {
	jwt.RegisteredClaims
}

// Issue produces a signed token for username, expiring after the
// service's configured TTL.
func (s *TokenService) Issue(username string) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

// Validate parses and verifies a token, returning the subject (username)
// or a distinctly-kinded error: malformed, bad-signature, or expired are
// all reported as errs.Unauthorized (the spec requires the HTTP edge to
// collapse them to one coarse 401 category) but are distinguishable to
// the caller via the wrapped jwt error for logging.
func (s *TokenService) Validate(tokenString string) (string, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return "", errs.Wrap(errs.Unauthorized, "token expired", err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return "", errs.Wrap(errs.Unauthorized, "bad token signature", err)
		default:
			return "", errs.Wrap(errs.Unauthorized, "malformed token", err)
		}
	}
	if !token.Valid {
		return "", errs.New(errs.Unauthorized, "invalid token")
	}
	if c.Subject == "" {
		return "", errs.New(errs.Unauthorized, "token missing subject")
	}
	return c.Subject, nil
}

// Package share signs links that let anyone download one output part without the
// owner's session cookie.
package share

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/videopress/backend/internal/apperr"
)

const issuer = "videopress"

// Claims identifies the shared output.
type Claims struct {
	SessionID string `json:"sid"`
	FileID    string `json:"fid"`
	Part      int    `json:"part"`
	jwt.RegisteredClaims
}

// Signer issues and validates share tokens.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner creates a Signer. Non-positive expireHours defaults to 24.
func NewSigner(secret string, expireHours int) *Signer {
	if expireHours <= 0 {
		expireHours = 24
	}
	return &Signer{secret: []byte(secret), ttl: time.Duration(expireHours) * time.Hour, now: time.Now}
}

// Sign returns a token for one part and its expiry.
func (s *Signer) Sign(sessionID, fileID string, part int) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := Claims{
		SessionID: sessionID,
		FileID:    fileID,
		Part:      part,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, apperr.Wrap(apperr.KindInternal, err, "could not sign share link")
	}
	return token, exp, nil
}

// Validate parses a token. Invalid and expired tokens both report not_found.
func (s *Signer) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNotFound, err, "share link is invalid or expired")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.FileID == "" || claims.Part < 1 {
		return nil, apperr.New(apperr.KindNotFound, "share link is invalid or expired")
	}
	return claims, nil
}

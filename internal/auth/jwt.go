package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	accessTokenTTL  = 30 * time.Minute
	refreshTokenTTL = 7 * 24 * time.Hour

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// ErrInvalidToken covers every token verification failure: bad signature,
// expired, wrong type, malformed. Callers never need to distinguish further.
var ErrInvalidToken = errors.New("auth: invalid or expired token")

// Claims is the JWT payload for both access and refresh tokens, distinguished
// by Type.
type Claims struct {
	UserID string `json:"sub"`
	Type   string `json:"type"`
	jwt.RegisteredClaims
}

// TokenIssuer issues and verifies HMAC-signed access/refresh token pairs.
type TokenIssuer struct {
	secret []byte
}

// NewTokenIssuer creates a TokenIssuer using the given HMAC secret.
func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret)}
}

// TokenPair is an issued access/refresh token pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// IssuePair mints a fresh access+refresh token pair for a user.
func (t *TokenIssuer) IssuePair(userID string) (*TokenPair, error) {
	now := time.Now()
	accessExp := now.Add(accessTokenTTL)

	access, err := t.sign(userID, tokenTypeAccess, now, accessExp)
	if err != nil {
		return nil, fmt.Errorf("auth: issue access token: %w", err)
	}
	refresh, err := t.sign(userID, tokenTypeRefresh, now, now.Add(refreshTokenTTL))
	if err != nil {
		return nil, fmt.Errorf("auth: issue refresh token: %w", err)
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresAt: accessExp}, nil
}

func (t *TokenIssuer) sign(userID, tokenType string, issuedAt, expiresAt time.Time) (string, error) {
	claims := Claims{
		UserID: userID,
		Type:   tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// VerifyAccessToken validates signature, expiry, and that the token is an
// access token (not a refresh token minted for the token-refresh endpoint
// only). Returns the user ID on success.
func (t *TokenIssuer) VerifyAccessToken(raw string) (string, error) {
	return t.verify(raw, tokenTypeAccess)
}

// VerifyRefreshToken validates a refresh token and returns the user ID.
func (t *TokenIssuer) VerifyRefreshToken(raw string) (string, error) {
	return t.verify(raw, tokenTypeRefresh)
}

func (t *TokenIssuer) verify(raw, wantType string) (string, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.Type != wantType {
		return "", ErrInvalidToken
	}
	if claims.UserID == "" {
		return "", ErrInvalidToken
	}
	return claims.UserID, nil
}

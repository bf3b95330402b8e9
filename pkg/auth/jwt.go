package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims are the token claims this service cares about. Full identity
// verification lives in the API gateway authorizer; this local HS256 path
// exists for non-Lambda environments and tests.
type Claims struct {
	UserID string `json:"sub"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTValidator validates HS256-signed tokens.
type JWTValidator struct {
	secret []byte
	issuer string
}

// NewJWTValidator creates a validator for the given shared secret.
func NewJWTValidator(secret, issuer string) (*JWTValidator, error) {
	if secret == "" {
		return nil, errors.New("jwt secret cannot be empty")
	}
	return &JWTValidator{secret: []byte(secret), issuer: issuer}, nil
}

// ValidateToken parses and verifies a token, returning its claims.
func (v *JWTValidator) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	}, jwt.WithIssuer(v.issuer), jwt.WithLeeway(30*time.Second))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GenerateToken mints a token for the given user, used by tests and local
// development tooling.
func (v *JWTValidator) GenerateToken(userID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-sneaker-orderflow/internal/config"
)

// UserType distinguishes customers from store staff.
type UserType string

const (
	UserTypeCustomer UserType = "customer"
	UserTypeAdmin    UserType = "admin"
)

func (t UserType) IsValid() bool {
	return t == UserTypeCustomer || t == UserTypeAdmin
}

// Claims is the bearer credential: who the caller is and what kind of user.
type Claims struct {
	UserID   string   `json:"user_id"`
	UserType UserType `json:"user_type"`
	jwt.RegisteredClaims
}

func (c *Claims) IsAdmin() bool {
	return c != nil && c.UserType == UserTypeAdmin
}

var signingMethod = jwt.SigningMethodHS256

// MintToken signs claims for userID valid for cfg.Expiration from now.
func MintToken(cfg config.JWTConfig, now time.Time, userID string, userType UserType) (string, error) {
	if cfg.Secret == "" {
		return "", fmt.Errorf("jwt secret is required")
	}
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("user id is required")
	}
	if !userType.IsValid() {
		return "", fmt.Errorf("invalid user type %q", userType)
	}
	ttl := cfg.Expiration
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	claims := Claims{
		UserID:   userID,
		UserType: userType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// ParseToken validates the signature, issuer and expiry of tokenString.
func ParseToken(cfg config.JWTConfig, tokenString string) (*Claims, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{signingMethod.Alg()}), jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != signingMethod {
			return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return nil, fmt.Errorf("token has no user id")
	}
	if claims.UserType == "" {
		claims.UserType = UserTypeCustomer
	}
	return claims, nil
}

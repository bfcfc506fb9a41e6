// Package download issues and validates the signed tokens embedded in
// file access links. A token pins the user, file location and action
// type, so a leaked link cannot be replayed against another file.
package download

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/afterlogic/aurora-module-s3-filestorage/internal/files"
)

// Claims carries the file reference a link grants access to.
type Claims struct {
	TenantID     int64  `json:"tid"`
	UserPublicID string `json:"user"`
	Type         string `json:"type"`
	Path         string `json:"path"`
	Name         string `json:"name"`
	PublicHash   string `json:"hash,omitempty"`
	jwt.RegisteredClaims
}

// Scope rebuilds the request scope the token was issued under.
func (c *Claims) Scope() files.Scope {
	return files.Scope{TenantID: c.TenantID, UserPublicID: c.UserPublicID}
}

// Tokens signs and parses file access tokens.
type Tokens struct {
	secret   []byte
	lifetime time.Duration
}

// NewTokens creates a token issuer. lifetime bounds how long issued
// links stay valid.
func NewTokens(secret string, lifetime time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), lifetime: lifetime}
}

// Issue signs a token for the given file reference.
func (t *Tokens) Issue(scope files.Scope, path, name, publicHash string) (string, error) {
	now := time.Now()
	claims := &Claims{
		TenantID:     scope.TenantID,
		UserPublicID: scope.UserPublicID,
		Type:         files.StorageType,
		Path:         path,
		Name:         name,
		PublicHash:   publicHash,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(t.lifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "filestorage",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign download token: %w", err)
	}
	return signed, nil
}

// Parse validates a token and returns its file reference. Expired or
// tampered tokens fail with files.ErrAccessDenied.
func (t *Tokens) Parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse download token: %w", files.ErrAccessDenied)
	}
	if !token.Valid || claims.Type != files.StorageType {
		return nil, fmt.Errorf("validate download token: %w", files.ErrAccessDenied)
	}
	return claims, nil
}

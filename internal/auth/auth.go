// Package auth issues and verifies the bearer tokens carried by every
// authenticated request, and holds the authorization policy helpers.
//
// Verification is structurally mandatory: handlers never decode tokens
// themselves, they receive an Identity that already passed Verify.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"trasferte/internal/core"
)

var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrRoleForbidden      = errors.New("role not allowed for this operation")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Identity is the verified claim set the rest of the system trusts.
type Identity struct {
	Username string
	Role     core.Role
}

// Claims is the token payload: username and role, plus standard expiry.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies HS256 bearer tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), ttl: ttl}
}

// Issue returns a signed token for the given user.
func (t *Tokens) Issue(username string, role core.Role) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: username,
		Role:     string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry and returns the embedded identity.
func (t *Tokens) Verify(raw string) (Identity, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Username) == "" {
		return Identity{}, fmt.Errorf("%w: missing username claim", ErrInvalidToken)
	}
	return Identity{Username: claims.Username, Role: core.Role(claims.Role)}, nil
}

// HashPassword hashes a plaintext password with bcrypt at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against a stored bcrypt hash.
func CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// RequireRole returns ErrRoleForbidden unless the identity holds one of the
// given roles.
func RequireRole(id Identity, roles ...core.Role) error {
	for _, r := range roles {
		if id.Role == r {
			return nil
		}
	}
	return ErrRoleForbidden
}

// CanDecide is the approval policy check: only managers and admins may
// approve or reject. A manager deciding their own expense is still allowed;
// the original system behaved that way and tightening it is a product call,
// not something to change silently.
func CanDecide(id Identity, _ core.Expense) error {
	return RequireRole(id, core.RoleManager, core.RoleAdmin)
}

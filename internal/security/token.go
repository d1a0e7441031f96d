package security

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/ZanzyTHEbar/loan-decision/internal/errors"
)

// Gin context keys set by the auth middleware
const (
	ContextUserID = "user_id"
	ContextRole   = "role"
)

// Roles carried in the "role" claim
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

const (
	tokenAccess  = "access"
	tokenRefresh = "refresh"

	// DefaultRefreshTTL is the lifetime of refresh tokens unless overridden
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

// Identity is the caller a valid token names
type Identity struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// IsAdmin reports whether the identity carries the admin role
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// TokenManager issues and validates HS256 session tokens
type TokenManager struct {
	secret     []byte
	ttl        time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenManager creates a token manager signing with secret
func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenManager{
		secret:     []byte(secret),
		ttl:        ttl,
		refreshTTL: DefaultRefreshTTL,
		now:        time.Now,
	}
}

// WithRefreshTTL overrides the refresh token lifetime
func (m *TokenManager) WithRefreshTTL(ttl time.Duration) *TokenManager {
	if ttl > 0 {
		m.refreshTTL = ttl
	}
	return m
}

// TTL is the access token lifetime
func (m *TokenManager) TTL() time.Duration {
	return m.ttl
}

// GenerateToken signs an access token for userID. An empty role is stored as RoleUser.
func (m *TokenManager) GenerateToken(userID, role string) (string, error) {
	return m.sign(userID, role, tokenAccess, m.ttl)
}

// GenerateRefreshToken signs a token accepted only by ValidateRefreshToken
func (m *TokenManager) GenerateRefreshToken(userID, role string) (string, error) {
	return m.sign(userID, role, tokenRefresh, m.refreshTTL)
}

func (m *TokenManager) sign(userID, role, kind string, ttl time.Duration) (string, error) {
	if role == "" {
		role = RoleUser
	}

	now := m.now()
	claims := jwt.MapClaims{
		"sub":  userID,
		"role": role,
		"typ":  kind,
		"exp":  now.Add(ttl).Unix(),
		"iat":  now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	return tokenString, nil
}

// ValidateToken verifies an access token and returns the identity it carries.
// The user is read from "sub", falling back to "user_id". Tokens without a "typ"
// claim are treated as access tokens.
func (m *TokenManager) ValidateToken(tokenString string) (Identity, error) {
	return m.validate(tokenString, tokenAccess)
}

// ValidateRefreshToken verifies a refresh token
func (m *TokenManager) ValidateRefreshToken(tokenString string) (Identity, error) {
	return m.validate(tokenString, tokenRefresh)
}

func (m *TokenManager) validate(tokenString, kind string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		return Identity{}, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Identity{}, fmt.Errorf("invalid token")
	}

	typ, _ := claims["typ"].(string)
	if typ == "" {
		typ = tokenAccess
	}
	if typ != kind {
		return Identity{}, fmt.Errorf("expected %s token, got %s", kind, typ)
	}

	identity := Identity{Role: RoleUser}
	if role, ok := claims["role"].(string); ok && role != "" {
		identity.Role = role
	}
	for _, key := range []string{"sub", "user_id"} {
		if userID, ok := claims[key].(string); ok && userID != "" {
			identity.UserID = userID
			return identity, nil
		}
	}
	return Identity{}, fmt.Errorf("user_id not found in token")
}

// BearerToken extracts the token from an "Authorization: Bearer" header
func BearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func setIdentity(c *gin.Context, identity Identity) {
	c.Set(ContextUserID, identity.UserID)
	c.Set(ContextRole, identity.Role)
}

// OptionalAuth sets the caller's identity when a valid bearer token is present.
// Requests without a token, or with an invalid one, continue anonymously.
func (m *TokenManager) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := BearerToken(c); ok {
			if identity, err := m.ValidateToken(token); err == nil {
				setIdentity(c, identity)
			}
		}
		c.Next()
	}
}

// RequiredAuth rejects requests without a valid bearer token
func (m *TokenManager) RequiredAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c)
		if !ok {
			apperrors.Abort(c, apperrors.NewAuthError("missing bearer token", nil))
			return
		}

		identity, err := m.ValidateToken(token)
		if err != nil {
			apperrors.Abort(c, apperrors.NewAuthError("invalid token", err))
			return
		}

		setIdentity(c, identity)
		c.Next()
	}
}

// RequireRole rejects callers whose token does not carry role. It must run after RequiredAuth.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if UserID(c) == "" {
			apperrors.Abort(c, apperrors.NewAuthError("missing bearer token", nil))
			return
		}
		if Role(c) != role {
			apperrors.Abort(c, apperrors.NewForbiddenError(role+" role required"))
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated user's ID, or "" for anonymous requests
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

// Role returns the authenticated user's role, or "" for anonymous requests
func Role(c *gin.Context) string {
	return c.GetString(ContextRole)
}

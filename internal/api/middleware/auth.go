package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// ContextSessionID holds the authenticated session id.
	ContextSessionID = "session_id"
	// ContextPremium holds the session's premium flag.
	ContextPremium = "premium"

	roleOperator = "operator"
)

// SessionClaims is the kiosk session token payload.
type SessionClaims struct {
	SessionID string `json:"sid"`
	Premium   bool   `json:"premium"`
	jwt.RegisteredClaims
}

// OperatorClaims is the operator token payload.
type OperatorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueSessionToken mints a signed session token.
func IssueSessionToken(secret, sessionID string, premium bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		SessionID: sessionID,
		Premium:   premium,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// IssueOperatorToken mints a signed operator token.
func IssueOperatorToken(secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := OperatorClaims{
		Role: roleOperator,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimPrefix(header, "Bearer ")
	return token, token != ""
}

// Session requires a valid session token and stores its identity on the
// request context.
func Session(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := bearerToken(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			c.Abort()
			return
		}

		claims := &SessionClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid || claims.SessionID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session token"})
			c.Abort()
			return
		}

		c.Set(ContextSessionID, claims.SessionID)
		c.Set(ContextPremium, claims.Premium)
		c.Next()
	}
}

// Operator requires a valid operator token.
func Operator(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := bearerToken(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			c.Abort()
			return
		}

		claims := &OperatorClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid || claims.Role != roleOperator {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid operator token"})
			c.Abort()
			return
		}

		c.Next()
	}
}

// SessionID returns the authenticated session id set by Session.
func SessionID(c *gin.Context) string {
	return c.GetString(ContextSessionID)
}

// IsPremium returns the premium flag set by Session.
func IsPremium(c *gin.Context) bool {
	return c.GetBool(ContextPremium)
}

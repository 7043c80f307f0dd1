package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/leadcheck/leadcheck/internal/lifecycle"
	"github.com/leadcheck/leadcheck/internal/types"
)

const (
	ctxActor  = "actor"
	ctxIntake = "intake"

	issuer = "leadcheck"
)

// AgentClaims identify the agent behind a bearer token. Subject is the
// agent id.
type AgentClaims struct {
	Role types.Role `json:"role"`
	jwt.RegisteredClaims
}

// IssueAgentToken signs a bearer token for an agent.
func IssueAgentToken(secret []byte, agentID string, role types.Role, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret is empty")
	}
	if agentID == "" || !role.IsValid() {
		return "", fmt.Errorf("agent id and a valid role are required")
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, AgentClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   agentID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return tok.SignedString(secret)
}

func parseAgentToken(raw string, secret []byte) (*AgentClaims, error) {
	var claims AgentClaims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}
	if !tok.Valid || claims.Subject == "" || !claims.Role.IsValid() {
		return nil, errors.New("token lacks agent or role")
	}
	return &claims, nil
}

// JWTMiddleware authenticates agents. Browsers' EventSource cannot set
// headers, so the token may also come as ?access_token=.
func JWTMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := ""
		if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
			raw = h[7:]
		} else if q := c.Query("access_token"); q != "" {
			raw = q
		}
		if raw == "" {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		claims, err := parseAgentToken(raw, secret)
		if err != nil {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		c.Set(ctxActor, lifecycle.Actor{ID: claims.Subject, Role: claims.Role})
		c.Next()
	}
}

// IntakeMiddleware authenticates call-result intake with an HMAC token in
// X-Intake-Token.
func IntakeMiddleware(secret []byte, now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("X-Intake-Token")
		if raw == "" {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "missing intake token")
			return
		}
		claims, err := ValidateIntakeToken(raw, secret, now())
		if err != nil {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		c.Set(ctxIntake, claims)
		c.Next()
	}
}

func actorFrom(c *gin.Context) lifecycle.Actor {
	if v, ok := c.Get(ctxActor); ok {
		if a, ok := v.(lifecycle.Actor); ok {
			return a
		}
	}
	return lifecycle.Actor{}
}

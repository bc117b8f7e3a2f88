// Package auth gates pseudo-file routes behind an optional bearer token.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator checks a bearer token.
type Validator interface {
	Validate(token string) error
}

// Token accepts exactly one shared secret. The empty Token accepts nothing.
type Token string

func (t Token) Validate(token string) error {
	if t == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(t), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// Bearer extracts the token from an "Authorization: Bearer <token>" value.
func Bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Middleware rejects requests whose bearer token v does not accept. A nil v
// lets every request through.
func Middleware(v Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if v == nil {
			c.Next()
			return
		}
		token, ok := Bearer(c.GetHeader("Authorization"))
		if !ok || v.Validate(token) != nil {
			log.Warn().
				Str("component", "auth").
				Str("path", c.Request.URL.Path).
				Str("client_ip", c.ClientIP()).
				Msg("unauthorized")
			c.Header("WWW-Authenticate", `Bearer realm="kmsgq"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrUnauthorized.Error()})
			return
		}
		c.Next()
	}
}

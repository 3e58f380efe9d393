package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"wellness_hub/server/common/transport/httpresp"
)

const (
	ContextAccessToken = "auth_access_token"
	ContextUserID      = "auth_user_id"
)

type tokenAuth interface {
	VerifyToken(token string) (userID string, err error)
}

// BearerToken reads the Authorization header and falls back to the
// access_token / token query parameters for browser WebSocket clients.
func BearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(header, "Bearer ") {
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token != "" {
			return token, true
		}
	}
	q := r.URL.Query()
	token := strings.TrimSpace(q.Get("access_token"))
	if token == "" {
		token = strings.TrimSpace(q.Get("token"))
	}
	if token == "" {
		return "", false
	}
	return token, true
}

func AuthRequired(auth tokenAuth) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c.Request)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrMissingBearerToken))
			return
		}
		userID, err := auth.VerifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrInvalidToken))
			return
		}
		c.Set(ContextAccessToken, token)
		c.Set(ContextUserID, userID)
		c.Next()
	}
}

// ActorID returns the identity stored by AuthRequired.
func ActorID(c *gin.Context) (string, bool) {
	raw, ok := c.Get(ContextUserID)
	if !ok {
		return "", false
	}
	userID, ok := raw.(string)
	if !ok || userID == "" {
		return "", false
	}
	return userID, true
}

package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/filip-herceg/reviewpoint-realtime/internal/websocket"
)

// IdentityKey is the gin context key carrying the authenticated principal
const IdentityKey = "user_id"

// WSAuth validates the bearer credential presented with a WebSocket upgrade
// request. Browsers cannot set headers on WebSocket requests, so the token is
// accepted from the `token` query parameter as well as the Authorization
// header. Invalid, expired or malformed tokens refuse the connection before
// any admission happens.
func WSAuth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.Query("token")
		if tokenString == "" {
			if auth := c.GetHeader("Authorization"); auth != "" {
				tokenString = auth
			}
		}
		if tokenString == "" {
			refuse(c, "token is required")
			return
		}

		tokenString = strings.TrimPrefix(tokenString, "Bearer ")

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(jwtSecret), nil
		})
		if err != nil || !token.Valid {
			refuse(c, "invalid token")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			refuse(c, "invalid token claims")
			return
		}

		sub, err := claims.GetSubject()
		if err != nil || sub == "" {
			refuse(c, "token missing subject")
			return
		}

		c.Set(IdentityKey, sub)
		c.Next()
	}
}

// refuse aborts the upgrade request before any admission happens
func refuse(c *gin.Context, reason string) {
	authErr := &websocket.AuthenticationError{Reason: reason}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":  websocket.CodeAuthenticationError,
		"error": authErr.Error(),
	})
}

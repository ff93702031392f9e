package web

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/getmockd/polyd/pkg/middleware"
	"github.com/getmockd/polyd/pkg/protocol"
)

// ClaimsKey is the Extensions local holding the jwt.MapClaims of an
// authenticated request.
const ClaimsKey = "auth.claims"

// BearerAuth rejects requests without a valid HS256 bearer token and stores
// the token claims for later middlewares and handlers.
func BearerAuth(secret []byte) Middleware {
	keyFunc := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}

	return middleware.MiddlewareFunc[*Context](func(ctx context.Context, c *Context, next middleware.Next[*Context]) *Context {
		header := c.Request.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			c.Response.Header.Set("WWW-Authenticate", `Bearer realm="polyd"`)
			c.HandleError(protocol.Errorf(protocol.KindAuth, "missing bearer token"))
			return c
		}

		token, err := jwt.Parse(raw, keyFunc, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
		if err != nil || !token.Valid {
			c.Response.Header.Set("WWW-Authenticate", `Bearer realm="polyd", error="invalid_token"`)
			c.HandleError(protocol.Errorf(protocol.KindAuth, "invalid token: %v", err))
			return c
		}
		if claims, ok := token.Claims.(jwt.MapClaims); ok {
			c.Extensions().Set(ClaimsKey, claims)
		}
		return next(ctx, c)
	})
}

package middleware

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/auth0/go-jwt-middleware/v2/jwks"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/gin-gonic/gin"
	adapter "github.com/gwatts/gin-adapter"
)

// JWT validates Auth0 access tokens issued for audience by domain.
func JWT(domain, audience string) (gin.HandlerFunc, error) {
	issuerURL, err := url.Parse("https://" + domain + "/")
	if err != nil {
		return nil, err
	}

	provider := jwks.NewCachingProvider(issuerURL, 5*time.Minute)
	jwtValidator, err := validator.New(
		provider.KeyFunc,
		validator.RS256,
		issuerURL.String(),
		[]string{audience},
		validator.WithAllowedClockSkew(time.Minute),
	)
	if err != nil {
		return nil, err
	}

	mw := jwtmiddleware.New(jwtValidator.ValidateToken,
		jwtmiddleware.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"code":"UNAUTHORIZED","message":"Authentication required"}`))
		}),
	)
	return adapter.Wrap(mw.CheckJWT), nil
}

// HeaderAuth trusts the X-User-ID header as the subject. It is for tests and
// local development only.
func HeaderAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "Authentication required"})
			c.Abort()
			return
		}
		claims := &validator.ValidatedClaims{
			RegisteredClaims: validator.RegisteredClaims{Subject: userID},
		}
		ctx := context.WithValue(c.Request.Context(), jwtmiddleware.ContextKey{}, claims)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// GetAuth0ID extracts the user ID (sub claim) from the JWT token in the Gin context
func GetAuth0ID(c *gin.Context) (string, bool) {
	auth0ID, ok := subject(c)
	if !ok {
		GetLogger(c).WarnContext(c, "no user claims found in context")
	}
	return auth0ID, ok
}

func subject(c *gin.Context) (string, bool) {
	claims, ok := c.Request.Context().Value(jwtmiddleware.ContextKey{}).(*validator.ValidatedClaims)
	if !ok || claims.RegisteredClaims.Subject == "" {
		return "", false
	}
	return claims.RegisteredClaims.Subject, true
}

// BearerToken returns the raw access token of the request.
func BearerToken(c *gin.Context) (string, bool) {
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	return token, ok && token != ""
}

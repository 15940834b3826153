package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/yungbote/biograph-backend/internal/http/response"
	"github.com/yungbote/biograph-backend/internal/platform/ctxutil"
	"github.com/yungbote/biograph-backend/internal/platform/logger"
)

const headerActor = "X-Actor"

// ActorClaims carries the curator or loader identity of a write request.
type ActorClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

type AuthMiddleware struct {
	log    *logger.Logger
	secret []byte
}

// NewAuthMiddleware verifies HS256 bearer tokens with secret. An empty secret runs in
// dev mode, where the actor comes from the X-Actor header and nothing is verified.
func NewAuthMiddleware(log *logger.Logger, secret string) *AuthMiddleware {
	mwLog := log.With("middleware", "AuthMiddleware")
	secret = strings.TrimSpace(secret)
	if secret == "" {
		mwLog.Warn("JWT_SECRET_KEY not set; write endpoints trust the X-Actor header")
	}
	return &AuthMiddleware{log: mwLog, secret: []byte(secret)}
}

// RequireActor attaches the token subject as the request actor. Requests without a
// valid token are rejected before any handler runs.
func (am *AuthMiddleware) RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(am.secret) == 0 {
			if actor := strings.TrimSpace(c.GetHeader(headerActor)); actor != "" {
				c.Request = c.Request.WithContext(ctxutil.WithActor(c.Request.Context(), actor))
			}
			c.Next()
			return
		}

		tokenString := bearerToken(c)
		if tokenString == "" {
			response.RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing or invalid token"))
			return
		}
		actor, err := am.ParseActor(tokenString)
		if err != nil {
			am.log.Debug("rejected token", "error", err)
			response.RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("invalid or expired token"))
			return
		}
		c.Request = c.Request.WithContext(ctxutil.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

// ParseActor validates tokenString and returns its subject.
func (am *AuthMiddleware) ParseActor(tokenString string) (string, error) {
	claims := &ActorClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return am.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("token not valid")
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}

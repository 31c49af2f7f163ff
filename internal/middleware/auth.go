package middleware

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/yungbote/neuroagent-backend/internal/apperrors"
	"github.com/yungbote/neuroagent-backend/internal/logger"
	"github.com/yungbote/neuroagent-backend/internal/requestdata"
	"github.com/yungbote/neuroagent-backend/internal/utils"
)

type AuthMiddleware struct {
	log    *logger.Logger
	secret []byte
	jwks   *jwksCache
}

// NewAuthMiddleware verifies bearer tokens with an HS256 shared secret, or
// against the identity provider's published RS256 keys when JWKS_URL is set.
func NewAuthMiddleware(log *logger.Logger) *AuthMiddleware {
	am := &AuthMiddleware{log: log.With("middleware", "AuthMiddleware")}
	if jwksURL := utils.GetEnv("JWKS_URL", "", log); jwksURL != "" {
		am.jwks = newJWKSCache(jwksURL, log)
	} else {
		am.secret = []byte(utils.GetEnv("JWT_SECRET_KEY", "", log))
	}
	return am
}

type authClaims struct {
	Groups []string `json:"groups"`
	jwt.RegisteredClaims
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractBearer(c)
		if tokenString == "" {
			abortWithError(c, apperrors.Authentication("missing bearer token"))
			return
		}
		rd, err := am.verify(c.Request.Context(), tokenString)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Request = c.Request.WithContext(requestdata.WithRequestData(c.Request.Context(), rd))
		c.Next()
	}
}

func (am *AuthMiddleware) verify(ctx context.Context, tokenString string) (*requestdata.RequestData, error) {
	claims := &authClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		switch t.Method.Alg() {
		case "HS256":
			if len(am.secret) == 0 {
				return nil, fmt.Errorf("HS256 token but no shared secret configured")
			}
			return am.secret, nil
		case "RS256":
			if am.jwks == nil {
				return nil, fmt.Errorf("RS256 token but no JWKS configured")
			}
			kid, _ := t.Header["kid"].(string)
			return am.jwks.key(ctx, kid)
		}
		return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
	}, jwt.WithValidMethods([]string{"HS256", "RS256"}))
	if err != nil || !token.Valid {
		return nil, apperrors.Wrap(apperrors.KindAuthentication, "invalid token", err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, apperrors.Authentication("token subject is not a user id")
	}
	return &requestdata.RequestData{
		UserID: userID,
		Groups: claims.Groups,
		Token:  tokenString,
	}, nil
}

func extractBearer(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	return ""
}

// jwksCache fetches and caches the provider's signing keys. Refetched when
// an unknown kid shows up, at most once a minute.
type jwksCache struct {
	log *logger.Logger
	url string

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	lastFetch time.Time
}

func newJWKSCache(url string, log *logger.Logger) *jwksCache {
	return &jwksCache{
		log:  log.With("component", "jwks"),
		url:  url,
		keys: map[string]*rsa.PublicKey{},
	}
}

func (j *jwksCache) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if k, ok := j.keys[kid]; ok {
		return k, nil
	}
	if time.Since(j.lastFetch) < time.Minute {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
	if err := j.fetchLocked(ctx); err != nil {
		return nil, err
	}
	if k, ok := j.keys[kid]; ok {
		return k, nil
	}
	return nil, fmt.Errorf("unknown signing key %q", kid)
}

func (j *jwksCache) fetchLocked(ctx context.Context) error {
	j.lastFetch = time.Now()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", j.url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("jwks fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks fetch: http %d", resp.StatusCode)
	}

	var doc struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("jwks decode: %w", err)
	}
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			continue
		}
		eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			continue
		}
		e := 0
		for _, b := range eBytes {
			e = e<<8 | int(b)
		}
		j.keys[k.Kid] = &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}
	}
	j.log.Info("jwks refreshed", "keys", len(j.keys))
	return nil
}

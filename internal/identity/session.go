package identity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

const defaultLeeway = 30 * time.Second

var (
	ErrNoSession    = errors.New("no session token")
	ErrInvalidToken = errors.New("invalid session token")
)

// Claims are the session token fields the service relies on.
type Claims struct {
	Subject      string
	Email        string
	ExpiresAt    time.Time
	AppMetadata  map[string]any
	UserMetadata map[string]any
}

// Active reads app_metadata.active from the token. The second result is false
// when the flag is absent.
func (c *Claims) Active() (active bool, present bool) {
	v, ok := c.AppMetadata["active"].(bool)
	return v, ok
}

type VerifierConfig struct {
	SupabaseURL string
	JWTSecret   string
	JWKSURL     string
}

// Verifier checks Supabase access tokens, either HS256 with the project JWT
// secret or asymmetric keys from the project JWKS.
type Verifier struct {
	parser  *jwt.Parser
	keyFunc jwt.Keyfunc
}

func NewVerifier(ctx context.Context, cfg VerifierConfig) (*Verifier, error) {
	if cfg.JWTSecret != "" {
		secret := []byte(cfg.JWTSecret)
		return &Verifier{
			parser: jwt.NewParser(
				jwt.WithLeeway(defaultLeeway),
				jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
				jwt.WithExpirationRequired(),
			),
			keyFunc: func(*jwt.Token) (any, error) { return secret, nil },
		}, nil
	}

	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		if cfg.SupabaseURL == "" {
			return nil, errors.New("SUPABASE_JWT_SECRET or SUPABASE_URL must be set")
		}
		jwksURL = strings.TrimRight(cfg.SupabaseURL, "/") + "/auth/v1/.well-known/jwks.json"
	}
	keys, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("init JWKS keyfunc: %w", err)
	}
	return &Verifier{
		parser: jwt.NewParser(
			jwt.WithLeeway(defaultLeeway),
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Name, jwt.SigningMethodES256.Name}),
			jwt.WithExpirationRequired(),
		),
		keyFunc: keys.Keyfunc,
	}, nil
}

// Verify parses and validates a token, returning extracted claims.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	token, err := v.parser.Parse(tokenString, v.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims := &Claims{
		Subject:      readString(mapClaims, "sub"),
		Email:        readString(mapClaims, "email"),
		AppMetadata:  readMap(mapClaims, "app_metadata"),
		UserMetadata: readMap(mapClaims, "user_metadata"),
	}
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	return claims, nil
}

// TokenFromRequest finds the access token: a Bearer header first, then the named
// cookie, then Supabase's own sb-<ref>-auth-token cookie (possibly chunked and
// base64-prefixed).
func TokenFromRequest(r *http.Request, cookieName string) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") && strings.TrimSpace(parts[1]) != "" {
			return strings.TrimSpace(parts[1]), nil
		}
	}
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
			return decodeCookieToken(c.Value)
		}
	}

	chunks := map[string][]*http.Cookie{}
	for _, c := range r.Cookies() {
		if !strings.HasPrefix(c.Name, "sb-") {
			continue
		}
		base, _, _ := strings.Cut(c.Name, ".")
		if strings.HasSuffix(base, "-auth-token") {
			chunks[base] = append(chunks[base], c)
		}
	}
	for _, parts := range chunks {
		sort.Slice(parts, func(i, j int) bool { return parts[i].Name < parts[j].Name })
		var b strings.Builder
		for _, p := range parts {
			b.WriteString(p.Value)
		}
		if token, err := decodeCookieToken(b.String()); err == nil {
			return token, nil
		}
	}
	return "", ErrNoSession
}

func decodeCookieToken(value string) (string, error) {
	if strings.HasPrefix(value, "base64-") {
		raw := strings.TrimPrefix(value, "base64-")
		decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
		if err != nil {
			decoded, err = base64.StdEncoding.DecodeString(raw)
			if err != nil {
				return "", fmt.Errorf("%w: bad cookie encoding", ErrNoSession)
			}
		}
		value = string(decoded)
	}
	value = strings.TrimSpace(value)
	switch {
	case strings.HasPrefix(value, "{"):
		var session struct {
			AccessToken string `json:"access_token"`
		}
		if err := json.Unmarshal([]byte(value), &session); err != nil || session.AccessToken == "" {
			return "", ErrNoSession
		}
		return session.AccessToken, nil
	case strings.HasPrefix(value, "["):
		var parts []any
		if err := json.Unmarshal([]byte(value), &parts); err != nil || len(parts) == 0 {
			return "", ErrNoSession
		}
		if s, ok := parts[0].(string); ok && s != "" {
			return s, nil
		}
		return "", ErrNoSession
	case value == "":
		return "", ErrNoSession
	}
	return value, nil
}

func readString(claims jwt.MapClaims, key string) string {
	if s, ok := claims[key].(string); ok {
		return s
	}
	return ""
}

func readMap(claims jwt.MapClaims, key string) map[string]any {
	if m, ok := claims[key].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// Package keycloak verifies Keycloak-issued access tokens for the API.
package keycloak

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	stdliberrors "errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/NaturaCheck/pkg/errors"
)

// TokenVerifier turns a raw bearer token into claims.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*Claims, error)
}

// Claims is the subset of an access token the API relies on.
type Claims struct {
	Subject           string    `json:"sub"`
	PreferredUsername string    `json:"preferred_username"`
	Email             string    `json:"email"`
	Roles             []string  `json:"roles"`
	IssuedAt          time.Time `json:"iat"`
	ExpiresAt         time.Time `json:"exp"`
}

// Config configures a Verifier.
type Config struct {
	BaseURL  string
	Realm    string
	ClientID string
	// Audience overrides ClientID as the accepted audience.
	Audience       string
	JWKSCacheTTL   time.Duration
	RequestTimeout time.Duration
	Leeway         time.Duration
}

// Issuer returns the realm issuer URL.
func (c Config) Issuer() string {
	return fmt.Sprintf("%s/realms/%s", strings.TrimRight(c.BaseURL, "/"), c.Realm)
}

func (c Config) jwksURL() string {
	return c.Issuer() + "/protocol/openid-connect/certs"
}

var (
	ErrTokenMalformed   = errors.New(errors.ErrCodeTokenInvalid, "malformed token")
	ErrTokenInvalid     = errors.New(errors.ErrCodeTokenInvalid, "invalid token")
	ErrTokenExpired     = errors.New(errors.ErrCodeTokenExpired, "token expired")
	ErrUnknownKey       = errors.New(errors.ErrCodeTokenInvalid, "signing key not found")
	ErrProviderDown     = errors.New(errors.ErrCodeIdentityProvider, "identity provider unavailable")
	ErrMissingAuthToken = errors.New(errors.ErrCodeUnauthorized, "missing bearer token")
)

type accessClaims struct {
	jwt.RegisteredClaims
	AuthorizedParty   string `json:"azp"`
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
	RealmAccess       struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
	ResourceAccess map[string]struct {
		Roles []string `json:"roles"`
	} `json:"resource_access"`
}

// Verifier validates RS256 tokens against the realm JWKS.
type Verifier struct {
	cfg    Config
	keys   *jwksCache
	logger logging.Logger
}

// NewVerifier creates a Verifier. Keys are fetched lazily.
func NewVerifier(cfg Config, logger logging.Logger, httpClient *http.Client) (*Verifier, error) {
	if cfg.BaseURL == "" || cfg.Realm == "" || cfg.ClientID == "" {
		return nil, errors.Validation("keycloak base_url, realm and client_id are required")
	}
	if cfg.JWKSCacheTTL <= 0 {
		cfg.JWKSCacheTTL = 10 * time.Minute
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.Leeway <= 0 {
		cfg.Leeway = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	log := logging.OrNop(logger)
	return &Verifier{
		cfg:    cfg,
		keys:   &jwksCache{url: cfg.jwksURL(), ttl: cfg.JWKSCacheTTL, client: httpClient, logger: log},
		logger: log,
	}, nil
}

// Verify checks signature, issuer, expiry and audience.
func (v *Verifier) Verify(ctx context.Context, rawToken string) (*Claims, error) {
	if rawToken == "" {
		return nil, ErrMissingAuthToken
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(v.cfg.Issuer()),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.cfg.Leeway),
	)

	var ac accessClaims
	_, err := parser.ParseWithClaims(rawToken, &ac, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrTokenMalformed
		}
		return v.keys.key(ctx, kid)
	})
	if err != nil {
		return nil, classify(err)
	}

	audience := v.cfg.Audience
	if audience == "" {
		audience = v.cfg.ClientID
	}
	if !hasAudience(ac, audience) {
		return nil, ErrTokenInvalid.WithDetail("audience mismatch")
	}

	claims := &Claims{
		Subject:           ac.Subject,
		PreferredUsername: ac.PreferredUsername,
		Email:             ac.Email,
		Roles:             mergeRoles(ac, v.cfg.ClientID),
	}
	if ac.IssuedAt != nil {
		claims.IssuedAt = ac.IssuedAt.Time
	}
	if ac.ExpiresAt != nil {
		claims.ExpiresAt = ac.ExpiresAt.Time
	}
	return claims, nil
}

func classify(err error) error {
	var ae *errors.AppError
	switch {
	case stdliberrors.As(err, &ae):
		return ae
	case stdliberrors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case stdliberrors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	default:
		return ErrTokenInvalid.WithCause(err)
	}
}

func hasAudience(ac accessClaims, audience string) bool {
	for _, a := range ac.Audience {
		if a == audience {
			return true
		}
	}
	return ac.AuthorizedParty == audience
}

// mergeRoles returns realm roles followed by the client's own roles.
func mergeRoles(ac accessClaims, clientID string) []string {
	roles := append([]string(nil), ac.RealmAccess.Roles...)
	if ra, ok := ac.ResourceAccess[clientID]; ok {
		roles = append(roles, ra.Roles...)
	}
	return roles
}

// ─────────────────────────────────────────────────────────────────────────────
// JWKS
// ─────────────────────────────────────────────────────────────────────────────

type jwksCache struct {
	url    string
	ttl    time.Duration
	client *http.Client
	logger logging.Logger

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
	now       func() time.Time
}

func (c *jwksCache) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// key returns the key for kid, refreshing when the set is stale or the kid
// is unknown.
func (c *jwksCache) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	k, ok := c.keys[kid]
	fresh := c.clock().Sub(c.fetchedAt) < c.ttl
	c.mu.RUnlock()
	if ok && fresh {
		return k, nil
	}

	if err := c.refresh(ctx); err != nil {
		if ok {
			c.logger.Warn("jwks refresh failed, using cached key", logging.Err(err))
			return k, nil
		}
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if k, ok := c.keys[kid]; ok {
		return k, nil
	}
	return nil, ErrUnknownKey.WithDetail(kid)
}

func (c *jwksCache) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return ErrProviderDown.WithCause(err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return ErrProviderDown.WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ErrProviderDown.WithDetail(resp.Status)
	}

	var set struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			Use string `json:"use"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return ErrProviderDown.WithCause(err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := rsaKey(k.N, k.E)
		if err != nil {
			c.logger.Warn("skipping malformed jwk", logging.String("kid", k.Kid), logging.Err(err))
			continue
		}
		keys[k.Kid] = pub
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = c.clock()
	c.mu.Unlock()
	c.logger.Debug("jwks refreshed", logging.Int("keys", len(keys)))
	return nil
}

func rsaKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, err
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, err
	}
	exp := 0
	for _, b := range eb {
		exp = exp<<8 | int(b)
	}
	if exp == 0 {
		return nil, fmt.Errorf("zero exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: exp}, nil
}

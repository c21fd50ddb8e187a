// Package credentials implements the CDSE OAuth2 credential manager: it
// acquires, caches, refreshes, and cryptographically validates access and
// refresh tokens under concurrent use, and hands out HTTP sessions that
// carry a valid bearer token.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"golang.org/x/oauth2"

	"github.com/cdsetool/cdsetool-go/pkg/cdseerrors"
	"github.com/cdsetool/cdsetool-go/pkg/httpclient"
	"github.com/cdsetool/cdsetool-go/pkg/logger"
	"github.com/cdsetool/cdsetool-go/pkg/oidc"
)

// ClientID is the public OAuth2 client CDSE issues tokens to; it requires
// no client secret.
const ClientID = "cdse-public"

// Manager owns one user's token state: username/password (or credentials
// read from a credentials file), the cached discovery document and JWKS
// client, and the current access/refresh tokens. All token-state access is
// serialised by mu so concurrent downloads share a single in-flight
// refresh instead of racing to double-refresh.
type Manager struct {
	username string
	password string

	discoveryURL string
	proxies      map[string]string

	tokenClient *http.Client // dedicated client for token exchanges (15 attempts)

	mu                      sync.Mutex
	discoveryDoc            *oidc.Document
	jwksCache               *jwk.Cache
	accessToken             string
	refreshToken            string
	accessTokenExpiry       time.Time
	refreshTokenExpiry      time.Time
	pendingRefreshExpiresIn time.Duration
}

// Option customises a Manager constructed by New.
type Option func(*Manager)

// WithProxies routes the manager's own HTTP traffic (token exchange,
// discovery, JWKS fetch) through the given scheme->proxy-URL map.
func WithProxies(proxies map[string]string) Option {
	return func(m *Manager) { m.proxies = proxies }
}

// New constructs a Manager. If username or password is empty, both are
// looked up in the per-host credentials file keyed by the resolved token
// endpoint the first time a token is needed.
func New(username, password, discoveryURL string, opts ...Option) *Manager {
	if discoveryURL == "" {
		discoveryURL = oidc.DefaultDiscoveryURL
	}
	m := &Manager{
		username:     username,
		password:     password,
		discoveryURL: discoveryURL,
		// Initial expiries are zero time, which is always in the past,
		// forcing the first call to ensureTokens to exchange.
	}
	for _, opt := range opts {
		opt(m)
	}
	m.tokenClient = httpclient.New(httpclient.Options{
		MaxRetries: httpclient.DefaultTokenRetries,
		Timeout:    httpclient.DefaultTimeout,
		Proxies:    m.proxies,
	})
	return m
}

// Session returns an *http.Client whose outbound requests carry a valid
// "Authorization: Bearer <access_token>" header, refreshing or
// re-exchanging the token first if required.
func (m *Manager) Session(ctx context.Context) (*http.Client, error) {
	if err := m.ensureTokens(ctx); err != nil {
		return nil, err
	}

	base := httpclient.New(httpclient.Options{
		MaxRetries: httpclient.DefaultGETRetries,
		Timeout:    httpclient.DefaultTimeout,
		Proxies:    m.proxies,
	})
	return &http.Client{
		Transport: &authorizedTransport{mgr: m, base: base.Transport},
		Timeout:   base.Timeout,
	}, nil
}

// authorizedTransport injects the current bearer token on every request,
// re-validating it (and refreshing if necessary) before each round trip.
type authorizedTransport struct {
	mgr  *Manager
	base http.RoundTripper
}

func (t *authorizedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.mgr.ensureTokens(req.Context()); err != nil {
		return nil, err
	}
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.mgr.currentAccessToken())
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

func (m *Manager) currentAccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accessToken
}

// ensureTokens runs the token lifecycle described in the specification: if
// the access token is still valid, nothing happens; if only the refresh
// token is valid, a refresh grant runs; otherwise a full password grant
// runs. On return the access token is guaranteed non-empty.
func (m *Manager) ensureTokens(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if m.accessToken != "" && now.Before(m.accessTokenExpiry) {
		return nil
	}

	if err := m.ensureDiscoveryLocked(ctx); err != nil {
		return err
	}
	if err := m.ensureUsernamePasswordLocked(); err != nil {
		return err
	}

	cfg := &oauth2.Config{
		ClientID: ClientID,
		Endpoint: oauth2.Endpoint{TokenURL: m.discoveryDoc.TokenEndpoint},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.tokenClient)

	var tok *oauth2.Token
	var err error
	if m.refreshToken != "" && now.Before(m.refreshTokenExpiry) {
		// oauth2.Config.TokenSource refreshes using the standard
		// refresh_token grant; we only need the resulting token, not
		// ongoing reuse, since every caller funnels through this
		// mutex-guarded routine.
		src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: m.refreshToken})
		tok, err = src.Token()
	} else {
		tok, err = cfg.PasswordCredentialsToken(ctx, m.username, m.password)
	}
	if err != nil {
		return classifyTokenError(err, m.username, m.password)
	}

	m.accessToken = tok.AccessToken
	m.refreshToken = tok.RefreshToken
	m.pendingRefreshExpiresIn = extraSeconds(tok, "refresh_expires_in")

	return m.validateAccessTokenLocked(ctx)
}

func (m *Manager) ensureUsernamePasswordLocked() error {
	if m.username != "" && m.password != "" {
		return nil
	}
	// Resolve the token endpoint host for the credentials-file lookup; if
	// discovery hasn't run yet, fall back to the discovery URL's host
	// (the CDSE token endpoint and discovery document share a host).
	endpoint := m.discoveryURL
	if m.discoveryDoc != nil && m.discoveryDoc.TokenEndpoint != "" {
		endpoint = m.discoveryDoc.TokenEndpoint
	}
	username, password, err := ReadCredentialsFile(endpoint)
	if err != nil {
		return cdseerrors.Wrap(cdseerrors.TypeNoCredentials, "no credentials supplied and none found in credentials file", err)
	}
	m.username, m.password = username, password
	return nil
}

func (m *Manager) ensureDiscoveryLocked(ctx context.Context) error {
	if m.discoveryDoc != nil {
		return nil
	}
	client := httpclient.New(httpclient.Options{MaxRetries: httpclient.DefaultGETRetries, Proxies: m.proxies})
	doc, err := oidc.Discover(ctx, client, m.discoveryURL)
	if err != nil {
		return err
	}
	m.discoveryDoc = doc

	httprcClient := httprc.NewClient()
	cache, err := jwk.NewCache(ctx, httprcClient)
	if err != nil {
		return cdseerrors.Wrap(cdseerrors.TypeTokenClientConnection, "creating JWKS cache", err)
	}
	if err := cache.Register(ctx, doc.JWKSURI); err != nil {
		return cdseerrors.Wrap(cdseerrors.TypeTokenClientConnection, "registering JWKS URL", err)
	}
	m.jwksCache = cache
	return nil
}

// classifyTokenError maps an error from oauth2.Config's token exchange
// into the taxonomy: a 401 from the token endpoint means the credentials
// themselves are wrong; anything else is a connectivity/protocol failure.
func classifyTokenError(err error, username, password string) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil && retrieveErr.Response.StatusCode == http.StatusUnauthorized {
		logger.Warnf("token exchange rejected for user %q (password length %d)", username, len(password))
		return cdseerrors.New(cdseerrors.TypeInvalidCredentials, fmt.Sprintf("invalid credentials (password length %d)", len(password)))
	}
	return cdseerrors.Wrap(cdseerrors.TypeTokenExchangeFailed, "token endpoint unreachable", err)
}

// extraSeconds reads a non-standard integer-seconds field (e.g.
// refresh_expires_in) that oauth2.Token preserves via Extra.
func extraSeconds(tok *oauth2.Token, field string) time.Duration {
	switch v := tok.Extra(field).(type) {
	case float64:
		return time.Duration(v) * time.Second
	case json.Number:
		n, _ := v.Int64()
		return time.Duration(n) * time.Second
	default:
		return 0
	}
}

// validateAccessTokenLocked decodes and verifies the just-exchanged access
// token against the JWKS, using the algorithms the discovery document
// advertises, and sets the expiry fields from its claims. Audience
// verification is intentionally skipped (server-specific, per spec).
func (m *Manager) validateAccessTokenLocked(ctx context.Context) error {
	keyFunc := func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, cdseerrors.New(cdseerrors.TypeTokenExpiredSignature, "token header missing kid")
		}
		keySet, err := m.jwksCache.Lookup(ctx, m.discoveryDoc.JWKSURI)
		if err != nil {
			return nil, cdseerrors.Wrap(cdseerrors.TypeTokenClientConnection, "looking up JWKS", err)
		}
		key, ok := keySet.LookupKeyID(kid)
		if !ok {
			return nil, cdseerrors.New(cdseerrors.TypeTokenClientConnection, fmt.Sprintf("key id %s not found in JWKS", kid))
		}
		var raw interface{}
		if err := jwk.Export(key, &raw); err != nil {
			return nil, cdseerrors.Wrap(cdseerrors.TypeTokenClientConnection, "exporting JWKS key", err)
		}
		return raw, nil
	}

	algs := m.discoveryDoc.IDTokenSigningAlgValuesSupported
	var parseOpts []jwt.ParserOption
	if len(algs) > 0 {
		parseOpts = append(parseOpts, jwt.WithValidMethods(algs))
	}

	token, err := jwt.Parse(m.accessToken, keyFunc, parseOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return cdseerrors.Wrap(cdseerrors.TypeTokenExpiredSignature, "access token signature expired", err)
		}
		return cdseerrors.Wrap(cdseerrors.TypeTokenClientConnection, "validating access token", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return cdseerrors.New(cdseerrors.TypeTokenClientConnection, "access token has no claims")
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return cdseerrors.New(cdseerrors.TypeTokenClientConnection, "access token missing exp claim")
	}
	m.accessTokenExpiry = exp.Time

	iat, err := claims.GetIssuedAt()
	issuedAt := time.Now()
	if err == nil && iat != nil {
		issuedAt = iat.Time
	}
	m.refreshTokenExpiry = issuedAt.Add(m.pendingRefreshExpiresIn)

	return nil
}

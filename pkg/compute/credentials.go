package compute

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"
)

// Scopes requested for service account tokens.
const Scopes = "https://www.googleapis.com/auth/earthengine https://www.googleapis.com/auth/cloud-platform"

const (
	defaultTokenURL = "https://oauth2.googleapis.com/token"
	jwtBearerGrant  = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	// Tokens are refreshed this long before they expire.
	expiryLeeway = time.Minute
)

// TokenSource yields bearer tokens for the compute service.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Strategy is one way of obtaining credentials. Resolve must fail fast when
// its inputs are missing so the chain can move on.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context) (TokenSource, error)
}

// StrategyFailure records why one strategy failed.
type StrategyFailure struct {
	Strategy string
	Err      error
}

// ChainError is returned when every strategy failed.
type ChainError struct {
	Failures []StrategyFailure
}

func (e *ChainError) Error() string {
	if len(e.Failures) == 0 {
		return "compute: no credential strategies configured"
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Strategy+": "+f.Err.Error())
	}
	return "compute: no usable credentials (" + strings.Join(parts, "; ") + ")"
}

// Unwrap exposes every strategy error to errors.Is and errors.As.
func (e *ChainError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Provider resolves credentials through an ordered chain of strategies. The
// first success is cached for the life of the Provider; failures are not,
// so a later call retries the whole chain. Provider is itself a
// TokenSource and is meant to be created once and shared.
type Provider struct {
	strategies []Strategy

	mu     sync.Mutex
	source TokenSource
	name   string
}

// NewProvider returns a Provider trying strategies in order.
func NewProvider(strategies ...Strategy) *Provider {
	return &Provider{strategies: strategies}
}

// Session returns the cached token source, resolving it on first use.
func (p *Provider) Session(ctx context.Context) (TokenSource, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.source != nil {
		return p.source, nil
	}

	chain := &ChainError{}
	for _, s := range p.strategies {
		src, err := s.Resolve(ctx)
		if err != nil {
			chain.Failures = append(chain.Failures, StrategyFailure{Strategy: s.Name(), Err: err})
			continue
		}
		p.source, p.name = src, s.Name()
		return src, nil
	}
	return nil, chain
}

// Strategy returns the name of the strategy that produced the cached
// session, or "" before a session exists.
func (p *Provider) Strategy() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

// Connect establishes the session without returning it.
func (p *Provider) Connect(ctx context.Context) error {
	_, err := p.Session(ctx)
	return err
}

// Token implements TokenSource.
func (p *Provider) Token(ctx context.Context) (string, error) {
	src, err := p.Session(ctx)
	if err != nil {
		return "", err
	}
	return src.Token(ctx)
}

// StaticToken uses a fixed bearer token.
type StaticToken string

// Name implements Strategy.
func (StaticToken) Name() string { return "static_token" }

// Resolve implements Strategy.
func (t StaticToken) Resolve(context.Context) (TokenSource, error) {
	if t == "" {
		return nil, eris.New("no token configured")
	}
	return t, nil
}

// Token implements TokenSource.
func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// keyFile covers both service account keys and authorized user files.
type keyFile struct {
	Type         string `json:"type"`
	ClientEmail  string `json:"client_email"`
	PrivateKey   string `json:"private_key"`
	PrivateKeyID string `json:"private_key_id"`
	TokenURI     string `json:"token_uri"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"refresh_token"`
}

// KeyFile loads a service account key or authorized user credential file.
type KeyFile struct {
	Path string
	HTTP *http.Client
}

// Name implements Strategy.
func (k KeyFile) Name() string { return "key_file" }

// Resolve implements Strategy. It fetches a first token so that a revoked
// or malformed key fails here rather than mid-run.
func (k KeyFile) Resolve(ctx context.Context) (TokenSource, error) {
	return resolveFile(ctx, k.Path, k.HTTP)
}

// ApplicationDefault loads the file named by GOOGLE_APPLICATION_CREDENTIALS.
type ApplicationDefault struct {
	HTTP *http.Client
}

// Name implements Strategy.
func (ApplicationDefault) Name() string { return "application_default" }

// Resolve implements Strategy.
func (a ApplicationDefault) Resolve(ctx context.Context) (TokenSource, error) {
	path := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	if path == "" {
		return nil, eris.New("GOOGLE_APPLICATION_CREDENTIALS is not set")
	}
	return resolveFile(ctx, path, a.HTTP)
}

// HostCredentials loads the refresh token left by an interactive login on
// this host.
type HostCredentials struct {
	Path     string
	TokenURL string
	HTTP     *http.Client
}

// Name implements Strategy.
func (HostCredentials) Name() string { return "host_credentials" }

// Resolve implements Strategy.
func (h HostCredentials) Resolve(ctx context.Context) (TokenSource, error) {
	kf, err := readKeyFile(h.Path)
	if err != nil {
		return nil, err
	}
	if kf.RefreshToken == "" {
		return nil, eris.Errorf("%s has no refresh_token", h.Path)
	}
	tokenURL := h.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	return prime(ctx, refreshSource(kf, tokenURL, h.HTTP))
}

func resolveFile(ctx context.Context, path string, hc *http.Client) (TokenSource, error) {
	kf, err := readKeyFile(path)
	if err != nil {
		return nil, err
	}
	switch kf.Type {
	case "service_account":
		src, err := serviceAccountSource(kf, hc)
		if err != nil {
			return nil, err
		}
		return prime(ctx, src)
	case "authorized_user":
		tokenURL := kf.TokenURI
		if tokenURL == "" {
			tokenURL = defaultTokenURL
		}
		return prime(ctx, refreshSource(kf, tokenURL, hc))
	default:
		return nil, eris.Errorf("%s: unsupported credential type %q", path, kf.Type)
	}
}

func readKeyFile(path string) (*keyFile, error) {
	if path == "" {
		return nil, eris.New("no credential path configured")
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, eris.Wrap(err, "resolve home directory")
		}
		path = filepath.Join(home, path[2:])
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, eris.Wrapf(err, "parse %s", path)
	}
	return &kf, nil
}

func prime(ctx context.Context, src *cachedSource) (TokenSource, error) {
	if _, err := src.Token(ctx); err != nil {
		return nil, err
	}
	return src, nil
}

// cachedSource reuses a token until shortly before it expires.
type cachedSource struct {
	fetch func(ctx context.Context) (token string, ttl time.Duration, err error)
	now   func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

func (c *cachedSource) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Add(expiryLeeway).Before(c.expiry) {
		return c.token, nil
	}
	tok, ttl, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}
	c.token, c.expiry = tok, c.now().Add(ttl)
	return tok, nil
}

func serviceAccountSource(kf *keyFile, hc *http.Client) (*cachedSource, error) {
	if kf.ClientEmail == "" || kf.PrivateKey == "" {
		return nil, eris.New("service account key is missing client_email or private_key")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(kf.PrivateKey))
	if err != nil {
		return nil, eris.Wrap(err, "parse service account private key")
	}
	tokenURL := kf.TokenURI
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}

	src := &cachedSource{now: time.Now}
	src.fetch = func(ctx context.Context) (string, time.Duration, error) {
		now := src.now()
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
			"iss":   kf.ClientEmail,
			"scope": Scopes,
			"aud":   tokenURL,
			"iat":   now.Unix(),
			"exp":   now.Add(time.Hour).Unix(),
		})
		if kf.PrivateKeyID != "" {
			tok.Header["kid"] = kf.PrivateKeyID
		}
		assertion, err := tok.SignedString(key)
		if err != nil {
			return "", 0, eris.Wrap(err, "sign token assertion")
		}
		return exchange(ctx, hc, tokenURL, url.Values{
			"grant_type": {jwtBearerGrant},
			"assertion":  {assertion},
		})
	}
	return src, nil
}

func refreshSource(kf *keyFile, tokenURL string, hc *http.Client) *cachedSource {
	src := &cachedSource{now: time.Now}
	src.fetch = func(ctx context.Context) (string, time.Duration, error) {
		return exchange(ctx, hc, tokenURL, url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {kf.RefreshToken},
			"client_id":     {kf.ClientID},
			"client_secret": {kf.ClientSecret},
		})
	}
	return src
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

func exchange(ctx context.Context, hc *http.Client, tokenURL string, form url.Values) (string, time.Duration, error) {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, eris.Wrap(err, "build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := hc.Do(req)
	if err != nil {
		return "", 0, eris.Wrap(err, "token request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", 0, eris.Wrap(err, "read token response")
	}
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", 0, eris.Wrapf(err, "parse token response (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK || tr.AccessToken == "" {
		return "", 0, eris.Errorf("token exchange failed (status %d): %s %s", resp.StatusCode, tr.Error, tr.Description)
	}
	ttl := time.Duration(tr.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	return tr.AccessToken, ttl, nil
}

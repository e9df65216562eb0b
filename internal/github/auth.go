package github

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gh "github.com/google/go-github/v66/github"

	"github.com/speckit/taskbridge/internal/config"
)

// AuthMode discriminates the supported credential variants.
type AuthMode string

const (
	ModePAT   AuthMode = "pat"
	ModeOAuth AuthMode = "oauth"
	ModeApp   AuthMode = "app"
)

// Permission records one granted capability on the resolved identity.
type Permission struct {
	Name    string `json:"name"`
	Granted bool   `json:"granted"`
	Level   string `json:"level,omitempty"`
}

// Credential is the resolved authentication material for exactly one
// mode. It is built once from configuration and immutable afterwards;
// a refresh, if ever added, replaces the whole value.
type Credential struct {
	mode AuthMode

	token        string
	clientID     string
	clientSecret string
	appID        string
	privateKey   string

	scopes      []string
	expiresAt   *time.Time
	permissions []Permission
}

// Mode returns the credential's variant tag.
func (c *Credential) Mode() AuthMode { return c.mode }

// Scopes returns the scope strings granted to the credential.
func (c *Credential) Scopes() []string { return c.scopes }

// Permissions returns the recorded permission grants.
func (c *Credential) Permissions() []Permission { return c.permissions }

// ExpiresAt returns the credential expiry, or nil when it never expires.
func (c *Credential) ExpiresAt() *time.Time { return c.expiresAt }

// NewPATCredential builds a personal-access-token credential.
func NewPATCredential(token string) (*Credential, error) {
	if strings.TrimSpace(token) == "" {
		return nil, NewClassified(KindAuthMissingCredentials, "personal access token is required for pat auth", nil)
	}
	return &Credential{mode: ModePAT, token: token}, nil
}

// NewOAuthCredential builds an OAuth application credential.
func NewOAuthCredential(clientID, clientSecret string) (*Credential, error) {
	if strings.TrimSpace(clientID) == "" || strings.TrimSpace(clientSecret) == "" {
		return nil, NewClassified(KindAuthMissingCredentials, "client id and client secret are required for oauth auth", nil)
	}
	return &Credential{mode: ModeOAuth, clientID: clientID, clientSecret: clientSecret}, nil
}

// NewAppCredential builds a GitHub App credential. The private key must
// be a parseable RSA PEM; catching a malformed key here keeps the
// failure at construction time instead of first use.
func NewAppCredential(appID, privateKey string) (*Credential, error) {
	if strings.TrimSpace(appID) == "" || strings.TrimSpace(privateKey) == "" {
		return nil, NewClassified(KindAuthMissingCredentials, "app id and private key are required for app auth", nil)
	}
	if _, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privateKey)); err != nil {
		return nil, NewClassified(KindAuthMissingCredentials, fmt.Sprintf("invalid app private key: %v", err), nil)
	}
	return &Credential{mode: ModeApp, appID: appID, privateKey: privateKey}, nil
}

// CredentialFromConfig maps the loaded configuration to a credential of
// the configured mode.
func CredentialFromConfig(cfg *config.Config) (*Credential, error) {
	switch cfg.AuthType {
	case "pat":
		return NewPATCredential(cfg.Token)
	case "oauth":
		return NewOAuthCredential(cfg.ClientID, cfg.ClientSecret)
	case "app":
		return NewAppCredential(cfg.AppID, cfg.PrivateKey)
	default:
		return nil, NewClassified(KindAuthMissingCredentials, fmt.Sprintf("unsupported auth type: %s", cfg.AuthType), nil)
	}
}

// AppJWT signs a short-lived RS256 JWT for GitHub App authentication.
// The installation token flow built on top of it is not wired up yet;
// this is the only piece of app auth that exists today.
func (c *Credential) AppJWT() (string, error) {
	if c.mode != ModeApp {
		return "", fmt.Errorf("AppJWT requires an app credential, got %s", c.mode)
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(c.privateKey))
	if err != nil {
		return "", fmt.Errorf("failed to parse private key: %w", err)
	}

	appID, err := strconv.ParseInt(c.appID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid app ID: %w", err)
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
		Issuer:    strconv.FormatInt(appID, 10),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT: %w", err)
	}

	return signed, nil
}

// Handle is an authenticated API handle: the go-github client plus the
// identity confirmed by the startup liveness check. It is constructed
// once and shared read-only for the lifetime of the process.
type Handle struct {
	Client *gh.Client
	Mode   AuthMode
	Login  string
	Scopes []string
}

// Strategy resolves a Credential into a Handle. BaseURL overrides the
// API endpoint for tests; empty means api.github.com.
type Strategy struct {
	BaseURL string
}

// Authenticate builds an authenticated handle for the credential's mode
// and performs one read-only liveness call against the API. The check
// is not retried; a failure here is an auth error with the upstream
// status embedded, and aborts startup.
func (s *Strategy) Authenticate(ctx context.Context, cred *Credential) (*Handle, error) {
	if cred == nil {
		return nil, NewClassified(KindAuthMissingCredentials, "no credential supplied", nil)
	}

	switch cred.mode {
	case ModePAT:
		return s.authenticatePAT(ctx, cred)
	case ModeOAuth:
		return s.authenticateOAuthApp(ctx, cred)
	case ModeApp:
		// Installation-token auth is a recognized configuration shape
		// but constructing a handle from it is not implemented.
		return nil, NewClassified(KindAuthFailed,
			"GitHub App installation auth is not yet supported; use pat or oauth",
			map[string]any{"mode": string(ModeApp)})
	default:
		return nil, NewClassified(KindAuthMissingCredentials, fmt.Sprintf("unknown auth mode: %s", cred.mode), nil)
	}
}

// asAuthError maps a liveness-check failure into the auth taxonomy: a
// rejection already classified as an auth kind keeps that kind, so a
// remote 401 stays AUTH_INVALID_TOKEN; everything else becomes
// AUTH_FAILED with the upstream details attached.
func asAuthError(stage string, err error) *ClassifiedError {
	ce := ClassifyErr(err)
	switch ce.Kind {
	case KindAuthMissingCredentials, KindAuthInvalidToken:
		return ce
	}
	return NewClassified(KindAuthFailed, fmt.Sprintf("%s: %s", stage, ce.Message), ce.Details)
}

func (s *Strategy) authenticatePAT(ctx context.Context, cred *Credential) (*Handle, error) {
	client := s.rebase(gh.NewClient(nil).WithAuthToken(cred.token))

	user, resp, err := client.Users.Get(ctx, "")
	if err != nil {
		return nil, asAuthError("token identity check failed", err)
	}

	var scopes []string
	if header := resp.Header.Get("X-OAuth-Scopes"); header != "" {
		for _, s := range strings.Split(header, ",") {
			if s = strings.TrimSpace(s); s != "" {
				scopes = append(scopes, s)
			}
		}
	}

	log.Printf("[Auth] Authenticated as %s (pat, %d scopes)", user.GetLogin(), len(scopes))
	return &Handle{Client: client, Mode: ModePAT, Login: user.GetLogin(), Scopes: scopes}, nil
}

func (s *Strategy) authenticateOAuthApp(ctx context.Context, cred *Credential) (*Handle, error) {
	transport := &gh.BasicAuthTransport{
		Username: cred.clientID,
		Password: cred.clientSecret,
	}
	client := s.rebase(gh.NewClient(transport.Client()))

	// An OAuth app has no user identity; /rate_limit is the cheapest
	// authenticated read that confirms the client id/secret are live.
	if _, _, err := client.RateLimit.Get(ctx); err != nil {
		return nil, asAuthError("oauth app liveness check failed", err)
	}

	log.Printf("[Auth] Authenticated as oauth app %s", cred.clientID)
	return &Handle{Client: client, Mode: ModeOAuth, Login: cred.clientID}, nil
}

func (s *Strategy) rebase(client *gh.Client) *gh.Client {
	if s.BaseURL == "" {
		return client
	}
	base, err := url.Parse(strings.TrimSuffix(s.BaseURL, "/") + "/")
	if err != nil {
		return client
	}
	client.BaseURL = base
	return client
}

package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultAuthorizeURL = "https://github.com/login/oauth/authorize"
	defaultTokenURL     = "https://github.com/login/oauth/access_token"
	defaultUserURL      = "https://api.github.com/user"
)

// OAuthFlow implements the OAuth web application flow: building the
// authorization redirect, exchanging a one-time code for an access
// token and fetching the authenticated user's profile.
type OAuthFlow struct {
	ClientID     string
	ClientSecret string

	// Endpoint overrides for tests; zero values mean github.com.
	AuthorizeURL string
	TokenURL     string
	UserURL      string

	HTTPClient *http.Client
}

// OAuthToken is the result of a successful code exchange.
type OAuthToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
}

// OAuthUser is the profile of the user behind an access token.
type OAuthUser struct {
	Login     string `json:"login"`
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

func (f *OAuthFlow) httpClient() *http.Client {
	if f.HTTPClient != nil {
		return f.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// AuthorizationURL builds the redirect URL that starts the web flow.
// state is an optional anti-forgery token echoed back on the redirect.
func (f *OAuthFlow) AuthorizationURL(redirectURI string, scopes []string, state string) string {
	endpoint := f.AuthorizeURL
	if endpoint == "" {
		endpoint = defaultAuthorizeURL
	}

	q := url.Values{}
	q.Set("client_id", f.ClientID)
	if redirectURI != "" {
		q.Set("redirect_uri", redirectURI)
	}
	if len(scopes) > 0 {
		q.Set("scope", strings.Join(scopes, " "))
	}
	if state != "" {
		q.Set("state", state)
	}

	return endpoint + "?" + q.Encode()
}

// ExchangeCode trades a one-time authorization code for an access
// token. Any non-2xx status or a payload carrying an "error" field is a
// failure, never a partial success.
func (f *OAuthFlow) ExchangeCode(ctx context.Context, code, redirectURI string) (*OAuthToken, error) {
	endpoint := f.TokenURL
	if endpoint == "" {
		endpoint = defaultTokenURL
	}

	form := url.Values{}
	form.Set("client_id", f.ClientID)
	form.Set("client_secret", f.ClientSecret)
	form.Set("code", code)
	if redirectURI != "" {
		form.Set("redirect_uri", redirectURI)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, NewClassified(KindAuthFailed, fmt.Sprintf("failed to build token request: %v", err), nil)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient().Do(req)
	if err != nil {
		return nil, NewClassified(KindAuthFailed, fmt.Sprintf("token exchange request failed: %v", err), nil)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewClassified(KindAuthFailed,
			fmt.Sprintf("token exchange failed: HTTP %d", resp.StatusCode),
			map[string]any{"status": resp.StatusCode, "body": string(body)})
	}

	var payload struct {
		OAuthToken
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, NewClassified(KindAuthFailed, fmt.Sprintf("failed to decode token response: %v", err),
			map[string]any{"status": resp.StatusCode})
	}
	if payload.Error != "" {
		return nil, NewClassified(KindAuthFailed,
			fmt.Sprintf("token exchange rejected: %s (%s)", payload.Error, payload.ErrorDescription),
			map[string]any{"status": resp.StatusCode, "error": payload.Error})
	}
	if payload.AccessToken == "" {
		return nil, NewClassified(KindAuthFailed, "token exchange returned no access token",
			map[string]any{"status": resp.StatusCode})
	}

	return &payload.OAuthToken, nil
}

// FetchUser retrieves the profile of the user an access token belongs
// to, applying the same non-success rules as ExchangeCode.
func (f *OAuthFlow) FetchUser(ctx context.Context, accessToken string) (*OAuthUser, error) {
	endpoint := f.UserURL
	if endpoint == "" {
		endpoint = defaultUserURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, NewClassified(KindAuthFailed, fmt.Sprintf("failed to build user request: %v", err), nil)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := f.httpClient().Do(req)
	if err != nil {
		return nil, NewClassified(KindAuthFailed, fmt.Sprintf("user profile request failed: %v", err), nil)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewClassified(KindAuthFailed,
			fmt.Sprintf("user profile fetch failed: HTTP %d", resp.StatusCode),
			map[string]any{"status": resp.StatusCode, "body": string(body)})
	}

	var payload struct {
		OAuthUser
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, NewClassified(KindAuthFailed, fmt.Sprintf("failed to decode user response: %v", err),
			map[string]any{"status": resp.StatusCode})
	}
	if payload.Error != "" {
		return nil, NewClassified(KindAuthFailed, fmt.Sprintf("user profile fetch rejected: %s", payload.Error),
			map[string]any{"status": resp.StatusCode, "error": payload.Error})
	}

	return &payload.OAuthUser, nil
}

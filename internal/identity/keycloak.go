// Package identity talks to the external identity provider's admin API.
// The service only ever needs one operation from it: delete a user.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/accountsync/userservice/config"
)

// ErrUserNotFound is returned when the identity provider has no user with
// the given id. Callers treat it as "already deleted", which is what makes
// at-least-once delivery of deletion events safe.
var ErrUserNotFound = errors.New("identity: user not found")

const (
	defaultHTTPTimeout = 10 * time.Second
	tokenExpirySlack   = 30 * time.Second
)

// KeycloakClient deletes users through the Keycloak admin REST API using
// client-credentials service-account tokens.
type KeycloakClient struct {
	baseURL      string
	realm        string
	clientID     string
	clientSecret string
	httpClient   *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewKeycloakClient constructs a client from config.
func NewKeycloakClient(cfg config.KeycloakConfig) (*KeycloakClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("keycloak url is required")
	}
	if strings.TrimSpace(cfg.Realm) == "" {
		return nil, errors.New("keycloak realm is required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errors.New("keycloak client id and secret are required")
	}

	return &KeycloakClient{
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		realm:        cfg.Realm,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient:   &http.Client{Timeout: defaultHTTPTimeout},
	}, nil
}

// DeleteUser removes the user from the identity provider. A user the
// provider no longer knows yields ErrUserNotFound. A stale cached token is
// refreshed once before the error surfaces.
func (c *KeycloakClient) DeleteUser(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("identity: user id is required")
	}

	status, err := c.deleteOnce(ctx, id, false)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		status, err = c.deleteOnce(ctx, id, true)
		if err != nil {
			return err
		}
	}

	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return ErrUserNotFound
	default:
		return fmt.Errorf("identity: delete user %s: unexpected status %d", id, status)
	}
}

func (c *KeycloakClient) deleteOnce(ctx context.Context, id string, forceToken bool) (int, error) {
	token, err := c.token(ctx, forceToken)
	if err != nil {
		return 0, err
	}

	endpoint := fmt.Sprintf("%s/admin/realms/%s/users/%s",
		c.baseURL, url.PathEscape(c.realm), url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("identity: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("identity: delete user %s: %w", id, err)
	}
	defer res.Body.Close()

	return res.StatusCode, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// token returns a cached service-account token, exchanging client
// credentials when none is cached, it is near expiry, or force is set.
func (c *KeycloakClient) token(ctx context.Context, force bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !force && c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	endpoint := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token",
		c.baseURL, url.PathEscape(c.realm))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("identity: new token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("identity: token exchange failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("identity: token exchange unexpected status %d", res.StatusCode)
	}

	var payload tokenResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("identity: decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", errors.New("identity: empty access token in response")
	}

	c.accessToken = payload.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second).Add(-tokenExpirySlack)
	return c.accessToken, nil
}

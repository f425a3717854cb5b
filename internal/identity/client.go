package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"beratung.org/internal/obs"
)

var (
	ErrConflict    = errors.New("identity: already exists")
	ErrNotFound    = errors.New("identity: not found")
	ErrUnavailable = errors.New("identity: service unavailable")
)

const (
	defaultTimeout = 10 * time.Second
	// Fallback token lifetime when the provider token carries no usable exp.
	fallbackTokenTTL = time.Minute
	// Refresh slightly before the token actually expires.
	tokenExpirySlack = 30 * time.Second
)

// Profile is the identity-provider view of a new user.
type Profile struct {
	Username  string
	Email     string
	FirstName string
	LastName  string
}

// Config configures the identity provider client.
type Config struct {
	BaseURL     string
	Realm       string
	AdminUser   string
	AdminSecret string
	Timeout     time.Duration
}

// Client is a thin typed client for the identity provider's admin API.
type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time

	mu             sync.Mutex
	adminToken     string
	adminTokenGood time.Time
}

// NewClient constructs a Client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		now:  time.Now,
	}
}

// CreateIdentity creates a user and returns the provider-assigned id.
// A duplicate unique name surfaces as ErrConflict, verbatim and unretried.
func (c *Client) CreateIdentity(ctx context.Context, p Profile) (string, error) {
	start := time.Now()
	defer obs.ObserveExternalCall("identity", "create", start)

	body := map[string]any{
		"username":  p.Username,
		"email":     p.Email,
		"firstName": p.FirstName,
		"lastName":  p.LastName,
		"enabled":   true,
	}
	resp, err := c.do(ctx, http.MethodPost, c.usersURL(""), body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", err
	}

	// The provider returns the new id in the Location header.
	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", fmt.Errorf("create identity response missing location: %w", ErrUnavailable)
	}
	return path.Base(loc), nil
}

// SetCredential sets the user's permanent credential.
func (c *Client) SetCredential(ctx context.Context, id, secret string) error {
	start := time.Now()
	defer obs.ObserveExternalCall("identity", "set_credential", start)

	body := map[string]any{
		"type":      "password",
		"value":     secret,
		"temporary": false,
	}
	resp, err := c.do(ctx, http.MethodPut, c.usersURL(id)+"/reset-password", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// AssignRole grants a realm role to the user.
func (c *Client) AssignRole(ctx context.Context, id, role string) error {
	start := time.Now()
	defer obs.ObserveExternalCall("identity", "assign_role", start)

	// Role mappings require the role representation, not just the name.
	resp, err := c.do(ctx, http.MethodGet, c.realmURL()+"/roles/"+url.PathEscape(role), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	var rep struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		return fmt.Errorf("decode role: %w", err)
	}

	resp2, err := c.do(ctx, http.MethodPost, c.usersURL(id)+"/role-mappings/realm", []any{rep})
	if err != nil {
		return err
	}
	defer resp2.Body.Close()
	return checkStatus(resp2)
}

// DeleteIdentity removes the user. The rollback executor is the only caller
// outside explicit user-initiated deactivation.
func (c *Client) DeleteIdentity(ctx context.Context, id string) error {
	start := time.Now()
	defer obs.ObserveExternalCall("identity", "delete", start)

	resp, err := c.do(ctx, http.MethodDelete, c.usersURL(id), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func (c *Client) realmURL() string {
	return c.cfg.BaseURL + "/admin/realms/" + url.PathEscape(c.cfg.Realm)
}

func (c *Client) usersURL(id string) string {
	u := c.realmURL() + "/users"
	if id != "" {
		u += "/" + url.PathEscape(id)
	}
	return u
}

func (c *Client) do(ctx context.Context, method, rawURL string, body any) (*http.Response, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resp, nil
}

// accessToken returns a cached admin token, logging in again shortly before
// expiry. Expiry is read from the token's exp claim; the client never
// verifies the signature since it is the audience, not the issuer.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.adminToken != "" && c.now().Before(c.adminTokenGood) {
		return c.adminToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("client_id", "admin-cli")
	form.Set("username", c.cfg.AdminUser)
	form.Set("password", c.cfg.AdminSecret)

	tokenURL := c.cfg.BaseURL + "/realms/master/protocol/openid-connect/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("admin login failed: %w", statusToErr(resp.StatusCode))
	}

	var tok struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token: %w", ErrUnavailable)
	}

	c.adminToken = tok.AccessToken
	c.adminTokenGood = c.now().Add(fallbackTokenTTL)
	if exp := tokenExpiry(tok.AccessToken); !exp.IsZero() {
		c.adminTokenGood = exp.Add(-tokenExpirySlack)
	}
	return c.adminToken, nil
}

func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("%w: status %d: %s", statusToErr(resp.StatusCode), resp.StatusCode, strings.TrimSpace(string(data)))
}

func statusToErr(code int) error {
	switch code {
	case http.StatusConflict:
		return ErrConflict
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return ErrUnavailable
	}
}

package legacychat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"beratung.org/internal/obs"
)

// The legacy group-chat system is being phased out. Account creation is
// optional: callers substitute a sentinel id when it fails and continue.

var ErrUnavailable = errors.New("legacychat: service unavailable")

const defaultTimeout = 10 * time.Second

// Config configures the legacy chat client.
type Config struct {
	BaseURL   string
	AuthToken string
	AuthUser  string
	Timeout   time.Duration
}

// Client is a thin typed client for the legacy chat system's admin API.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient constructs a Client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

// CreateAccount creates a user in the legacy system and returns its id.
func (c *Client) CreateAccount(ctx context.Context, name, secret, email, displayName string) (string, error) {
	start := time.Now()
	defer obs.ObserveExternalCall("legacychat", "create_account", start)

	body := map[string]any{
		"username": name,
		"password": secret,
		"email":    email,
		"name":     displayName,
		"verified": true,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/v1/users.create", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Auth-Token", c.cfg.AuthToken)
	req.Header.Set("X-User-Id", c.cfg.AuthUser)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var created struct {
		Success bool `json:"success"`
		User    struct {
			ID string `json:"_id"`
		} `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !created.Success || created.User.ID == "" {
		return "", fmt.Errorf("account creation rejected: %w", ErrUnavailable)
	}
	return created.User.ID, nil
}

// DeleteAccount removes a user. Used only as a rollback compensation.
func (c *Client) DeleteAccount(ctx context.Context, id string) error {
	start := time.Now()
	defer obs.ObserveExternalCall("legacychat", "delete_account", start)

	body, err := json.Marshal(map[string]string{"userId": id})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/v1/users.delete", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Auth-Token", c.cfg.AuthToken)
	req.Header.Set("X-User-Id", c.cfg.AuthUser)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

package appointments

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
	"beratung.org/internal/principal"
)

var ErrUnavailable = errors.New("appointments: service unavailable")

const defaultTimeout = 10 * time.Second

// Config configures the scheduling service client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client registers principals with the external scheduling service.
// Registration is go/no-go: a failure here aborts the whole provisioning.
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

// RegisterConsultant announces the principal to the scheduling service.
func (c *Client) RegisterConsultant(ctx context.Context, p principal.Principal) error {
	start := time.Now()
	defer obs.ObserveExternalCall("appointments", "register_consultant", start)

	body := map[string]any{
		"consultantId": p.ID,
		"email":        p.Email,
		"firstname":    p.FirstName,
		"lastname":     p.LastName,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/consultants", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

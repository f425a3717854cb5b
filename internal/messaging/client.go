package messaging

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"beratung.org/internal/obs"
)

const (
	endpointRegister    = "/_synapse/admin/v1/register"
	endpointLogin       = "/_matrix/client/r0/login"
	endpointCreateRoom  = "/_matrix/client/r0/createRoom"
	endpointInvite      = "/_matrix/client/r0/rooms/%s/invite"
	endpointJoin        = "/_matrix/client/r0/rooms/%s/join"
	endpointKick        = "/_matrix/client/r0/rooms/%s/kick"
	endpointPowerLevels = "/_matrix/client/r0/rooms/%s/state/m.room.power_levels"
	endpointSync        = "/_matrix/client/r0/sync"

	defaultTimeout = 10 * time.Second
	// Long-poll sync uses its own, much longer timeout.
	defaultSyncTimeout = 30 * time.Second
)

// Credentials identifies a messaging-system account, e.g. an agency service
// account.
type Credentials struct {
	UserID string
	Secret string
}

// Config configures the messaging client.
type Config struct {
	BaseURL            string
	RegistrationSecret string
	Timeout            time.Duration
	SyncTimeout        time.Duration
}

// Client is a thin typed client for the real-time messaging system. It does
// no orchestration; every call maps to one wire operation and surfaces typed
// errors.
type Client struct {
	cfg    Config
	http   *http.Client
	tokens *TokenCache
}

// NewClient constructs a Client. The token cache is injected so concurrent
// sagas and room transitions share one cache per process.
func NewClient(cfg Config, tokens *TokenCache) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = defaultSyncTimeout
	}
	if tokens == nil {
		tokens = NewTokenCache(0)
	}
	return &Client{
		cfg: cfg,
		// Sync long-polls block server-side up to SyncTimeout; leave headroom.
		http:   &http.Client{Timeout: cfg.SyncTimeout + cfg.Timeout},
		tokens: tokens,
	}
}

// LocalPart extracts the local part of a fully qualified user id
// ("@name:server" → "name"). Returns the input unchanged when it is not
// qualified.
func LocalPart(userID string) string {
	s := strings.TrimPrefix(userID, "@")
	if i := strings.IndexByte(s, ':'); i > 0 {
		return s[:i]
	}
	return s
}

// CreateAccount registers a new account via the admin shared-secret flow and
// returns the fully qualified user id.
func (c *Client) CreateAccount(ctx context.Context, name, secret, displayName string) (string, error) {
	start := time.Now()
	defer obs.ObserveExternalCall("messaging", "create_account", start)

	var nonceResp struct {
		Nonce string `json:"nonce"`
	}
	if err := c.do(ctx, http.MethodGet, c.cfg.BaseURL+endpointRegister, "", nil, &nonceResp); err != nil {
		return "", err
	}
	if nonceResp.Nonce == "" {
		return "", fmt.Errorf("register nonce missing: %w", ErrUnavailable)
	}

	body := map[string]any{
		"nonce":       nonceResp.Nonce,
		"username":    name,
		"password":    secret,
		"displayname": displayName,
		"admin":       false,
		"mac":         registrationMAC(c.cfg.RegistrationSecret, nonceResp.Nonce, name, secret),
	}
	var created struct {
		UserID string `json:"user_id"`
	}
	if err := c.do(ctx, http.MethodPost, c.cfg.BaseURL+endpointRegister, "", body, &created); err != nil {
		return "", err
	}
	if created.UserID == "" {
		return "", fmt.Errorf("register response missing user_id: %w", ErrUnavailable)
	}
	return created.UserID, nil
}

// Login authenticates the user and returns an access token, served from the
// cache when a fresh one is available.
func (c *Client) Login(ctx context.Context, name, secret string) (string, error) {
	if token, ok := c.tokens.Get(name); ok {
		return token, nil
	}

	start := time.Now()
	defer obs.ObserveExternalCall("messaging", "login", start)

	body := map[string]any{
		"type":     "m.login.password",
		"user":     name,
		"password": secret,
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.do(ctx, http.MethodPost, c.cfg.BaseURL+endpointLogin, "", body, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrLogin, err)
	}
	if resp.AccessToken == "" {
		return "", ErrLogin
	}
	c.tokens.Put(name, resp.AccessToken)
	return resp.AccessToken, nil
}

// CreateRoom creates a private room owned by the token holder and returns
// its room id.
func (c *Client) CreateRoom(ctx context.Context, name, alias, ownerToken string) (string, error) {
	start := time.Now()
	defer obs.ObserveExternalCall("messaging", "create_room", start)

	body := map[string]any{
		"name":            name,
		"room_alias_name": alias,
		"preset":          "private_chat",
		"visibility":      "private",
		"initial_state":   []any{},
	}
	var resp struct {
		RoomID string `json:"room_id"`
	}
	if err := c.do(ctx, http.MethodPost, c.cfg.BaseURL+endpointCreateRoom, ownerToken, body, &resp); err != nil {
		return "", err
	}
	if resp.RoomID == "" {
		return "", fmt.Errorf("create room response missing room_id: %w", ErrUnavailable)
	}
	return resp.RoomID, nil
}

// Invite invites the user into the room on behalf of the actor.
func (c *Client) Invite(ctx context.Context, roomID, userID, actorToken string) error {
	start := time.Now()
	defer obs.ObserveExternalCall("messaging", "invite", start)

	u := c.cfg.BaseURL + fmt.Sprintf(endpointInvite, url.PathEscape(roomID))
	return c.do(ctx, http.MethodPost, u, actorToken, map[string]any{"user_id": userID}, nil)
}

// Join accepts a pending invite as the token holder.
func (c *Client) Join(ctx context.Context, roomID, userToken string) error {
	start := time.Now()
	defer obs.ObserveExternalCall("messaging", "join", start)

	u := c.cfg.BaseURL + fmt.Sprintf(endpointJoin, url.PathEscape(roomID))
	return c.do(ctx, http.MethodPost, u, userToken, map[string]any{}, nil)
}

// SetPermissionLevel sets the user's power level in the room. The current
// power-level state is read first so other entries are preserved.
func (c *Client) SetPermissionLevel(ctx context.Context, roomID, userID string, level int, actorToken string) error {
	start := time.Now()
	defer obs.ObserveExternalCall("messaging", "set_permission_level", start)

	u := c.cfg.BaseURL + fmt.Sprintf(endpointPowerLevels, url.PathEscape(roomID))

	state := map[string]any{}
	if err := c.do(ctx, http.MethodGet, u, actorToken, nil, &state); err != nil {
		return err
	}
	users, _ := state["users"].(map[string]any)
	if users == nil {
		users = map[string]any{}
	}
	users[userID] = level
	state["users"] = users

	return c.do(ctx, http.MethodPut, u, actorToken, state, nil)
}

// RemoveParticipant removes the user from the room. Room history is kept.
func (c *Client) RemoveParticipant(ctx context.Context, roomID, userID, actorToken string) error {
	start := time.Now()
	defer obs.ObserveExternalCall("messaging", "remove_participant", start)

	u := c.cfg.BaseURL + fmt.Sprintf(endpointKick, url.PathEscape(roomID))
	return c.do(ctx, http.MethodPost, u, actorToken, map[string]any{"user_id": userID}, nil)
}

// Event is a single timeline event delivered by Sync.
type Event struct {
	RoomID    string
	EventID   string
	Sender    string
	Type      string
	Body      string
	Timestamp time.Time
}

// SyncResult carries the events of one long-poll cycle and the batch token
// for the next one.
type SyncResult struct {
	NextBatch string
	Events    []Event
}

// Sync long-polls the server for new events since the given batch token.
// Blocks up to the configured sync timeout.
func (c *Client) Sync(ctx context.Context, userToken, since string) (SyncResult, error) {
	start := time.Now()
	defer obs.ObserveExternalCall("messaging", "sync", start)

	q := url.Values{}
	q.Set("timeout", strconv.FormatInt(c.cfg.SyncTimeout.Milliseconds(), 10))
	if since != "" {
		q.Set("since", since)
	}

	var resp syncResponse
	if err := c.do(ctx, http.MethodGet, c.cfg.BaseURL+endpointSync+"?"+q.Encode(), userToken, nil, &resp); err != nil {
		return SyncResult{}, err
	}

	res := SyncResult{NextBatch: resp.NextBatch}
	for roomID, room := range resp.Rooms.Join {
		for _, ev := range room.Timeline.Events {
			res.Events = append(res.Events, Event{
				RoomID:    roomID,
				EventID:   ev.EventID,
				Sender:    ev.Sender,
				Type:      ev.Type,
				Body:      ev.Content.Body,
				Timestamp: time.UnixMilli(ev.OriginServerTS).UTC(),
			})
		}
	}
	return res, nil
}

type syncResponse struct {
	NextBatch string `json:"next_batch"`
	Rooms     struct {
		Join map[string]struct {
			Timeline struct {
				Events []struct {
					EventID        string `json:"event_id"`
					Sender         string `json:"sender"`
					Type           string `json:"type"`
					OriginServerTS int64  `json:"origin_server_ts"`
					Content        struct {
						Body string `json:"body"`
					} `json:"content"`
				} `json:"events"`
			} `json:"timeline"`
		} `json:"join"`
	} `json:"rooms"`
}

// do executes one request and decodes the response into out when non-nil.
func (c *Client) do(ctx context.Context, method, rawURL, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return statusErr(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func statusErr(code int, body []byte) error {
	var base error
	switch {
	case code == http.StatusConflict:
		base = ErrConflict
	case code == http.StatusNotFound:
		base = ErrNotFound
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		base = ErrDenied
	case code == http.StatusBadRequest && bytes.Contains(body, []byte("M_USER_IN_USE")):
		base = ErrConflict
	default:
		base = ErrUnavailable
	}
	return fmt.Errorf("%w: status %d: %s", base, code, strings.TrimSpace(string(body)))
}

// registrationMAC computes the shared-secret HMAC the admin registration
// endpoint expects: nonce, user, password and admin flag joined by NUL bytes.
func registrationMAC(secret, nonce, user, password string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(nonce))
	mac.Write([]byte{0})
	mac.Write([]byte(user))
	mac.Write([]byte{0})
	mac.Write([]byte(password))
	mac.Write([]byte{0})
	mac.Write([]byte("notadmin"))
	return hex.EncodeToString(mac.Sum(nil))
}

// Package gotrue implements auth.Provider against a GoTrue-compatible
// authentication service (the auth layer of hosted Postgres backends).
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/zeri-fi/radiodash/pkg/provider/auth"
)

var _ auth.Provider = (*Client)(nil)

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// Client talks to a GoTrue endpoint and tracks the current session
// in memory. Session transitions are fanned out to OnChange subscribers.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	mu      sync.Mutex
	session *auth.Session
	subs    map[int]func(auth.Event, *auth.Session)
	nextSub int
}

// New creates a Client for the GoTrue service at baseURL, authenticated with
// the project apiKey.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	var errs []error
	if baseURL == "" {
		errs = append(errs, errors.New("baseURL must not be empty"))
	}
	if apiKey == "" {
		errs = append(errs, errors.New("apiKey must not be empty"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("gotrue: %w", err)
	}

	c := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		subs:       make(map[int]func(auth.Event, *auth.Session)),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type credentials struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Data     map[string]any `json:"data,omitempty"`
}

// sessionResponse is the token/signup response body. expires_in is seconds
// from issuance.
type sessionResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	User         auth.User `json:"user"`
}

// SignUp creates an account. Profile metadata travels in the request's data
// field and lands in the user's user_metadata.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*auth.Session, error) {
	body := credentials{Email: email, Password: password, Data: metadata}

	var resp sessionResponse
	if err := c.post(ctx, "/signup", "", body, &resp); err != nil {
		return nil, fmt.Errorf("gotrue: sign up: %w", err)
	}
	sess := resp.toSession()
	c.setSession(sess, auth.EventSignedIn)
	return sess, nil
}

// SignIn authenticates with the password grant.
func (c *Client) SignIn(ctx context.Context, email, password string) (*auth.Session, error) {
	body := credentials{Email: email, Password: password}

	var resp sessionResponse
	if err := c.post(ctx, "/token?grant_type=password", "", body, &resp); err != nil {
		return nil, fmt.Errorf("gotrue: sign in: %w", err)
	}
	sess := resp.toSession()
	c.setSession(sess, auth.EventSignedIn)
	return sess, nil
}

// SignOut revokes the tracked session. A missing session is not an error.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		return nil
	}

	if err := c.post(ctx, "/logout", sess.AccessToken, nil, nil); err != nil {
		return fmt.Errorf("gotrue: sign out: %w", err)
	}
	c.setSession(nil, auth.EventSignedOut)
	return nil
}

// Session returns the tracked session, refreshing the user record from the
// service to confirm the token is still accepted.
func (c *Client) Session(ctx context.Context) (*auth.Session, error) {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		return nil, auth.ErrNoSession
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/user", nil)
	if err != nil {
		return nil, fmt.Errorf("gotrue: build user request: %w", err)
	}
	c.setHeaders(req, sess.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gotrue: user lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.setSession(nil, auth.EventSignedOut)
		return nil, auth.ErrNoSession
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("gotrue: user lookup: unexpected status %d", resp.StatusCode)
	}

	var user auth.User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("gotrue: decode user: %w", err)
	}

	c.mu.Lock()
	if c.session != nil {
		c.session.User = user
		sess = c.session
	}
	c.mu.Unlock()
	return sess, nil
}

// OnChange registers a session-transition callback. Callbacks run
// synchronously on the goroutine that changed the session.
func (c *Client) OnChange(fn func(auth.Event, *auth.Session)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (r *sessionResponse) toSession() *auth.Session {
	return &auth.Session{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(r.ExpiresIn) * time.Second),
		User:         r.User,
	}
}

func (c *Client) setSession(sess *auth.Session, evt auth.Event) {
	c.mu.Lock()
	c.session = sess
	subs := make([]func(auth.Event, *auth.Session), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(evt, sess)
	}
}

func (c *Client) setHeaders(req *http.Request, token string) {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// post issues a JSON POST. A nil out skips response decoding.
func (c *Client) post(ctx context.Context, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	c.setHeaders(req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

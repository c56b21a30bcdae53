// Package fetch provides an HTTP client that authenticates outbound requests
// with the current session and repairs an expired access token once before
// giving up on a request.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"webauth-backend/internal/auth"

	"golang.org/x/sync/singleflight"
)

// ErrSessionExpired is returned when a 401 could not be repaired by a refresh.
// The session has been logged out when it is returned.
var ErrSessionExpired = errors.New("session expired")

// State is the refresh state of a Client.
type State int

const (
	// Idle means no refresh is running and the last one, if any, succeeded.
	Idle State = iota
	// RefreshInFlight means a refresh is running; 401s wait for it.
	RefreshInFlight
	// Failed means the last refresh failed and the tokens were cleared.
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case RefreshInFlight:
		return "refresh_in_flight"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session renews and tears down the credentials used by a Client.
type Session interface {
	Refresh(ctx context.Context) (auth.Tokens, error)
	Logout(ctx context.Context) error
}

// Options configures a Client.
type Options struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client attaches "Authorization: <type> <token>" to every request. On a 401
// it refreshes the session once, shared by all concurrent callers, and
// re-issues the request exactly once.
type Client struct {
	http    *http.Client
	session Session
	logger  *slog.Logger
	group   singleflight.Group

	mu         sync.Mutex
	tokens     auth.Tokens
	generation uint64
	state      State
	lastErr    error
}

// NewClient creates a client for session starting with tokens.
func NewClient(session Session, tokens auth.Tokens, opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		http:    opts.HTTPClient,
		session: session,
		logger:  opts.Logger,
		tokens:  tokens,
	}
}

// SetTokens replaces the tokens, e.g. after a new login, and resets the state.
func (c *Client) SetTokens(tokens auth.Tokens) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = tokens
	c.generation++
	c.state = Idle
	c.lastErr = nil
}

// Tokens returns the current tokens.
func (c *Client) Tokens() auth.Tokens {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens
}

// State returns the refresh state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) snapshot() (auth.Tokens, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens, c.generation
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Do sends req. The body is buffered so the request can be replayed after a
// refresh. The response of the retry is returned as-is, even if it is a 401.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		b, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to buffer request body: %w", err)
		}
		body = b
	}

	tokens, gen := c.snapshot()
	resp, err := c.send(req, body, tokens)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || !tokens.Present() {
		return resp, nil
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if err := c.refresh(req.Context(), gen); err != nil {
		return nil, err
	}

	tokens, _ = c.snapshot()
	return c.send(req, body, tokens)
}

func (c *Client) send(req *http.Request, body []byte, tokens auth.Tokens) (*http.Response, error) {
	r := req.Clone(req.Context())
	if body != nil {
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))
		r.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	if h := tokens.AuthorizationHeader(); h != "" {
		r.Header.Set("Authorization", h)
	} else {
		r.Header.Del("Authorization")
	}
	return c.http.Do(r)
}

// refresh repairs the tokens of generation gen. Callers holding the same
// generation share one refresh; a 401 for tokens that were already replaced
// needs no refresh of its own.
func (c *Client) refresh(ctx context.Context, gen uint64) error {
	ch := c.group.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
		c.mu.Lock()
		if c.generation != gen {
			c.mu.Unlock()
			return nil, nil
		}
		c.state = RefreshInFlight
		c.mu.Unlock()

		// the refresh outlives callers that stop waiting
		rctx := context.WithoutCancel(ctx)
		tokens, err := c.session.Refresh(rctx)

		c.mu.Lock()
		c.generation++
		if err != nil {
			c.state = Failed
			c.tokens = auth.Tokens{}
			c.lastErr = err
			c.mu.Unlock()

			c.logger.Warn("token refresh failed, logging out", "error", err)
			if lerr := c.session.Logout(rctx); lerr != nil {
				c.logger.Warn("logout after failed refresh failed", "error", lerr)
			}
			return nil, err
		}
		c.tokens = tokens
		c.state = Idle
		c.lastErr = nil
		c.mu.Unlock()
		return nil, nil
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return fmt.Errorf("%w: %w", ErrSessionExpired, res.Err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Failed {
		return fmt.Errorf("%w: %w", ErrSessionExpired, c.lastErr)
	}
	return nil
}

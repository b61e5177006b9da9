// Package api is the client of the control plane that negotiates chunked
// upload sessions, reports account information and refreshes credentials.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/singleflight"

	"github.com/gostones/cloudattach/internal/types"
)

const (
	pathInitUpload     = "/init_upload"
	pathUploadPart     = "/upload_part"
	pathCompleteUpload = "/complete_upload"
	pathUserInfo       = "/get_user_simple_info"
	pathRefreshToken   = "/refresh_access_token"
)

// Version is reported to the control plane with account lookups.
var Version = "dev"

// Client talks JSON to the control plane with bearer authentication.
// Every call is retried once, transparently, after refreshing an expired
// access token.
type Client struct {
	c   *resty.Client
	log *slog.Logger

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	onRefresh    func(accessToken string) error
	refreshing   singleflight.Group
}

type Option func(*Client)

// WithTokenSaver registers a callback invoked with every refreshed access
// token, typically to persist it.
func WithTokenSaver(fn func(accessToken string) error) Option {
	return func(c *Client) { c.onRefresh = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.c.SetTimeout(d) }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		base := c.c.BaseURL
		c.c = resty.NewWithClient(hc).SetBaseURL(base)
	}
}

func New(baseURL, accessToken, refreshToken string, opts ...Option) *Client {
	c := &Client{
		c:            resty.New().SetBaseURL(baseURL),
		log:          slog.Default(),
		accessToken:  accessToken,
		refreshToken: refreshToken,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.c.SetHeader("Accept", "application/json")
	return c
}

func (c *Client) tokens() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken, c.refreshToken
}

// AccessToken returns the token currently used for requests.
func (c *Client) AccessToken() string {
	access, _ := c.tokens()
	return access
}

// call posts body to path and decodes the envelope detail into out. An
// expired token triggers one refresh and one replay of the same request.
func (c *Client) call(ctx context.Context, path string, body, out any) error {
	access, _ := c.tokens()
	err := c.post(ctx, path, access, body, out)
	if !errors.Is(err, errTokenExpired) {
		return err
	}

	c.log.Debug("access token expired, refreshing", "path", path)
	if err := c.refresh(ctx, access); err != nil {
		return err
	}
	access, _ = c.tokens()
	err = c.post(ctx, path, access, body, out)
	if errors.Is(err, errTokenExpired) {
		return ErrUnauthorized
	}
	return err
}

func (c *Client) post(ctx context.Context, path, token string, body, out any) error {
	var env types.Envelope
	resp, err := c.c.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		ForceContentType("application/json").
		SetResult(&env).
		Post(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %s", path, resp.Status())
	}
	return decodeDetail(path, env.Detail, out)
}

func decodeDetail(path string, detail json.RawMessage, out any) error {
	if len(detail) == 0 || string(detail) == "null" {
		return fmt.Errorf("%s: malformed response: missing detail", path)
	}
	var st types.Status
	if err := json.Unmarshal(detail, &st); err != nil {
		return fmt.Errorf("%s: malformed response: %w", path, err)
	}
	switch st.ErrorCode {
	case types.CodeOK:
	case types.CodeTokenExpired:
		return errTokenExpired
	case types.CodePolicyLimit, types.CodePolicyAccount:
		return &PolicyError{Code: st.ErrorCode, Message: st.ErrorMessage}
	default:
		return &Error{Code: st.ErrorCode, Message: st.ErrorMessage}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(detail, out); err != nil {
		return fmt.Errorf("%s: malformed response: %w", path, err)
	}
	return nil
}

// refresh exchanges the refresh token for a new access token. Concurrent
// callers that saw the same expired token share a single refresh.
func (c *Client) refresh(ctx context.Context, expired string) error {
	_, err, _ := c.refreshing.Do(expired, func() (any, error) {
		if access, _ := c.tokens(); access != expired {
			// someone else already refreshed
			return nil, nil
		}
		return nil, c.RefreshAccessToken(ctx)
	})
	return err
}

// RefreshAccessToken requests a new access token using the refresh token.
func (c *Client) RefreshAccessToken(ctx context.Context) error {
	_, refresh := c.tokens()
	if refresh == "" {
		return ErrUnauthorized
	}
	var out types.RefreshTokenResponse
	err := c.post(ctx, pathRefreshToken, refresh, struct{}{}, &out)
	if errors.Is(err, errTokenExpired) {
		return ErrUnauthorized
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if out.AccessToken == "" {
		return fmt.Errorf("%w: empty access token", ErrUnauthorized)
	}

	c.mu.Lock()
	c.accessToken = out.AccessToken
	c.mu.Unlock()
	c.log.Info("refreshed access token")

	if c.onRefresh != nil {
		if err := c.onRefresh(out.AccessToken); err != nil {
			c.log.Warn("failed to save access token", "error", err)
		}
	}
	return nil
}

// UserInfo returns the account tier and the folder used to namespace keys.
func (c *Client) UserInfo(ctx context.Context, storageType string) (*types.UserInfoResponse, error) {
	var out types.UserInfoResponse
	req := types.UserInfoRequest{StorageType: storageType, Version: Version}
	if err := c.call(ctx, pathUserInfo, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

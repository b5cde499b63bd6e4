// Package lychee is an HTTP client for the Lychee photo management API.
package lychee

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/lycheefs/lycheefs/pkg/models"
	"github.com/lycheefs/lycheefs/pkg/retry"
)

const xsrfCookie = "XSRF-TOKEN"

// Client talks to one Lychee instance. It keeps the Laravel session in a
// cookie jar and tracks whether the server is reachable.
type Client struct {
	base        *url.URL
	httpClient  *http.Client
	retryConfig retry.Config
	log         *zap.Logger

	mu       sync.RWMutex
	online   bool
	lastPing time.Time
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig retry.Config
	Logger      *zap.Logger
}

// New creates a client for the instance at cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", cfg.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	log := cfg.Logger.With(zap.String("remote", base.Host))
	rc := cfg.RetryConfig
	if rc.OnRetry == nil {
		rc.OnRetry = func(attempt int, err error, wait time.Duration) {
			log.Debug("retrying request", zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
		}
	}

	return &Client{
		base: base,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Jar:     jar,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig: rc,
		log:         log,
		online:      true,
	}, nil
}

// BaseURL returns the normalised instance address.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// IsOnline reports whether the last request reached the server.
func (c *Client) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

// LastContact returns when the server last answered or failed to.
func (c *Client) LastContact() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPing
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online != online {
		if online {
			c.log.Info("server is back online")
		} else {
			c.log.Warn("server is offline")
		}
	}
	c.online = online
	c.lastPing = time.Now()
}

func (c *Client) resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	return c.base.ResolveReference(u), nil
}

// applyXSRF copies the Laravel XSRF cookie into the request header.
func (c *Client) applyXSRF(req *http.Request) {
	for _, ck := range c.httpClient.Jar.Cookies(c.base) {
		if ck.Name != xsrfCookie {
			continue
		}
		token, err := url.QueryUnescape(ck.Value)
		if err != nil {
			token = ck.Value
		}
		req.Header.Set("X-XSRF-TOKEN", token)
		return
	}
}

// call POSTs body as JSON to api/<method> and decodes the answer into out.
func (c *Client) call(ctx context.Context, method string, body, out any) error {
	payload := []byte("{}")
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode %s: %w", method, err)
		}
	}
	endpoint, err := c.resolve("api/" + method)
	if err != nil {
		return err
	}

	return retry.Do(ctx, c.retryConfig, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Accept-Encoding", "gzip")
		req.Header.Set("X-Requested-With", "XMLHttpRequest")
		c.applyXSRF(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.setOnline(false)
			return retry.Retryable(fmt.Errorf("%w: %s: %v", models.ErrRemoteUnavailable, method, err))
		}
		defer resp.Body.Close()

		if err := c.checkStatus(method, resp); err != nil {
			return err
		}
		c.setOnline(true)

		reader, err := decodedBody(resp)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", models.ErrRemoteUnavailable, method, err)
		}
		defer reader.Close()

		if out == nil {
			_, _ = io.Copy(io.Discard, reader)
			return nil
		}
		if err := json.NewDecoder(reader).Decode(out); err != nil {
			return fmt.Errorf("%w: decode %s: %v", models.ErrRemoteUnavailable, method, err)
		}
		return nil
	})
}

// checkStatus maps HTTP status codes onto the error taxonomy. Server errors
// are marked retryable.
func (c *Client) checkStatus(what string, resp *http.Response) error {
	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized, code == http.StatusForbidden, code == 419:
		c.setOnline(true)
		return fmt.Errorf("%w: %s returned %d", models.ErrAuthRequired, what, code)
	case code == http.StatusNotFound:
		c.setOnline(true)
		return fmt.Errorf("%w: %s", models.ErrNotFound, what)
	case code >= 500:
		c.setOnline(false)
		return retry.Retryable(fmt.Errorf("%w: %s returned %d", models.ErrRemoteUnavailable, what, code))
	default:
		return fmt.Errorf("%w: %s returned %d", models.ErrRemoteUnavailable, what, code)
	}
}

// decodedBody returns the response body, gunzipping it when needed.
func decodedBody(resp *http.Response) (io.ReadCloser, error) {
	if !strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		return io.NopCloser(resp.Body), nil
	}
	gr, err := gzip.NewReader(resp.Body)
	if err != nil {
		return nil, err
	}
	return gr, nil
}

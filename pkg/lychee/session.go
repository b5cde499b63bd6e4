package lychee

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/lycheefs/lycheefs/pkg/models"
)

// Init primes the session and XSRF cookies. Lychee rejects API calls from
// clients that never loaded the front page.
func (c *Client) Init(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setOnline(false)
		return fmt.Errorf("%w: %v", models.ErrRemoteUnavailable, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		c.setOnline(false)
		return fmt.Errorf("%w: front page returned %d", models.ErrRemoteUnavailable, resp.StatusCode)
	}
	return c.call(ctx, "Session::init", nil, nil)
}

// Ping checks that the API answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, "Session::init", nil, nil)
}

// Login authenticates the session. Without it only public albums are listed.
func (c *Client) Login(ctx context.Context, username, password string) error {
	var raw json.RawMessage
	err := c.call(ctx, "Session::login", map[string]string{
		"username": username,
		"password": password,
	}, &raw)
	if err != nil {
		return fmt.Errorf("login as %s: %w", username, err)
	}
	// Older releases answer 200 with a bare false.
	if bytes.Equal(bytes.TrimSpace(raw), []byte("false")) {
		return fmt.Errorf("login as %s: %w: credentials rejected", username, models.ErrAuthRequired)
	}
	c.log.Info("logged in", zap.String("user", username))
	return nil
}

// Logout ends the session.
func (c *Client) Logout(ctx context.Context) error {
	return c.call(ctx, "Session::logout", nil, nil)
}

package lychee

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/lycheefs/lycheefs/pkg/models"
	"github.com/lycheefs/lycheefs/pkg/retry"
)

// FetchContent downloads the whole photo at the lowest size variant that is
// at least min. When no such variant has a URL, the original is downloaded
// through the archive endpoint.
func (c *Client) FetchContent(ctx context.Context, photoID string, min models.Quality) ([]byte, error) {
	var p photo
	if err := c.call(ctx, "Photo::get", map[string]string{"photoID": photoID}, &p); err != nil {
		return nil, fetchErr(photoID, err)
	}

	q, v := p.pickVariant(min)
	var (
		data []byte
		err  error
	)
	if v != nil {
		data, err = c.download(ctx, v.URL)
	} else {
		data, err = c.downloadArchive(ctx, photoID)
	}
	if err != nil {
		return nil, fetchErr(photoID, err)
	}

	c.log.Debug("fetched photo",
		zap.String("photo", photoID),
		zap.Stringer("quality", q),
		zap.String("size", humanize.Bytes(uint64(len(data)))))
	return data, nil
}

func fetchErr(photoID string, err error) error {
	if errors.Is(err, models.ErrAuthRequired) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("fetch photo %s: %w", photoID, err)
	}
	return fmt.Errorf("%w: photo %s: %w", models.ErrRemoteFetchFailed, photoID, err)
}

func (c *Client) downloadArchive(ctx context.Context, photoID string) ([]byte, error) {
	q := url.Values{}
	q.Set("photoIDs", photoID)
	q.Set("kind", "FULL")
	return c.download(ctx, "api/Photo::getArchive?"+q.Encode())
}

// download GETs ref, resolved against the base address, into memory.
func (c *Client) download(ctx context.Context, ref string) ([]byte, error) {
	target, err := c.resolve(ref)
	if err != nil {
		return nil, fmt.Errorf("variant url %q: %w", ref, err)
	}

	return retry.DoWithResult(ctx, c.retryConfig, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept-Encoding", "gzip")
		c.applyXSRF(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.setOnline(false)
			return nil, retry.Retryable(fmt.Errorf("%w: %v", models.ErrRemoteUnavailable, err))
		}
		defer resp.Body.Close()

		if err := c.checkStatus(target.Path, resp); err != nil {
			return nil, err
		}
		c.setOnline(true)

		reader, err := decodedBody(resp)
		if err != nil {
			return nil, err
		}
		defer reader.Close()

		var buf bytes.Buffer
		if resp.ContentLength > 0 && resp.Header.Get("Content-Encoding") == "" {
			buf.Grow(int(resp.ContentLength))
		}
		if _, err := io.Copy(&buf, reader); err != nil {
			return nil, retry.Retryable(fmt.Errorf("%w: read body: %v", models.ErrRemoteUnavailable, err))
		}
		return buf.Bytes(), nil
	})
}

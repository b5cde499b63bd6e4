package lychee

import (
	"context"
	"fmt"

	"github.com/lycheefs/lycheefs/pkg/models"
)

// ListSmartAlbums returns the synthesized albums (recent, starred, public,
// unsorted) the server exposes to the current session.
func (c *Client) ListSmartAlbums(ctx context.Context) ([]models.Entry, error) {
	var resp albumsResponse
	if err := c.call(ctx, "Albums::get", nil, &resp); err != nil {
		return nil, fmt.Errorf("list smart albums: %w", err)
	}
	smart := resp.SmartAlbums
	if smart == nil {
		smart = resp.LegacySmartAlbums
	}
	if smart == nil {
		return nil, nil
	}

	var out []models.Entry
	for _, sa := range smart.ordered() {
		e := sa.album.entry()
		if e.ID == "" {
			e.ID = sa.key
		}
		if e.Name == "" {
			e.Name = sa.key
		}
		e.Smart = true
		out = append(out, e)
	}
	return out, nil
}

// ListChildren returns one page of an album: sub-albums first, then photos,
// in server order. For models.RootID it returns the top-level albums followed
// by albums shared with the user, as a single page.
func (c *Client) ListChildren(ctx context.Context, albumID string, page int) (*models.Page, error) {
	if page < 1 {
		page = 1
	}
	if albumID == models.RootID {
		return c.listRoot(ctx)
	}

	var a album
	err := c.call(ctx, "Album::get", map[string]any{
		"albumID": albumID,
		"page":    page,
	}, &a)
	if err != nil {
		return nil, fmt.Errorf("list album %s: %w", albumID, err)
	}

	out := &models.Page{Page: page, LastPage: page}
	if a.CurrentPage > 0 {
		out.Page = int(a.CurrentPage)
	}
	if a.LastPage > 0 {
		out.LastPage = int(a.LastPage)
	}
	out.Entries = make([]models.Entry, 0, len(a.Albums)+len(a.Photos))
	for i := range a.Albums {
		out.Entries = append(out.Entries, a.Albums[i].entry())
	}
	for i := range a.Photos {
		out.Entries = append(out.Entries, a.Photos[i].entry())
	}
	return out, nil
}

func (c *Client) listRoot(ctx context.Context) (*models.Page, error) {
	var resp albumsResponse
	if err := c.call(ctx, "Albums::get", nil, &resp); err != nil {
		return nil, fmt.Errorf("list albums: %w", err)
	}
	out := &models.Page{Page: 1, LastPage: 1}
	out.Entries = make([]models.Entry, 0, len(resp.Albums)+len(resp.SharedAlbums))
	for i := range resp.Albums {
		out.Entries = append(out.Entries, resp.Albums[i].entry())
	}
	for i := range resp.SharedAlbums {
		out.Entries = append(out.Entries, resp.SharedAlbums[i].entry())
	}
	return out, nil
}

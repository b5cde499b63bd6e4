package tree

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lycheefs/lycheefs/pkg/models"
)

// fakeLister serves listings from memory. Albums map to their pages.
type fakeLister struct {
	mu       sync.Mutex
	smart    []models.Entry
	pages    map[string][][]models.Entry
	errs     map[string]error
	smartErr error
	calls    map[string]int
}

func newFakeLister() *fakeLister {
	return &fakeLister{
		pages: make(map[string][][]models.Entry),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (f *fakeLister) ListSmartAlbums(ctx context.Context) ([]models.Entry, error) {
	if f.smartErr != nil {
		return nil, f.smartErr
	}
	return f.smart, nil
}

func (f *fakeLister) ListChildren(ctx context.Context, albumID string, page int) (*models.Page, error) {
	f.mu.Lock()
	f.calls[albumID]++
	f.mu.Unlock()
	if err := f.errs[albumID]; err != nil {
		return nil, err
	}
	pages, ok := f.pages[albumID]
	if !ok {
		return nil, fmt.Errorf("%w: album %s", models.ErrNotFound, albumID)
	}
	if len(pages) == 0 {
		return &models.Page{Page: 1, LastPage: 1}, nil
	}
	return &models.Page{Entries: pages[page-1], Page: page, LastPage: len(pages)}, nil
}

var day = time.Date(2023, 7, 1, 12, 0, 0, 0, time.UTC)

func album(id, name string) models.Entry {
	return models.Entry{ID: id, Kind: models.KindAlbum, Name: name, CreatedAt: day}
}

func photo(id, name, ct string, daysAfter int) models.Entry {
	return models.Entry{
		ID: id, Kind: models.KindPhoto, Name: name, ContentType: ct,
		Size: 1000, CreatedAt: day.AddDate(0, 0, daysAfter),
	}
}

// library returns a small hierarchy:
//
//	/recent             smart: p3, p1
//	/vacation           p1 beach.jpg, p2 beach.png, /vacation/day one
//	/vacation/day one   p3 sunset.jpg (second page: p4 night)
//	/family             empty
func library() *fakeLister {
	f := newFakeLister()
	f.smart = []models.Entry{{ID: "recent", Name: "Recent", Smart: true}}
	f.pages[models.RootID] = [][]models.Entry{{album("a1", "vacation"), album("a3", "family")}}
	f.pages["a1"] = [][]models.Entry{{
		album("a2", "day one"),
		photo("p1", "beach", "image/jpeg", 1),
		photo("p2", "beach", "image/png", 2),
	}}
	f.pages["a2"] = [][]models.Entry{
		{photo("p3", "sunset", "image/jpeg", 3)},
		{photo("p4", "night", "", 4)},
	}
	f.pages["a3"] = nil
	f.pages["recent"] = [][]models.Entry{{
		photo("p3", "sunset", "image/jpeg", 3),
		photo("p1", "beach", "image/jpeg", 1),
		photo("p9", "orphan", "image/gif", 5),
	}}
	return f
}

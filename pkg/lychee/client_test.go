package lychee

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/lycheefs/lycheefs/pkg/models"
	"github.com/lycheefs/lycheefs/pkg/retry"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
		RetryConfig: retry.Config{
			MaxAttempts: 3,
			InitialWait: time.Millisecond,
			MaxWait:     5 * time.Millisecond,
			Multiplier:  2,
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, srv
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		t.Errorf("decode request body: %v", err)
	}
	return m
}

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := New(Config{BaseURL: "ftp://example.org"}); err == nil {
		t.Error("expected error for non-http scheme")
	}
	c, err := New(Config{BaseURL: "https://example.org/lychee"})
	if err != nil {
		t.Fatal(err)
	}
	if c.BaseURL() != "https://example.org/lychee/" {
		t.Errorf("BaseURL = %q", c.BaseURL())
	}
}

func TestLoginSendsXSRFToken(t *testing.T) {
	var gotToken string
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			http.SetCookie(w, &http.Cookie{Name: "XSRF-TOKEN", Value: "tok%3D%3D", Path: "/"})
		case "/api/Session::init":
			writeJSON(w, map[string]any{"status": 1})
		case "/api/Session::login":
			gotToken = r.Header.Get("X-XSRF-TOKEN")
			body := decodeBody(t, r)
			if body["username"] != "alice" || body["password"] != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			writeJSON(w, true)
		default:
			http.NotFound(w, r)
		}
	}))

	ctx := context.Background()
	if err := c.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := c.Login(ctx, "alice", "secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if gotToken != "tok==" {
		t.Errorf("X-XSRF-TOKEN = %q, want unescaped cookie value", gotToken)
	}
	if err := c.Login(ctx, "alice", "wrong"); !errors.Is(err, models.ErrAuthRequired) {
		t.Errorf("bad login err = %v, want ErrAuthRequired", err)
	}
}

func TestLoginLegacyFalse(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, false)
	}))
	if err := c.Login(context.Background(), "bob", "x"); !errors.Is(err, models.ErrAuthRequired) {
		t.Errorf("err = %v, want ErrAuthRequired", err)
	}
}

const albumsBody = `{
	"smart_albums": {
		"unsorted": {"id": "unsorted", "title": "Unsorted"},
		"starred": null,
		"public": {"id": "public", "title": "Public"},
		"recent": {"id": "recent", "title": "Recent"}
	},
	"albums": [
		{"id": "a1", "title": "vacation", "created_at": "2021-06-01T10:00:00+00:00", "is_public": "1"},
		{"id": 17, "title": "legacy", "created_at": "2020-01-02 03:04:05", "is_public": 0}
	],
	"shared_albums": [{"id": "s1", "title": "from bob"}]
}`

func TestListSmartAlbums(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, albumsBody)
	}))
	got, err := c.ListSmartAlbums(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"recent", "public", "unsorted"}
	if len(got) != len(want) {
		t.Fatalf("got %d smart albums, want %d", len(got), len(want))
	}
	for i, e := range got {
		if e.ID != want[i] || !e.Smart || e.Kind != models.KindAlbum {
			t.Errorf("smart[%d] = %+v, want id %s", i, e, want[i])
		}
	}
}

func TestListSmartAlbumsLegacyKey(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"smartalbums": {"starred": {"id": "starred"}}, "albums": []}`)
	}))
	got, err := c.ListSmartAlbums(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "starred" || got[0].Name != "starred" {
		t.Errorf("got %+v", got)
	}
}

func TestListChildrenRoot(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/Albums::get" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		io.WriteString(w, albumsBody)
	}))
	page, err := c.ListChildren(context.Background(), models.RootID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if page.More() {
		t.Error("root listing must be a single page")
	}
	ids := []string{"a1", "17", "s1"}
	if len(page.Entries) != len(ids) {
		t.Fatalf("got %d entries", len(page.Entries))
	}
	for i, e := range page.Entries {
		if e.ID != ids[i] {
			t.Errorf("entry %d id = %q, want %q", i, e.ID, ids[i])
		}
	}
	if !page.Entries[0].Public || page.Entries[1].Public {
		t.Error("is_public not decoded")
	}
	want := time.Date(2021, 6, 1, 10, 0, 0, 0, time.UTC)
	if !page.Entries[0].CreatedAt.Equal(want) {
		t.Errorf("created_at = %v, want %v", page.Entries[0].CreatedAt, want)
	}
	if page.Entries[1].CreatedAt.IsZero() {
		t.Error("legacy timestamp layout not parsed")
	}
}

func TestListChildrenPaginated(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		if body["albumID"] != "a1" {
			t.Errorf("albumID = %v", body["albumID"])
		}
		if body["page"] != float64(2) {
			t.Errorf("page = %v", body["page"])
		}
		io.WriteString(w, `{
			"id": "a1", "title": "vacation", "current_page": 2, "last_page": 3,
			"albums": [{"id": "a2", "title": "day one"}],
			"photos": [
				{"id": "p1", "title": "beach", "type": "image/jpeg", "filesize": "2048",
				 "created_at": "2021-06-02T08:00:00Z"},
				{"id": "p2", "title": "dunes", "type": "image/png",
				 "size_variants": {"original": {"url": "uploads/big/p2.png", "filesize": 4096}}}
			]
		}`)
	}))
	page, err := c.ListChildren(context.Background(), "a1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if page.Page != 2 || page.LastPage != 3 || !page.More() {
		t.Errorf("pagination = %d/%d", page.Page, page.LastPage)
	}
	if len(page.Entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(page.Entries))
	}
	if page.Entries[0].Kind != models.KindAlbum || page.Entries[1].Kind != models.KindPhoto {
		t.Error("albums must precede photos")
	}
	if page.Entries[1].Size != 2048 || page.Entries[1].ContentType != "image/jpeg" {
		t.Errorf("photo entry = %+v", page.Entries[1])
	}
	if page.Entries[2].Size != 4096 {
		t.Errorf("size should fall back to the original variant, got %d", page.Entries[2].Size)
	}
}

func TestListChildrenErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, models.ErrAuthRequired},
		{"forbidden", http.StatusForbidden, models.ErrAuthRequired},
		{"csrf mismatch", 419, models.ErrAuthRequired},
		{"missing", http.StatusNotFound, models.ErrNotFound},
		{"server error", http.StatusBadGateway, models.ErrRemoteUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			_, err := c.ListChildren(context.Background(), "x", 1)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestServerErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `{"id": "a1", "photos": []}`)
	}))
	if _, err := c.ListChildren(context.Background(), "a1", 1); err != nil {
		t.Fatalf("ListChildren: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if !c.IsOnline() {
		t.Error("client should be online after a successful call")
	}
}

func TestGzipResponse(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept-Encoding") != "gzip" {
			t.Error("client should ask for gzip")
		}
		w.Header().Set("Content-Encoding", "gzip")
		gw := gzip.NewWriter(w)
		io.WriteString(gw, albumsBody)
		gw.Close()
	}))
	page, err := c.ListChildren(context.Background(), models.RootID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Entries) != 3 {
		t.Errorf("entries = %d", len(page.Entries))
	}
}

func photoServer(t *testing.T, variants string, files map[string][]byte) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/Photo::get":
			body := decodeBody(t, r)
			if body["photoID"] != "p1" {
				http.NotFound(w, r)
				return
			}
			io.WriteString(w, `{"id": "p1", "title": "beach", "type": "image/jpeg", "size_variants": `+variants+`}`)
		case "/api/Photo::getArchive":
			if r.URL.Query().Get("kind") != "FULL" || r.URL.Query().Get("photoIDs") != "p1" {
				t.Errorf("archive query = %s", r.URL.RawQuery)
			}
			w.Write(files["archive"])
		default:
			data, ok := files[r.URL.Path]
			if !ok {
				http.NotFound(w, r)
				return
			}
			w.Write(data)
		}
	})
}

func TestFetchContentPicksLowestAdequateVariant(t *testing.T) {
	files := map[string][]byte{
		"/uploads/small/p1.jpg":  []byte("small"),
		"/uploads/medium/p1.jpg": []byte("medium"),
		"/uploads/big/p1.jpg":    []byte("original"),
	}
	variants := `{
		"thumb": {"url": "uploads/thumb/p1.jpg"},
		"small": {"url": "uploads/small/p1.jpg"},
		"medium": {"url": "uploads/medium/p1.jpg"},
		"medium2x": null,
		"original": {"url": "uploads/big/p1.jpg"}
	}`
	c, _ := testClient(t, photoServer(t, variants, files))

	tests := []struct {
		min  models.Quality
		want string
	}{
		{models.QualityThumb2x, "small"},
		{models.QualitySmall, "small"},
		{models.QualitySmall2x, "medium"},
		{models.QualityMedium2x, "original"},
		{models.QualityOriginal, "original"},
	}
	for _, tt := range tests {
		t.Run(tt.min.String(), func(t *testing.T) {
			got, err := c.FetchContent(context.Background(), "p1", tt.min)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != tt.want {
				t.Errorf("FetchContent(%v) = %q, want %q", tt.min, got, tt.want)
			}
		})
	}
}

func TestFetchContentArchiveFallback(t *testing.T) {
	files := map[string][]byte{"archive": bytes.Repeat([]byte{0xff, 0xd8}, 100)}
	c, _ := testClient(t, photoServer(t, `{"thumb": {"url": "uploads/thumb/p1.jpg"}}`, files))
	got, err := c.FetchContent(context.Background(), "p1", models.QualityMedium)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, files["archive"]) {
		t.Errorf("got %d bytes from archive fallback", len(got))
	}
}

func TestFetchContentErrors(t *testing.T) {
	files := map[string][]byte{}
	c, _ := testClient(t, photoServer(t, `{"original": {"url": "uploads/big/gone.jpg"}}`, files))

	_, err := c.FetchContent(context.Background(), "p1", models.QualityOriginal)
	if !errors.Is(err, models.ErrRemoteFetchFailed) || !errors.Is(err, models.ErrNotFound) {
		t.Errorf("missing variant err = %v", err)
	}
	_, err = c.FetchContent(context.Background(), "nope", models.QualityOriginal)
	if !errors.Is(err, models.ErrRemoteFetchFailed) {
		t.Errorf("missing photo err = %v", err)
	}

	denied, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	_, err = denied.FetchContent(context.Background(), "p1", models.QualityOriginal)
	if !errors.Is(err, models.ErrAuthRequired) || errors.Is(err, models.ErrRemoteFetchFailed) {
		t.Errorf("unauthorized err = %v, want ErrAuthRequired only", err)
	}
}

func TestOfflineTracking(t *testing.T) {
	c, srv := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{})
	}))
	if err := c.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
	srv.Close()
	err := c.Ping(context.Background())
	if !errors.Is(err, models.ErrRemoteUnavailable) {
		t.Errorf("err = %v, want ErrRemoteUnavailable", err)
	}
	if c.IsOnline() {
		t.Error("client should be offline after transport failures")
	}
	if c.LastContact().IsZero() {
		t.Error("LastContact not recorded")
	}
}

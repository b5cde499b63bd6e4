package tree

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/lycheefs/lycheefs/pkg/models"
)

func mustBuild(t *testing.T, l Lister, cfg BuilderConfig) *Tree {
	t.Helper()
	tr, err := NewBuilder(l, cfg).Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return tr
}

func names(t *testing.T, tr *Tree, path string) []string {
	t.Helper()
	n, err := tr.Resolve(path)
	if err != nil {
		t.Fatalf("Resolve(%q): %v", path, err)
	}
	entries, err := tr.Entries(n.ID)
	if err != nil {
		t.Fatalf("Entries(%q): %v", path, err)
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBuildListingOrder(t *testing.T) {
	tr := mustBuild(t, library(), BuilderConfig{})

	tests := []struct {
		path string
		want []string
	}{
		{"/", []string{"Recent", "vacation", "family"}},
		{"/vacation", []string{"day one", "beach.jpg", "beach.png"}},
		{"/vacation/day one", []string{"sunset.jpg", "night"}},
		{"/Recent", []string{"sunset.jpg", "beach.jpg", "orphan.gif"}},
		{"/family", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := names(t, tr, tt.path); !equal(got, tt.want) {
				t.Errorf("entries = %q, want %q", got, tt.want)
			}
		})
	}

	st := tr.Stats()
	if st.Albums != 4 || st.Photos != 5 {
		t.Errorf("stats = %+v, want 4 albums and 5 photos", st)
	}
	if tr.Len() != 10 {
		t.Errorf("Len = %d, want 10", tr.Len())
	}
}

func TestBuildOwnership(t *testing.T) {
	tr := mustBuild(t, library(), BuilderConfig{})

	tests := []struct {
		id     string
		parent string
		path   string
	}{
		{"p1", "a1", "/vacation/beach.jpg"},
		{"p3", "a2", "/vacation/day one/sunset.jpg"},
		{"p9", "recent", "/Recent/orphan.gif"},
		{"a2", "a1", "/vacation/day one"},
	}
	for _, tt := range tests {
		n, ok := tr.Node(tt.id)
		if !ok {
			t.Fatalf("node %s missing", tt.id)
		}
		if n.Parent != tt.parent {
			t.Errorf("%s parent = %q, want %q", tt.id, n.Parent, tt.parent)
		}
		if got := tr.PathOf(tt.id); got != tt.path {
			t.Errorf("PathOf(%s) = %q, want %q", tt.id, got, tt.path)
		}
	}

	viaSmart, err := tr.Resolve("/Recent/beach.jpg")
	if err != nil {
		t.Fatal(err)
	}
	direct, _ := tr.Resolve("/vacation/beach.jpg")
	if viaSmart != direct {
		t.Error("smart album should reference the same node")
	}
}

func TestBuildDrainsPages(t *testing.T) {
	l := library()
	mustBuild(t, l, BuilderConfig{})
	if l.calls["a2"] != 2 {
		t.Errorf("a2 listed %d times, want 2 pages", l.calls["a2"])
	}
	if l.calls["a1"] != 1 {
		t.Errorf("a1 listed %d times", l.calls["a1"])
	}
}

func TestBuildPaginationLimit(t *testing.T) {
	l := library()
	l.pages["a2"] = [][]models.Entry{{photo("p3", "a", "", 0)}, {photo("p4", "b", "", 0)}, {photo("p5", "c", "", 0)}}
	tr := mustBuild(t, l, BuilderConfig{MaxPages: 2})
	if _, ok := tr.Node("p5"); ok {
		t.Error("page beyond MaxPages should not be listed")
	}
}

func TestBuildRepeatedAlbumIsListedOnce(t *testing.T) {
	l := library()
	// the album shows up again as a shared album and inside its own child
	l.pages[models.RootID] = [][]models.Entry{{album("a1", "vacation"), album("a1", "vacation")}}
	l.pages["a2"] = [][]models.Entry{{album("a1", "loop")}}
	tr := mustBuild(t, l, BuilderConfig{})
	if got := names(t, tr, "/"); !equal(got, []string{"Recent", "vacation"}) {
		t.Errorf("root = %q", got)
	}
	if got := names(t, tr, "/vacation/day one"); len(got) != 0 {
		t.Errorf("cyclic album should be skipped, got %q", got)
	}
	if l.calls["a1"] != 1 {
		t.Errorf("a1 listed %d times", l.calls["a1"])
	}
}

func TestBuildFailures(t *testing.T) {
	down := fmt.Errorf("%w: connection refused", models.ErrRemoteUnavailable)

	t.Run("root listing", func(t *testing.T) {
		l := library()
		l.errs[models.RootID] = down
		_, err := NewBuilder(l, BuilderConfig{OnError: FailBestEffort}).Build(context.Background())
		if !errors.Is(err, models.ErrRemoteUnavailable) {
			t.Errorf("err = %v, want ErrRemoteUnavailable", err)
		}
	})

	t.Run("smart listing", func(t *testing.T) {
		l := library()
		l.smartErr = errors.New("boom")
		_, err := NewBuilder(l, BuilderConfig{}).Build(context.Background())
		if !errors.Is(err, models.ErrRemoteUnavailable) {
			t.Errorf("unclassified error should become ErrRemoteUnavailable, got %v", err)
		}
	})

	t.Run("smart album listing", func(t *testing.T) {
		l := library()
		l.errs["recent"] = down
		_, err := NewBuilder(l, BuilderConfig{OnError: FailBestEffort}).Build(context.Background())
		if !errors.Is(err, models.ErrRemoteUnavailable) {
			t.Errorf("err = %v, want ErrRemoteUnavailable even with best effort", err)
		}
	})

	t.Run("auth abort", func(t *testing.T) {
		l := library()
		l.errs["a2"] = fmt.Errorf("%w: 401", models.ErrAuthRequired)
		_, err := NewBuilder(l, BuilderConfig{}).Build(context.Background())
		if !errors.Is(err, models.ErrAuthRequired) {
			t.Errorf("err = %v, want ErrAuthRequired", err)
		}
	})

	t.Run("best effort", func(t *testing.T) {
		l := library()
		l.errs["a2"] = down
		tr := mustBuild(t, l, BuilderConfig{OnError: FailBestEffort})
		n, err := tr.Resolve("/vacation/day one")
		if err != nil {
			t.Fatal(err)
		}
		if !n.Partial {
			t.Error("failed album should be marked partial")
		}
		if tr.Stats().Partial != 1 {
			t.Errorf("partial = %d", tr.Stats().Partial)
		}
		if _, err := tr.Resolve("/vacation/beach.jpg"); err != nil {
			t.Errorf("sibling content lost: %v", err)
		}
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewBuilder(library(), BuilderConfig{OnError: FailBestEffort}).Build(ctx)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})
}

func TestBuildPublicOnly(t *testing.T) {
	// Without credentials the remote simply does not list private albums.
	l := library()
	l.pages[models.RootID] = [][]models.Entry{{album("a3", "family")}}
	tr := mustBuild(t, l, BuilderConfig{})

	_, err := tr.Resolve("/vacation")
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("private album err = %v, want ErrNotFound", err)
	}
	if errors.Is(err, models.ErrAuthRequired) {
		t.Error("absent album must not report ErrAuthRequired")
	}
}

func TestParsePolicies(t *testing.T) {
	if p, err := ParseFailurePolicy("best-effort"); err != nil || p != FailBestEffort {
		t.Errorf("ParseFailurePolicy = %v, %v", p, err)
	}
	if p, err := ParseFailurePolicy(""); err != nil || p != FailAbort {
		t.Errorf("default failure policy = %v, %v", p, err)
	}
	if _, err := ParseFailurePolicy("retry"); err == nil {
		t.Error("expected error")
	}
	if p, err := ParseCollisionPolicy("first-wins"); err != nil || p != CollisionFirstWins {
		t.Errorf("ParseCollisionPolicy = %v, %v", p, err)
	}
	if _, err := ParseCollisionPolicy("random"); err == nil {
		t.Error("expected error")
	}
}

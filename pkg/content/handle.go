package content

import (
	"sync"

	"github.com/lycheefs/lycheefs/pkg/cache"
	"github.com/lycheefs/lycheefs/pkg/models"
)

// State is the lifecycle stage of a handle.
type State int

const (
	StateCreated State = iota
	StateFetching
	StateReady
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateFetching:
		return "fetching"
	case StateReady:
		return "ready"
	case StateReleased:
		return "released"
	}
	return "unknown"
}

// HandleID identifies an open handle. Zero is never issued.
type HandleID uint64

// fetchCall is one attempt to load a handle's content.
type fetchCall struct {
	done chan struct{}
	err  error
}

// Handle is the per-open state of one photo.
type Handle struct {
	id  HandleID
	key cache.Key

	mu    sync.Mutex
	state State
	buf   []byte
	call  *fetchCall
}

// ID returns the handle identifier.
func (h *Handle) ID() HandleID { return h.id }

// PhotoID returns the photo the handle reads.
func (h *Handle) PhotoID() string { return h.key.PhotoID }

// Quality returns the minimum quality requested at open.
func (h *Handle) Quality() models.Quality { return h.key.Quality }

// State returns the current lifecycle stage.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Size returns the buffered content length once the handle is ready.
func (h *Handle) Size() (int64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateReady {
		return 0, false
	}
	return int64(len(h.buf)), true
}

// slice returns the part of buf covered by [off, off+n).
func slice(buf []byte, off int64, n int) []byte {
	if off < 0 || off >= int64(len(buf)) || n <= 0 {
		return nil
	}
	end := off + int64(n)
	if end > int64(len(buf)) {
		end = int64(len(buf))
	}
	return buf[off:end]
}

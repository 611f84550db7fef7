package server

import (
	"errors"
	"sync"

	"github.com/hasherwi/CS469-Group-Project/internal/securechan"
)

// errSessionCap rejects a session when the configured concurrency limit is
// already reached.
var errSessionCap = errors.New("session limit reached")

// registry tracks live session channels so Stop can force-close them and the
// dispatcher can cap concurrency. Removal is idempotent: a session that was
// force-closed still runs its own remove on the way out.
type registry struct {
	mu    sync.Mutex
	live  map[string]securechan.Channel
	limit int
}

// newRegistry creates a registry. A limit of zero means unbounded.
func newRegistry(limit int) *registry {
	return &registry{
		live:  make(map[string]securechan.Channel),
		limit: limit,
	}
}

// add registers a session channel and returns its remove function.
func (r *registry) add(id string, ch securechan.Channel) (remove func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.limit > 0 && len(r.live) >= r.limit {
		return nil, errSessionCap
	}
	r.live[id] = ch
	return func() {
		r.mu.Lock()
		delete(r.live, id)
		r.mu.Unlock()
	}, nil
}

// closeAll force-closes every live session channel and returns how many it
// closed. Handlers observe the close as a failed read or write and exit.
func (r *registry) closeAll() int {
	r.mu.Lock()
	chans := make([]securechan.Channel, 0, len(r.live))
	for _, ch := range r.live {
		chans = append(chans, ch)
	}
	r.mu.Unlock()

	for _, ch := range chans {
		_ = ch.Close()
	}
	return len(chans)
}

// count returns the number of live sessions.
func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

package mcpmgr

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// sessionTable owns at most one live SSE session per server id. Concurrent
// callers on a cold entry share a single handshake.
type sessionTable struct {
	log           *slog.Logger
	acceptTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*sseSession
	group    singleflight.Group
}

func newSessionTable(log *slog.Logger, acceptTimeout time.Duration) *sessionTable {
	return &sessionTable{
		log:           log,
		acceptTimeout: acceptTimeout,
		sessions:      make(map[string]*sseSession),
	}
}

// acquire returns the live session for client's server, opening one if none
// exists. The handshake runs detached from ctx so a caller that gives up does
// not fail the others waiting on it; the handshake timer still bounds it.
func (t *sessionTable) acquire(ctx context.Context, client *serverClient) (*sseSession, error) {
	id := client.record.ID
	if s := t.lookup(id); s != nil {
		return s, nil
	}
	ch := t.group.DoChan(id, func() (any, error) {
		if s := t.lookup(id); s != nil {
			return s, nil
		}
		t.log.Info("creating SSE session", "server", client.record.Name, "server_id", id)
		s, err := openSession(context.WithoutCancel(ctx), client, t.log, t.acceptTimeout, t.remove)
		if err != nil {
			return nil, err
		}
		t.mu.Lock()
		t.sessions[id] = s
		t.mu.Unlock()
		// The stream may have ended between the handshake and registration.
		if s.currentState() == stateClosed {
			t.remove(s)
		}
		return s, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*sseSession), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *sessionTable) lookup(serverID string) *sseSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[serverID]
	if !ok || s.currentState() == stateClosed {
		return nil
	}
	return s
}

// remove drops s from the table unless a newer session already replaced it.
func (t *sessionTable) remove(s *sseSession) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.sessions[s.serverID]; ok && cur == s {
		delete(t.sessions, s.serverID)
	}
}

// closeSessions tears down the session for serverID, or every session when
// serverID is empty. Pending requests are rejected with ErrSessionClosed.
func (t *sessionTable) closeSessions(serverID string) {
	t.mu.Lock()
	var victims []*sseSession
	for id, s := range t.sessions {
		if serverID == "" || id == serverID {
			victims = append(victims, s)
			delete(t.sessions, id)
		}
	}
	t.mu.Unlock()
	for _, s := range victims {
		s.close()
	}
}

func (t *sessionTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

package imap

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// defaultSessionIdleLimit is how long a session may sit unused before
	// the registry logs it out.
	defaultSessionIdleLimit = 10 * time.Minute
	cleanupInterval         = 1 * time.Minute
	logoutTimeout           = 5 * time.Second
)

// SessionInfo describes a live session for diagnostics.
type SessionInfo struct {
	Account  string
	State    State
	Selected string
	LastUsed time.Time
}

// Registry keeps track of the sessions opened by IMAP folders. It logs out
// sessions that stay idle for too long and all of them on Close. Folders
// notice a logged out session and reconnect on next use.
type Registry struct {
	mu        sync.Mutex
	sessions  map[*Session]struct{}
	idleLimit time.Duration
	log       zerolog.Logger

	cleanupCtx    context.Context
	cleanupCancel context.CancelFunc
}

// NewRegistry starts a registry. An idleLimit of zero selects the default.
func NewRegistry(idleLimit time.Duration, log zerolog.Logger) *Registry {
	if idleLimit <= 0 {
		idleLimit = defaultSessionIdleLimit
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		sessions:      make(map[*Session]struct{}),
		idleLimit:     idleLimit,
		log:           log,
		cleanupCtx:    ctx,
		cleanupCancel: cancel,
	}
	r.startCleanupGoroutine()
	return r
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s] = struct{}{}
}

func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, s)
}

// Sessions lists the registered sessions, least recently used first.
func (r *Registry) Sessions() []SessionInfo {
	r.mu.Lock()
	list := make([]*Session, 0, len(r.sessions))
	for s := range r.sessions {
		list = append(list, s)
	}
	r.mu.Unlock()

	infos := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		s.mu.Lock()
		infos = append(infos, SessionInfo{
			Account:  s.account.ID(),
			State:    s.state,
			Selected: s.selected,
			LastUsed: s.lastUsed,
		})
		s.mu.Unlock()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].LastUsed.Before(infos[j].LastUsed) })
	return infos
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close stops the cleanup goroutine and logs out every session.
func (r *Registry) Close() {
	r.cleanupCancel()

	r.mu.Lock()
	list := make([]*Session, 0, len(r.sessions))
	for s := range r.sessions {
		list = append(list, s)
		delete(r.sessions, s)
	}
	r.mu.Unlock()

	for _, s := range list {
		if s.TryLock() {
			r.logout(s)
			s.Unlock()
		} else {
			// Busy: closing the socket makes the pending command fail.
			s.Disconnect()
		}
	}
}

func (r *Registry) startCleanupGoroutine() {
	ticker := time.NewTicker(cleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-r.cleanupCtx.Done():
				return
			case <-ticker.C:
				r.cleanupIdleSessions(time.Now())
			}
		}
	}()
}

// cleanupIdleSessions logs out sessions unused since before now minus the
// idle limit. Sessions busy with a command are left alone.
func (r *Registry) cleanupIdleSessions(now time.Time) int {
	r.mu.Lock()
	list := make([]*Session, 0, len(r.sessions))
	for s := range r.sessions {
		list = append(list, s)
	}
	r.mu.Unlock()

	closed := 0
	for _, s := range list {
		if !s.TryLock() {
			continue
		}
		if now.Sub(s.lastUsed) > r.idleLimit {
			r.logout(s)
			r.Remove(s)
			closed++
		}
		s.Unlock()
	}
	return closed
}

func (r *Registry) logout(s *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), logoutTimeout)
	defer cancel()
	if err := s.logoutLocked(ctx); err != nil {
		r.log.Debug().Err(err).Str("account", s.account.ID()).Msg("Logout of idle session failed")
	}
}

package intake

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/clinic-intake/pkg/logging"
)

// SessionRecorder counts opened sessions.
type SessionRecorder interface {
	ObserveSessionOpened(mode string)
}

// RegistryConfig holds the collaborators shared by every session.
type RegistryConfig struct {
	Backend        Backend
	Locker         Locker
	LockTTL        time.Duration
	Submissions    SubmissionRecorder
	Steps          StepRecorder
	Sessions       SessionRecorder
	Auditor        SubmissionAuditor
	DefaultCountry string
	// TTL evicts sessions that have not been touched for this long.
	TTL time.Duration
	// OnComplete runs after any session submits successfully.
	OnComplete func(sessionID string, rec *Record)
	Logger     *logging.Logger
}

// Session pairs an open wizard with the notifications waiting for its host.
type Session struct {
	Wizard *Wizard
	Inbox  *Inbox
}

type sessionEntry struct {
	session  *Session
	lastSeen time.Time
}

// Registry keeps the wizards opened through the HTTP host. Each session owns
// its own draft; nothing is shared between sessions.
type Registry struct {
	cfg      RegistryConfig
	mu       sync.Mutex
	sessions map[string]*sessionEntry
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Backend == nil {
		panic("intake: backend required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	return &Registry{
		cfg:      cfg,
		sessions: make(map[string]*sessionEntry),
		now:      time.Now,
	}
}

// Open starts a new session. A nil record opens create mode.
func (r *Registry) Open(rec *Record) *Session {
	id := uuid.NewString()
	inbox := &Inbox{}
	orch := NewOrchestrator(r.cfg.Backend,
		WithLocker(r.cfg.Locker, r.cfg.LockTTL),
		WithRecorder(r.cfg.Submissions),
		WithAuditor(r.cfg.Auditor),
		WithLogger(r.cfg.Logger),
	)
	var onComplete func(*Record)
	if r.cfg.OnComplete != nil {
		onComplete = func(rec *Record) { r.cfg.OnComplete(id, rec) }
	}
	w := New(Config{
		ID:             id,
		DefaultCountry: r.cfg.DefaultCountry,
		Orchestrator:   orch,
		Notifier:       inbox,
		OnComplete:     onComplete,
		Steps:          r.cfg.Steps,
		Logger:         r.cfg.Logger.With("session_id", id),
	})
	if rec != nil {
		w.Initialize(rec)
	}
	s := &Session{Wizard: w, Inbox: inbox}

	r.mu.Lock()
	r.sessions[id] = &sessionEntry{session: s, lastSeen: r.now()}
	r.mu.Unlock()

	mode := w.Snapshot().Mode
	if r.cfg.Sessions != nil {
		r.cfg.Sessions.ObserveSessionOpened(string(mode))
	}
	r.cfg.Logger.Info("intake session opened", "session_id", id, "mode", mode)
	return s
}

// Get returns the session and refreshes its idle timer.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	e.lastSeen = r.now()
	return e.session, nil
}

// Remove forgets a session.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Len reports the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep drops closed sessions and sessions idle past the TTL. Sessions with
// a submission in flight are kept until it settles.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.cfg.TTL)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, e := range r.sessions {
		w := e.session.Wizard
		if w.Busy() {
			continue
		}
		if w.Closed() || e.lastSeen.Before(cutoff) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// Run sweeps periodically until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.cfg.Logger.Debug("intake sessions evicted", "count", n)
			}
		}
	}
}

package transfer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Status is a Session's lifecycle state.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusTransferring Status = "transferring"
	StatusCompleted    Status = "completed"
	StatusCancelled    Status = "cancelled"
	StatusErrored      Status = "errored"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusErrored
}

// cancelFlag is a single atomic, false->true only.
type cancelFlag struct{ v atomic.Bool }

func (c *cancelFlag) Set()          { c.v.Store(true) }
func (c *cancelFlag) IsSet() bool   { return c.v.Load() }

// Session is one transfer's lifetime state, exclusively owned by the
// SessionStore's map.
type Session struct {
	mu sync.Mutex

	ID      string
	Config  Config
	Cancel  *cancelFlag

	FilePath string
	Peer     string

	Status            Status
	BytesTransferred  int64
	TotalBytes        int64
	StartedAt         *time.Time
	EndedAt           *time.Time
	Checksum          string
	Err               *TransferError

	SpeedBps float64
	ETASecs  float64
}

func newSession(cfg Config) *Session {
	return &Session{
		ID:     uuid.NewString(),
		Config: cfg,
		Cancel: &cancelFlag{},
		Status: StatusIdle,
	}
}

// snapshot returns a value copy safe to hand to callers/events.
func (s *Session) snapshot() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s
	cp.mu = sync.Mutex{}
	return cp
}

// Store is the thread-safe session map.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Create registers a new Idle session and returns its ID.
func (s *Store) Create(cfg Config) string {
	sess := newSession(cfg)
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess.ID
}

// Start transitions Idle->Connecting, returning the session's config and cancel flag.
func (s *Store) Start(id string, filePath, peer string, totalBytes int64) (Config, *cancelFlag, *TransferError) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return Config{}, nil, New(CodeUnknown, false, "session not found", nil).WithContext(id)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.Status != StatusIdle {
		return Config{}, nil, New(CodeConfigError, false, "session already active", nil).WithContext(id)
	}
	now := time.Now()
	sess.Status = StatusConnecting
	sess.FilePath = filePath
	sess.Peer = peer
	sess.TotalBytes = totalBytes
	sess.StartedAt = &now
	return sess.Config, sess.Cancel, nil
}

// MarkTransferring transitions Connecting->Transferring.
func (s *Store) MarkTransferring(id string) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return
	}
	sess.mu.Lock()
	if sess.Status == StatusConnecting {
		sess.Status = StatusTransferring
	}
	sess.mu.Unlock()
}

// UpdateProgress advances bytes_transferred/speed/eta. Monotonic: a lower
// count than the one stored is ignored, and it never exceeds TotalBytes.
func (s *Store) UpdateProgress(id string, bytes int64, speedBps, etaSecs float64) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return
	}
	sess.mu.Lock()
	if sess.TotalBytes > 0 && bytes > sess.TotalBytes {
		bytes = sess.TotalBytes
	}
	if bytes < sess.BytesTransferred {
		bytes = sess.BytesTransferred
	}
	sess.BytesTransferred = bytes
	sess.SpeedBps = speedBps
	sess.ETASecs = etaSecs
	sess.mu.Unlock()
}

// Complete transitions to Completed and sets bytes_transferred equal to
// total_bytes, so the Completed invariant holds.
// If TotalBytes was never negotiated (e.g. a UDP receiver with no handshake),
// it is taken from the measured BytesTransferred instead of clobbering it to zero.
func (s *Store) Complete(id, checksum string) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return
	}
	sess.mu.Lock()
	if !sess.Status.Terminal() {
		now := time.Now()
		sess.Status = StatusCompleted
		if sess.TotalBytes == 0 {
			sess.TotalBytes = sess.BytesTransferred
		} else {
			sess.BytesTransferred = sess.TotalBytes
		}
		sess.Checksum = checksum
		sess.EndedAt = &now
	}
	sess.mu.Unlock()
}

// SetTotalBytes records a total byte count negotiated mid-transfer (e.g. the
// size field of a stream handshake, known only once the receiver reads it).
func (s *Store) SetTotalBytes(id string, total int64) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return
	}
	sess.mu.Lock()
	sess.TotalBytes = total
	sess.mu.Unlock()
}

// Fail transitions to Errored.
func (s *Store) Fail(id string, err *TransferError) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return
	}
	sess.mu.Lock()
	if !sess.Status.Terminal() {
		now := time.Now()
		sess.Status = StatusErrored
		sess.Err = err
		sess.EndedAt = &now
	}
	sess.mu.Unlock()
}

// Cancel sets the cancel flag and returns bytes transferred so far.
// Fails if the session is not active.
func (s *Store) Cancel(id string) (int64, *TransferError) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return 0, New(CodeUnknown, false, "session not found", nil).WithContext(id)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.Status.Terminal() || sess.Status == StatusIdle {
		return 0, New(CodeConfigError, false, "session not active", nil).WithContext(id)
	}
	sess.Cancel.Set()
	return sess.BytesTransferred, nil
}

// CancelToTerminal finalizes a session as Cancelled once its engine has returned.
func (s *Store) CancelToTerminal(id string) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return
	}
	sess.mu.Lock()
	if !sess.Status.Terminal() {
		now := time.Now()
		sess.Status = StatusCancelled
		sess.EndedAt = &now
	}
	sess.mu.Unlock()
}

// Get returns a snapshot of a session.
func (s *Store) Get(id string) (Session, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return Session{}, false
	}
	return sess.snapshot(), true
}

// ListActive returns snapshots of all non-terminal sessions.
func (s *Store) ListActive() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		snap := sess.snapshot()
		if !snap.Status.Terminal() {
			out = append(out, snap)
		}
	}
	return out
}

// ListTerminal returns snapshots of all terminal sessions.
func (s *Store) ListTerminal() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		snap := sess.snapshot()
		if snap.Status.Terminal() {
			out = append(out, snap)
		}
	}
	return out
}

// Purge removes terminal sessions older than maxAge, then caps the retained
// terminal set at keepMostRecent.
func (s *Store) Purge(maxAge time.Duration, keepMostRecent int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	var terminal []agedSession
	for id, sess := range s.sessions {
		sess.mu.Lock()
		term := sess.Status.Terminal()
		var end time.Time
		if sess.EndedAt != nil {
			end = *sess.EndedAt
		}
		sess.mu.Unlock()
		if term {
			terminal = append(terminal, agedSession{id, end})
		}
	}

	removed := 0
	for _, a := range terminal {
		if a.end.Before(cutoff) {
			delete(s.sessions, a.id)
			removed++
		}
	}

	remaining := make([]agedSession, 0, len(terminal))
	for _, a := range terminal {
		if _, ok := s.sessions[a.id]; ok {
			remaining = append(remaining, a)
		}
	}
	if len(remaining) > keepMostRecent {
		sortAgedByEndDesc(remaining)
		for _, a := range remaining[keepMostRecent:] {
			delete(s.sessions, a.id)
			removed++
		}
	}
	return removed
}

type agedSession struct {
	id  string
	end time.Time
}

func sortAgedByEndDesc(in []agedSession) {
	for i := 1; i < len(in); i++ {
		j := i
		for j > 0 && in[j-1].end.Before(in[j].end) {
			in[j-1], in[j] = in[j], in[j-1]
			j--
		}
	}
}

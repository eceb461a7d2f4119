package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/forgeline/forgeline/pkg/config"
)

// SessionSummary is the listing view of one session.
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	EventCount   int       `json:"event_count"`
	LastActivity time.Time `json:"last_activity"`
	Done         bool      `json:"done"`
}

// sessionRecord holds one session's full log plus the live delivery channel.
// The log is the source of truth; the channel only serves the attached SSE
// consumer and drops when full.
type sessionRecord struct {
	id           string
	log          []Event
	queue        chan Event
	lastID       int64
	lastActivity time.Time
	done         bool
}

// Store keeps per-session event logs in memory, bounded by an LRU session
// cap and a TTL sweep. All methods are safe for concurrent use.
type Store struct {
	cfg *config.StoreConfig

	mu       sync.Mutex
	sessions map[string]*sessionRecord

	stopCh  chan struct{}
	stopped chan struct{}
}

func NewStore(cfg *config.StoreConfig) *Store {
	return &Store{
		cfg:      cfg,
		sessions: make(map[string]*sessionRecord),
	}
}

// SaveEvent appends an event to the session's log and offers it to the live
// channel. The session is created on first use; when the session cap is
// reached the least-recently-active session is evicted first. A full live
// channel drops the delivery with a warning, never blocks the pipeline.
func (s *Store) SaveEvent(sessionID string, typ EventType, payload any) Event {
	now := time.Now()

	s.mu.Lock()
	rec := s.getOrCreateLocked(sessionID, now)

	id := now.UnixMilli()
	if id <= rec.lastID {
		id = rec.lastID + 1
	}
	rec.lastID = id

	ev := Event{
		ID:        id,
		SessionID: sessionID,
		Type:      typ,
		Payload:   payload,
		Timestamp: now,
	}
	rec.log = append(rec.log, ev)
	rec.lastActivity = now
	if typ == Done {
		rec.done = true
	}

	select {
	case rec.queue <- ev:
	default:
		slog.Warn("Live event channel full, dropping delivery",
			"session_id", sessionID, "type", typ)
	}
	s.mu.Unlock()

	return ev
}

// getOrCreateLocked returns the session record, creating it (with LRU
// eviction) on first use. Caller holds s.mu.
func (s *Store) getOrCreateLocked(sessionID string, now time.Time) *sessionRecord {
	rec := s.sessions[sessionID]
	if rec == nil {
		s.evictForRoomLocked()
		rec = &sessionRecord{
			id:           sessionID,
			queue:        make(chan Event, s.cfg.QueueBuffer),
			lastActivity: now,
		}
		s.sessions[sessionID] = rec
	}
	return rec
}

// Ensure creates the session if absent and returns its live channel. Used
// by the SSE writer to subscribe before the producer starts.
func (s *Store) Ensure(sessionID string) <-chan Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(sessionID, time.Now()).queue
}

// Subscribe returns the session's live channel. The channel closes when the
// session is cleaned up. Returns false for unknown sessions.
func (s *Store) Subscribe(sessionID string) (<-chan Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return rec.queue, true
}

// Events returns a copy of the session's full log for replay.
func (s *Store) Events(sessionID string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]Event, len(rec.log))
	copy(out, rec.log)
	return out
}

// Event looks up one event by id within a session.
func (s *Store) Event(sessionID string, id int64) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return Event{}, false
	}
	for _, ev := range rec.log {
		if ev.ID == id {
			return ev, true
		}
	}
	return Event{}, false
}

// EventsByID returns the session's events matching ids, in log order.
// Unknown ids are skipped. The second return is false for unknown sessions.
func (s *Store) EventsByID(sessionID string, ids []int64) ([]Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := make([]Event, 0, len(ids))
	for _, ev := range rec.log {
		if _, hit := want[ev.ID]; hit {
			out = append(out, ev)
		}
	}
	return out, true
}

// EventsSince returns the session's events with ID greater than afterID.
// Reconnecting clients pass their last seen SSE id to replay the gap. The
// second return is false for unknown sessions.
func (s *Store) EventsSince(sessionID string, afterID int64) ([]Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	out := make([]Event, 0, len(rec.log))
	for _, ev := range rec.log {
		if ev.ID > afterID {
			out = append(out, ev)
		}
	}
	return out, true
}

// Sessions lists all live sessions, most recently active first.
func (s *Store) Sessions() []SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SessionSummary, 0, len(s.sessions))
	for _, rec := range s.sessions {
		out = append(out, SessionSummary{
			SessionID:    rec.id,
			EventCount:   len(rec.log),
			LastActivity: rec.lastActivity,
			Done:         rec.done,
		})
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].LastActivity.After(out[j-1].LastActivity); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// CleanupSession removes a session and closes its live channel. Idempotent.
func (s *Store) CleanupSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(sessionID)
}

// CleanupAllOldEvents trims every session's log to events younger than the
// TTL. Sessions left empty by the trim are removed, as are sessions that
// never saw an event and have been idle past the TTL. Returns the number of
// sessions removed.
func (s *Store) CleanupAllOldEvents() int {
	cutoff := time.Now().Add(-s.cfg.EventTTL)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, rec := range s.sessions {
		kept := rec.log[:0]
		for _, ev := range rec.log {
			if ev.Timestamp.After(cutoff) {
				kept = append(kept, ev)
			}
		}
		expired := len(rec.log) - len(kept)
		rec.log = kept
		if len(kept) == 0 && (expired > 0 || rec.lastActivity.Before(cutoff)) {
			s.removeLocked(id)
			removed++
		}
	}
	if removed > 0 {
		slog.Info("Swept expired sessions", "removed", removed, "remaining", len(s.sessions))
	}
	return removed
}

// Start launches the periodic TTL sweeper.
func (s *Store) Start() {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	s.stopped = make(chan struct{})
	stopCh, stopped := s.stopCh, s.stopped
	s.mu.Unlock()

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(s.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.CleanupAllOldEvents()
			case <-stopCh:
				return
			}
		}
	}()
	slog.Info("Event store sweeper started", "interval", s.cfg.CleanupInterval, "ttl", s.cfg.EventTTL)
}

// Stop halts the sweeper and waits for it to exit. Idempotent.
func (s *Store) Stop() {
	s.mu.Lock()
	stopCh, stopped := s.stopCh, s.stopped
	s.stopCh, s.stopped = nil, nil
	s.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-stopped
}

// evictForRoomLocked makes room for one new session by evicting the
// least-recently-active one when the cap is reached. Caller holds s.mu.
func (s *Store) evictForRoomLocked() {
	max := s.cfg.MaxSessions
	if max <= 0 || len(s.sessions) < max {
		return
	}
	var victim string
	var oldest time.Time
	for id, rec := range s.sessions {
		if victim == "" || rec.lastActivity.Before(oldest) {
			victim = id
			oldest = rec.lastActivity
		}
	}
	if victim != "" {
		slog.Warn("Session cap reached, evicting least-recent session",
			"session_id", victim, "max_sessions", max)
		s.removeLocked(victim)
	}
}

// removeLocked deletes a session and closes its channel. Caller holds s.mu;
// sends also happen under s.mu, so close cannot race a send.
func (s *Store) removeLocked(sessionID string) {
	rec, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	close(rec.queue)
	delete(s.sessions, sessionID)
}

package chatsync

import (
	"sync"

	"github.com/rs/zerolog"
	"go.mau.fi/util/random"
)

// Store is the ordered, deduplicated message list for one chat, plus the
// merge logic that unifies local optimistic inserts, server acknowledgements
// and broadcast push events into a single consistent view.
//
// Ordering is insertion order, not timestamp order: local appends keep call
// order and remote arrivals are inserted at processing time, never reordered
// relative to already-settled entries. The push transport is at-least-once,
// so every remote path is idempotent on the durable ID.
type Store struct {
	mu      sync.Mutex
	entries []*Message
	// byID indexes entries by their current ID (placeholder or durable).
	// Kept in lockstep with entries; confirm re-keys the entry in place.
	byID map[string]*Message

	log      zerolog.Logger
	onChange func([]Message)
}

func NewStore(log zerolog.Logger) *Store {
	return &Store{
		byID: make(map[string]*Message),
		log:  log.With().Str("component", "store").Logger(),
	}
}

// SetOnChange registers a callback invoked with a snapshot after every
// mutation. Called without the store lock held.
func (s *Store) SetOnChange(fn func([]Message)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Store) notifyLocked() (func([]Message), []Message) {
	if s.onChange == nil {
		return nil, nil
	}
	return s.onChange, s.snapshotLocked()
}

func (s *Store) snapshotLocked() []Message {
	out := make([]Message, len(s.entries))
	for i, e := range s.entries {
		out[i] = *e
	}
	return out
}

// Snapshot returns a copy of the current list and clears entrance markers,
// so each JustArrived flag is observed by at most one snapshot.
func (s *Store) Snapshot() []Message {
	s.mu.Lock()
	out := s.snapshotLocked()
	for _, e := range s.entries {
		e.JustArrived = false
	}
	s.mu.Unlock()
	return out
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Get returns a copy of the entry with the given current ID.
func (s *Store) Get(id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.byID[id]; ok {
		return *e, true
	}
	return Message{}, false
}

// Append inserts an optimistic text message at the tail and returns its
// placeholder ID for later reconciliation.
func (s *Store) Append(text, sender string) string {
	s.mu.Lock()
	msg := &Message{
		ID:        NewPlaceholderID(),
		Sender:    sender,
		Text:      text,
		StableKey: random.String(12),
	}
	s.entries = append(s.entries, msg)
	s.byID[msg.ID] = msg
	fn, snap := s.notifyLocked()
	s.mu.Unlock()

	s.log.Debug().Str("placeholder_id", msg.ID).Msg("Appended optimistic message")
	if fn != nil {
		fn(snap)
	}
	return msg.ID
}

// AppendMedia inserts an optimistic media message at the tail, referencing
// locally-derived payload URIs so a draft can render before the upload
// finishes. Returns the placeholder ID.
func (s *Store) AppendMedia(kind MediaKind, sender, localMediaRef, localThumbRef string) string {
	s.mu.Lock()
	msg := &Message{
		ID:        NewPlaceholderID(),
		Sender:    sender,
		StableKey: random.String(12),
	}
	switch kind {
	case MediaVideo:
		msg.VideoRef = localMediaRef
		msg.ThumbnailRef = localThumbRef
	default:
		msg.AudioRef = localMediaRef
	}
	s.entries = append(s.entries, msg)
	s.byID[msg.ID] = msg
	fn, snap := s.notifyLocked()
	s.mu.Unlock()

	s.log.Debug().Str("placeholder_id", msg.ID).Str("kind", string(kind)).
		Msg("Appended optimistic media message")
	if fn != nil {
		fn(snap)
	}
	return msg.ID
}

// Confirm overwrites a placeholder entry with server-confirmed values,
// preserving its StableKey and list position. If the placeholder is absent —
// typically because the broadcast arrived first and receiveRemote already
// merged it — this is a no-op. Returns whether a merge happened.
func (s *Store) Confirm(placeholderID string, rec Record) bool {
	s.mu.Lock()
	entry, ok := s.byID[placeholderID]
	if !ok {
		s.mu.Unlock()
		s.log.Debug().Str("placeholder_id", placeholderID).Str("server_id", rec.ID).
			Msg("Confirm found no placeholder, already merged")
		return false
	}
	s.mergeLocked(entry, rec)
	delete(s.byID, placeholderID)
	s.byID[entry.ID] = entry
	fn, snap := s.notifyLocked()
	s.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
	return true
}

// mergeLocked applies server-confirmed values onto an existing entry.
// StableKey and position are untouched.
func (s *Store) mergeLocked(entry *Message, rec Record) {
	entry.ID = rec.ID
	if rec.Sender != "" {
		entry.Sender = rec.Sender
	}
	if rec.Text != "" {
		entry.Text = rec.Text
	}
	entry.CreatedAt = rec.CreatedAt
	if rec.MediaRef != "" {
		switch rec.Kind {
		case MediaVideo:
			entry.VideoRef = rec.MediaRef
		case MediaAudio:
			entry.AudioRef = rec.MediaRef
		default:
			// Kind omitted on the wire: route by which local ref exists.
			if entry.VideoRef != "" {
				entry.VideoRef = rec.MediaRef
			} else {
				entry.AudioRef = rec.MediaRef
			}
		}
	}
	if rec.ThumbnailRef != "" {
		entry.ThumbnailRef = rec.ThumbnailRef
	}
	entry.Persisted = true
	entry.Failed = false
}

// ReceiveRemote merges a broadcast record into the list.
//
// If an entry with the same durable ID already exists this is a no-op, which
// is what makes the merge idempotent under at-least-once delivery and under
// either ordering of Confirm and ReceiveRemote for the same message: whichever
// fires second observes the already-settled ID and backs off.
//
// Otherwise an unconfirmed placeholder with the same sender and text is
// merged in place (best-effort match — two rapid identical sends from the
// same sender can merge incorrectly). With no match the record is appended
// at the tail and marked for an entrance transition.
func (s *Store) ReceiveRemote(rec Record) {
	s.mu.Lock()
	if _, exists := s.byID[rec.ID]; exists {
		s.mu.Unlock()
		s.log.Debug().Str("server_id", rec.ID).Msg("Dropped duplicate remote record")
		return
	}

	for _, entry := range s.entries {
		if !IsPlaceholderID(entry.ID) || entry.Sender != rec.Sender || entry.Text != rec.Text {
			continue
		}
		oldID := entry.ID
		s.mergeLocked(entry, rec)
		delete(s.byID, oldID)
		s.byID[entry.ID] = entry
		fn, snap := s.notifyLocked()
		s.mu.Unlock()

		s.log.Debug().Str("placeholder_id", oldID).Str("server_id", rec.ID).
			Msg("Merged remote record into pending placeholder")
		if fn != nil {
			fn(snap)
		}
		return
	}

	msg := &Message{
		ID:           rec.ID,
		Sender:       rec.Sender,
		Text:         rec.Text,
		CreatedAt:    rec.CreatedAt,
		ThumbnailRef: rec.ThumbnailRef,
		StableKey:    random.String(12),
		Persisted:    true,
		JustArrived:  true,
	}
	switch rec.Kind {
	case MediaVideo:
		msg.VideoRef = rec.MediaRef
	case MediaAudio:
		msg.AudioRef = rec.MediaRef
	}
	s.entries = append(s.entries, msg)
	s.byID[msg.ID] = msg
	fn, snap := s.notifyLocked()
	s.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
}

// Fail flags a placeholder whose create or upload request was rejected. The
// entry stays in the list for manual resend or delete.
func (s *Store) Fail(placeholderID string) {
	s.mu.Lock()
	entry, ok := s.byID[placeholderID]
	if !ok {
		s.mu.Unlock()
		return
	}
	entry.Failed = true
	fn, snap := s.notifyLocked()
	s.mu.Unlock()

	s.log.Warn().Str("placeholder_id", placeholderID).Msg("Marked message as failed")
	if fn != nil {
		fn(snap)
	}
}

// ClearFailed resets the failed flag before a manual resend attempt.
func (s *Store) ClearFailed(placeholderID string) {
	s.mu.Lock()
	if entry, ok := s.byID[placeholderID]; ok {
		entry.Failed = false
	}
	fn, snap := s.notifyLocked()
	s.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

// Remove deletes the entry immediately and unconditionally, returning a copy
// so the caller can decide which server-side delete to issue. The removal is
// local only; server-side failure never restores the entry.
func (s *Store) Remove(id string) (Message, bool) {
	s.mu.Lock()
	entry, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return Message{}, false
	}
	delete(s.byID, id)
	for i, e := range s.entries {
		if e == entry {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			break
		}
	}
	fn, snap := s.notifyLocked()
	s.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
	return *entry, true
}

// Restore seeds the list from the warm-start cache. Advisory only: Hydrate
// fully supersedes it once the authoritative list returns. No-op unless the
// list is still empty.
func (s *Store) Restore(msgs []Message) {
	s.mu.Lock()
	if len(s.entries) > 0 {
		s.mu.Unlock()
		return
	}
	for i := range msgs {
		m := msgs[i]
		if m.StableKey == "" {
			m.StableKey = random.String(12)
		}
		s.entries = append(s.entries, &m)
		s.byID[m.ID] = &m
	}
	fn, snap := s.notifyLocked()
	s.mu.Unlock()

	s.log.Debug().Int("count", len(msgs)).Msg("Restored cached message list")
	if fn != nil {
		fn(snap)
	}
}

// Hydrate replaces the list with the authoritative server list. Entries that
// match by durable ID keep their StableKey so the rendering layer does not
// re-mount them; unconfirmed placeholders survive at the tail, since the
// server list cannot contain them yet.
func (s *Store) Hydrate(recs []Record) {
	s.mu.Lock()
	prevKeys := make(map[string]string, len(s.entries))
	var pending []*Message
	for _, e := range s.entries {
		if IsPlaceholderID(e.ID) {
			pending = append(pending, e)
		} else {
			prevKeys[e.ID] = e.StableKey
		}
	}

	s.entries = s.entries[:0]
	s.byID = make(map[string]*Message, len(recs)+len(pending))
	for _, rec := range recs {
		if _, dup := s.byID[rec.ID]; dup {
			continue
		}
		msg := &Message{StableKey: random.String(12)}
		if key, ok := prevKeys[rec.ID]; ok {
			msg.StableKey = key
		}
		s.mergeLocked(msg, rec)
		s.entries = append(s.entries, msg)
		s.byID[msg.ID] = msg
	}
	for _, e := range pending {
		s.entries = append(s.entries, e)
		s.byID[e.ID] = e
	}
	fn, snap := s.notifyLocked()
	s.mu.Unlock()

	s.log.Debug().Int("count", len(recs)).Int("pending", len(pending)).
		Msg("Hydrated authoritative message list")
	if fn != nil {
		fn(snap)
	}
}

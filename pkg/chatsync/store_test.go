package chatsync

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() *Store {
	return NewStore(zerolog.Nop())
}

func TestReceiveRemoteIdempotence(t *testing.T) {
	s := newTestStore()
	rec := Record{ID: "m1", Sender: "alice", Text: "hi", CreatedAt: time.Now(), Persisted: true}

	s.ReceiveRemote(rec)
	s.ReceiveRemote(rec)

	require.Equal(t, 1, s.Len())
	msg, ok := s.Get("m1")
	require.True(t, ok)
	assert.Equal(t, "hi", msg.Text)
}

func TestReconciliationEitherOrder(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name         string
		confirmFirst bool
	}{
		{name: "confirm then broadcast", confirmFirst: true},
		{name: "broadcast then confirm", confirmFirst: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestStore()
			p1 := s.Append("hi", "alice")
			before, ok := s.Get(p1)
			require.True(t, ok)

			rec := Record{ID: "m1", Sender: "alice", Text: "hi", CreatedAt: now, Persisted: true}
			if tc.confirmFirst {
				require.True(t, s.Confirm(p1, rec))
				s.ReceiveRemote(rec)
			} else {
				s.ReceiveRemote(rec)
				// The broadcast already merged the placeholder, so the
				// late confirm must observe the settled ID and back off.
				require.False(t, s.Confirm(p1, rec))
			}

			require.Equal(t, 1, s.Len())
			msg, ok := s.Get("m1")
			require.True(t, ok)
			assert.False(t, msg.Failed)
			assert.True(t, msg.Persisted)
			assert.Equal(t, "alice", msg.Sender)
			assert.Equal(t, before.StableKey, msg.StableKey, "stable key must survive reconciliation")
		})
	}
}

func TestOrderPreservationAcrossConfirmations(t *testing.T) {
	s := newTestStore()
	placeholders := make([]string, 5)
	for i, text := range []string{"one", "two", "three", "four", "five"} {
		placeholders[i] = s.Append(text, "alice")
	}

	// Confirmations land in reverse arrival order.
	for i := len(placeholders) - 1; i >= 0; i-- {
		s.Confirm(placeholders[i], Record{ID: "m" + placeholders[i], Sender: "alice", CreatedAt: time.Now()})
	}

	snapshot := s.Snapshot()
	require.Len(t, snapshot, 5)
	for i, text := range []string{"one", "two", "three", "four", "five"} {
		assert.Equal(t, text, snapshot[i].Text)
		assert.True(t, snapshot[i].Persisted)
	}
}

func TestReceiveRemoteWithoutMatchAppends(t *testing.T) {
	s := newTestStore()
	s.Append("hello", "alice")
	s.ReceiveRemote(Record{ID: "m9", Sender: "bob", Text: "hey", CreatedAt: time.Now()})

	snapshot := s.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "m9", snapshot[1].ID)
	assert.True(t, snapshot[1].JustArrived, "broadcast append gets an entrance marker")

	// The marker is observed by at most one snapshot.
	assert.False(t, s.Snapshot()[1].JustArrived)
}

func TestReceiveRemoteMatchesOldestPendingDuplicate(t *testing.T) {
	// Two rapid identical sends: the best-effort text/sender heuristic merges
	// into the first unconfirmed placeholder.
	s := newTestStore()
	p1 := s.Append("same", "alice")
	p2 := s.Append("same", "alice")

	s.ReceiveRemote(Record{ID: "m1", Sender: "alice", Text: "same", CreatedAt: time.Now()})

	_, firstGone := s.Get(p1)
	assert.False(t, firstGone, "first placeholder should be merged away")
	second, ok := s.Get(p2)
	require.True(t, ok)
	assert.False(t, second.Persisted)
}

func TestFailKeepsEntryVisible(t *testing.T) {
	s := newTestStore()
	p1 := s.Append("hi", "alice")
	s.Fail(p1)

	msg, ok := s.Get(p1)
	require.True(t, ok)
	assert.True(t, msg.Failed)
	require.Equal(t, 1, s.Len(), "no entry is silently dropped")
}

func TestUploadPlaceholderFailureRetained(t *testing.T) {
	s := newTestStore()
	p1 := s.AppendMedia(MediaVideo, "alice", "local:abc/media", "local:abc/thumbnail")
	s.Fail(p1)

	msg, ok := s.Get(p1)
	require.True(t, ok)
	assert.True(t, msg.Failed)
	assert.Equal(t, "local:abc/media", msg.VideoRef)
	assert.Equal(t, "local:abc/thumbnail", msg.ThumbnailRef)
}

func TestRemoveIsImmediateAndUnconditional(t *testing.T) {
	s := newTestStore()
	p1 := s.Append("hi", "alice")

	removed, ok := s.Remove(p1)
	require.True(t, ok)
	assert.Equal(t, p1, removed.ID)
	assert.Equal(t, 0, s.Len())

	_, ok = s.Remove("nope")
	assert.False(t, ok)
}

func TestConfirmAfterRemoveIsNoop(t *testing.T) {
	s := newTestStore()
	p1 := s.Append("hi", "alice")
	s.Remove(p1)
	assert.False(t, s.Confirm(p1, Record{ID: "m1", Sender: "alice"}))
	assert.Equal(t, 0, s.Len())
}

func TestHydrateReplacesListPreservingStableKeys(t *testing.T) {
	s := newTestStore()
	s.ReceiveRemote(Record{ID: "m1", Sender: "alice", Text: "old", CreatedAt: time.Now()})
	existing, _ := s.Get("m1")
	pending := s.Append("unsent", "self")

	s.Hydrate([]Record{
		{ID: "m1", Sender: "alice", Text: "old", CreatedAt: time.Now()},
		{ID: "m2", Sender: "bob", Text: "new", CreatedAt: time.Now()},
	})

	snapshot := s.Snapshot()
	require.Len(t, snapshot, 3)
	assert.Equal(t, existing.StableKey, snapshot[0].StableKey, "matching id keeps its rendering identity")
	assert.Equal(t, "m2", snapshot[1].ID)
	assert.Equal(t, pending, snapshot[2].ID, "unconfirmed placeholder survives at the tail")
}

func TestRestoreIsAdvisoryOnly(t *testing.T) {
	s := newTestStore()
	s.Restore([]Message{{ID: "m1", Sender: "alice", Text: "cached", Persisted: true}})
	require.Equal(t, 1, s.Len())

	// Authoritative list fully supersedes the cached view.
	s.Hydrate([]Record{{ID: "m2", Sender: "alice", Text: "fresh", CreatedAt: time.Now()}})
	snapshot := s.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "m2", snapshot[0].ID)

	// Restore after anything is present is a no-op.
	s.Restore([]Message{{ID: "m3", Sender: "alice"}})
	assert.Equal(t, 1, s.Len())
}

func TestOnChangeFiresPerMutation(t *testing.T) {
	s := newTestStore()
	var calls int
	var last []Message
	s.SetOnChange(func(snap []Message) {
		calls++
		last = snap
	})

	p1 := s.Append("hi", "alice")
	s.Confirm(p1, Record{ID: "m1", Sender: "alice", CreatedAt: time.Now()})
	s.Remove("m1")

	assert.Equal(t, 3, calls)
	assert.Empty(t, last)
}

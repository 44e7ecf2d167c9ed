package chatsync

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// placeholderPrefix marks client-generated message IDs that have not been
// confirmed by the server yet. A placeholder ID is replaced in-place by the
// durable server ID during reconciliation; the StableKey survives the swap.
const placeholderPrefix = "pending:"

// NewPlaceholderID generates a client-side ID for an optimistic message.
func NewPlaceholderID() string {
	return placeholderPrefix + uuid.NewString()
}

// IsPlaceholderID reports whether id is an unconfirmed client-generated ID.
func IsPlaceholderID(id string) bool {
	return strings.HasPrefix(id, placeholderPrefix)
}

// MediaKind distinguishes the two capture pipelines.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// Message is one entry in the ordered chat list.
//
// ID is either a durable server identifier or a placeholder. StableKey never
// changes across reconciliation, so a rendering layer keyed on it never
// re-mounts the item when the placeholder ID is swapped for the server one.
type Message struct {
	ID           string
	Sender       string
	Text         string
	CreatedAt    time.Time
	AudioRef     string
	VideoRef     string
	ThumbnailRef string
	StableKey    string

	// Persisted is true once the server has acknowledged the message.
	Persisted bool
	// Failed marks a placeholder whose create/upload request was rejected.
	// The entry stays visible and deletable; there is no automatic retry.
	Failed bool
	// JustArrived marks an entry appended from a remote broadcast so the
	// rendering layer can play an entrance transition. Cleared on snapshot.
	JustArrived bool
}

// Record is a server-confirmed message as returned by the message and media
// upload APIs, and as carried by new-message broadcast events.
type Record struct {
	ID           string
	Sender       string
	Text         string
	CreatedAt    time.Time
	Kind         MediaKind
	MediaRef     string
	ThumbnailRef string
	Persisted    bool
}

// PresenceStatus is a participant's coarse availability.
type PresenceStatus string

const (
	PresenceOnline PresenceStatus = "online"
	PresenceAway   PresenceStatus = "away"
	PresenceDND    PresenceStatus = "dnd"
)

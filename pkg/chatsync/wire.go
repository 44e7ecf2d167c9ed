package chatsync

import (
	"encoding/json"
	"fmt"

	"go.mau.fi/util/jsontime"
)

// recordPayload is the JSON shape shared by the REST responses and the
// new-message broadcast event. Timestamps are unix milliseconds.
type recordPayload struct {
	ID           string             `json:"id"`
	Sender       string             `json:"sender"`
	Text         string             `json:"text,omitempty"`
	CreatedAt    jsontime.UnixMilli `json:"createdAt"`
	Kind         MediaKind          `json:"kind,omitempty"`
	MediaRef     string             `json:"mediaRef,omitempty"`
	ThumbnailRef string             `json:"thumbnailRef,omitempty"`
	Persisted    bool               `json:"persisted"`
}

// DecodeRecord parses a server message record. A record without an ID is
// malformed: reconciliation keys on the durable ID, so such a record could
// never be deduplicated and is rejected here instead.
func DecodeRecord(data []byte) (Record, error) {
	var p recordPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return Record{}, fmt.Errorf("failed to parse message record: %w", err)
	}
	if p.ID == "" {
		return Record{}, fmt.Errorf("message record is missing an id")
	}
	return Record{
		ID:           p.ID,
		Sender:       p.Sender,
		Text:         p.Text,
		CreatedAt:    p.CreatedAt.Time,
		Kind:         p.Kind,
		MediaRef:     p.MediaRef,
		ThumbnailRef: p.ThumbnailRef,
		Persisted:    p.Persisted,
	}, nil
}

// EncodeRecord is the inverse of DecodeRecord. Used by tests and by anything
// that needs to replay a record onto the wire.
func EncodeRecord(rec Record) ([]byte, error) {
	return json.Marshal(recordPayload{
		ID:           rec.ID,
		Sender:       rec.Sender,
		Text:         rec.Text,
		CreatedAt:    jsontime.UM(rec.CreatedAt),
		Kind:         rec.Kind,
		MediaRef:     rec.MediaRef,
		ThumbnailRef: rec.ThumbnailRef,
		Persisted:    rec.Persisted,
	})
}

// presencePayload is the body of a presence-changed event.
type presencePayload struct {
	ParticipantID string         `json:"participantId"`
	Status        PresenceStatus `json:"status"`
}

// signalPayload is the body of typing/speaking/viewer-state events.
type signalPayload struct {
	Sender string `json:"sender,omitempty"`
}

package chatsync

import "context"

// MessageAPI is the external message persistence collaborator.
type MessageAPI interface {
	CreateMessage(ctx context.Context, chatID, text string) (Record, error)
	DeleteMessage(ctx context.Context, id string) error
	ListMessages(ctx context.Context, chatID string) ([]Record, error)
}

// MediaAPI is the external media upload collaborator. DeleteOrphan removes an
// uploaded media object that never got a durable message row.
type MediaAPI interface {
	UploadMedia(ctx context.Context, chatID string, kind MediaKind, media, thumbnail []byte) (Record, error)
	DeleteOrphan(ctx context.Context, mediaRef string) error
}

// TypingAPI is the fire-and-forget typing signal collaborator.
type TypingAPI interface {
	SendTyping(ctx context.Context, chatID string)
}

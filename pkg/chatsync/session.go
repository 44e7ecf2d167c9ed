package chatsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// cachePersistTimeout bounds the warm-cache write that follows every store
// mutation.
const cachePersistTimeout = 5 * time.Second

// SessionDeps carries the collaborators a chat session needs. Messages,
// Media, Typing, Transport and Devices are required; Cache and Notice are
// optional.
type SessionDeps struct {
	Messages  MessageAPI
	Media     MediaAPI
	Typing    TypingAPI
	Transport Transport
	Devices   DeviceSource
	Cache     *WarmCache
	Config    *Config
	Log       zerolog.Logger
	// Notice receives user-facing non-blocking notices (delete failures,
	// device errors). Optional.
	Notice func(string)
}

// ChatSession owns everything tied to one active one-to-one chat view: the
// message store, the realtime subscriptions, the typing debouncer and the
// in-flight capture session. It is created when the chat is entered and torn
// down when it is left; nothing holds a subscription after Leave returns.
type ChatSession struct {
	chatID string
	selfID string
	peerID string

	store     *Store
	mux       *Mux
	presence  *PresenceMap
	indicator *IndicatorSet
	debouncer *TypingDebouncer

	messages MessageAPI
	media    MediaAPI
	typing   TypingAPI
	devices  DeviceSource
	cache    *WarmCache

	typingCfg  TypingConfig
	captureCfg CaptureConfig

	log     zerolog.Logger
	chatLog zerolog.Logger
	notice  func(string)

	mu      sync.Mutex
	capture *CaptureSession
	entered bool
}

// NewChatSession builds a session for one chat between selfID and peerID.
func NewChatSession(chatID, selfID, peerID string, deps SessionDeps) *ChatSession {
	chatLog := deps.Log.With().Str("chat_id", chatID).Logger()
	log := chatLog.With().Str("component", "session").Logger()
	typingCfg := TypingConfig{}
	captureCfg := CaptureConfig{}
	if deps.Config != nil {
		typingCfg = deps.Config.Typing
		captureCfg = deps.Config.Capture
	}
	notice := deps.Notice
	if notice == nil {
		notice = func(msg string) {
			log.Info().Str("notice", msg).Msg("User notice")
		}
	}

	s := &ChatSession{
		chatID:     chatID,
		selfID:     selfID,
		peerID:     peerID,
		store:      NewStore(chatLog),
		mux:        NewMux(deps.Transport, chatLog),
		presence:   NewPresenceMap(),
		messages:   deps.Messages,
		media:      deps.Media,
		typing:     deps.Typing,
		devices:    deps.Devices,
		cache:      deps.Cache,
		typingCfg:  typingCfg,
		captureCfg: captureCfg,
		log:        log,
		chatLog:    chatLog,
		notice:     notice,
	}
	s.indicator = NewIndicatorSet(typingCfg.IndicatorTTL(), nil)
	s.debouncer = NewTypingDebouncer(typingCfg.Debounce(), s.emitTyping)
	return s
}

// ChatChannel and PresenceChannel are the named push channels this session
// subscribes to.
func (s *ChatSession) ChatChannel() string     { return "chat-" + s.chatID }
func (s *ChatSession) PresenceChannel() string { return "presence-" + s.peerID }

// Store exposes the reconciliation engine, mainly for a rendering layer.
func (s *ChatSession) Store() *Store { return s.store }

// Mux exposes the channel multiplexer so the transport owner can route
// received events into it.
func (s *ChatSession) Mux() *Mux { return s.mux }

// Presence returns the participant presence state.
func (s *ChatSession) Presence() *PresenceMap { return s.presence }

// IndicatorActive reports whether a transient indicator (typing, speaking,
// viewer-state) is currently shown.
func (s *ChatSession) IndicatorActive(kind string) bool {
	return s.indicator.Active(kind)
}

// Enter activates the session: restores the advisory cached list, subscribes
// the chat and presence channels, binds the event handlers and then replaces
// the view with the authoritative server list.
func (s *ChatSession) Enter(ctx context.Context) error {
	s.mu.Lock()
	if s.entered {
		s.mu.Unlock()
		return nil
	}
	s.entered = true
	s.mu.Unlock()

	if s.cache != nil {
		if cached, err := s.cache.Load(ctx, s.chatID); err != nil {
			s.log.Warn().Err(err).Msg("Failed to load warm cache")
		} else if len(cached) > 0 {
			s.store.Restore(cached)
		}
	}

	if err := s.mux.Subscribe(ctx, s.ChatChannel()); err != nil {
		return err
	}
	_ = s.mux.Bind(s.ChatChannel(), EventNewMessage, s.handleNewMessage)
	_ = s.mux.Bind(s.ChatChannel(), EventTyping, s.handleSignal(EventTyping))
	_ = s.mux.Bind(s.ChatChannel(), EventSpeaking, s.handleSignal(EventSpeaking))
	_ = s.mux.Bind(s.ChatChannel(), EventViewerState, s.handleSignal(EventViewerState))

	if err := s.mux.Subscribe(ctx, s.PresenceChannel()); err != nil {
		// Keep the chat channel alive: presence is a side surface.
		s.log.Warn().Err(err).Msg("Presence channel subscription failed")
	} else {
		_ = s.mux.Bind(s.PresenceChannel(), EventPresenceChanged, s.handlePresence)
	}

	s.store.SetOnChange(s.persistSnapshot)

	recs, err := s.messages.ListMessages(ctx, s.chatID)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to fetch authoritative message list")
	} else {
		s.store.Hydrate(recs)
	}
	s.log.Info().Msg("Chat session entered")
	return nil
}

// Leave tears the session down: cancels any in-flight capture, stops timers
// and removes every channel binding before unsubscribing. Always completes.
func (s *ChatSession) Leave(ctx context.Context) {
	s.mu.Lock()
	capture := s.capture
	s.capture = nil
	s.entered = false
	s.mu.Unlock()

	if capture != nil {
		capture.Cancel()
	}
	s.debouncer.Stop()
	s.indicator.Stop()
	s.store.SetOnChange(nil)
	s.mux.TeardownAll(ctx)
	s.log.Info().Msg("Chat session left")
}

func (s *ChatSession) persistSnapshot(snapshot []Message) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cachePersistTimeout)
	defer cancel()
	if err := s.cache.StoreSnapshot(ctx, s.chatID, snapshot); err != nil {
		s.log.Warn().Err(err).Msg("Failed to persist warm cache")
	}
}

// ============================================================================
// Inbound event handlers
// ============================================================================

func (s *ChatSession) handleNewMessage(data json.RawMessage) {
	rec, err := DecodeRecord(data)
	if err != nil {
		s.log.Warn().Err(err).Msg("Dropping malformed new-message event")
		return
	}
	s.store.ReceiveRemote(rec)
}

func (s *ChatSession) handleSignal(kind string) EventHandler {
	return func(data json.RawMessage) {
		var p signalPayload
		if err := json.Unmarshal(data, &p); err != nil {
			s.log.Warn().Err(err).Str("event", kind).Msg("Dropping malformed signal event")
			return
		}
		if p.Sender == s.selfID {
			return
		}
		s.indicator.Set(kind)
	}
}

func (s *ChatSession) handlePresence(data json.RawMessage) {
	var p presencePayload
	if err := json.Unmarshal(data, &p); err != nil {
		s.log.Warn().Err(err).Msg("Dropping malformed presence event")
		return
	}
	s.presence.Set(p.ParticipantID, p.Status)
}

// ============================================================================
// Outbound operations
// ============================================================================

// SendText appends an optimistic message, issues the create request and
// reconciles the placeholder with the server record. The placeholder ID is
// returned in all cases; on failure the entry stays flagged for manual
// resend or delete.
func (s *ChatSession) SendText(ctx context.Context, text string) (string, error) {
	placeholderID := s.store.Append(text, s.selfID)
	rec, err := s.messages.CreateMessage(ctx, s.chatID, text)
	if err != nil {
		s.store.Fail(placeholderID)
		return placeholderID, fmt.Errorf("failed to send message: %w", err)
	}
	s.store.Confirm(placeholderID, rec)
	return placeholderID, nil
}

// Resend retries a failed text placeholder in place.
func (s *ChatSession) Resend(ctx context.Context, placeholderID string) error {
	entry, ok := s.store.Get(placeholderID)
	if !ok || !IsPlaceholderID(entry.ID) {
		return fmt.Errorf("no pending message %s to resend", placeholderID)
	}
	if !entry.Failed {
		return fmt.Errorf("message %s is not failed", placeholderID)
	}
	s.store.ClearFailed(placeholderID)
	rec, err := s.messages.CreateMessage(ctx, s.chatID, entry.Text)
	if err != nil {
		s.store.Fail(placeholderID)
		return fmt.Errorf("failed to resend message: %w", err)
	}
	s.store.Confirm(placeholderID, rec)
	return nil
}

// Remove deletes the entry locally, immediately and unconditionally, then
// issues the matching server-side delete: the orphaned-media path for an
// upload placeholder that never got a durable ID, the message delete
// otherwise. Either request's failure is reported via the notice callback
// and never restores the entry.
func (s *ChatSession) Remove(ctx context.Context, id string) {
	removed, ok := s.store.Remove(id)
	if !ok {
		return
	}
	if IsPlaceholderID(removed.ID) {
		ref := removed.VideoRef
		if ref == "" {
			ref = removed.AudioRef
		}
		if ref == "" {
			// A plain text placeholder never reached the server.
			return
		}
		if err := s.media.DeleteOrphan(ctx, ref); err != nil {
			s.log.Warn().Err(err).Str("media_ref", ref).Msg("Orphaned media delete failed")
			s.notice("The message was removed locally, but its media could not be deleted")
		}
		return
	}
	if err := s.messages.DeleteMessage(ctx, removed.ID); err != nil {
		s.log.Warn().Err(err).Str("id", removed.ID).Msg("Server-side delete failed")
		s.notice("The message was removed locally, but not on the server")
	}
}

// InputChanged records a local input-field change; at most one typing signal
// leaves per quiet window.
func (s *ChatSession) InputChanged() {
	s.debouncer.Touch()
}

func (s *ChatSession) emitTyping() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.typing.SendTyping(ctx, s.chatID)
}

// StartCapture begins a voice or video capture session. Only one can be in
// flight; starting while another is active fails.
func (s *ChatSession) StartCapture(ctx context.Context, kind MediaKind) (*CaptureSession, error) {
	s.mu.Lock()
	if s.capture != nil && !s.capture.State().terminal() {
		s.mu.Unlock()
		return nil, fmt.Errorf("a capture session is already in flight")
	}
	capture := NewCaptureSession(kind, s.chatID, s.selfID, CaptureDeps{
		Store:        s.store,
		Media:        s.media,
		Devices:      s.devices,
		Log:          s.chatLog,
		Notice:       s.notice,
		VideoCeiling: s.captureCfg.VideoCeiling(),
		ThumbEdge:    s.captureCfg.ThumbnailEdge,
		ThumbQuality: s.captureCfg.ThumbnailQuality,
	})
	s.capture = capture
	s.mu.Unlock()

	if err := capture.Start(ctx); err != nil {
		s.mu.Lock()
		if s.capture == capture {
			s.capture = nil
		}
		s.mu.Unlock()
		return nil, err
	}
	return capture, nil
}

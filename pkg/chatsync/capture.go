package chatsync

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// VideoCeiling is the hard recording limit for video circles. When elapsed
// time exceeds it the session stops itself with no further user action.
const VideoCeiling = 60 * time.Second

// CaptureState is a state of the media capture machine.
type CaptureState int

const (
	StateIdle CaptureState = iota
	StateRequestingDevice
	StateRecording
	StateStopping
	StateDerivingThumbnail
	StateUploading
	StateSucceeded
	StateFailed
	StateCancelled
)

func (s CaptureState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequestingDevice:
		return "requesting-device"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	case StateDerivingThumbnail:
		return "deriving-thumbnail"
	case StateUploading:
		return "uploading"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("CaptureState(%d)", int(s))
	}
}

// terminal reports whether the machine can never leave this state again.
func (s CaptureState) terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// PendingUpload is a snapshot of the one in-flight capture session.
type PendingUpload struct {
	Kind          MediaKind
	PlaceholderID string
	Media         []byte
	Thumbnail     []byte
	Status        CaptureState
}

// CaptureSession drives one voice or video-circle recording from device
// acquisition through upload. Exactly one session is active per chat at a
// time; the session owns the acquired device stream exclusively and releases
// it exactly once on every exit path (success, failure, cancellation or
// teardown).
type CaptureSession struct {
	kind    MediaKind
	chatID  string
	sender  string
	localID string

	store   *Store
	media   MediaAPI
	devices DeviceSource
	log     zerolog.Logger
	notice  func(string)

	ceiling      time.Duration
	thumbEdge    int
	thumbQuality int

	mu            sync.Mutex
	state         CaptureState
	stream        MediaStream
	chunks        [][]byte
	startedAt     time.Time
	ceilingTimer  *time.Timer
	released      bool
	cancelled     bool
	placeholderID string

	chunksDone chan struct{}
}

// CaptureDeps carries the collaborators a capture session needs.
type CaptureDeps struct {
	Store   *Store
	Media   MediaAPI
	Devices DeviceSource
	Log     zerolog.Logger
	// Notice receives user-facing, non-blocking error notices. Optional.
	Notice func(string)
	// VideoCeiling overrides the 60s recording limit. Used by tests.
	VideoCeiling time.Duration
	ThumbEdge    int
	ThumbQuality int
}

func NewCaptureSession(kind MediaKind, chatID, sender string, deps CaptureDeps) *CaptureSession {
	ceiling := deps.VideoCeiling
	if ceiling <= 0 {
		ceiling = VideoCeiling
	}
	return &CaptureSession{
		kind:         kind,
		chatID:       chatID,
		sender:       sender,
		localID:      uuid.NewString(),
		store:        deps.Store,
		media:        deps.Media,
		devices:      deps.Devices,
		log:          deps.Log.With().Str("component", "capture").Str("kind", string(kind)).Logger(),
		notice:       deps.Notice,
		ceiling:      ceiling,
		thumbEdge:    deps.ThumbEdge,
		thumbQuality: deps.ThumbQuality,
		state:        StateIdle,
		chunksDone:   make(chan struct{}),
	}
}

// State returns the current machine state.
func (c *CaptureSession) State() CaptureState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Elapsed returns how long the session has been recording.
func (c *CaptureSession) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startedAt.IsZero() {
		return 0
	}
	return time.Since(c.startedAt)
}

// Pending returns a snapshot of the in-flight upload bookkeeping.
func (c *CaptureSession) Pending() PendingUpload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return PendingUpload{
		Kind:          c.kind,
		PlaceholderID: c.placeholderID,
		Status:        c.state,
	}
}

func (c *CaptureSession) sendNotice(msg string) {
	if c.notice != nil {
		c.notice(msg)
	}
}

// Start acquires the capture device and begins recording. On denial the
// machine returns straight to IDLE with a user-facing notice: no
// PendingUpload and no placeholder message is created.
func (c *CaptureSession) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return fmt.Errorf("capture session already started (state %s)", c.state)
	}
	c.state = StateRequestingDevice
	c.mu.Unlock()

	// Suspension point: may block on a permission prompt.
	stream, err := c.devices.Acquire(ctx, c.kind)

	c.mu.Lock()
	if err != nil {
		if c.state == StateRequestingDevice {
			c.state = StateIdle
		}
		c.mu.Unlock()
		c.log.Warn().Err(err).Msg("Device acquisition failed")
		c.sendNotice("Could not access the capture device")
		return fmt.Errorf("%w: %v", ErrDeviceDenied, err)
	}
	if c.state == StateCancelled {
		// Cancelled while the prompt was open: the stream was never
		// published, release it here.
		c.mu.Unlock()
		stream.Release()
		return nil
	}
	c.stream = stream
	c.state = StateRecording
	c.startedAt = time.Now()
	if c.kind == MediaVideo {
		c.ceilingTimer = time.AfterFunc(c.ceiling, func() {
			c.log.Info().Dur("ceiling", c.ceiling).Msg("Recording ceiling reached, stopping")
			_ = c.Stop(context.Background())
		})
	}
	c.mu.Unlock()

	go c.collectChunks(stream)
	c.log.Debug().Msg("Recording started")
	return nil
}

func (c *CaptureSession) collectChunks(stream MediaStream) {
	for chunk := range stream.Chunks() {
		c.mu.Lock()
		c.chunks = append(c.chunks, chunk)
		c.mu.Unlock()
	}
	close(c.chunksDone)
}

// releaseStream releases the acquired device stream, at most once.
func (c *CaptureSession) releaseStream() {
	c.mu.Lock()
	stream := c.stream
	doIt := stream != nil && !c.released
	if doIt {
		c.released = true
	}
	c.mu.Unlock()
	if doIt {
		stream.Release()
		c.log.Debug().Msg("Released device stream")
	}
}

// Stop finalizes the recording and runs the rest of the pipeline: for video,
// a frame is grabbed and thumbnailed (failure there is non-fatal); then a
// placeholder message is appended optimistically and the payload uploaded.
// The placeholder is confirmed on success and flagged failed otherwise.
func (c *CaptureSession) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateRecording {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot stop capture in state %s", state)
	}
	c.state = StateStopping
	if c.ceilingTimer != nil {
		c.ceilingTimer.Stop()
		c.ceilingTimer = nil
	}
	stream := c.stream
	c.mu.Unlock()

	// Grab the still frame while the stream is live, then let go of the
	// device before the slow thumbnail/upload stages.
	var frame []byte
	if c.kind == MediaVideo {
		if fg, ok := stream.(FrameGrabber); ok {
			var err error
			frame, err = fg.Frame()
			if err != nil {
				c.log.Warn().Err(err).Msg("Frame grab failed, uploading without thumbnail")
				frame = nil
			}
		}
	}
	c.releaseStream()
	<-c.chunksDone

	c.mu.Lock()
	if c.state == StateCancelled {
		c.mu.Unlock()
		return nil
	}
	payload := bytes.Join(c.chunks, nil)
	c.chunks = nil

	var thumb []byte
	if c.kind == MediaVideo && frame != nil {
		c.state = StateDerivingThumbnail
		c.mu.Unlock()
		var err error
		thumb, err = RenderThumbnail(frame, c.thumbEdge, c.thumbQuality)
		if err != nil {
			// Degrade silently: the upload proceeds with no thumbnail ref.
			c.log.Warn().Err(err).Msg("Thumbnail derivation failed")
			thumb = nil
		}
		c.mu.Lock()
		if c.state == StateCancelled {
			c.mu.Unlock()
			return nil
		}
	}

	c.state = StateUploading
	c.mu.Unlock()

	return c.upload(ctx, payload, thumb)
}

func (c *CaptureSession) upload(ctx context.Context, payload, thumb []byte) error {
	localMediaRef := "local:" + c.localID + "/media"
	localThumbRef := ""
	if thumb != nil {
		localThumbRef = "local:" + c.localID + "/thumbnail"
	}
	placeholderID := c.store.AppendMedia(c.kind, c.sender, localMediaRef, localThumbRef)

	c.mu.Lock()
	c.placeholderID = placeholderID
	c.mu.Unlock()

	rec, err := c.media.UploadMedia(ctx, c.chatID, c.kind, payload, thumb)

	// A cancel requested mid-flight does not abort the request: it resolves
	// into SUCCEEDED or FAILED like any other, and the device was already
	// released in Stop, so there is nothing left to clean up twice.
	c.mu.Lock()
	wasCancelled := c.cancelled
	if err != nil {
		c.state = StateFailed
	} else {
		c.state = StateSucceeded
	}
	c.mu.Unlock()

	if err != nil {
		c.store.Fail(placeholderID)
		c.log.Error().Err(err).Bool("cancelled", wasCancelled).Msg("Media upload failed")
		c.sendNotice("Upload failed, the draft can be resent or deleted")
		return fmt.Errorf("media upload failed: %w", err)
	}
	c.store.Confirm(placeholderID, rec)
	c.log.Debug().Str("server_id", rec.ID).Msg("Media upload confirmed")
	return nil
}

// Cancel aborts the session. Reachable from every non-terminal state; always
// releases the device stream and clears pending timers. A cancel during
// UPLOADING only marks the session; the in-flight request is allowed to
// resolve on its own.
func (c *CaptureSession) Cancel() {
	c.mu.Lock()
	switch {
	case c.state.terminal() || c.state == StateIdle:
		c.mu.Unlock()
		return
	case c.state == StateUploading:
		c.cancelled = true
		c.mu.Unlock()
		c.log.Debug().Msg("Cancel requested during upload, letting request resolve")
		return
	}
	c.state = StateCancelled
	c.cancelled = true
	if c.ceilingTimer != nil {
		c.ceilingTimer.Stop()
		c.ceilingTimer = nil
	}
	c.mu.Unlock()

	c.releaseStream()
	c.log.Debug().Msg("Capture session cancelled")
}

package chatsync

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"
)

// ErrDeviceDenied is returned by a DeviceSource when the user denies the
// camera/microphone permission prompt or the device is unavailable.
var ErrDeviceDenied = errors.New("capture device denied or unavailable")

// MediaStream is an acquired hardware device stream. Chunks delivers encoded
// media chunks until the stream ends; the channel is closed after Release.
// The capture session owns the stream exclusively and releases it exactly
// once on every exit path.
type MediaStream interface {
	Chunks() <-chan []byte
	Release()
}

// FrameGrabber is implemented by video streams that can produce an encoded
// still image of the current camera frame, used to derive the thumbnail.
type FrameGrabber interface {
	Frame() ([]byte, error)
}

// DeviceSource acquires capture devices. Acquiring may suspend on a
// permission prompt, hence the context.
type DeviceSource interface {
	Acquire(ctx context.Context, kind MediaKind) (MediaStream, error)
}

// SyntheticSource fabricates device streams that emit pseudo-media chunks on
// a fixed interval. It backs chatctl demo runs and anything else that needs a
// working capture pipeline without hardware.
type SyntheticSource struct {
	// ChunkInterval is how often a chunk is emitted. Defaults to 250ms.
	ChunkInterval time.Duration
	// ChunkSize is the emitted chunk size in bytes. Defaults to 4096.
	ChunkSize int
}

func (s *SyntheticSource) Acquire(_ context.Context, kind MediaKind) (MediaStream, error) {
	interval := s.ChunkInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	size := s.ChunkSize
	if size <= 0 {
		size = 4096
	}
	st := &syntheticStream{
		kind:   kind,
		chunks: make(chan []byte, 8),
		stop:   make(chan struct{}),
	}
	go st.run(interval, size)
	return st, nil
}

type syntheticStream struct {
	kind    MediaKind
	chunks  chan []byte
	stop    chan struct{}
	release sync.Once
}

func (st *syntheticStream) run(interval time.Duration, size int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(st.chunks)
	var seq byte
	for {
		select {
		case <-st.stop:
			return
		case <-ticker.C:
			chunk := make([]byte, size)
			for i := range chunk {
				chunk[i] = seq + byte(i)
			}
			seq++
			select {
			case st.chunks <- chunk:
			case <-st.stop:
				return
			}
		}
	}
}

func (st *syntheticStream) Chunks() <-chan []byte {
	return st.chunks
}

func (st *syntheticStream) Release() {
	st.release.Do(func() {
		close(st.stop)
	})
}

// Frame renders a gradient still so video sessions exercise the full
// thumbnail path.
func (st *syntheticStream) Frame() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 360))
	for y := 0; y < 360; y++ {
		for x := 0; x < 640; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x / 3), G: uint8(y), B: 0x80, A: 0xFF})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

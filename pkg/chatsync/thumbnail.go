package chatsync

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/tiff"

	"golang.org/x/image/draw"
)

// Thumbnail output knobs. Quality matches what the upstream pipeline uses
// for derived thumbnails; the edge keeps circle previews cheap to push.
const (
	DefaultThumbnailEdge    = 320
	DefaultThumbnailQuality = 75
)

// ThumbnailError wraps a frame decode/encode failure. Thumbnailing is
// best-effort: callers log it and continue the upload with no thumbnail.
type ThumbnailError struct {
	Err error
}

func (e *ThumbnailError) Error() string {
	return fmt.Sprintf("failed to derive thumbnail: %v", e.Err)
}

func (e *ThumbnailError) Unwrap() error {
	return e.Err
}

// RenderThumbnail decodes a single still frame (PNG, JPEG, GIF or TIFF),
// center-crops it to a square and re-encodes it as a JPEG of edge×edge
// pixels at the given quality.
func RenderThumbnail(frame []byte, edge, quality int) ([]byte, error) {
	if edge <= 0 {
		edge = DefaultThumbnailEdge
	}
	if quality <= 0 {
		quality = DefaultThumbnailQuality
	}

	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, &ThumbnailError{Err: err}
	}

	bounds := img.Bounds()
	side := bounds.Dx()
	if bounds.Dy() < side {
		side = bounds.Dy()
	}
	if side < 1 {
		return nil, &ThumbnailError{Err: fmt.Errorf("frame has empty bounds %v", bounds)}
	}
	crop := image.Rect(0, 0, side, side).
		Add(image.Pt(bounds.Min.X+(bounds.Dx()-side)/2, bounds.Min.Y+(bounds.Dy()-side)/2))

	dst := image.NewRGBA(image.Rect(0, 0, edge, edge))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, crop, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, &ThumbnailError{Err: err}
	}
	return buf.Bytes(), nil
}

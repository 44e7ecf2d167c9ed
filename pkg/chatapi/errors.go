package chatapi

import "fmt"

// SendError means a message create request failed or returned malformed
// data. The caller keeps the placeholder flagged failed; there is no
// automatic retry.
type SendError struct {
	Status int
	Err    error
}

func (e *SendError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("message create rejected with status %d", e.Status)
	}
	return fmt.Sprintf("message create failed: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// UploadError means a media upload request failed. The placeholder is kept
// for manual deletion via the orphaned-media path.
type UploadError struct {
	Status int
	Err    error
}

func (e *UploadError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("media upload rejected with status %d", e.Status)
	}
	return fmt.Sprintf("media upload failed: %v", e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// DeleteError means a server-side delete failed after the local optimistic
// removal. The removal is deliberately not reverted.
type DeleteError struct {
	Status int
	Err    error
}

func (e *DeleteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("delete rejected with status %d", e.Status)
	}
	return fmt.Sprintf("delete failed: %v", e.Err)
}

func (e *DeleteError) Unwrap() error { return e.Err }

package chatapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/young13371337/linker-sub001/pkg/chatsync"
)

// jpegMagic is enough of a JPEG header for content sniffing.
var jpegMagic = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}

func recordJSON(id, sender, text string) string {
	return fmt.Sprintf(`{"id":%q,"sender":%q,"text":%q,"createdAt":%d,"persisted":true}`,
		id, sender, text, time.Now().UnixMilli())
}

func TestCreateMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chats/c1/messages", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hi", body["text"])
		fmt.Fprint(w, recordJSON("m1", "self", "hi"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	rec, err := c.CreateMessage(context.Background(), "c1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "m1", rec.ID)
	assert.True(t, rec.Persisted)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestCreateMessageRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	_, err := c.CreateMessage(context.Background(), "c1", "hi")
	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, http.StatusBadGateway, sendErr.Status)
}

func TestCreateMessageMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"sender":"self"}`) // no id
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	_, err := c.CreateMessage(context.Background(), "c1", "hi")
	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
}

func TestListMessagesSkipsMalformedRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chats/c1/messages", r.URL.Path)
		fmt.Fprintf(w, `[%s,{"sender":"broken"},%s]`,
			recordJSON("m1", "bob", "a"), recordJSON("m2", "self", "b"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	recs, err := c.ListMessages(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "m1", recs[0].ID)
	assert.Equal(t, "m2", recs[1].ID)
}

func TestDeleteMessage(t *testing.T) {
	var deleted string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		deleted = strings.TrimPrefix(r.URL.Path, "/messages/")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	require.NoError(t, c.DeleteMessage(context.Background(), "m1"))
	assert.Equal(t, "m1", deleted)
}

func TestDeleteMessageFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	err := c.DeleteMessage(context.Background(), "m1")
	var delErr *DeleteError
	require.ErrorAs(t, err, &delErr)
	assert.Equal(t, http.StatusInternalServerError, delErr.Status)
}

func TestUploadMediaMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chats/c1/media", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, "video", r.MultipartForm.Value["kind"][0])

		mediaHeader := r.MultipartForm.File["media"][0]
		mediaFile, err := mediaHeader.Open()
		require.NoError(t, err)
		defer mediaFile.Close()
		data, _ := io.ReadAll(mediaFile)
		assert.Equal(t, []byte("video-bytes"), data)

		thumbHeader := r.MultipartForm.File["thumbnail"][0]
		assert.Equal(t, "image/jpeg", thumbHeader.Header.Get("Content-Type"),
			"thumbnail content type must be sniffed from the payload")

		fmt.Fprintf(w, `{"id":"m5","sender":"self","createdAt":%d,"kind":"video","mediaRef":"media/m5.mp4","thumbnailRef":"media/m5.jpg","persisted":true}`,
			time.Now().UnixMilli())
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	rec, err := c.UploadMedia(context.Background(), "c1", chatsync.MediaVideo, []byte("video-bytes"), jpegMagic)
	require.NoError(t, err)
	assert.Equal(t, "m5", rec.ID)
	assert.Equal(t, "media/m5.mp4", rec.MediaRef)
	assert.Equal(t, "media/m5.jpg", rec.ThumbnailRef)
}

func TestUploadMediaWithoutThumbnail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Empty(t, r.MultipartForm.File["thumbnail"])
		fmt.Fprintf(w, `{"id":"m6","sender":"self","createdAt":%d,"kind":"audio","mediaRef":"media/m6.ogg","persisted":true}`,
			time.Now().UnixMilli())
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	rec, err := c.UploadMedia(context.Background(), "c1", chatsync.MediaAudio, []byte("audio-bytes"), nil)
	require.NoError(t, err)
	assert.Equal(t, "m6", rec.ID)
	assert.Empty(t, rec.ThumbnailRef)
}

func TestUploadMediaRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	_, err := c.UploadMedia(context.Background(), "c1", chatsync.MediaAudio, []byte("x"), nil)
	var upErr *UploadError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusRequestEntityTooLarge, upErr.Status)
}

func TestDeleteOrphan(t *testing.T) {
	var gotRef string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/media/orphans/delete", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotRef = body["mediaRef"]
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	require.NoError(t, c.DeleteOrphan(context.Background(), "media/orphan.mp4"))
	assert.Equal(t, "media/orphan.mp4", gotRef)
}

func TestSendTypingIsRateLimited(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chats/c1/typing", r.URL.Path)
		hits++
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	// Burst beyond the limiter: only the burst allowance gets through.
	for i := 0; i < 10; i++ {
		c.SendTyping(context.Background(), "c1")
	}
	assert.Equal(t, 2, hits)
}

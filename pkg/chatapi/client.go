// Package chatapi implements the HTTP clients for the external message,
// media and typing-signal collaborators consumed by the sync engine.
package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/young13371337/linker-sub001/pkg/chatsync"
)

// Client talks to the chat REST API. It implements chatsync.MessageAPI,
// chatsync.MediaAPI and chatsync.TypingAPI.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger

	// typingLim floors the fire-and-forget typing endpoint. The debouncer is
	// the primary limiter; this only guards against a misbehaving caller.
	typingLim *rate.Limiter
}

var _ chatsync.MessageAPI = (*Client)(nil)
var _ chatsync.MediaAPI = (*Client)(nil)
var _ chatsync.TypingAPI = (*Client)(nil)

func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: 30 * time.Second},
		log:       log.With().Str("component", "chatapi").Logger(),
		typingLim: rate.NewLimiter(rate.Every(time.Second), 2),
	}
}

func (c *Client) endpoint(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.baseURL + "/" + strings.Join(escaped, "/")
}

// CreateMessage persists a text message and returns the server record.
func (c *Client) CreateMessage(ctx context.Context, chatID, text string) (chatsync.Record, error) {
	body, _ := json.Marshal(map[string]string{"text": text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint("chats", chatID, "messages"), bytes.NewReader(body))
	if err != nil {
		return chatsync.Record{}, &SendError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return chatsync.Record{}, &SendError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return chatsync.Record{}, &SendError{Status: resp.StatusCode}
	}
	rec, err := decodeRecordBody(resp.Body)
	if err != nil {
		return chatsync.Record{}, &SendError{Err: err}
	}
	return rec, nil
}

// DeleteMessage removes a durable message row.
func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint("messages", id), nil)
	if err != nil {
		return &DeleteError{Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &DeleteError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeleteError{Status: resp.StatusCode}
	}
	return nil
}

// ListMessages fetches the authoritative message list for a chat.
func (c *Client) ListMessages(ctx context.Context, chatID string) ([]chatsync.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.endpoint("chats", chatID, "messages"), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("message list rejected with status %d", resp.StatusCode)
	}

	var raw []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse message list: %w", err)
	}
	recs := make([]chatsync.Record, 0, len(raw))
	for _, item := range raw {
		rec, err := chatsync.DecodeRecord(item)
		if err != nil {
			c.log.Warn().Err(err).Msg("Skipping malformed record in message list")
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// UploadMedia posts the finished capture payload (and optional thumbnail) as
// multipart form data. Part content types are sniffed from the payload
// bytes, not trusted from the caller.
func (c *Client) UploadMedia(ctx context.Context, chatID string, kind chatsync.MediaKind, media, thumbnail []byte) (chatsync.Record, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	if err := writeFilePart(form, "media", string(kind), media); err != nil {
		return chatsync.Record{}, &UploadError{Err: err}
	}
	if thumbnail != nil {
		if err := writeFilePart(form, "thumbnail", "thumbnail", thumbnail); err != nil {
			return chatsync.Record{}, &UploadError{Err: err}
		}
	}
	if err := form.WriteField("kind", string(kind)); err != nil {
		return chatsync.Record{}, &UploadError{Err: err}
	}
	if err := form.Close(); err != nil {
		return chatsync.Record{}, &UploadError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint("chats", chatID, "media"), &body)
	if err != nil {
		return chatsync.Record{}, &UploadError{Err: err}
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return chatsync.Record{}, &UploadError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return chatsync.Record{}, &UploadError{Status: resp.StatusCode}
	}
	rec, err := decodeRecordBody(resp.Body)
	if err != nil {
		return chatsync.Record{}, &UploadError{Err: err}
	}
	return rec, nil
}

// DeleteOrphan removes an uploaded media object that has no durable message
// row. Used only for placeholders that never got a server ID.
func (c *Client) DeleteOrphan(ctx context.Context, mediaRef string) error {
	body, _ := json.Marshal(map[string]string{"mediaRef": mediaRef})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint("media", "orphans", "delete"), bytes.NewReader(body))
	if err != nil {
		return &DeleteError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &DeleteError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeleteError{Status: resp.StatusCode}
	}
	return nil
}

// SendTyping fires a typing signal. Fire-and-forget: failures are logged,
// never surfaced, and bursts beyond the rate floor are dropped.
func (c *Client) SendTyping(ctx context.Context, chatID string) {
	if !c.typingLim.Allow() {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint("chats", chatID, "typing"), nil)
	if err != nil {
		return
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Msg("Typing signal failed")
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func writeFilePart(form *multipart.Writer, field, name string, data []byte) error {
	mtype := mimetype.Detect(data)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name=%q; filename=%q`, field, name+mtype.Extension()))
	header.Set("Content-Type", mtype.String())
	part, err := form.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = part.Write(data)
	return err
}

func decodeRecordBody(body io.Reader) (chatsync.Record, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return chatsync.Record{}, err
	}
	return chatsync.DecodeRecord(data)
}

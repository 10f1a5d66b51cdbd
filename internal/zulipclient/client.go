// Package zulipclient implements authenticated REST calls against a Zulip
// server's /api/v1/ surface: profile and directory lookups, message and
// reaction operations, and the event-queue endpoints consumed by the
// long-poll ingest loop.
package zulipclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Client is a Basic-auth REST client bound to one Zulip site and bot account.
type Client struct {
	siteURL    string
	email      string
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger
}

// New creates a client for siteURL, authenticating every request with
// email/apiKey over HTTP Basic. No session state is held between requests.
func New(siteURL, email, apiKey string, log zerolog.Logger) *Client {
	return &Client{
		siteURL:    strings.TrimSuffix(siteURL, "/"),
		email:      email,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.With().Str("component", "zulipclient").Logger(),
	}
}

// envelope is the {result, msg, ...} shape every Zulip response carries.
type envelope struct {
	Result string `json:"result"`
	Msg    string `json:"msg"`
	Code   string `json:"code"`
}

// do performs an authenticated request against base/api/v1/<path>, form-
// encoding params as the request body (POST/PATCH/DELETE) or query string
// (GET), and unmarshals the response into out after checking result.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, out any) error {
	reqURL := c.siteURL + "/api/v1/" + strings.TrimPrefix(path, "/")

	var req *http.Request
	var err error
	if method == http.MethodGet {
		if len(params) > 0 {
			reqURL += "?" + params.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, method, reqURL, nil)
	} else {
		body := strings.NewReader(params.Encode())
		req, err = http.NewRequestWithContext(ctx, method, reqURL, body)
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return errors.Wrap(err, "failed to build zulip request")
	}
	req.SetBasicAuth(c.email, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "zulip request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return errors.Wrap(err, "failed to read zulip response")
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return errors.Wrap(err, "failed to parse zulip response envelope")
	}
	if env.Result != "success" {
		return &Error{Msg: env.Msg, Code: env.Code, StatusCode: resp.StatusCode}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return errors.Wrap(err, "failed to parse zulip response payload")
		}
	}
	return nil
}

// Profile is the payload of GET /users/me.
type Profile struct {
	UserID      int64  `json:"user_id"`
	Email       string `json:"email"`
	FullName    string `json:"full_name"`
	AvatarURL   string `json:"avatar_url"`
	IsBot       bool   `json:"is_bot"`
}

// GetProfile returns the authenticated account's own profile.
func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	var resp Profile
	if err := c.do(ctx, http.MethodGet, "users/me", nil, &resp); err != nil {
		return nil, errors.Wrap(err, "failed to get profile")
	}
	return &resp, nil
}

// User is a single member of the realm, as returned by ListUsers.
type User struct {
	UserID      int64  `json:"user_id"`
	Email       string `json:"email"`
	FullName    string `json:"full_name"`
	AvatarURL   string `json:"avatar_url"`
	IsBot       bool   `json:"is_bot"`
	IsActive    bool   `json:"is_active"`
}

// ListUsers returns every user in the realm.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var resp struct {
		Members []User `json:"members"`
	}
	if err := c.do(ctx, http.MethodGet, "users", nil, &resp); err != nil {
		return nil, errors.Wrap(err, "failed to list users")
	}
	return resp.Members, nil
}

// Stream is a single channel, as returned by ListStreams.
type Stream struct {
	StreamID    int64  `json:"stream_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Invite      bool   `json:"invite_only"`
}

// ListStreams returns every stream visible to the authenticated account.
func (c *Client) ListStreams(ctx context.Context) ([]Stream, error) {
	var resp struct {
		Streams []Stream `json:"streams"`
	}
	if err := c.do(ctx, http.MethodGet, "streams", nil, &resp); err != nil {
		return nil, errors.Wrap(err, "failed to list streams")
	}
	return resp.Streams, nil
}

// GetStreamID resolves a stream name to its numeric ID.
func (c *Client) GetStreamID(ctx context.Context, name string) (int64, error) {
	params := url.Values{"stream": {name}}
	var resp struct {
		StreamID int64 `json:"stream_id"`
	}
	if err := c.do(ctx, http.MethodGet, "get_stream_id", params, &resp); err != nil {
		return 0, errors.Wrap(err, "failed to resolve stream id")
	}
	return resp.StreamID, nil
}

// SendResponse is the {id} payload returned from a successful message send.
type SendResponse struct {
	ID int64 `json:"id"`
}

// SendStreamMessage posts to a stream/topic.
func (c *Client) SendStreamMessage(ctx context.Context, stream, topic, content string) (*SendResponse, error) {
	params := url.Values{
		"type":    {"stream"},
		"to":      {stream},
		"topic":   {topic},
		"content": {content},
	}
	var resp SendResponse
	if err := c.do(ctx, http.MethodPost, "messages", params, &resp); err != nil {
		return nil, errors.Wrap(err, "failed to send stream message")
	}
	return &resp, nil
}

// SendPrivateMessage sends a direct message to the given recipient emails.
func (c *Client) SendPrivateMessage(ctx context.Context, recipients []string, content string) (*SendResponse, error) {
	toJSON, err := json.Marshal(recipients)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode private message recipients")
	}
	params := url.Values{
		"type":    {"private"},
		"to":      {string(toJSON)},
		"content": {content},
	}
	var resp SendResponse
	if err := c.do(ctx, http.MethodPost, "messages", params, &resp); err != nil {
		return nil, errors.Wrap(err, "failed to send private message")
	}
	return &resp, nil
}

// EditMessage updates the content of an existing message.
func (c *Client) EditMessage(ctx context.Context, messageID int64, content string) error {
	path := fmt.Sprintf("messages/%d", messageID)
	params := url.Values{"content": {content}}
	return errors.Wrap(c.do(ctx, http.MethodPatch, path, params, nil), "failed to edit message")
}

// DeleteMessage deletes a message by ID.
func (c *Client) DeleteMessage(ctx context.Context, messageID int64) error {
	path := fmt.Sprintf("messages/%d", messageID)
	return errors.Wrap(c.do(ctx, http.MethodDelete, path, nil, nil), "failed to delete message")
}

// AddReaction adds a unicode emoji reaction to a message.
func (c *Client) AddReaction(ctx context.Context, messageID int64, emojiName string) error {
	path := fmt.Sprintf("messages/%d/reactions", messageID)
	params := url.Values{
		"emoji_name": {emojiName},
		"reaction_type": {"unicode_emoji"},
	}
	return errors.Wrap(c.do(ctx, http.MethodPost, path, params, nil), "failed to add reaction")
}

// RemoveReaction removes a unicode emoji reaction from a message.
func (c *Client) RemoveReaction(ctx context.Context, messageID int64, emojiName string) error {
	path := fmt.Sprintf("messages/%d/reactions", messageID)
	params := url.Values{
		"emoji_name": {emojiName},
		"reaction_type": {"unicode_emoji"},
	}
	return errors.Wrap(c.do(ctx, http.MethodDelete, path, params, nil), "failed to remove reaction")
}

// RegisterQueueResponse is the {queue_id, last_event_id} payload.
type RegisterQueueResponse struct {
	QueueID     string `json:"queue_id"`
	LastEventID int64  `json:"last_event_id"`
}

// RegisterEventQueue registers a new event queue for the given event types.
func (c *Client) RegisterEventQueue(ctx context.Context, eventTypes []string, allPublicStreams, includeSubscribers bool) (*RegisterQueueResponse, error) {
	typesJSON, err := json.Marshal(eventTypes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode event types")
	}
	params := url.Values{
		"event_types":          {string(typesJSON)},
		"all_public_streams":   {strconv.FormatBool(allPublicStreams)},
		"include_subscribers":  {strconv.FormatBool(includeSubscribers)},
	}
	var resp RegisterQueueResponse
	if err := c.do(ctx, http.MethodPost, "register", params, &resp); err != nil {
		return nil, errors.Wrap(err, "failed to register event queue")
	}
	return &resp, nil
}

// Event is a single entry from GetEvents; Data carries the type-specific payload.
type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full event object into Data while also
// decoding the common id/type fields, since each event type's remaining
// fields vary and are decoded later by the ingest dispatcher.
func (e *Event) UnmarshalJSON(data []byte) error {
	var common struct {
		ID   int64  `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &common); err != nil {
		return err
	}
	e.ID = common.ID
	e.Type = common.Type
	e.Data = data
	return nil
}

// GetEvents long-polls for events strictly newer than lastEventID, in
// ascending ID order. dontBlock should be true only for the narrow
// bootstrap call that checks a queue is still alive without waiting.
func (c *Client) GetEvents(ctx context.Context, queueID string, lastEventID int64, dontBlock bool) ([]Event, error) {
	params := url.Values{
		"queue_id":      {queueID},
		"last_event_id": {strconv.FormatInt(lastEventID, 10)},
		"dont_block":    {strconv.FormatBool(dontBlock)},
	}
	var resp struct {
		Events []Event `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, "events", params, &resp); err != nil {
		return nil, errors.Wrap(err, "failed to get events")
	}
	return resp.Events, nil
}

// SubscribeToStreams subscribes the authenticated account to the named streams.
func (c *Client) SubscribeToStreams(ctx context.Context, streamNames []string) error {
	subs := make([]map[string]string, len(streamNames))
	for i, name := range streamNames {
		subs[i] = map[string]string{"name": name}
	}
	subsJSON, err := json.Marshal(subs)
	if err != nil {
		return errors.Wrap(err, "failed to encode stream subscriptions")
	}
	params := url.Values{"subscriptions": {string(subsJSON)}}
	return errors.Wrap(c.do(ctx, http.MethodPost, "users/me/subscriptions", params, nil), "failed to subscribe to streams")
}

// UploadResponse is the {uri} payload from a successful file upload.
type UploadResponse struct {
	URI string `json:"uri"`
}

// UploadFile uploads content under filename and returns its Zulip URI.
func (c *Client) UploadFile(ctx context.Context, filename string, content io.Reader, contentType string) (*UploadResponse, error) {
	reqURL := c.siteURL + "/api/v1/user_uploads"

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build upload form")
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, errors.Wrap(err, "failed to read upload content")
	}
	if err := mw.Close(); err != nil {
		return nil, errors.Wrap(err, "failed to finalize upload form")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, &buf)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build upload request")
	}
	req.SetBasicAuth(c.email, c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "upload request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read upload response")
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, errors.Wrap(err, "failed to parse upload response envelope")
	}
	if env.Result != "success" {
		return nil, &Error{Msg: env.Msg, Code: env.Code, StatusCode: resp.StatusCode}
	}

	var out UploadResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, errors.Wrap(err, "failed to parse upload response payload")
	}
	return &out, nil
}

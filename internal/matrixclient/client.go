// Package matrixclient implements impersonated HTTP calls against a Matrix
// homeserver using an application service token, following the appservice
// convention of stamping a ghost's user ID into the ?user_id= query
// parameter of every request made on that ghost's behalf.
package matrixclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// SendEventResponse is the {event_id} response Matrix returns from send/state endpoints.
type SendEventResponse struct {
	EventID string `json:"event_id"`
}

// RoomMember is a single m.room.member entry from /rooms/{roomId}/state.
type RoomMember struct {
	UserID     string
	Membership string
	DisplayName string
}

// RegisterResponse is the body returned from POST /register.
type RegisterResponse struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
}

// Client is an impersonation-capable Matrix client. It is safe for
// concurrent use; no per-call sender state is stored on the struct itself,
// so every impersonated call is an ephemeral clone of the base request.
type Client struct {
	serverURL  string
	asToken    string
	domain     string
	httpClient *http.Client
	log        zerolog.Logger

	rateLimitConfig     RateLimitConfig
	roomCreationLimiter *TokenBucket
	messageLimiter      *TokenBucket
	inviteLimiter       *TokenBucket
	registrationLimiter *TokenBucket
	joinLimiter         *TokenBucket
}

// New creates a Matrix client bound to serverURL, authenticating every
// request with asToken. domain is the bridge's configured Matrix server
// name, used to build ghost MXIDs elsewhere.
func New(serverURL, asToken, domain string, log zerolog.Logger, rateLimitConfig RateLimitConfig) *Client {
	c := &Client{
		serverURL:       strings.TrimSuffix(serverURL, "/"),
		asToken:         asToken,
		domain:          domain,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		log:             log.With().Str("component", "matrixclient").Logger(),
		rateLimitConfig: rateLimitConfig,
	}

	if rateLimitConfig.Enabled {
		c.roomCreationLimiter = NewTokenBucket(rateLimitConfig.RoomCreation)
		c.messageLimiter = NewTokenBucket(rateLimitConfig.Messages)
		c.inviteLimiter = NewTokenBucket(rateLimitConfig.Invites)
		c.registrationLimiter = NewTokenBucket(rateLimitConfig.Registration)
		c.joinLimiter = NewTokenBucket(rateLimitConfig.Joins)
	}

	return c
}

func (c *Client) waitForRateLimit(ctx context.Context, limiter *TokenBucket, operation string) error {
	if !c.rateLimitConfig.Enabled || limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return errors.Wrapf(err, "%s rate limited", operation)
	}
	return nil
}

// request performs an authenticated call against the client-server API.
// When asUser is non-empty the request is impersonated per the appservice
// convention (?user_id=<asUser>), otherwise it runs as the appservice's own
// bot user.
func (c *Client) request(ctx context.Context, method, path string, asUser string, body any) ([]byte, error) {
	u, err := url.Parse(c.serverURL + path)
	if err != nil {
		return nil, errors.Wrap(err, "invalid matrix request path")
	}
	q := u.Query()
	if asUser != "" {
		q.Set("user_id", asUser)
	}
	u.RawQuery = q.Encode()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode matrix request body")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build matrix request")
	}
	req.Header.Set("Authorization", "Bearer "+c.asToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "matrix request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read matrix response")
	}

	if resp.StatusCode >= 300 {
		return nil, parseMatrixError(resp.StatusCode, respBody)
	}

	return respBody, nil
}

func pathEscape(component string) string {
	return url.PathEscape(component)
}

// sendEvent sends a non-state event and returns the new event ID.
func (c *Client) sendEvent(ctx context.Context, roomID, eventType string, content map[string]any, asUser string) (*SendEventResponse, error) {
	txnID := uuid.NewString()
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/%s/%s", pathEscape(roomID), pathEscape(eventType), pathEscape(txnID))

	respBody, err := c.request(ctx, http.MethodPut, path, asUser, content)
	if err != nil {
		return nil, err
	}

	var resp SendEventResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, errors.Wrap(err, "failed to parse send event response")
	}
	return &resp, nil
}

// sendState sends a state event and returns the new event ID.
func (c *Client) sendState(ctx context.Context, roomID, eventType, stateKey string, content map[string]any, asUser string) (*SendEventResponse, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/state/%s/%s", pathEscape(roomID), pathEscape(eventType), pathEscape(stateKey))

	respBody, err := c.request(ctx, http.MethodPut, path, asUser, content)
	if err != nil {
		return nil, err
	}

	var resp SendEventResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, errors.Wrap(err, "failed to parse send state response")
	}
	return &resp, nil
}

// SendMessage sends a plain or HTML-formatted m.room.message as sender.
func (c *Client) SendMessage(ctx context.Context, roomID, sender, body, formattedBody string) (*SendEventResponse, error) {
	if err := c.waitForRateLimit(ctx, c.messageLimiter, "send message"); err != nil {
		return nil, err
	}
	return c.sendEvent(ctx, roomID, "m.room.message", textContent("m.text", body, formattedBody), sender)
}

// SendMessageWithReply sends a message carrying an m.in_reply_to relation.
func (c *Client) SendMessageWithReply(ctx context.Context, roomID, sender, body, formattedBody, replyToEventID string) (*SendEventResponse, error) {
	if err := c.waitForRateLimit(ctx, c.messageLimiter, "send reply"); err != nil {
		return nil, err
	}
	return c.sendEvent(ctx, roomID, "m.room.message", replyContent("m.text", body, formattedBody, replyToEventID), sender)
}

// SendMessageEdit sends an m.replace edit of editOfEventID.
func (c *Client) SendMessageEdit(ctx context.Context, roomID, sender, body, formattedBody, editOfEventID string) (*SendEventResponse, error) {
	if err := c.waitForRateLimit(ctx, c.messageLimiter, "send edit"); err != nil {
		return nil, err
	}
	return c.sendEvent(ctx, roomID, "m.room.message", editContent("m.text", body, formattedBody, editOfEventID), sender)
}

// SendReaction sends an m.reaction annotating targetEventID with key.
func (c *Client) SendReaction(ctx context.Context, roomID, sender, targetEventID, key string) (*SendEventResponse, error) {
	if err := c.waitForRateLimit(ctx, c.messageLimiter, "send reaction"); err != nil {
		return nil, err
	}
	return c.sendEvent(ctx, roomID, "m.reaction", reactionContent(targetEventID, key), sender)
}

// RedactEvent redacts eventID in roomID as sender.
func (c *Client) RedactEvent(ctx context.Context, roomID, sender, eventID, reason string) (*SendEventResponse, error) {
	if err := c.waitForRateLimit(ctx, c.messageLimiter, "redact event"); err != nil {
		return nil, err
	}
	content := map[string]any{}
	if reason != "" {
		content["reason"] = reason
	}
	txnID := uuid.NewString()
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/redact/%s/%s", pathEscape(roomID), pathEscape(eventID), pathEscape(txnID))
	respBody, err := c.request(ctx, http.MethodPut, path, sender, content)
	if err != nil {
		return nil, err
	}
	var resp SendEventResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, errors.Wrap(err, "failed to parse redact response")
	}
	return &resp, nil
}

// CreateRoom creates a room owned by the bot, optionally with a published
// alias, an initial topic, and public join rules. It returns the new room ID.
func (c *Client) CreateRoom(ctx context.Context, name, alias, topic string, public bool) (string, error) {
	if err := c.waitForRateLimit(ctx, c.roomCreationLimiter, "create room"); err != nil {
		return "", err
	}

	body := map[string]any{
		"name":           name,
		"preset":         "private_chat",
		"visibility":     "private",
		"creation_content": map[string]any{},
	}
	if public {
		body["preset"] = "public_chat"
		body["visibility"] = "public"
	}
	if alias != "" {
		body["room_alias_name"] = alias
	}
	if topic != "" {
		body["topic"] = topic
	}

	respBody, err := c.request(ctx, http.MethodPost, "/_matrix/client/v3/createRoom", "", body)
	if err != nil {
		return "", err
	}

	var resp struct {
		RoomID string `json:"room_id"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", errors.Wrap(err, "failed to parse create room response")
	}
	return resp.RoomID, nil
}

// SetRoomName sets the m.room.name state event as sender.
func (c *Client) SetRoomName(ctx context.Context, roomID, sender, name string) error {
	_, err := c.sendState(ctx, roomID, "m.room.name", "", map[string]any{"name": name}, sender)
	return err
}

// SetRoomTopic sets the m.room.topic state event as sender.
func (c *Client) SetRoomTopic(ctx context.Context, roomID, sender, topic string) error {
	_, err := c.sendState(ctx, roomID, "m.room.topic", "", map[string]any{"topic": topic}, sender)
	return err
}

// GetRoomMembers lists the members of a room along with their membership state.
func (c *Client) GetRoomMembers(ctx context.Context, roomID string) ([]RoomMember, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/state", pathEscape(roomID))
	respBody, err := c.request(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, err
	}

	var events []struct {
		Type     string `json:"type"`
		StateKey string `json:"state_key"`
		Content  struct {
			Membership  string `json:"membership"`
			DisplayName string `json:"displayname"`
		} `json:"content"`
	}
	if err := json.Unmarshal(respBody, &events); err != nil {
		return nil, errors.Wrap(err, "failed to parse room state")
	}

	var members []RoomMember
	for _, ev := range events {
		if ev.Type != "m.room.member" {
			continue
		}
		members = append(members, RoomMember{
			UserID:      ev.StateKey,
			Membership:  ev.Content.Membership,
			DisplayName: ev.Content.DisplayName,
		})
	}
	return members, nil
}

// InviteUser invites userID into roomID as the bot.
func (c *Client) InviteUser(ctx context.Context, roomID, userID string) error {
	if err := c.waitForRateLimit(ctx, c.inviteLimiter, "invite user"); err != nil {
		return err
	}
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/invite", pathEscape(roomID))
	_, err := c.request(ctx, http.MethodPost, path, "", map[string]any{"user_id": userID})
	if err != nil {
		var mErr *Error
		if errors.As(err, &mErr) && mErr.IsAlreadyJoined() {
			return nil
		}
		return err
	}
	return nil
}

// KickUser removes userID from roomID as the bot.
func (c *Client) KickUser(ctx context.Context, roomID, userID, reason string) error {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/kick", pathEscape(roomID))
	body := map[string]any{"user_id": userID}
	if reason != "" {
		body["reason"] = reason
	}
	_, err := c.request(ctx, http.MethodPost, path, "", body)
	return err
}

// JoinRoomAsUser joins roomIdentifier (a room ID or alias) as sender.
func (c *Client) JoinRoomAsUser(ctx context.Context, roomIdentifier, sender string) error {
	if err := c.waitForRateLimit(ctx, c.joinLimiter, "join room"); err != nil {
		return err
	}
	path := fmt.Sprintf("/_matrix/client/v3/join/%s", pathEscape(roomIdentifier))
	_, err := c.request(ctx, http.MethodPost, path, sender, map[string]any{})
	if err != nil {
		var mErr *Error
		if errors.As(err, &mErr) && mErr.IsAlreadyJoined() {
			return nil
		}
		return err
	}
	return nil
}

// LeaveRoom makes sender leave roomID.
func (c *Client) LeaveRoom(ctx context.Context, roomID, sender string) error {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/leave", pathEscape(roomID))
	_, err := c.request(ctx, http.MethodPost, path, sender, map[string]any{})
	return err
}

// BotMembership is the outcome of EnsureBotJoinedRoom.
type BotMembership string

const (
	// BotAlreadyJoined means the bot was already a member; no action taken.
	BotAlreadyJoined BotMembership = "joined"
	// BotNewlyJoined means the bot accepted a pending invite.
	BotNewlyJoined BotMembership = "newly_joined"
	// BotNotInRoom means the bot has no membership it can act on; this is
	// the only outcome that should be treated as a failure to deliver.
	BotNotInRoom BotMembership = "not_in_room"
)

// EnsureBotJoinedRoom reads the bot's current membership in roomID from
// room state and joins it if invited. This is the only place the bot, as
// opposed to a ghost, acts directly in a room.
func (c *Client) EnsureBotJoinedRoom(ctx context.Context, roomID, botUserID string) (BotMembership, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/state/m.room.member/%s", pathEscape(roomID), pathEscape(botUserID))
	respBody, err := c.request(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		var mErr *Error
		if errors.As(err, &mErr) && mErr.ErrCode == "M_NOT_FOUND" {
			c.log.Warn().Str("room_id", roomID).Msg("bot has no membership state in room")
			return BotNotInRoom, nil
		}
		return "", err
	}

	var state struct {
		Membership string `json:"membership"`
	}
	if err := json.Unmarshal(respBody, &state); err != nil {
		return "", errors.Wrap(err, "failed to parse bot membership state")
	}

	switch state.Membership {
	case "join":
		return BotAlreadyJoined, nil
	case "invite":
		if err := c.JoinRoomAsUser(ctx, roomID, botUserID); err != nil {
			return "", errors.Wrap(err, "failed to accept room invite")
		}
		return BotNewlyJoined, nil
	default:
		c.log.Warn().Str("room_id", roomID).Str("membership", state.Membership).Msg("bot not in room")
		return BotNotInRoom, nil
	}
}

// RegisterGhost registers mxid as an application-service-owned user.
// Registration is treated as idempotent: M_USER_IN_USE is not an error,
// since the ghost may already exist from a previous bridge run.
func (c *Client) RegisterGhost(ctx context.Context, mxid string) error {
	if err := c.waitForRateLimit(ctx, c.registrationLimiter, "register ghost"); err != nil {
		return err
	}

	localpart := strings.TrimPrefix(strings.SplitN(mxid, ":", 2)[0], "@")
	body := map[string]any{
		"type":     "m.login.application_service",
		"username": localpart,
	}

	_, err := c.request(ctx, http.MethodPost, "/_matrix/client/v3/register", "", body)
	if err != nil {
		var mErr *Error
		if errors.As(err, &mErr) && mErr.ErrCode == "M_USER_IN_USE" {
			return nil
		}
		return err
	}
	return nil
}

// SetDisplayName sets userID's display name.
func (c *Client) SetDisplayName(ctx context.Context, userID, displayName string) error {
	path := fmt.Sprintf("/_matrix/client/v3/profile/%s/displayname", pathEscape(userID))
	_, err := c.request(ctx, http.MethodPut, path, userID, map[string]any{"displayname": displayName})
	return err
}

// SetAvatarURL sets userID's avatar to the given mxc:// URI.
func (c *Client) SetAvatarURL(ctx context.Context, userID, avatarURL string) error {
	path := fmt.Sprintf("/_matrix/client/v3/profile/%s/avatar_url", pathEscape(userID))
	_, err := c.request(ctx, http.MethodPut, path, userID, map[string]any{"avatar_url": avatarURL})
	return err
}

// ResolveRoomAlias resolves a #alias:domain to a room ID. Room IDs (!...)
// are returned unchanged.
func (c *Client) ResolveRoomAlias(ctx context.Context, roomIdentifier string) (string, error) {
	if strings.HasPrefix(roomIdentifier, "!") {
		return roomIdentifier, nil
	}
	path := fmt.Sprintf("/_matrix/client/v3/directory/room/%s", pathEscape(roomIdentifier))
	respBody, err := c.request(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return "", err
	}
	var resp struct {
		RoomID string `json:"room_id"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", errors.Wrap(err, "failed to parse room alias resolution")
	}
	return resp.RoomID, nil
}

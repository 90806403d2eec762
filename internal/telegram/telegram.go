// Package telegram is the Bot API gateway: token verification, chat lookup,
// member counts and invite links.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"telebridge/internal/config"
	"telebridge/internal/domain"
	"telebridge/internal/logging"
)

// Messages used when the Bot API rejects a call without a description.
const (
	MsgInvalidToken    = "Invalid Token"
	MsgChatNotFound    = "Could not find chat. Make sure the bot is an admin in the group."
	MsgMemberCount     = "Could not get member count."
	MsgInviteLink      = "Failed to create invite link"
	MsgUnreachable     = "Telegram API is unreachable"
	MsgInvalidResponse = "Telegram API returned an invalid response"
)

// Bot API method names.
const (
	MethodGetMe                = "getMe"
	MethodGetChat              = "getChat"
	MethodGetChatMemberCount   = "getChatMemberCount"
	MethodCreateChatInviteLink = "createChatInviteLink"
)

const maxResponseBytes = 1 << 20

// Observer receives one callback per Bot API round trip.
type Observer interface {
	ObserveTelegramCall(method, outcome string, elapsed time.Duration)
}

type apiResponse[T any] struct {
	OK          bool   `json:"ok"`
	Result      T      `json:"result"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
}

// Client issues GET requests against <baseURL>/bot<token>/<method>.
type Client struct {
	baseURL  string
	http     *http.Client
	logger   *logrus.Entry
	now      func() time.Time
	observer Observer
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client built from the configured timeout.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithClock overrides the time source used for invite expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithObserver attaches a call observer, usually the metrics recorder.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// NewClient builds a gateway from configuration. A zero TelegramTimeout
// leaves requests unbounded apart from ctx.
func NewClient(cfg config.Config, logger *logrus.Entry, opts ...Option) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.TelegramAPIURL), "/")
	if baseURL == "" {
		baseURL = config.DefaultTelegramAPIURL
	}

	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: cfg.TelegramTimeout},
		logger:  logging.OrDefault(logger),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Verify checks token with getMe.
func (c *Client) Verify(ctx context.Context, token string) (domain.BotInfo, error) {
	user, err := get[models.User](ctx, c, token, request{
		method:   MethodGetMe,
		kind:     domain.ErrAuth,
		fallback: MsgInvalidToken,
	})
	if err != nil {
		return domain.BotInfo{}, err
	}

	return domain.BotInfo{
		ID:        user.ID,
		IsBot:     user.IsBot,
		FirstName: user.FirstName,
		Username:  user.Username,
	}, nil
}

// ChatDetails fetches title and description with getChat.
func (c *Client) ChatDetails(ctx context.Context, token, chatID string) (domain.Chat, error) {
	chat, err := get[models.ChatFullInfo](ctx, c, token, request{
		method:   MethodGetChat,
		chatID:   chatID,
		kind:     domain.ErrLookup,
		fallback: MsgChatNotFound,
		query:    url.Values{"chat_id": {chatID}},
	})
	if err != nil {
		return domain.Chat{}, err
	}

	return domain.Chat{
		ID:          strconv.FormatInt(chat.ID, 10),
		Title:       chat.Title,
		Description: chat.Description,
	}, nil
}

// MemberCount fetches the member count with getChatMemberCount.
func (c *Client) MemberCount(ctx context.Context, token, chatID string) (int, error) {
	return get[int](ctx, c, token, request{
		method:   MethodGetChatMemberCount,
		chatID:   chatID,
		kind:     domain.ErrLookup,
		fallback: MsgMemberCount,
		query:    url.Values{"chat_id": {chatID}},
	})
}

// CreateInviteLink creates a link limited to memberLimit joins. expire_date is
// sent only when expireMinutes > 0.
func (c *Client) CreateInviteLink(ctx context.Context, token, chatID string, memberLimit, expireMinutes int) (string, error) {
	query := url.Values{
		"chat_id":      {chatID},
		"member_limit": {strconv.Itoa(memberLimit)},
	}
	if expireMinutes > 0 {
		expireAt := c.now().Add(time.Duration(expireMinutes) * time.Minute).Unix()
		query.Set("expire_date", strconv.FormatInt(expireAt, 10))
	}

	link, err := get[models.ChatInviteLink](ctx, c, token, request{
		method:   MethodCreateChatInviteLink,
		chatID:   chatID,
		kind:     domain.ErrLink,
		fallback: MsgInviteLink,
		query:    query,
	})
	if err != nil {
		return "", err
	}
	return link.InviteLink, nil
}

type request struct {
	method   string
	chatID   string
	kind     error
	fallback string
	query    url.Values
}

// get performs one round trip and decodes the envelope regardless of HTTP
// status. Every failure is a *domain.Error of req.kind; the token-bearing URL
// never appears in its message.
func get[T any](ctx context.Context, c *Client, token string, req request) (T, error) {
	var zero T

	if ctx == nil {
		ctx = context.Background()
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, token, req.method)
	if len(req.query) > 0 {
		endpoint += "?" + req.query.Encode()
	}

	logger := logging.WithContext(c.logger, logging.Context{
		ChatID: req.chatID,
		Method: req.method,
		Event:  "telegram_call",
	})

	started := time.Now()
	outcome := "ok"
	defer func() {
		elapsed := time.Since(started)
		if c.observer != nil {
			c.observer.ObserveTelegramCall(req.method, outcome, elapsed)
		}
		logger.WithFields(logging.Fields{
			"outcome":     outcome,
			"duration_ms": elapsed.Milliseconds(),
		}).Debug("telegram call finished")
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		outcome = "network_error"
		return zero, domain.NewError(req.kind, MsgUnreachable, stripURL(err))
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		outcome = "network_error"
		return zero, domain.NewError(req.kind, MsgUnreachable, stripURL(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		outcome = "network_error"
		return zero, domain.NewError(req.kind, MsgUnreachable, err)
	}

	var envelope apiResponse[T]
	if err := json.Unmarshal(body, &envelope); err != nil {
		outcome = "network_error"
		return zero, domain.NewError(req.kind, MsgInvalidResponse, fmt.Errorf("decode %s response (status %d): %w", req.method, resp.StatusCode, err))
	}

	if !envelope.OK {
		outcome = "rejected"
		message := strings.TrimSpace(envelope.Description)
		if message == "" {
			message = req.fallback
		}
		return zero, domain.NewError(req.kind, message, fmt.Errorf("%s rejected with code %d", req.method, envelope.ErrorCode))
	}

	return envelope.Result, nil
}

// stripURL drops the request URL, which embeds the token, from transport errors.
func stripURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}

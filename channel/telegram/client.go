// Package telegram implements channel.Adapter on top of the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/manthanshiroya/alert-bot-project-api-sub003/channel"
)

const name = "telegram"

// Config holds the Telegram client settings
type Config struct {
	Token         string
	BaseURL       string
	RatePerSecond float64
	Timeout       time.Duration
}

// Client is a Telegram Bot API client
type Client struct {
	client  *resty.Client
	token   string
	baseURL string
	limiter *rate.Limiter
}

// apiResponse is the envelope of every Bot API response
type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
	Parameters struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters"`
}

// NewClient creates a new Telegram client
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.telegram.org"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	return &Client{
		client:  resty.New().SetTimeout(cfg.Timeout),
		token:   cfg.Token,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Name returns the name of the channel
func (c *Client) Name() string {
	return name
}

// SendMessage sends a text message to a chat
func (c *Client) SendMessage(ctx context.Context, destination string, text string, opts *channel.SendOptions) (string, error) {
	payload := c.payload(destination, text, opts)

	resp, err := c.call(ctx, "sendMessage", payload)
	if err != nil {
		return "", err
	}

	return strconv.FormatInt(resp.Result.MessageID, 10), nil
}

// EditMessage replaces the text of a message previously sent to a chat
func (c *Client) EditMessage(ctx context.Context, destination string, messageID string, text string, opts *channel.SendOptions) error {
	id, err := strconv.ParseInt(messageID, 10, 64)
	if err != nil {
		return channel.NewChannelError(name, channel.ClassRejected, 0, "invalid message id", err)
	}

	payload := c.payload(destination, text, opts)
	payload["message_id"] = id

	_, err = c.call(ctx, "editMessageText", payload)
	return err
}

func (c *Client) payload(destination, text string, opts *channel.SendOptions) map[string]interface{} {
	payload := map[string]interface{}{
		"chat_id": destination,
		"text":    text,
	}
	if opts != nil {
		if opts.ParseMode != channel.ParseModeNone {
			payload["parse_mode"] = string(opts.ParseMode)
		}
		if opts.DisableWebPagePreview {
			payload["disable_web_page_preview"] = true
		}
		if opts.DisableNotification {
			payload["disable_notification"] = true
		}
	}
	return payload
}

// call posts a Bot API method and classifies any failure
func (c *Client) call(ctx context.Context, method string, payload map[string]interface{}) (*apiResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, channel.NewChannelError(name, channel.ClassTransient, 0, "rate limiter wait aborted", err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(url)
	if err != nil {
		return nil, channel.NewChannelError(name, channel.ClassTransient, 0, "telegram API request failed", err)
	}

	var body apiResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		if resp.StatusCode() >= http.StatusInternalServerError {
			return nil, channel.NewChannelError(name, channel.ClassTransient, resp.StatusCode(), resp.String(), nil)
		}
		return nil, channel.NewChannelError(name, channel.ClassRejected, resp.StatusCode(), "unreadable telegram response", err)
	}

	if resp.StatusCode() == http.StatusOK && body.OK {
		return &body, nil
	}

	code := body.ErrorCode
	if code == 0 {
		code = resp.StatusCode()
	}
	return nil, channel.NewChannelError(name, Classify(code, body.Description), code, body.Description, nil)
}

// Classify maps a Bot API error code and description to a failure class
func Classify(code int, description string) channel.ErrorClass {
	desc := strings.ToLower(description)
	switch {
	case code == http.StatusForbidden:
		// bot was blocked by the user, user is deactivated, bot was kicked
		return channel.ClassPermanent
	case code == http.StatusBadRequest && (strings.Contains(desc, "chat not found") ||
		strings.Contains(desc, "user is deactivated") ||
		strings.Contains(desc, "peer_id_invalid")):
		return channel.ClassPermanent
	case code == http.StatusTooManyRequests, code >= http.StatusInternalServerError:
		return channel.ClassTransient
	default:
		return channel.ClassRejected
	}
}

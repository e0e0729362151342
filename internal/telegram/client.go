// Package telegram is a minimal Bot API client: sendMessage, getUpdates and getMe.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "market-alerts/internal/errors"
	"market-alerts/internal/logging"
	"market-alerts/internal/security"
)

// DefaultAPIURL is the public Bot API endpoint.
const DefaultAPIURL = "https://api.telegram.org"

// User is a bot or human account.
type User struct {
	ID       int64  `json:"id"`
	IsBot    bool   `json:"is_bot"`
	Username string `json:"username"`
}

// Chat identifies the conversation a message belongs to.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// Message is an inbound chat message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text"`
}

// Update is one entry of the getUpdates stream.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// ChatID returns the update's chat id as a string, or "" when it carries no message.
func (u Update) ChatID() string {
	if u.Message == nil {
		return ""
	}
	return strconv.FormatInt(u.Message.Chat.ID, 10)
}

// Text returns the message text, or "".
func (u Update) Text() string {
	if u.Message == nil {
		return ""
	}
	return u.Message.Text
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

// Client talks to the Bot API with one bot token.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  zerolog.Logger
}

// NewClient creates a Bot API client. An empty apiURL uses DefaultAPIURL.
func NewClient(apiURL, token string, httpClient *http.Client, logger zerolog.Logger) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(apiURL, "/"),
		token:   token,
		client:  httpClient,
		logger:  logger,
	}
}

// SendMessage posts an HTML-formatted message to chatID.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) error {
	payload := map[string]interface{}{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	return c.call(ctx, "sendMessage", payload, nil)
}

// GetUpdates long-polls for updates with id >= offset. offset 0 lets the provider choose.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	payload := map[string]interface{}{
		"timeout":         int(timeout / time.Second),
		"allowed_updates": []string{"message"},
	}
	if offset > 0 {
		payload["offset"] = offset
	}

	var updates []Update
	if err := c.call(ctx, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// GetMe returns the bot's own account; used to verify the token at startup.
func (c *Client) GetMe(ctx context.Context) (User, error) {
	var me User
	err := c.call(ctx, "getMe", nil, &me)
	return me, err
}

func (c *Client) call(ctx context.Context, method string, payload interface{}, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		logging.LogAPICall(c.logger, http.MethodPost, method, time.Since(start), err)
	}()

	var body []byte
	if payload != nil {
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshaling %s payload: %w", method, err)
		}
	} else {
		body = []byte("{}")
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return security.ScrubError(fmt.Errorf("creating %s request: %w", method, err), c.token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// url.Error embeds the request URL, which carries the token
		return security.ScrubError(fmt.Errorf("%s: %w", method, err), c.token)
	}
	defer resp.Body.Close()

	var res apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		if resp.StatusCode != http.StatusOK {
			return apperrors.NewBotAPIError(method, resp.StatusCode, http.StatusText(resp.StatusCode))
		}
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if !res.OK {
		code := res.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		return apperrors.NewBotAPIError(method, code, res.Description)
	}

	if out != nil && len(res.Result) > 0 {
		if err := json.Unmarshal(res.Result, out); err != nil {
			return fmt.Errorf("decoding %s result: %w", method, err)
		}
	}
	return nil
}

// Package telegram is a minimal Bot API client covering the calls the
// card bot makes: replies, photo uploads, chat actions, file downloads,
// callback answers, and webhook registration.
package telegram

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
	"time"

	"rizo-card-bot/internal/platform/errors"
	"rizo-card-bot/internal/platform/logging"
)

const defaultAPIBase = "https://api.telegram.org"

// Chat action indicators.
const (
	ChatActionTyping      = "typing"
	ChatActionUploadPhoto = "upload_photo"
)

// Client talks to the Bot API for a single bot token.
type Client struct {
	token   string
	apiBase string
	http    *http.Client
	logger  *logging.Logger
}

// Option customizes client construction.
type Option func(*Client)

// WithAPIBase points the client at a different API host (tests).
func WithAPIBase(base string) Option {
	return func(c *Client) {
		if base != "" {
			c.apiBase = base
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// NewClient builds a Bot API client.
func NewClient(token string, logger *logging.Logger, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, errors.New(errors.KindConfig, "telegram.NewClient",
			"bot token is required")
	}
	if logger == nil {
		logger = logging.DefaultLogger
	}
	c := &Client{
		token:   token,
		apiBase: defaultAPIBase,
		http:    &http.Client{Timeout: 60 * time.Second},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// apiResponse is the Bot API envelope.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	Description string          `json:"description,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.apiBase, c.token, method)
}

// call posts a JSON body to a Bot API method and unmarshals the result
// into out when non-nil.
func (c *Client) call(ctx context.Context, method string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(errors.KindTelegram, "telegram."+method, "encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(errors.KindTelegram, "telegram."+method, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(errors.KindTelegram, "telegram."+method, "API call failed", err)
	}
	defer resp.Body.Close()

	return decodeAPIResponse(resp.Body, method, out)
}

func decodeAPIResponse(r io.Reader, method string, out interface{}) error {
	var envelope apiResponse
	if err := json.NewDecoder(r).Decode(&envelope); err != nil {
		return errors.Wrap(errors.KindTelegram, "telegram."+method, "decode response", err)
	}
	if !envelope.OK {
		return errors.New(errors.KindTelegram, "telegram."+method,
			fmt.Sprintf("API error %d: %s", envelope.ErrorCode, envelope.Description))
	}
	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return errors.Wrap(errors.KindTelegram, "telegram."+method, "decode result", err)
		}
	}
	return nil
}

// SendMessage posts a text reply, optionally with an inline keyboard.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, markup *InlineKeyboardMarkup) (*Message, error) {
	payload := map[string]interface{}{
		"chat_id": chatID,
		"text":    text,
	}
	if markup != nil {
		payload["reply_markup"] = markup
	}
	var msg Message
	if err := c.call(ctx, "sendMessage", payload, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendChatAction shows an activity indicator in the chat.
func (c *Client) SendChatAction(ctx context.Context, chatID int64, action string) error {
	return c.call(ctx, "sendChatAction", map[string]interface{}{
		"chat_id": chatID,
		"action":  action,
	}, nil)
}

// AnswerCallbackQuery acknowledges a button press so the client stops
// showing its progress spinner.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID string) error {
	return c.call(ctx, "answerCallbackQuery", map[string]interface{}{
		"callback_query_id": callbackID,
	}, nil)
}

// SendPhoto uploads a photo with an optional caption and keyboard.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, filename string, photo []byte, caption string, markup *InlineKeyboardMarkup) (*Message, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return nil, errors.Wrap(errors.KindTelegram, "telegram.sendPhoto", "write form", err)
	}
	if caption != "" {
		if err := w.WriteField("caption", caption); err != nil {
			return nil, errors.Wrap(errors.KindTelegram, "telegram.sendPhoto", "write form", err)
		}
	}
	if markup != nil {
		encoded, err := json.Marshal(markup)
		if err != nil {
			return nil, errors.Wrap(errors.KindTelegram, "telegram.sendPhoto", "encode keyboard", err)
		}
		if err := w.WriteField("reply_markup", string(encoded)); err != nil {
			return nil, errors.Wrap(errors.KindTelegram, "telegram.sendPhoto", "write form", err)
		}
	}
	part, err := w.CreateFormFile("photo", filename)
	if err != nil {
		return nil, errors.Wrap(errors.KindTelegram, "telegram.sendPhoto", "write form", err)
	}
	if _, err := part.Write(photo); err != nil {
		return nil, errors.Wrap(errors.KindTelegram, "telegram.sendPhoto", "write form", err)
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(errors.KindTelegram, "telegram.sendPhoto", "write form", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL("sendPhoto"), &buf)
	if err != nil {
		return nil, errors.Wrap(errors.KindTelegram, "telegram.sendPhoto", "build request", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.KindTelegram, "telegram.sendPhoto", "API call failed", err)
	}
	defer resp.Body.Close()

	var msg Message
	if err := decodeAPIResponse(resp.Body, "sendPhoto", &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetFile resolves a file_id into a download path.
func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	var file File
	if err := c.call(ctx, "getFile", map[string]interface{}{"file_id": fileID}, &file); err != nil {
		return nil, err
	}
	if file.FilePath == "" {
		return nil, errors.New(errors.KindTelegram, "telegram.getFile",
			"file has no download path")
	}
	return &file, nil
}

// DownloadFile fetches the bytes behind a resolved file path.
func (c *Client) DownloadFile(ctx context.Context, filePath string) ([]byte, error) {
	u := fmt.Sprintf("%s/file/bot%s/%s", c.apiBase, c.token, filePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(errors.KindTelegram, "telegram.download", "build request", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.KindTelegram, "telegram.download", "download failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(errors.KindTelegram, "telegram.download",
			fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(errors.KindTelegram, "telegram.download", "read body", err)
	}
	return raw, nil
}

// FetchPhoto resolves and downloads a photo in one step.
func (c *Client) FetchPhoto(ctx context.Context, fileID string) ([]byte, error) {
	file, err := c.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return c.DownloadFile(ctx, file.FilePath)
}

// SetWebhook registers the webhook URL, retrying on transient failures
// since the API host may not be reachable right at boot.
func (c *Client) SetWebhook(ctx context.Context, webhookURL string, retries int, backoff time.Duration) error {
	if _, err := url.ParseRequestURI(webhookURL); err != nil {
		return errors.Wrap(errors.KindConfig, "telegram.setWebhook", "invalid webhook URL", err)
	}
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		err := c.call(ctx, "setWebhook", map[string]interface{}{"url": webhookURL}, nil)
		if err == nil {
			c.logger.InfoTag("telegram", "webhook registered: %s", webhookURL)
			return nil
		}
		lastErr = err
		c.logger.WarnTag("telegram", "webhook registration attempt %d/%d failed: %v",
			attempt, retries, err)
		if attempt < retries {
			select {
			case <-ctx.Done():
				return errors.Wrap(errors.KindTelegram, "telegram.setWebhook",
					"webhook registration cancelled", ctx.Err())
			case <-time.After(backoff):
			}
		}
	}
	return errors.Wrap(errors.KindTelegram, "telegram.setWebhook",
		fmt.Sprintf("webhook registration failed after %d attempts", retries), lastErr)
}

// DeleteWebhook removes the registration during shutdown.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	return c.call(ctx, "deleteWebhook", map[string]interface{}{}, nil)
}

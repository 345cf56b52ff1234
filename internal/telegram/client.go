// Package telegram предоставляет клиент для внешнего канала уведомлений (Bot API).
package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrNotConfigured возвращается, если клиент создан без токена.
var ErrNotConfigured = errors.New("telegram client not configured")

// Client инкапсулирует HTTP-взаимодействие с Telegram Bot API.
type Client struct {
	http *resty.Client
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
}

// NewClient создаёт клиент Bot API для указанного токена.
func NewClient(token string) *Client {
	if token == "" {
		return &Client{}
	}
	return newClientWithBaseURL("https://api.telegram.org/bot" + token)
}

func newClientWithBaseURL(baseURL string) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Second)
	return &Client{http: http}
}

// SendMessage отправляет одно сообщение в чат. Markdown-разметка включена,
// предпросмотр ссылок отключён. Таймаут канала — обычная ошибка отправки,
// без повторов.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	if c == nil || c.http == nil {
		return ErrNotConfigured
	}

	var result apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"chat_id":                  chatID,
			"text":                     text,
			"parse_mode":               "Markdown",
			"disable_web_page_preview": true,
		}).
		SetResult(&result).
		SetError(&result).
		Post("/sendMessage")
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	if resp.IsError() || !result.OK {
		if result.Description != "" {
			return fmt.Errorf("telegram api error %d: %s", result.ErrorCode, result.Description)
		}
		return fmt.Errorf("telegram api status: %d", resp.StatusCode())
	}

	return nil
}
